package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// currentUserAgent is protected by a mutex so the config layer can override it at startup
	uaMu             sync.RWMutex
	currentUserAgent = GetPlatformUserAgent() // Initialize with OS-appropriate string
)

// GetUserAgent returns the current active User-Agent string. (Thread-safe)
func GetUserAgent() string {
	uaMu.RLock()
	defer uaMu.RUnlock()
	return currentUserAgent
}

// SetUserAgent updates the global User-Agent string. (Thread-safe)
func SetUserAgent(ua string) {
	uaMu.Lock()
	defer uaMu.Unlock()
	currentUserAgent = ua
}

// GetPlatformUserAgent generates a browser-like User-Agent string based on current OS.
func GetPlatformUserAgent() string {
	chromeVer := "120.0.0.0"
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	case "linux":
		linuxArch := "x86_64"
		if runtime.GOARCH == "arm64" {
			linuxArch = "aarch64"
		}
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", linuxArch, chromeVer)
	case "darwin":
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	default:
		return "Mozilla/5.0 (compatible; ladderd/1.0)"
	}
}

// Exchanges lists every venue id accepted in feed.exchange.
var Exchanges = []string{
	"mexc", "mexc_futures",
	"binance", "binance_futures",
	"lighter",
	"uzx", "uzx_spot", "uzx_swap",
}

const (
	MinCacheLevelsPerSide = 5000
	DefaultSnapshotDepth  = 50
)

// Endpoint overrides the built-in REST and stream URLs of one venue.
type Endpoint struct {
	RestURL string `yaml:"rest_url"`
	WSURL   string `yaml:"ws_url"`
}

// Config holds every setting of the feed process.
// LoadConfig starts from DefaultConfig, then applies the file and environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		Exchange            string `yaml:"exchange"`
		Symbol              string `yaml:"symbol"`
		LadderLevelsPerSide int    `yaml:"ladder_levels_per_side"`
		ThrottleMS          int    `yaml:"throttle_ms"`
		SnapshotDepth       int    `yaml:"snapshot_depth"`
		CacheLevelsPerSide  int    `yaml:"cache_levels_per_side"`
		RecenterBandTicks   int    `yaml:"recenter_band_ticks"` // 0 = derived from the ladder size
	} `yaml:"feed"`

	Network struct {
		Proxy          string `yaml:"proxy"`
		ProxyType      string `yaml:"proxy_type"` // http | socks5
		UserAgent      string `yaml:"user_agent"`
		RESTTimeoutSec int    `yaml:"rest_timeout_sec"`
	} `yaml:"network"`

	Endpoints map[string]Endpoint `yaml:"endpoints"`

	Metrics struct {
		Addr string `yaml:"addr"` // empty disables /metrics
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = AppName
	cfg.App.Version = "1.0.0"
	cfg.Feed.Exchange = "mexc"
	cfg.Feed.Symbol = "BIOUSDT"
	cfg.Feed.LadderLevelsPerSide = 120
	cfg.Feed.ThrottleMS = 50
	cfg.Feed.SnapshotDepth = 500
	cfg.Feed.CacheLevelsPerSide = MinCacheLevelsPerSide
	cfg.Network.ProxyType = "http"
	cfg.Network.RESTTimeoutSec = 10
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// LoadConfig reads path over DefaultConfig. A missing file is tolerated
// unless required is set, so the process runs with flags alone.
func LoadConfig(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, err
	}

	overrideWithEnv(cfg)
	return cfg, nil
}

// Validate checks configuration validity and normalizes derived fields.
func (c *Config) Validate() error {
	c.Feed.Exchange = strings.ToLower(strings.TrimSpace(c.Feed.Exchange))
	if !isKnownExchange(c.Feed.Exchange) {
		return fmt.Errorf("unknown exchange %q (supported: %s)", c.Feed.Exchange, strings.Join(Exchanges, ", "))
	}
	c.Feed.Symbol = strings.TrimSpace(c.Feed.Symbol)
	if c.Feed.Symbol == "" {
		return errors.New("symbol is required")
	}
	if c.Feed.LadderLevelsPerSide <= 0 {
		return fmt.Errorf("ladder levels per side must be positive, got %d", c.Feed.LadderLevelsPerSide)
	}
	if c.Feed.ThrottleMS <= 0 {
		return fmt.Errorf("throttle must be positive, got %dms", c.Feed.ThrottleMS)
	}
	if c.Feed.SnapshotDepth < 0 {
		return fmt.Errorf("snapshot depth must not be negative, got %d", c.Feed.SnapshotDepth)
	}
	if c.Feed.RecenterBandTicks < 0 {
		return fmt.Errorf("recenter band must not be negative, got %d", c.Feed.RecenterBandTicks)
	}
	if c.Feed.CacheLevelsPerSide < MinCacheLevelsPerSide {
		c.Feed.CacheLevelsPerSide = MinCacheLevelsPerSide
	}
	if c.Network.RESTTimeoutSec <= 0 {
		c.Network.RESTTimeoutSec = 10
	}
	if _, err := c.ProxyURL(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	for venue, ep := range c.Endpoints {
		if ep.WSURL != "" && !strings.HasPrefix(ep.WSURL, "ws://") && !strings.HasPrefix(ep.WSURL, "wss://") {
			return fmt.Errorf("invalid %s ws url: %s", venue, ep.WSURL)
		}
	}
	return nil
}

// Endpoint returns the configured override for the active exchange.
func (c *Config) Endpoint() Endpoint {
	return c.Endpoints[c.Feed.Exchange]
}

// SnapshotLimit clamps the snapshot depth so the first REST snapshot
// covers the cached span without exceeding the venue's depth limit.
func (c *Config) SnapshotLimit(venueMax int) int {
	depth := c.Feed.SnapshotDepth
	if depth <= 0 {
		depth = DefaultSnapshotDepth
	}
	if venueMax <= 0 {
		return depth
	}
	if floor := min(c.Feed.CacheLevelsPerSide*2, venueMax); depth < floor {
		depth = floor
	}
	return min(depth, venueMax)
}

// ProxyURL parses network.proxy. Accepted forms, with an optional
// http:// or socks5:// scheme:
//
//	host:port
//	user:pass@host:port
//	host:port@user:pass
//	host:port:user:pass
//	user:pass:host:port
//
// A nil URL means direct connections.
func (c *Config) ProxyURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.Network.Proxy)
	if raw == "" {
		return nil, nil
	}

	scheme := strings.ToLower(strings.TrimSpace(c.Network.ProxyType))
	lower := strings.ToLower(raw)
	for _, p := range []struct{ prefix, scheme string }{
		{"socks5://", "socks5"}, {"socks://", "socks5"},
		{"http://", "http"}, {"https://", "http"},
	} {
		if strings.HasPrefix(lower, p.prefix) {
			raw = raw[len(p.prefix):]
			scheme = p.scheme
			break
		}
	}
	switch scheme {
	case "", "http", "https":
		scheme = "http"
	case "socks5":
	default:
		return nil, fmt.Errorf("invalid proxy: unsupported type %q", scheme)
	}

	host, user, pass, ok := splitProxy(raw)
	if !ok {
		return nil, fmt.Errorf("invalid proxy: %q", c.Network.Proxy)
	}
	u := &url.URL{Scheme: scheme, Host: host}
	if user != "" {
		u.User = url.UserPassword(user, pass)
	}
	return u, nil
}

func splitProxy(s string) (hostPort, user, pass string, ok bool) {
	if at := strings.LastIndex(s, "@"); at >= 0 {
		left, right := s[:at], s[at+1:]
		if validHostPort(right) {
			user, pass, _ = strings.Cut(left, ":")
			return right, user, pass, user != ""
		}
		if validHostPort(left) {
			user, pass, _ = strings.Cut(right, ":")
			return left, user, pass, user != ""
		}
		return "", "", "", false
	}

	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		hp := parts[0] + ":" + parts[1]
		return hp, "", "", validHostPort(hp)
	case 4:
		if hp := parts[0] + ":" + parts[1]; validHostPort(hp) {
			return hp, parts[2], parts[3], true
		}
		if hp := parts[2] + ":" + parts[3]; validHostPort(hp) {
			return hp, parts[0], parts[1], true
		}
	}
	return "", "", "", false
}

func validHostPort(hp string) bool {
	host, port, err := net.SplitHostPort(hp)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n <= 65535
}

func isKnownExchange(id string) bool {
	for _, e := range Exchanges {
		if e == id {
			return true
		}
	}
	return false
}

// overrideWithEnv lets environment variables win over the config file.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("LADDER_EXCHANGE"); v != "" {
		cfg.Feed.Exchange = v
	}
	if v := os.Getenv("LADDER_SYMBOL"); v != "" {
		cfg.Feed.Symbol = v
	}
	if v := os.Getenv("LADDER_PROXY"); v != "" {
		cfg.Network.Proxy = v
	}
	if v := os.Getenv("LADDER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LADDER_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}
