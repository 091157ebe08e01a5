package infra

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
feed:
  exchange: binance_futures
  symbol: BTCUSDT
  throttle_ms: 100
endpoints:
  binance_futures:
    ws_url: ws://127.0.0.1:9000/ws
`)
	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Feed.Exchange != "binance_futures" || cfg.Feed.Symbol != "BTCUSDT" {
		t.Errorf("feed = %+v", cfg.Feed)
	}
	if cfg.Feed.ThrottleMS != 100 {
		t.Errorf("throttle = %d, want 100", cfg.Feed.ThrottleMS)
	}
	if cfg.Feed.LadderLevelsPerSide != 120 {
		t.Errorf("levels should keep default 120, got %d", cfg.Feed.LadderLevelsPerSide)
	}
	if got := cfg.Endpoint().WSURL; got != "ws://127.0.0.1:9000/ws" {
		t.Errorf("endpoint override = %q", got)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := LoadConfig(missing, false)
	if err != nil {
		t.Fatalf("optional missing file should not fail: %v", err)
	}
	if cfg.Feed.Exchange != "mexc" || cfg.Feed.Symbol != "BIOUSDT" {
		t.Errorf("defaults not applied: %+v", cfg.Feed)
	}

	if _, err := LoadConfig(missing, true); err == nil {
		t.Error("required missing file should fail")
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("LADDER_EXCHANGE", "lighter")
	t.Setenv("LADDER_SYMBOL", "ETH")
	t.Setenv("LADDER_METRICS_ADDR", ":9102")

	cfg, err := LoadConfig(writeConfig(t, "feed:\n  exchange: mexc\n"), true)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Feed.Exchange != "lighter" || cfg.Feed.Symbol != "ETH" || cfg.Metrics.Addr != ":9102" {
		t.Errorf("env override not applied: %+v %+v", cfg.Feed, cfg.Metrics)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown exchange", func(c *Config) { c.Feed.Exchange = "kraken" }, "unknown exchange"},
		{"empty symbol", func(c *Config) { c.Feed.Symbol = " " }, "symbol"},
		{"zero levels", func(c *Config) { c.Feed.LadderLevelsPerSide = 0 }, "ladder levels"},
		{"zero throttle", func(c *Config) { c.Feed.ThrottleMS = 0 }, "throttle"},
		{"bad proxy", func(c *Config) { c.Network.Proxy = "not a proxy" }, "invalid proxy"},
		{"bad proxy type", func(c *Config) { c.Network.Proxy = "h:1"; c.Network.ProxyType = "ftp" }, "unsupported type"},
		{"bad ws override", func(c *Config) {
			c.Endpoints = map[string]Endpoint{"mexc": {WSURL: "http://x"}}
		}, "ws url"},
		{"upper case exchange", func(c *Config) { c.Feed.Exchange = "BINANCE" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_RaisesCacheFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Feed.CacheLevelsPerSide = 100
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Feed.CacheLevelsPerSide != MinCacheLevelsPerSide {
		t.Errorf("cache levels = %d, want %d", cfg.Feed.CacheLevelsPerSide, MinCacheLevelsPerSide)
	}
}

func TestSnapshotLimit(t *testing.T) {
	tests := []struct {
		depth, cache, venueMax, want int
	}{
		{500, 5000, 1000, 1000}, // raised to cover the cache, capped by binance
		{500, 5000, 5000, 5000},
		{0, 5000, 0, DefaultSnapshotDepth},
		{9000, 5000, 5000, 5000},
		{200, 50, 5000, 200}, // already above cache*2
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Feed.SnapshotDepth = tt.depth
		cfg.Feed.CacheLevelsPerSide = tt.cache
		if got := cfg.SnapshotLimit(tt.venueMax); got != tt.want {
			t.Errorf("SnapshotLimit(depth=%d cache=%d max=%d) = %d, want %d",
				tt.depth, tt.cache, tt.venueMax, got, tt.want)
		}
	}
}

func TestProxyURL(t *testing.T) {
	tests := []struct {
		raw, typ string
		want     string
	}{
		{"", "http", ""},
		{"127.0.0.1:8080", "http", "http://127.0.0.1:8080"},
		{"127.0.0.1:1080", "socks5", "socks5://127.0.0.1:1080"},
		{"socks5://10.0.0.1:1080", "http", "socks5://10.0.0.1:1080"},
		{"user:pw@proxy.local:3128", "", "http://user:pw@proxy.local:3128"},
		{"proxy.local:3128@user:pw", "http", "http://user:pw@proxy.local:3128"},
		{"proxy.local:3128:user:pw", "http", "http://user:pw@proxy.local:3128"},
		{"user:pw:proxy.local:3128", "http", "http://user:pw@proxy.local:3128"},
		{"https://proxy.local:443", "socks5", "http://proxy.local:443"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Network.Proxy = tt.raw
		cfg.Network.ProxyType = tt.typ
		u, err := cfg.ProxyURL()
		if err != nil {
			t.Errorf("ProxyURL(%q): %v", tt.raw, err)
			continue
		}
		got := ""
		if u != nil {
			got = u.String()
		}
		if got != tt.want {
			t.Errorf("ProxyURL(%q, %q) = %q, want %q", tt.raw, tt.typ, got, tt.want)
		}
	}

	for _, bad := range []string{"hostonly", "h:0", "h:99999", "a:b:c", "@h:1"} {
		cfg := DefaultConfig()
		cfg.Network.Proxy = bad
		if _, err := cfg.ProxyURL(); err == nil {
			t.Errorf("ProxyURL(%q) should fail", bad)
		}
	}
}

func TestNewLoggerFormats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"

	var buf bytes.Buffer
	log := newLogger(&buf, cfg)
	log.Info("hidden")
	log.Warn("shown", "id", "MEXC")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line at warn level, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("json handler output: %v", err)
	}
	if rec["msg"] != "shown" || rec["id"] != "MEXC" || rec["app"] != AppName {
		t.Errorf("record = %v", rec)
	}
}

func TestBannerWritesVenue(t *testing.T) {
	cfg := DefaultConfig()
	var buf bytes.Buffer
	PrintBanner(&buf, cfg)
	if !strings.Contains(buf.String(), "MEXC") || !strings.Contains(buf.String(), "BIOUSDT") {
		t.Errorf("banner missing venue/symbol:\n%s", buf.String())
	}
}
