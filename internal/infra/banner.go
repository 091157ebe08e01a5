package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner. It goes to stderr: stdout carries
// the ladder stream.
func PrintBanner(w io.Writer, cfg *Config) {
	color := ColorCyan
	proxy := "direct"
	if cfg.Network.Proxy != "" {
		proxy = cfg.Network.ProxyType
		color = ColorYellow
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s###########################################################%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#               📊 Ladder Depth Feed                      #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#   VENUE:   %-44s #%s\n", color, strings.ToUpper(cfg.Feed.Exchange), ColorReset)
	fmt.Fprintf(w, "%s#   SYMBOL:  %-44s #%s\n", color, cfg.Feed.Symbol, ColorReset)
	fmt.Fprintf(w, "%s#   LEVELS:  %-44d #%s\n", color, cfg.Feed.LadderLevelsPerSide, ColorReset)
	fmt.Fprintf(w, "%s#   NETWORK: %-44s #%s\n", color, proxy, ColorReset)
	fmt.Fprintf(w, "%s#   VERSION: %-44s #%s\n", color, cfg.App.Version, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s###########################################################%s\n", color, ColorReset)
	fmt.Fprintln(w)
}
