package app

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
)

// CommandHandler applies one control line.
type CommandHandler interface {
	HandleCommand(line []byte) error
}

// maxControlLine bounds one control command.
const maxControlLine = 64 * 1024

// ReadControl applies newline-delimited JSON commands from r until EOF or
// ctx is done. Bad lines are logged and skipped.
func ReadControl(ctx context.Context, r io.Reader, h CommandHandler) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxControlLine)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := h.HandleCommand(line); err != nil {
			slog.Warn("Control input error", slog.String("line", string(line)), slog.Any("error", err))
		}
	}
	return sc.Err()
}
