package ladder

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Sink receives output messages.
type Sink interface {
	Send(msg any) error
}

// Writer writes one JSON object per line. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter wraps w, typically os.Stdout.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Send encodes msg followed by a newline.
func (w *Writer) Send(msg any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("write %T: %w", msg, err)
	}
	return nil
}
