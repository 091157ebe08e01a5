package quant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number is a venue-supplied decimal that may arrive as a JSON string ("1.23")
// or a bare JSON number (1.23). Text keeps the original digits so precision
// can be inferred from them.
type Number struct {
	Text  string
	Value float64
}

// ParseNumber parses decimal text. Empty text and "null" yield a zero Number.
func ParseNumber(s string) (Number, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return Number{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Number{}, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Number{Text: s, Value: v}, nil
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := ParseNumber(s)
		if err != nil {
			return err
		}
		*n = v
		return nil
	}
	v, err := ParseNumber(string(b))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// Finite reports whether the value is usable as a price or quantity.
func (n Number) Finite() bool {
	return !math.IsNaN(n.Value) && !math.IsInf(n.Value, 0)
}

// ParseFloat parses decimal text, rejecting NaN and infinities.
func ParseFloat(s string) (float64, bool) {
	n, err := ParseNumber(s)
	if err != nil || n.Text == "" || !n.Finite() {
		return 0, false
	}
	return n.Value, true
}
