// Package pbframe decodes the binary push envelope of the MEXC spot stream.
//
// Only the fields the ladder needs are read. Every other field, at any
// nesting level, is skipped so new upstream fields never break decoding.
// Prices and quantities travel as decimal text and are returned verbatim.
package pbframe

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrTruncated           = errors.New("pbframe: truncated frame")
	ErrUnsupportedWireType = errors.New("pbframe: unsupported wire type")
)

// Envelope field numbers.
const (
	fieldChannel  protowire.Number = 1
	fieldSymbol   protowire.Number = 3
	fieldSendTime protowire.Number = 6
	fieldDepth    protowire.Number = 313
	fieldDeals    protowire.Number = 314
)

// Depth and deals sub-message field numbers.
const (
	depthAsks protowire.Number = 1
	depthBids protowire.Number = 2

	entryPrice    protowire.Number = 1
	entryQuantity protowire.Number = 2

	dealsItems protowire.Number = 1

	dealPrice     protowire.Number = 1
	dealQuantity  protowire.Number = 2
	dealTradeType protowire.Number = 3
	dealTime      protowire.Number = 4
)

// TradeTypeSell marks a deal whose taker sold.
const TradeTypeSell = 2

// Entry is one depth level as sent on the wire.
type Entry struct {
	Price    string
	Quantity string
}

// Depth carries the changed levels of one push.
type Depth struct {
	Asks []Entry
	Bids []Entry
}

// Deal is one public trade.
type Deal struct {
	Price     string
	Quantity  string
	TradeType int32
	TimeMs    int64
}

// Envelope is a decoded push frame. At most one of Depth and Deals is set.
type Envelope struct {
	Channel  string
	Symbol   string
	SendTime int64
	Depth    *Depth
	Deals    []Deal
	HasDeals bool
}

// ReadVarint reads a base-128 varint and returns it with the bytes consumed.
func ReadVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, wireError(n)
	}
	return v, n, nil
}

// ReadLengthDelimited reads a varint length prefix and the bytes it covers.
func ReadLengthDelimited(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireError(n)
	}
	return v, n, nil
}

// SkipField consumes the value of a field with the given wire type.
// Group wire types are never produced by this feed and are rejected.
func SkipField(typ protowire.Type, b []byte) (int, error) {
	var n int
	switch typ {
	case protowire.VarintType:
		_, n = protowire.ConsumeVarint(b)
	case protowire.Fixed64Type:
		_, n = protowire.ConsumeFixed64(b)
	case protowire.BytesType:
		_, n = protowire.ConsumeBytes(b)
	case protowire.Fixed32Type:
		_, n = protowire.ConsumeFixed32(b)
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedWireType, typ)
	}
	if n < 0 {
		return 0, wireError(n)
	}
	return n, nil
}

func wireError(n int) error {
	return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
}

// walk calls fn for every field in b. fn reports how many value bytes it
// consumed; returning 0 skips the field.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(n)
		}
		b = b[n:]

		used, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if used == 0 {
			if used, err = SkipField(typ, b); err != nil {
				return err
			}
		}
		b = b[used:]
	}
	return nil
}

// Decode parses one push frame.
func Decode(frame []byte) (*Envelope, error) {
	env := &Envelope{}
	err := walk(frame, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldChannel && typ == protowire.BytesType:
			v, n, err := ReadLengthDelimited(b)
			env.Channel = string(v)
			return n, err
		case num == fieldSymbol && typ == protowire.BytesType:
			v, n, err := ReadLengthDelimited(b)
			env.Symbol = string(v)
			return n, err
		case num == fieldSendTime && typ == protowire.VarintType:
			v, n, err := ReadVarint(b)
			env.SendTime = int64(v)
			return n, err
		case num == fieldDepth && typ == protowire.BytesType:
			v, n, err := ReadLengthDelimited(b)
			if err != nil {
				return 0, err
			}
			depth, err := decodeDepth(v)
			if err != nil {
				return 0, fmt.Errorf("depth: %w", err)
			}
			env.Depth = depth
			return n, nil
		case num == fieldDeals && typ == protowire.BytesType:
			v, n, err := ReadLengthDelimited(b)
			if err != nil {
				return 0, err
			}
			deals, err := decodeDeals(v)
			if err != nil {
				return 0, fmt.Errorf("deals: %w", err)
			}
			env.Deals = deals
			env.HasDeals = true
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func decodeDepth(b []byte) (*Depth, error) {
	d := &Depth{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType || (num != depthAsks && num != depthBids) {
			return 0, nil
		}
		raw, n, err := ReadLengthDelimited(v)
		if err != nil {
			return 0, err
		}
		e, err := decodeEntry(raw)
		if err != nil {
			return 0, err
		}
		if num == depthAsks {
			d.Asks = append(d.Asks, e)
		} else {
			d.Bids = append(d.Bids, e)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func decodeEntry(b []byte) (Entry, error) {
	var e Entry
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		switch num {
		case entryPrice:
			s, n, err := ReadLengthDelimited(v)
			e.Price = string(s)
			return n, err
		case entryQuantity:
			s, n, err := ReadLengthDelimited(v)
			e.Quantity = string(s)
			return n, err
		}
		return 0, nil
	})
	return e, err
}

func decodeDeals(b []byte) ([]Deal, error) {
	var deals []Deal
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num != dealsItems || typ != protowire.BytesType {
			return 0, nil
		}
		raw, n, err := ReadLengthDelimited(v)
		if err != nil {
			return 0, err
		}
		d, err := decodeDeal(raw)
		if err != nil {
			return 0, err
		}
		deals = append(deals, d)
		return n, nil
	})
	return deals, err
}

func decodeDeal(b []byte) (Deal, error) {
	var d Deal
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == dealPrice && typ == protowire.BytesType:
			s, n, err := ReadLengthDelimited(v)
			d.Price = string(s)
			return n, err
		case num == dealQuantity && typ == protowire.BytesType:
			s, n, err := ReadLengthDelimited(v)
			d.Quantity = string(s)
			return n, err
		case num == dealTradeType && typ == protowire.VarintType:
			x, n, err := ReadVarint(v)
			d.TradeType = int32(x)
			return n, err
		case num == dealTime && typ == protowire.VarintType:
			x, n, err := ReadVarint(v)
			d.TimeMs = int64(x)
			return n, err
		}
		return 0, nil
	})
	return d, err
}
