package pbframe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func entry(price, qty string) []byte {
	var e []byte
	e = appendString(e, entryPrice, price)
	e = appendString(e, entryQuantity, qty)
	return e
}

func depthFrame() []byte {
	var depth []byte
	depth = appendMessage(depth, depthAsks, entry("101.5", "2"))
	depth = appendMessage(depth, depthBids, entry("101.4", "3.25"))
	depth = appendMessage(depth, depthBids, entry("101.3", "0"))
	depth = appendString(depth, 3, "PublicAggreDepthsV3Api") // eventType, unused

	var frame []byte
	frame = appendString(frame, fieldChannel, "spot@public.aggre.depth.v3.api.pb@100ms@BTCUSDT")
	frame = appendString(frame, fieldSymbol, "BTCUSDT")
	frame = appendVarint(frame, fieldSendTime, 1736412345678)
	frame = appendMessage(frame, fieldDepth, depth)
	return frame
}

func TestDecode_Depth(t *testing.T) {
	env, err := Decode(depthFrame())
	require.NoError(t, err)

	assert.Equal(t, "spot@public.aggre.depth.v3.api.pb@100ms@BTCUSDT", env.Channel)
	assert.Equal(t, "BTCUSDT", env.Symbol)
	assert.Equal(t, int64(1736412345678), env.SendTime)
	assert.False(t, env.HasDeals)
	require.NotNil(t, env.Depth)
	assert.Equal(t, []Entry{{Price: "101.5", Quantity: "2"}}, env.Depth.Asks)
	assert.Equal(t, []Entry{{Price: "101.4", Quantity: "3.25"}, {Price: "101.3", Quantity: "0"}}, env.Depth.Bids)
}

func TestDecode_Deals(t *testing.T) {
	deal := func(price, qty string, typ uint64, ts uint64) []byte {
		var d []byte
		d = appendString(d, dealPrice, price)
		d = appendString(d, dealQuantity, qty)
		d = appendVarint(d, dealTradeType, typ)
		d = appendVarint(d, dealTime, ts)
		return d
	}
	var deals []byte
	deals = appendMessage(deals, dealsItems, deal("100.1", "0.5", 1, 1000))
	deals = appendMessage(deals, dealsItems, deal("100.0", "1.5", TradeTypeSell, 1001))
	deals = appendString(deals, 2, "PublicAggreDealsV3Api")

	var frame []byte
	frame = appendString(frame, fieldChannel, "spot@public.aggre.deals.v3.api.pb@100ms@BTCUSDT")
	frame = appendMessage(frame, fieldDeals, deals)

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.True(t, env.HasDeals)
	assert.Nil(t, env.Depth)
	require.Len(t, env.Deals, 2)
	assert.Equal(t, Deal{Price: "100.1", Quantity: "0.5", TradeType: 1, TimeMs: 1000}, env.Deals[0])
	assert.Equal(t, int32(TradeTypeSell), env.Deals[1].TradeType)
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	var frame []byte
	frame = protowire.AppendTag(frame, 99, protowire.Fixed32Type)
	frame = protowire.AppendFixed32(frame, 7)
	frame = protowire.AppendTag(frame, 100, protowire.Fixed64Type)
	frame = protowire.AppendFixed64(frame, 9)
	frame = appendVarint(frame, 101, 12345)
	frame = appendMessage(frame, 102, []byte{0xff, 0xfe})
	frame = append(frame, depthFrame()...)

	env, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, env.Depth)
	assert.Len(t, env.Depth.Bids, 2)
}

func TestDecode_WrongWireTypeForKnownFieldIsSkipped(t *testing.T) {
	var frame []byte
	frame = appendVarint(frame, fieldChannel, 5) // channel as varint: skipped
	frame = appendString(frame, fieldSymbol, "ETHUSDT")

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "", env.Channel)
	assert.Equal(t, "ETHUSDT", env.Symbol)
}

func TestDecode_Truncated(t *testing.T) {
	frame := depthFrame()
	for _, cut := range []int{1, 5, 30, 60, len(frame) - 1} {
		_, err := Decode(frame[:cut])
		assert.Error(t, err, "cut at %d", cut)
	}
}

func TestDecode_GroupRejected(t *testing.T) {
	frame := protowire.AppendTag(nil, 50, protowire.StartGroupType)
	_, err := Decode(frame)
	assert.True(t, errors.Is(err, ErrUnsupportedWireType))
}

func TestReadVarint(t *testing.T) {
	v, n, err := ReadVarint([]byte{0xac, 0x02})
	require.NoError(t, err)
	assert.Equal(t, uint64(300), v)
	assert.Equal(t, 2, n)

	_, _, err = ReadVarint([]byte{0x80})
	assert.True(t, errors.Is(err, ErrTruncated))

	max := protowire.AppendVarint(nil, ^uint64(0))
	v, n, err = ReadVarint(max)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), v)
	assert.Equal(t, 10, n)
}

func TestReadLengthDelimited(t *testing.T) {
	b, n, err := ReadLengthDelimited([]byte{0x03, 'a', 'b', 'c', 'x'})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), b)
	assert.Equal(t, 4, n)

	_, _, err = ReadLengthDelimited([]byte{0x05, 'a'})
	assert.Error(t, err)
}

func TestSkipField(t *testing.T) {
	tests := []struct {
		name string
		typ  protowire.Type
		b    []byte
		want int
	}{
		{"varint", protowire.VarintType, []byte{0x96, 0x01, 0xff}, 2},
		{"fixed64", protowire.Fixed64Type, make([]byte, 9), 8},
		{"bytes", protowire.BytesType, []byte{0x02, 1, 2, 3}, 3},
		{"fixed32", protowire.Fixed32Type, make([]byte, 4), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := SkipField(tt.typ, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	_, err := SkipField(protowire.EndGroupType, []byte{0})
	assert.True(t, errors.Is(err, ErrUnsupportedWireType))
}
