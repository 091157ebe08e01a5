package pbframe

import "testing"

// FuzzDecode checks that malformed frames fail cleanly.
func FuzzDecode(f *testing.F) {
	f.Add(depthFrame())
	f.Add([]byte{})
	f.Add([]byte{0x0a, 0xff})

	f.Fuzz(func(t *testing.T, b []byte) {
		_, _ = Decode(b)
	})
}
