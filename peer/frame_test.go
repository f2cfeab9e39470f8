package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampMTU(t *testing.T) {
	tests := []struct {
		mss, mtu int
	}{
		{0, 576},
		{500, 576},
		{608, 576},
		{609, 577},
		{1400, 1368},
		{1532, 1500},
		{9000, 1500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.mtu, ClampMTU(tt.mss), "mss %d", tt.mss)
	}
}

func TestConnectFrame(t *testing.T) {
	assert.Equal(t, []byte{0, 3, 'a', 'b', 'c'}, encodeConnectFrame([]byte("abc")))

	pkt, ok := decodeConnectFrame([]byte{0, 3, 'a', 'b', 'c'})
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), pkt)

	for _, rec := range [][]byte{
		{},
		{0},
		connectKeepalive,
		{0, 4, 'a', 'b', 'c'},
		{0, 2, 'a', 'b', 'c'},
		{1, 3, 'a', 'b', 'c'},
	} {
		_, ok := decodeConnectFrame(rec)
		assert.False(t, ok, "%x", rec)
	}
}

func TestListenFrame(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 2, 'h', 'i'}, encodeListenFrame([]byte("hi")))

	pkt, ok := decodeListenFrame([]byte{0, 0, 2, 'h', 'i'})
	assert.True(t, ok)
	assert.Equal(t, []byte("hi"), pkt)

	for _, rec := range [][]byte{
		{0, 0},
		listenKeepalive,
		{1, 0, 2, 'h', 'i'},
		{0, 0, 3, 'h', 'i'},
		{0, 2, 'h', 'i'},
	} {
		_, ok := decodeListenFrame(rec)
		assert.False(t, ok, "%x", rec)
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "Resolving", Resolving.String())
	assert.Equal(t, "WaitingRetry", WaitingRetry.String())
	assert.Equal(t, "Unknown", Phase(42).String())
}
