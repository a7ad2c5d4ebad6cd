package wire_test

import (
	"testing"

	"github.com/aethiopicuschan/p2ptp/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadHeader_PutParse(t *testing.T) {
	t.Parallel()

	h := wire.PayloadHeader{Tag: 1, StreamID: 77, Time32: 123456, Seq: 65535, ReflectedTime32: 99}
	buf := make([]byte, 300)
	h.Put(buf)

	got, err := wire.ParsePayloadHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = wire.ParsePayloadHeader(buf[:wire.PayloadHeaderLen-1])
	assert.ErrorIs(t, err, wire.ErrMalformedPacket)
}
