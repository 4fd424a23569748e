package wire

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dealer "github.com/toshic/cocaine-dealer"
)

func TestOutboundRoundTrip(t *testing.T) {
	req := OutboundRequest{
		Route:            []byte("route-token"),
		UUID:             uuid.New(),
		Urgent:           true,
		ChunkTimeout:     250 * time.Millisecond,
		AbsoluteDeadline: time.UnixMicro(time.Now().UnixMicro()),
		MaxRetries:       3,
		Payload:          []byte("hello"),
	}

	frames := EncodeOutbound(req)
	require.Len(t, frames, 5)
	assert.Empty(t, frames[1])

	got, err := DecodeOutbound(frames)
	require.NoError(t, err)

	assert.Equal(t, req.Route, got.Route)
	assert.Equal(t, req.UUID, got.UUID)
	assert.Equal(t, req.Urgent, got.Urgent)
	assert.Equal(t, req.ChunkTimeout, got.ChunkTimeout)
	assert.True(t, req.AbsoluteDeadline.Equal(got.AbsoluteDeadline))
	assert.Equal(t, req.MaxRetries, got.MaxRetries)
	assert.Equal(t, req.Payload, got.Payload)
}

func TestOutboundNoDeadline(t *testing.T) {
	req := OutboundRequest{Route: []byte("r"), UUID: uuid.New(), Payload: []byte("p")}
	frames := EncodeOutbound(req)
	got, err := DecodeOutbound(frames)
	require.NoError(t, err)
	assert.True(t, got.AbsoluteDeadline.IsZero())
}

func TestInboundChunkRoundTrip(t *testing.T) {
	chunk := dealer.ResponseChunk{
		UUID:  uuid.New(),
		Route: []byte("route"),
		Code:  dealer.RPCChunk,
		Data:  []byte("payload-bytes"),
	}
	frames := EncodeInbound(chunk)
	got, err := DecodeInbound(frames)
	require.NoError(t, err)
	assert.Equal(t, chunk.UUID, got.UUID)
	assert.Equal(t, chunk.Code, got.Code)
	assert.Equal(t, chunk.Data, got.Data)
}

func TestInboundErrorRoundTrip(t *testing.T) {
	chunk := dealer.ResponseChunk{
		UUID:         uuid.New(),
		Route:        []byte("route"),
		Code:         dealer.RPCError,
		ErrorCode:    dealer.ServerApplicationError,
		ErrorMessage: "broken pipe",
	}
	frames := EncodeInbound(chunk)
	got, err := DecodeInbound(frames)
	require.NoError(t, err)
	assert.Equal(t, chunk.ErrorCode, got.ErrorCode)
	assert.Equal(t, chunk.ErrorMessage, got.ErrorMessage)
}

func TestInboundAckNoPayload(t *testing.T) {
	chunk := dealer.ResponseChunk{UUID: uuid.New(), Route: []byte("r"), Code: dealer.RPCAck}
	frames := EncodeInbound(chunk)
	require.Len(t, frames, 3)
	got, err := DecodeInbound(frames)
	require.NoError(t, err)
	assert.Equal(t, dealer.RPCAck, got.Code)
}

func TestInboundUnknownCode(t *testing.T) {
	frames := [][]byte{[]byte("r"), {0, 0, 0, 99}, make([]byte, 16)}
	_, err := DecodeInbound(frames)
	assert.Error(t, err)
}

func TestOutboundMalformed(t *testing.T) {
	_, err := DecodeOutbound([][]byte{{1}, {2}})
	assert.Error(t, err)
}
