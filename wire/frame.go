// Package wire implements the exact multi-frame layouts of spec §6.
// Frame boundaries are part of the contract here, so fields are
// hand-packed with encoding/binary rather than run through a generic
// message-serialization library — the same choice the teacher makes
// in its own encode.go (lengthToSizebuf/sizebufToLength) and
// server/protocol.go (serializeClientMessage/parseClientMessage) for
// the parts of its own wire format where frame shape is fixed by
// contract rather than left to a schema.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	dealer "github.com/toshic/cocaine-dealer"
)

// OutboundRequest is the parsed form of the five-frame client->server
// message (spec §6 "Wire framing, outbound").
type OutboundRequest struct {
	Route            []byte
	UUID             uuid.UUID
	Urgent           bool
	ChunkTimeout     time.Duration
	AbsoluteDeadline time.Time
	MaxRetries       int32
	Payload          []byte
}

// EncodeOutbound builds the five ZeroMQ-style frames for an outbound
// request. AbsoluteDeadline of the zero Time means "no deadline" and
// is encoded as 0.
func EncodeOutbound(r OutboundRequest) [][]byte {
	var deadlineSeconds float64
	if !r.AbsoluteDeadline.IsZero() {
		deadlineSeconds = float64(r.AbsoluteDeadline.UnixNano()) / 1e9
	}

	policy := make([]byte, 1+8+8+4)
	if r.Urgent {
		policy[0] = 1
	}
	binary.BigEndian.PutUint64(policy[1:9], math.Float64bits(r.ChunkTimeout.Seconds()))
	binary.BigEndian.PutUint64(policy[9:17], math.Float64bits(deadlineSeconds))
	binary.BigEndian.PutUint32(policy[17:21], uint32(r.MaxRetries))

	idBytes := make([]byte, 16)
	copy(idBytes, r.UUID[:])

	return [][]byte{
		r.Route,
		{},
		idBytes,
		policy,
		r.Payload,
	}
}

// DecodeOutbound parses the five request frames. Used by test
// harnesses that stand in for a server, and by round-trip tests.
func DecodeOutbound(frames [][]byte) (OutboundRequest, error) {
	if len(frames) != 5 {
		return OutboundRequest{}, fmt.Errorf("wire: outbound request has %d frames, want 5", len(frames))
	}
	if len(frames[2]) != 16 {
		return OutboundRequest{}, fmt.Errorf("wire: uuid frame has %d bytes, want 16", len(frames[2]))
	}
	if len(frames[3]) != 1+8+8+4 {
		return OutboundRequest{}, fmt.Errorf("wire: policy frame has %d bytes, want 21", len(frames[3]))
	}

	var id uuid.UUID
	copy(id[:], frames[2])

	policy := frames[3]
	urgent := policy[0] != 0
	chunkTimeoutSeconds := math.Float64frombits(binary.BigEndian.Uint64(policy[1:9]))
	deadlineSeconds := math.Float64frombits(binary.BigEndian.Uint64(policy[9:17]))
	maxRetries := int32(binary.BigEndian.Uint32(policy[17:21]))
	chunkTimeout := time.Duration(chunkTimeoutSeconds * float64(time.Second))

	// The deadline travels as float64 seconds, which cannot hold every
	// nanosecond of a current-epoch timestamp, so it is decoded to the
	// nearest microsecond.
	var deadline time.Time
	if deadlineSeconds != 0 {
		whole, frac := math.Modf(deadlineSeconds)
		deadline = time.Unix(int64(whole), int64(math.Round(frac*1e6))*1e3)
	}

	return OutboundRequest{
		Route:            frames[0],
		UUID:             id,
		Urgent:           urgent,
		ChunkTimeout:     chunkTimeout,
		AbsoluteDeadline: deadline,
		MaxRetries:       maxRetries,
		Payload:          frames[4],
	}, nil
}

// EncodeInbound builds the server->client reply frames for one
// ResponseChunk (spec §6 "Wire framing, inbound").
func EncodeInbound(c dealer.ResponseChunk) [][]byte {
	codeBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(codeBytes, uint32(c.Code))

	idBytes := make([]byte, 16)
	copy(idBytes, c.UUID[:])

	frames := [][]byte{c.Route, codeBytes, idBytes}

	switch c.Code {
	case dealer.RPCChunk:
		frames = append(frames, c.Data)
	case dealer.RPCError:
		msg := []byte(c.ErrorMessage)
		payload := make([]byte, 4+len(msg))
		binary.BigEndian.PutUint32(payload[:4], uint32(c.ErrorCode))
		copy(payload[4:], msg)
		frames = append(frames, payload)
	}
	return frames
}

// DecodeInbound parses one logical reply message into a ResponseChunk.
// On malformed framing or an unknown rpc_code it returns an error;
// the caller (balancer.Receive) is responsible for draining any
// leftover frames of the same logical message, per spec §4.3.
func DecodeInbound(frames [][]byte) (dealer.ResponseChunk, error) {
	if len(frames) < 3 {
		return dealer.ResponseChunk{}, fmt.Errorf("wire: inbound reply has %d frames, want >= 3", len(frames))
	}
	if len(frames[1]) != 4 {
		return dealer.ResponseChunk{}, fmt.Errorf("wire: rpc_code frame has %d bytes, want 4", len(frames[1]))
	}
	if len(frames[2]) != 16 {
		return dealer.ResponseChunk{}, fmt.Errorf("wire: uuid frame has %d bytes, want 16", len(frames[2]))
	}

	code := dealer.RPCCode(int32(binary.BigEndian.Uint32(frames[1])))

	var id uuid.UUID
	copy(id[:], frames[2])

	chunk := dealer.ResponseChunk{UUID: id, Route: frames[0], Code: code}

	switch code {
	case dealer.RPCAck, dealer.RPCChoke:
		return chunk, nil
	case dealer.RPCChunk:
		if len(frames) < 4 {
			return dealer.ResponseChunk{}, fmt.Errorf("wire: CHUNK reply missing data frame")
		}
		chunk.Data = frames[3]
		return chunk, nil
	case dealer.RPCError:
		if len(frames) < 4 || len(frames[3]) < 4 {
			return dealer.ResponseChunk{}, fmt.Errorf("wire: ERROR reply missing/short code+message frame")
		}
		payload := frames[3]
		chunk.ErrorCode = dealer.ErrorCode(int32(binary.BigEndian.Uint32(payload[:4])))
		chunk.ErrorMessage = string(payload[4:])
		return chunk, nil
	default:
		return dealer.ResponseChunk{}, fmt.Errorf("wire: unknown rpc_code %d", code)
	}
}
