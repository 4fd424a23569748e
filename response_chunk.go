package dealer

import "github.com/google/uuid"

// RPCCode is the wire-level response kind (spec §6). Values are
// frozen for interop and must never be renumbered.
type RPCCode int32

const (
	RPCAck   RPCCode = 1
	RPCChunk RPCCode = 2
	RPCChoke RPCCode = 3
	RPCError RPCCode = 4
)

func (c RPCCode) String() string {
	switch c {
	case RPCAck:
		return "ACK"
	case RPCChunk:
		return "CHUNK"
	case RPCChoke:
		return "CHOKE"
	case RPCError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ResponseChunk is one frame of a streamed response (spec §3). CHOKE
// and ERROR (except ERROR with Code == ResourceError, which is
// absorbed transparently by the handle dispatcher) are terminal.
type ResponseChunk struct {
	UUID  uuid.UUID
	Route []byte
	Code  RPCCode

	Data []byte

	ErrorCode    ErrorCode
	ErrorMessage string
}

// Terminal reports whether this chunk ends the stream for its uuid
// from the user's point of view. ACKs are never surfaced to the
// user and are not terminal.
func (c ResponseChunk) Terminal() bool {
	switch c.Code {
	case RPCChoke:
		return true
	case RPCError:
		return c.ErrorCode != ResourceError
	default:
		return false
	}
}

// ErrorChunk builds a terminal ERROR chunk from a dealer.Error.
func ErrorChunk(id uuid.UUID, route []byte, err *Error) ResponseChunk {
	return ResponseChunk{
		UUID:         id,
		Route:        route,
		Code:         RPCError,
		ErrorCode:    err.Code,
		ErrorMessage: err.Message,
	}
}
