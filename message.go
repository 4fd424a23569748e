package dealer

import (
	"time"

	"github.com/google/uuid"
)

// MessagePolicy controls retry, deadline and persistence behavior for
// one message (spec §3).
type MessagePolicy struct {
	Urgent       bool
	Persistent   bool
	ChunkTimeout time.Duration
	AckTimeout   time.Duration
	// Deadline of zero means "no deadline": the message never
	// generates DeadlineError.
	Deadline   time.Duration
	MaxRetries int
}

// DefaultMessagePolicy mirrors spec §6 policy_defaults.
func DefaultMessagePolicy() MessagePolicy {
	return MessagePolicy{
		Urgent:       false,
		Persistent:   false,
		ChunkTimeout: 0,
		AckTimeout:   50 * time.Millisecond,
		Deadline:     0,
		MaxRetries:   0,
	}
}

// Message is the unit of work submitted by a user and tracked by a
// handle dispatcher's cache until terminal resolution (spec §3).
type Message struct {
	UUID    uuid.UUID
	Path    HandleID
	Payload []byte
	Policy  MessagePolicy

	EnqueuedAt time.Time
	SentAt     time.Time

	// DestinationRoute is set once the message has been handed to the
	// balancer; empty while the message sits in the new FIFO.
	DestinationRoute []byte

	AckReceived bool
	RetriesUsed int
}

// NewMessage builds a Message ready for enqueueing, stamping a fresh
// UUID and EnqueuedAt.
func NewMessage(path HandleID, payload []byte, policy MessagePolicy) *Message {
	return &Message{
		UUID:       uuid.New(),
		Path:       path,
		Payload:    payload,
		Policy:     policy,
		EnqueuedAt: time.Now(),
	}
}

// Sent reports whether the message has been handed to the balancer
// (i.e. belongs in the sent map, not the new FIFO).
func (m *Message) Sent() bool { return !m.SentAt.IsZero() }

// MarkSent records the route a message was dispatched to.
func (m *Message) MarkSent(route []byte) {
	m.DestinationRoute = route
	m.SentAt = time.Now()
	m.AckReceived = false
}

// ResetSendState clears all send-side bookkeeping, as done by
// make_all_messages_new (spec §4.2).
func (m *Message) ResetSendState() {
	m.DestinationRoute = nil
	m.SentAt = time.Time{}
	m.AckReceived = false
}

// DeadlineExceeded reports whether the message's absolute deadline
// (EnqueuedAt + Policy.Deadline) has passed. Deadline == 0 means no
// deadline, so this is always false in that case.
func (m *Message) DeadlineExceeded(now time.Time) bool {
	if m.Policy.Deadline <= 0 {
		return false
	}
	return now.After(m.EnqueuedAt.Add(m.Policy.Deadline))
}

// AckTimedOut reports whether the message was sent, has not been
// acked, and AckTimeout has elapsed since it was sent.
func (m *Message) AckTimedOut(now time.Time) bool {
	if m.Policy.AckTimeout <= 0 || !m.Sent() || m.AckReceived {
		return false
	}
	return now.After(m.SentAt.Add(m.Policy.AckTimeout))
}
