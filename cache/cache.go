// Package cache implements the per-handle message store of spec §4.2:
// a FIFO of new messages, a map route -> sent messages awaiting
// ack/choke, and an optional write-through mirror to a persistent
// blob store.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	dealer "github.com/toshic/cocaine-dealer"
)

// persistedMessage is the local, on-disk recovery record written to
// the blob store. It is never sent over the wire, so there is no
// spec-mandated layout; encoding/json is used because this is purely
// an internal persistence format with no cross-process contract and
// no hot-path performance requirement (unlike the announce decoder,
// which does use the pack's json-iterator/go).
type persistedMessage struct {
	UUID       uuid.UUID            `json:"uuid"`
	Service    string               `json:"service"`
	App        string               `json:"app"`
	Handle     string               `json:"handle"`
	Payload    []byte               `json:"payload"`
	Policy     dealer.MessagePolicy `json:"policy"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

// MessageCache is the message store for one handle.
type MessageCache struct {
	mu sync.Mutex

	namespace string
	store     BlobStore

	newQ *queue[*dealer.Message]
	sent map[string]map[uuid.UUID]*dealer.Message
}

// New builds an empty cache. namespace is the service alias used as
// the blob store namespace; store may be cache.NullBlobStore{} when
// message_cache_type is ram_only.
func New(namespace string, store BlobStore) *MessageCache {
	if store == nil {
		store = NullBlobStore{}
	}
	return &MessageCache{
		namespace: namespace,
		store:     store,
		newQ:      newQueue[*dealer.Message](),
		sent:      make(map[string]map[uuid.UUID]*dealer.Message),
	}
}

// Enqueue appends to the new FIFO (spec: enqueue). If the message is
// persistent, the blob is written before the in-memory insert.
func (c *MessageCache) Enqueue(m *dealer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(m, false)
}

// EnqueueWithPriority pushes to the front of the new FIFO (spec:
// enqueue_with_priority), used after an ack timeout retry.
func (c *MessageCache) EnqueueWithPriority(m *dealer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(m, true)
}

func (c *MessageCache) enqueueLocked(m *dealer.Message, front bool) error {
	if m.Policy.Persistent {
		if err := c.writeBlob(m); err != nil {
			return err
		}
	}
	if front {
		c.newQ.pushFront(m)
	} else {
		c.newQ.pushBack(m)
	}
	return nil
}

// PopNew returns and removes the head of the new FIFO.
func (c *MessageCache) PopNew() (*dealer.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newQ.popFront()
}

// MoveNewToSent records (route, uuid -> msg) in the sent map and
// stamps the message as sent. The caller must have already popped m
// from the new FIFO (normally via PopNew).
func (c *MessageCache) MoveNewToSent(route []byte, m *dealer.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.MarkSent(route)
	key := string(route)
	bucket, ok := c.sent[key]
	if !ok {
		bucket = make(map[uuid.UUID]*dealer.Message)
		c.sent[key] = bucket
	}
	bucket[m.UUID] = m
}

// GetSent looks up a sent message by (route, uuid).
func (c *MessageCache) GetSent(route []byte, id uuid.UUID) (*dealer.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.sent[string(route)]
	if !ok {
		return nil, false
	}
	m, ok := bucket[id]
	return m, ok
}

// RemoveSent resolves a message terminally: removes it from the sent
// map and, if persistent, deletes its blob after the in-memory
// removal.
func (c *MessageCache) RemoveSent(route []byte, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(route)
	bucket, ok := c.sent[key]
	if !ok {
		return
	}
	m, ok := bucket[id]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(c.sent, key)
	}
	c.dropBlob(m)
}

// Reschedule moves a sent message back to the front of the new FIFO,
// if found, resetting its send state. Returns whether it was found.
func (c *MessageCache) Reschedule(route []byte, id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(route)
	bucket, ok := c.sent[key]
	if !ok {
		return false
	}
	m, ok := bucket[id]
	if !ok {
		return false
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(c.sent, key)
	}
	m.ResetSendState()
	c.newQ.pushFront(m)
	return true
}

// RescheduleAllForRoute moves every sent message for route back to
// the new FIFO. Used when an endpoint disappears (spec §4.4).
func (c *MessageCache) RescheduleAllForRoute(route []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(route)
	bucket, ok := c.sent[key]
	if !ok {
		return
	}
	delete(c.sent, key)
	for _, m := range bucket {
		m.ResetSendState()
		c.newQ.pushFront(m)
	}
}

// MakeAllMessagesNew drains every sent message back to the new FIFO
// and resets their send metadata, used by a handle dispatcher on
// kill so messages can be reattached to a future handle.
func (c *MessageCache) MakeAllMessagesNew() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, bucket := range c.sent {
		for _, m := range bucket {
			m.ResetSendState()
			c.newQ.pushBack(m)
		}
		delete(c.sent, key)
	}
}

// DrainAll moves every sent message back to new (like
// MakeAllMessagesNew) and then pops every message out of the cache
// entirely, returning them in FIFO order. Used by a handle
// dispatcher on kill so its messages can be reattached to a future
// handle by the service router.
func (c *MessageCache) DrainAll() []*dealer.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, bucket := range c.sent {
		for _, m := range bucket {
			m.ResetSendState()
			c.newQ.pushBack(m)
		}
		delete(c.sent, key)
	}
	return c.newQ.drain()
}

// GetExpired returns every message (new or sent) whose deadline has
// elapsed, or whose ack timeout has fired without an ack. It does
// not remove anything from the cache; callers resolve each message
// via RemoveByUUID (terminal) or BumpRetryAndRequeue (transparent
// retry).
func (c *MessageCache) GetExpired(now time.Time) []*dealer.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*dealer.Message
	c.newQ.each(func(m *dealer.Message) {
		if m.DeadlineExceeded(now) {
			out = append(out, m)
		}
	})
	for _, bucket := range c.sent {
		for _, m := range bucket {
			if m.DeadlineExceeded(now) || m.AckTimedOut(now) {
				out = append(out, m)
			}
		}
	}
	return out
}

// RemoveByUUID removes a message wherever it currently lives (new
// FIFO or sent map) and drops its blob if persistent. Used for
// terminal resolution (deadline exceeded, retries exhausted, ERROR
// surfaced to the user).
func (c *MessageCache) RemoveByUUID(m *dealer.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m.Sent() {
		key := string(m.DestinationRoute)
		if bucket, ok := c.sent[key]; ok {
			if _, ok := bucket[m.UUID]; ok {
				delete(bucket, m.UUID)
				if len(bucket) == 0 {
					delete(c.sent, key)
				}
				c.dropBlob(m)
				return
			}
		}
	}
	c.newQ.removeMatching(func(x *dealer.Message) bool { return x.UUID == m.UUID })
	c.dropBlob(m)
}

// BumpRetryAndRequeue moves a sent, ack-timed-out message back to the
// new FIFO's head with RetriesUsed incremented. The caller must have
// already confirmed RetriesUsed < MaxRetries.
func (c *MessageCache) BumpRetryAndRequeue(m *dealer.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(m.DestinationRoute)
	if bucket, ok := c.sent[key]; ok {
		delete(bucket, m.UUID)
		if len(bucket) == 0 {
			delete(c.sent, key)
		}
	}
	m.RetriesUsed++
	m.ResetSendState()
	c.newQ.pushFront(m)
}

// AppendQueue transplants a slice of messages (e.g. a service
// router's unhandled queue) onto the back of the new FIFO, in order.
func (c *MessageCache) AppendQueue(msgs []*dealer.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.newQ.pushBack(m)
	}
}

// CountNew returns the number of messages currently in the new FIFO.
func (c *MessageCache) CountNew() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newQ.len()
}

// CountSent returns the number of messages currently in the sent map.
func (c *MessageCache) CountSent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, bucket := range c.sent {
		n += len(bucket)
	}
	return n
}

func (c *MessageCache) writeBlob(m *dealer.Message) error {
	rec := persistedMessage{
		UUID:       m.UUID,
		Service:    m.Path.Service,
		App:        m.Path.App,
		Handle:     m.Path.Handle,
		Payload:    m.Payload,
		Policy:     m.Policy,
		EnqueuedAt: m.EnqueuedAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	idBytes := m.UUID[:]
	return c.store.Write(c.namespace, idBytes, data)
}

func (c *MessageCache) dropBlob(m *dealer.Message) {
	if !m.Policy.Persistent {
		return
	}
	idBytes := m.UUID[:]
	_ = c.store.Remove(c.namespace, idBytes)
}
