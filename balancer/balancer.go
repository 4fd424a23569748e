// Package balancer implements the per-handle outbound connection of
// spec §4.3: one DEALER-flavored socket round-robined across the
// positive-weight endpoints of a handle, framing outbound requests
// and parsing inbound replies per the wire layout in package wire.
package balancer

import (
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	dealer "github.com/toshic/cocaine-dealer"
	"github.com/toshic/cocaine-dealer/log"
	"github.com/toshic/cocaine-dealer/wire"
)

// Balancer owns exactly one DEALER socket and the live endpoint
// vector it is currently connected to.
type Balancer struct {
	sock     *zmq.Socket
	identity string

	live      []dealer.Endpoint
	connected map[string]int // transport_uri -> reference count
	cursor    int
}

// New creates a balancer with a bound identity, LINGER=0 and
// unbounded send/receive watermarks, matching the construction rules
// of spec §4.3. It does not connect to any endpoint yet; call
// UpdateEndpoints for that.
func New(identity string) (*Balancer, error) {
	sock, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, dealer.NewError(dealer.InternalError, "creating DEALER socket: "+err.Error())
	}

	if err := sock.SetIdentity(identity); err != nil {
		sock.Close()
		return nil, dealer.NewError(dealer.InternalError, "setting socket identity: "+err.Error())
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, dealer.NewError(dealer.InternalError, "setting LINGER: "+err.Error())
	}
	if err := sock.SetSndhwm(0); err != nil {
		sock.Close()
		return nil, dealer.NewError(dealer.InternalError, "setting SNDHWM: "+err.Error())
	}
	if err := sock.SetRcvhwm(0); err != nil {
		sock.Close()
		return nil, dealer.NewError(dealer.InternalError, "setting RCVHWM: "+err.Error())
	}

	return &Balancer{
		sock:      sock,
		identity:  identity,
		connected: make(map[string]int),
	}, nil
}

// Close disconnects and frees the socket.
func (b *Balancer) Close() {
	b.sock.Close()
}

// UpdateEndpoints computes appeared/disappeared/unchanged against the
// current live vector, connects appeared transport URIs, disconnects
// disappeared ones, and replaces the live vector. The round-robin
// cursor is reset to 0 (spec §4.3).
func (b *Balancer) UpdateEndpoints(newSet dealer.EndpointSet) {
	oldByIdentity := make(map[dealer.EndpointIdentity]dealer.Endpoint, len(b.live))
	for _, e := range b.live {
		oldByIdentity[e.Identity()] = e
	}

	for id, e := range newSet {
		old, existed := oldByIdentity[id]
		wasAlive := existed && old.Alive()
		isAlive := e.Alive()

		if isAlive && !wasAlive {
			b.connectURI(e.TransportURI)
		} else if !isAlive && wasAlive {
			b.disconnectURI(e.TransportURI)
		}
	}
	for id, old := range oldByIdentity {
		if _, stillPresent := newSet[id]; !stillPresent && old.Alive() {
			b.disconnectURI(old.TransportURI)
		}
	}

	live := make([]dealer.Endpoint, 0, len(newSet))
	for _, e := range newSet {
		live = append(live, e)
	}
	b.live = live
	b.cursor = 0
}

func (b *Balancer) connectURI(uri string) {
	if b.connected[uri] == 0 {
		if err := b.sock.Connect(uri); err != nil {
			log.Logf(log.ERRORS, "balancer %s: connect %s: %s", b.identity, uri, err)
		}
	}
	b.connected[uri]++
}

func (b *Balancer) disconnectURI(uri string) {
	b.connected[uri]--
	if b.connected[uri] <= 0 {
		delete(b.connected, uri)
		if err := b.sock.Disconnect(uri); err != nil {
			log.Logf(log.WARNINGS, "balancer %s: disconnect %s: %s", b.identity, uri, err)
		}
	}
}

// next selects the next endpoint with positive weight by round robin,
// starting from (cursor+1) mod n, wrapping once to probe every slot.
// It panics if no positive-weight endpoint exists; callers must check
// HasUsableEndpoint first (spec §4.3, §8: "never dequeues... send is
// not attempted").
func (b *Balancer) next() dealer.Endpoint {
	n := len(b.live)
	if n == 0 {
		panic("balancer: next() called with no endpoints")
	}
	for i := 0; i < n; i++ {
		idx := (b.cursor + 1 + i) % n
		if b.live[idx].Alive() {
			b.cursor = idx
			return b.live[idx]
		}
	}
	panic("balancer: next() called with no positive-weight endpoint")
}

// LiveSet returns a snapshot of the endpoints the balancer currently
// considers live, keyed by identity.
func (b *Balancer) LiveSet() dealer.EndpointSet {
	set := make(dealer.EndpointSet, len(b.live))
	for _, e := range b.live {
		set[e.Identity()] = e
	}
	return set
}

// HasUsableEndpoint reports whether at least one live endpoint has
// positive weight.
func (b *Balancer) HasUsableEndpoint() bool {
	for _, e := range b.live {
		if e.Alive() {
			return true
		}
	}
	return false
}

// Send selects the next endpoint and emits the five-frame outbound
// message for m (spec §4.3, §6). It rewrites the server-side deadline
// from a relative timeout into an absolute wall-clock value.
func (b *Balancer) Send(m *dealer.Message) (dealer.Endpoint, error) {
	ep := b.next()

	var absDeadline time.Time
	if m.Policy.Deadline > 0 {
		absDeadline = m.EnqueuedAt.Add(m.Policy.Deadline)
	}

	frames := wire.EncodeOutbound(wire.OutboundRequest{
		Route:            ep.Route,
		UUID:             m.UUID,
		Urgent:           m.Policy.Urgent,
		ChunkTimeout:     m.Policy.ChunkTimeout,
		AbsoluteDeadline: absDeadline,
		MaxRetries:       int32(m.Policy.MaxRetries),
		Payload:          m.Payload,
	})

	parts := make([]interface{}, len(frames))
	for i, f := range frames {
		parts[i] = f
	}

	if _, err := b.sock.SendMessage(parts...); err != nil {
		return ep, dealer.NewError(dealer.InternalError, fmt.Sprintf("send to %s: %s", ep.TransportURI, err))
	}
	return ep, nil
}

// Receive reads one complete framed reply, non-blocking. It returns
// (nil, nil) if nothing is pending, and (nil, nil) on malformed
// framing or an unknown rpc_code after draining the rest of that
// logical message (spec §4.3).
func (b *Balancer) Receive() (*dealer.ResponseChunk, error) {
	frames, err := b.sock.RecvMessageBytes(zmq.DONTWAIT)
	if err != nil {
		if zerr, ok := err.(zmq.Errno); ok && int(zerr) == 11 { // EAGAIN
			return nil, nil
		}
		return nil, dealer.NewError(dealer.InternalError, "receive: "+err.Error())
	}

	chunk, err := wire.DecodeInbound(frames)
	if err != nil {
		log.Logf(log.WARNINGS, "balancer %s: dropping malformed reply: %s", b.identity, err)
		return nil, nil
	}
	return &chunk, nil
}

// CheckForResponses polls the balancer's socket for readability for
// up to timeout, for callers that want to pump explicitly rather than
// rely on an event loop (spec §4.3).
func (b *Balancer) CheckForResponses(timeout time.Duration) (bool, error) {
	poller := zmq.NewPoller()
	poller.Add(b.sock, zmq.POLLIN)
	polled, err := poller.Poll(timeout)
	if err != nil {
		return false, dealer.NewError(dealer.InternalError, "poll: "+err.Error())
	}
	return len(polled) > 0, nil
}
