// Package handle implements the per-(service, handle) dispatcher of
// spec §4.4: a single-threaded, event-driven worker that owns a
// message cache and a balancer, pumps queued messages out, demuxes
// streamed replies back in, and drives the ack/deadline retry state
// machine.
//
// The balancer is touched only from the dispatcher's own loop
// goroutine; public entry points that need it cross that boundary by
// posting closures onto an ingress channel, per the "dispatcher as one
// logical actor" guidance (spec §9) rather than by sharing locks over
// the balancer itself (zmq sockets are not safe for concurrent use
// from multiple goroutines). The message cache is internally
// synchronized and the callbacks are guarded by their own mutex, so
// those are used directly from any goroutine.
package handle

import (
	"sync"
	"time"

	"github.com/toshic/cocaine-dealer/balancer"
	"github.com/toshic/cocaine-dealer/cache"
	"github.com/toshic/cocaine-dealer/log"

	dealer "github.com/toshic/cocaine-dealer"
)

const (
	queuePumpInterval     = time.Millisecond
	deadlineSweepInterval = 500 * time.Millisecond
)

// ResponseCallback receives every chunk surfaced to the user for this
// handle: ACKs and ResourceError replies that are rescheduled
// transparently are not passed on. It is invoked on the dispatcher's loop goroutine; it must
// not block or call back into the dispatcher synchronously.
type ResponseCallback func(dealer.ResponseChunk)

// ReclaimCallback receives the messages a dispatcher is draining on
// kill (spec §4.4 "Kill"), so a service router can requeue them as
// unhandled pending a future handle.
type ReclaimCallback func([]*dealer.Message)

// Dispatcher is one handle's event loop.
type Dispatcher struct {
	id    dealer.HandleID
	cache *cache.MessageCache
	bal   *balancer.Balancer

	cbMu      sync.Mutex
	onChunk   ResponseCallback
	onReclaim ReclaimCallback

	ingress chan func()
	stopCh  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New builds a dispatcher for id, with socket identity derived from
// the caller (typically id.String()), and starts its event loop.
func New(id dealer.HandleID, socketIdentity string, msgCache *cache.MessageCache) (*Dispatcher, error) {
	bal, err := balancer.New(socketIdentity)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		id:      id,
		cache:   msgCache,
		bal:     bal,
		ingress: make(chan func(), 64),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.loop()
	return d, nil
}

// SetResponseCallback sets the function invoked for every chunk
// surfaced to the user (see ResponseCallback). Safe to call from any
// goroutine.
func (d *Dispatcher) SetResponseCallback(cb ResponseCallback) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onChunk = cb
}

// SetReclaimCallback sets the function invoked with a dispatcher's
// remaining messages when it is killed. Safe to call from any
// goroutine; should be set before the first Kill().
func (d *Dispatcher) SetReclaimCallback(cb ReclaimCallback) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onReclaim = cb
}

// EnqueueMessage enqueues m for delivery. MessageCache is internally
// synchronized, so this does not need to cross into the loop
// goroutine; the next queue-pump tick will pick it up.
func (d *Dispatcher) EnqueueMessage(m *dealer.Message) error {
	return d.cache.Enqueue(m)
}

// UpdateEndpoints forwards a new endpoint set to the balancer and
// reschedules any in-flight messages whose route disappeared (spec
// §4.4 "Update endpoints"). It posts onto the loop goroutine because
// it touches the balancer's socket.
func (d *Dispatcher) UpdateEndpoints(set dealer.EndpointSet) {
	done := make(chan struct{})
	select {
	case d.ingress <- func() {
		d.updateEndpointsLocal(set)
		close(done)
	}:
		<-done
	case <-d.stopped:
	}
}

// Healthy reports whether the dispatcher currently has at least one
// positive-weight endpoint to send through (used by a service router
// to answer liveness queries without extra wire traffic).
func (d *Dispatcher) Healthy() bool {
	result := make(chan bool, 1)
	select {
	case d.ingress <- func() { result <- d.bal.HasUsableEndpoint() }:
		return <-result
	case <-d.stopped:
		return false
	}
}

// Kill idempotently and synchronously tears the dispatcher down: it
// stops the loop, drains its cache (converting every message back to
// new), closes the balancer, and then hands the drained messages to
// the reclaim callback.
func (d *Dispatcher) Kill() {
	d.once.Do(func() {
		close(d.stopCh)
	})
	<-d.stopped
}

func (d *Dispatcher) loop() {
	pump := time.NewTicker(queuePumpInterval)
	sweep := time.NewTicker(deadlineSweepInterval)
	defer pump.Stop()
	defer sweep.Stop()
	defer close(d.stopped)

	for {
		select {
		case fn := <-d.ingress:
			fn()
		case <-pump.C:
			d.pumpOutbound()
			d.drainInbound()
		case <-sweep.C:
			d.sweepDeadlines()
		case <-d.stopCh:
			d.doKill()
			return
		}
	}
}

func (d *Dispatcher) doKill() {
	msgs := d.cache.DrainAll()
	d.bal.Close()

	d.cbMu.Lock()
	reclaim := d.onReclaim
	d.cbMu.Unlock()
	if reclaim != nil {
		reclaim(msgs)
	}
}

func (d *Dispatcher) updateEndpointsLocal(set dealer.EndpointSet) {
	old := d.bal.LiveSet()
	d.bal.UpdateEndpoints(set)

	for id, oldEp := range old {
		newEp, stillPresent := set[id]
		if oldEp.Alive() && (!stillPresent || !newEp.Alive()) {
			d.cache.RescheduleAllForRoute(oldEp.Route)
		}
	}
}

// pumpOutbound drains the new FIFO into the balancer while at least
// one endpoint carries traffic. A handle with zero positive-weight
// endpoints never dequeues (spec §8 boundary behavior).
func (d *Dispatcher) pumpOutbound() {
	if !d.bal.HasUsableEndpoint() {
		return
	}
	for {
		m, ok := d.cache.PopNew()
		if !ok {
			return
		}
		if !d.bal.HasUsableEndpoint() {
			if err := d.cache.EnqueueWithPriority(m); err != nil {
				log.Logf(log.ERRORS, "handle %s: re-enqueue after endpoints vanished: %s", d.id, err)
			}
			return
		}
		ep, err := d.bal.Send(m)
		if err != nil {
			log.Logf(log.WARNINGS, "handle %s: send failed, requeuing: %s", d.id, err)
			if err := d.cache.EnqueueWithPriority(m); err != nil {
				log.Logf(log.ERRORS, "handle %s: re-enqueue after send failure: %s", d.id, err)
			}
			return
		}
		d.cache.MoveNewToSent(ep.Route, m)
	}
}

func (d *Dispatcher) drainInbound() {
	for {
		chunk, err := d.bal.Receive()
		if err != nil {
			log.Logf(log.ERRORS, "handle %s: receive error: %s", d.id, err)
			return
		}
		if chunk == nil {
			return
		}
		d.handleChunk(*chunk)
	}
}

func (d *Dispatcher) handleChunk(c dealer.ResponseChunk) {
	switch c.Code {
	case dealer.RPCAck:
		if m, ok := d.cache.GetSent(c.Route, c.UUID); ok {
			m.AckReceived = true
		}
	case dealer.RPCChunk:
		d.emit(c)
	case dealer.RPCChoke:
		d.emit(c)
		d.cache.RemoveSent(c.Route, c.UUID)
	case dealer.RPCError:
		if c.ErrorCode == dealer.ResourceError {
			if !d.cache.Reschedule(c.Route, c.UUID) {
				d.emit(c)
			}
		} else {
			d.emit(c)
			d.cache.RemoveSent(c.Route, c.UUID)
		}
	default:
		d.emit(c)
		d.cache.RemoveSent(c.Route, c.UUID)
	}
}

func (d *Dispatcher) sweepDeadlines() {
	now := time.Now()
	for _, m := range d.cache.GetExpired(now) {
		if m.DeadlineExceeded(now) {
			d.emit(dealer.ErrorChunk(m.UUID, m.DestinationRoute,
				dealer.NewError(dealer.DeadlineError, "message expired in handle")))
			d.cache.RemoveByUUID(m)
			continue
		}
		if m.RetriesUsed < m.Policy.MaxRetries {
			d.cache.BumpRetryAndRequeue(m)
		} else {
			d.emit(dealer.ErrorChunk(m.UUID, m.DestinationRoute,
				dealer.NewError(dealer.RequestError, "server did not reply with ack in time")))
			d.cache.RemoveByUUID(m)
		}
	}
}

func (d *Dispatcher) emit(c dealer.ResponseChunk) {
	d.cbMu.Lock()
	cb := d.onChunk
	d.cbMu.Unlock()
	if cb != nil {
		cb(c)
	}
}
