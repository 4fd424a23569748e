// Package router implements the service router of spec §4.7: the
// glue that owns the handle dispatchers of one service, fans user
// messages to the right handle (queuing under "unhandled" when no
// handle exists yet), and reacts to overseer events.
package router

import (
	"sync"
	"time"

	dealer "github.com/toshic/cocaine-dealer"
	"github.com/toshic/cocaine-dealer/cache"
	"github.com/toshic/cocaine-dealer/handle"
	"github.com/toshic/cocaine-dealer/log"
	"github.com/toshic/cocaine-dealer/overseer"
)

const unhandledSweepInterval = time.Second

// ResponseCallback is invoked for every chunk (and synthesized
// deadline error) surfaced for this service's messages.
type ResponseCallback func(dealer.ResponseChunk)

// ServiceRouter owns the handle dispatchers for one service.
type ServiceRouter struct {
	service string
	app     string
	store   cache.BlobStore
	onChunk ResponseCallback

	mu        sync.Mutex
	handles   map[string]*handle.Dispatcher
	unhandled map[string][]*dealer.Message

	stopCh  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New builds a router for (service, app) and starts its unhandled-
// queue sweep. store backs the persistent mirror of every handle's
// message cache; pass nil for ram_only (spec §6 message_cache_type).
func New(service, app string, store cache.BlobStore, onChunk ResponseCallback) *ServiceRouter {
	r := &ServiceRouter{
		service:   service,
		app:       app,
		store:     store,
		onChunk:   onChunk,
		handles:   make(map[string]*handle.Dispatcher),
		unhandled: make(map[string][]*dealer.Message),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Stop kills every owned dispatcher and stops the sweep loop.
func (r *ServiceRouter) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	<-r.stopped

	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*handle.Dispatcher)
	r.mu.Unlock()

	for _, d := range handles {
		d.Kill()
	}
}

// SendMessage routes m to its handle's dispatcher if one exists, or
// appends it to that handle's unhandled queue otherwise (spec §4.7).
func (r *ServiceRouter) SendMessage(m *dealer.Message) error {
	r.mu.Lock()
	d, ok := r.handles[m.Path.Handle]
	r.mu.Unlock()

	if ok {
		return d.EnqueueMessage(m)
	}

	r.mu.Lock()
	r.unhandled[m.Path.Handle] = append(r.unhandled[m.Path.Handle], m)
	r.mu.Unlock()
	return nil
}

// Healthy reports whether handleName currently has a live dispatcher
// with at least one positive-weight endpoint.
func (r *ServiceRouter) Healthy(handleName string) bool {
	r.mu.Lock()
	d, ok := r.handles[handleName]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return d.Healthy()
}

// HandleEvent reacts to one overseer event for this router's service
// (spec §4.7): CREATE builds a dispatcher and drains its backlog,
// UPDATE forwards endpoints, DESTROY kills the dispatcher and
// reattaches its remaining messages as unhandled.
func (r *ServiceRouter) HandleEvent(ev overseer.Event) {
	switch ev.Kind {
	case overseer.CREATE:
		r.onCreate(ev)
	case overseer.UPDATE:
		r.onUpdate(ev)
	case overseer.DESTROY:
		r.onDestroy(ev)
	}
}

func (r *ServiceRouter) onCreate(ev overseer.Event) {
	id := dealer.HandleID{Service: r.service, App: r.app, Handle: ev.Handle}
	d, err := handle.New(id, id.String(), cache.New(r.service, r.store))
	if err != nil {
		log.Logf(log.ERRORS, "router %s: creating dispatcher for %s: %s", r.service, ev.Handle, err)
		return
	}
	d.SetResponseCallback(r.onChunk)
	d.SetReclaimCallback(func(msgs []*dealer.Message) {
		r.requeueUnhandled(ev.Handle, msgs)
	})
	d.UpdateEndpoints(ev.Endpoints)

	r.mu.Lock()
	backlog := r.unhandled[ev.Handle]
	delete(r.unhandled, ev.Handle)
	r.handles[ev.Handle] = d
	r.mu.Unlock()

	for _, m := range backlog {
		if err := d.EnqueueMessage(m); err != nil {
			log.Logf(log.ERRORS, "router %s: draining backlog for %s: %s", r.service, ev.Handle, err)
		}
	}
}

func (r *ServiceRouter) onUpdate(ev overseer.Event) {
	r.mu.Lock()
	d, ok := r.handles[ev.Handle]
	r.mu.Unlock()
	if !ok {
		return
	}
	d.UpdateEndpoints(ev.Endpoints)
}

func (r *ServiceRouter) onDestroy(ev overseer.Event) {
	r.mu.Lock()
	d, ok := r.handles[ev.Handle]
	delete(r.handles, ev.Handle)
	r.mu.Unlock()
	if !ok {
		return
	}
	d.Kill()
}

func (r *ServiceRouter) requeueUnhandled(handleName string, msgs []*dealer.Message) {
	if len(msgs) == 0 {
		return
	}
	r.mu.Lock()
	r.unhandled[handleName] = append(r.unhandled[handleName], msgs...)
	r.mu.Unlock()
}

func (r *ServiceRouter) sweepLoop() {
	ticker := time.NewTicker(unhandledSweepInterval)
	defer ticker.Stop()
	defer close(r.stopped)

	for {
		select {
		case <-ticker.C:
			r.sweepUnhandled()
		case <-r.stopCh:
			return
		}
	}
}

// sweepUnhandled implements the router's periodic task of spec §5:
// scan unhandled queues for deadline-exceeded messages and synthesize
// ERROR{DeadlineError} chunks to the user callback.
func (r *ServiceRouter) sweepUnhandled() {
	now := time.Now()

	r.mu.Lock()
	var expired []*dealer.Message
	for handleName, queue := range r.unhandled {
		kept := queue[:0]
		for _, m := range queue {
			if m.DeadlineExceeded(now) {
				expired = append(expired, m)
			} else {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(r.unhandled, handleName)
		} else {
			r.unhandled[handleName] = kept
		}
	}
	r.mu.Unlock()

	for _, m := range expired {
		if r.onChunk != nil {
			r.onChunk(dealer.ErrorChunk(m.UUID, nil, dealer.NewError(dealer.DeadlineError, "message expired while unhandled")))
		}
	}
}
