// Package overseer implements the routing discoverer of spec §4.6: it
// converges a routing table from a pluggable host fetcher and a
// pub/sub announce stream, and emits CREATE/UPDATE/DESTROY events.
package overseer

import (
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	dealer "github.com/toshic/cocaine-dealer"
	"github.com/toshic/cocaine-dealer/config"
	"github.com/toshic/cocaine-dealer/fetcher"
	"github.com/toshic/cocaine-dealer/log"
)

const (
	fetchTickInterval    = fetcher.PollInterval
	timeoutSweepInterval = 500 * time.Millisecond
	// announcePollInterval approximates true socket-readiness across
	// many SUB sockets at once, the same tradeoff package handle makes
	// for the balancer socket: a fast ticker rather than per-fd select.
	announcePollInterval = 5 * time.Millisecond
)

// Callback receives every convergence event. It runs on the
// overseer's own loop goroutine and must not block.
type Callback func(Event)

type serviceState struct {
	name string
	app  string

	fetch fetcher.Fetcher
	sock  *zmq.Socket

	knownHosts map[string]struct{}
	connected  map[string]struct{}
	nodes      map[string]NodeDescriptor
}

// Overseer is the process-wide routing discoverer.
type Overseer struct {
	table           RoutingTable
	services        map[string]*serviceState
	endpointTimeout time.Duration
	callback        Callback

	ingress chan func()
	stopCh  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New builds an overseer for every service in cfg.Services, wiring
// each one's configured discovery mechanism into its own fetcher, and
// starts its event loop. callback fires for every differential event.
func New(cfg *config.Config, callback Callback) (*Overseer, error) {
	o := &Overseer{
		table:           newRoutingTable(serviceNames(cfg.Services)),
		services:        make(map[string]*serviceState),
		endpointTimeout: cfg.EndpointTimeoutDuration(),
		callback:        callback,
		ingress:         make(chan func(), 64),
		stopCh:          make(chan struct{}),
		stopped:         make(chan struct{}),
	}

	for _, sc := range cfg.Services {
		f, err := fetcher.New(sc.Discovery, cfg.ControlPort)
		if err != nil {
			o.closeAllSockets()
			return nil, err
		}
		sock, err := zmq.NewSocket(zmq.SUB)
		if err != nil {
			o.closeAllSockets()
			return nil, dealer.NewError(dealer.InternalError, "overseer: creating SUB socket for "+sc.Name+": "+err.Error())
		}
		if err := sock.SetSubscribe(""); err != nil {
			sock.Close()
			o.closeAllSockets()
			return nil, dealer.NewError(dealer.InternalError, "overseer: subscribing "+sc.Name+": "+err.Error())
		}
		if err := sock.SetLinger(0); err != nil {
			sock.Close()
			o.closeAllSockets()
			return nil, dealer.NewError(dealer.InternalError, "overseer: setting linger for "+sc.Name+": "+err.Error())
		}

		o.services[sc.Name] = &serviceState{
			name:       sc.Name,
			app:        sc.App,
			fetch:      f,
			sock:       sock,
			knownHosts: make(map[string]struct{}),
			connected:  make(map[string]struct{}),
			nodes:      make(map[string]NodeDescriptor),
		}
	}

	go o.loop()
	return o, nil
}

func serviceNames(services []config.ServiceConfig) []string {
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}
	return names
}

func (o *Overseer) closeAllSockets() {
	for _, s := range o.services {
		s.sock.Close()
	}
}

// Stop tears the overseer down: closes every subscriber socket and
// stops the loop. Idempotent.
func (o *Overseer) Stop() {
	o.once.Do(func() { close(o.stopCh) })
	<-o.stopped
}

func (o *Overseer) loop() {
	fetchTicker := time.NewTicker(fetchTickInterval)
	sweepTicker := time.NewTicker(timeoutSweepInterval)
	pollTicker := time.NewTicker(announcePollInterval)
	defer fetchTicker.Stop()
	defer sweepTicker.Stop()
	defer pollTicker.Stop()
	defer close(o.stopped)
	defer o.closeAllSockets()

	// Run an initial fetch tick immediately so the overseer does not
	// sit idle for a full interval before connecting to anything.
	o.fetchTick()

	for {
		select {
		case fn := <-o.ingress:
			fn()
		case <-fetchTicker.C:
			o.fetchTick()
		case <-pollTicker.C:
			o.announceTick()
		case <-sweepTicker.C:
			o.timeoutSweep()
		case <-o.stopCh:
			return
		}
	}
}

// fetchTick implements spec §4.6 "Fetch tick": poll the fetcher for
// each service, connect newly appeared hosts, and leave disappeared
// hosts connected (they age out via the timeout sweep instead).
func (o *Overseer) fetchTick() {
	for _, s := range o.services {
		hosts, err := s.fetch.Fetch()
		if err != nil {
			log.Logf(log.WARNINGS, "overseer: fetch for %s failed: %s", s.name, err)
			continue
		}

		seen := make(map[string]struct{}, len(hosts))
		for _, h := range hosts {
			seen[h.TransportURI] = struct{}{}
			if _, known := s.knownHosts[h.TransportURI]; known {
				continue
			}
			s.knownHosts[h.TransportURI] = struct{}{}
			if _, connected := s.connected[h.TransportURI]; connected {
				continue
			}
			if err := s.sock.Connect(h.TransportURI); err != nil {
				log.Logf(log.ERRORS, "overseer: connect %s for %s: %s", h.TransportURI, s.name, err)
				continue
			}
			s.connected[h.TransportURI] = struct{}{}
		}
	}
}

// announceTick implements spec §4.6 "Announce read": pull (host,
// payload) pairs off every service socket until drained, parse them,
// and recompute routing for the affected service.
func (o *Overseer) announceTick() {
	for _, s := range o.services {
		changedHosts := false
		for {
			frames, err := s.sock.RecvMessageBytes(zmq.DONTWAIT)
			if err != nil {
				break
			}
			if len(frames) < 2 {
				log.Logf(log.WARNINGS, "overseer: malformed announce on %s: %d frames", s.name, len(frames))
				continue
			}
			host := string(frames[0])
			node, err := decodeAnnounce(frames[1])
			if err != nil {
				log.Logf(log.WARNINGS, "overseer: malformed announce payload from %s on %s: %s", host, s.name, err)
				continue
			}
			s.nodes[host] = node
			changedHosts = true
		}
		if changedHosts {
			o.recomputeService(s)
		}
	}
}

// recomputeService implements spec §4.6 "Routing update" and "Merge
// and emit" for one service: build the desired table from every
// host's latest announce, then merge it into the live table.
func (o *Overseer) recomputeService(s *serviceState) {
	now := time.Now()
	desired := make(map[string]dealer.EndpointSet)

	for _, node := range s.nodes {
		app, ok := node.Apps[s.app]
		if !ok {
			continue
		}
		var weight int
		switch app.Status {
		case StatusRunning:
			weight = 1
		case StatusStopping:
			weight = 0
		default: // unknown, stopped, broken: skip entirely
			continue
		}

		for taskName, task := range app.Tasks {
			set, ok := desired[taskName]
			if !ok {
				set = make(dealer.EndpointSet)
				desired[taskName] = set
			}
			ep := dealer.Endpoint{
				TransportURI: task.Endpoint,
				Route:        task.Route,
				Weight:       weight,
				LastSeen:     now,
			}
			set[ep.Identity()] = ep
		}
	}

	for handle, incoming := range desired {
		o.mergeAndEmit(s.name, handle, incoming)
	}
}

func (o *Overseer) mergeAndEmit(service, handle string, incoming dealer.EndpointSet) {
	live := o.table.handleSet(service, handle)

	if live.AllDead() {
		live.Merge(incoming)
		o.emit(Event{Kind: CREATE, Service: service, Handle: handle, Endpoints: o.table.snapshot(service, handle)})
		return
	}

	changed := live.Merge(incoming)
	if live.AllDead() {
		o.emit(Event{Kind: DESTROY, Service: service, Handle: handle, Endpoints: o.table.snapshot(service, handle)})
	} else if changed {
		o.emit(Event{Kind: UPDATE, Service: service, Handle: handle, Endpoints: o.table.snapshot(service, handle)})
	}
}

// timeoutSweep implements spec §4.6 "Timeout sweep": age out silent
// endpoints to weight 0 and emit DESTROY/UPDATE accordingly.
func (o *Overseer) timeoutSweep() {
	now := time.Now()
	for service, handles := range o.table {
		for handle, set := range handles {
			wasDead := set.AllDead()
			changed := false
			for id, ep := range set {
				if ep.Alive() && now.Sub(ep.LastSeen) > o.endpointTimeout {
					ep.Weight = 0
					set[id] = ep
					changed = true
				}
			}
			if !changed {
				continue
			}
			if set.AllDead() && !wasDead {
				o.emit(Event{Kind: DESTROY, Service: service, Handle: handle, Endpoints: set.Clone()})
			} else if !set.AllDead() {
				o.emit(Event{Kind: UPDATE, Service: service, Handle: handle, Endpoints: set.Clone()})
			}
		}
	}
}

func (o *Overseer) emit(ev Event) {
	if o.callback != nil {
		o.callback(ev)
	}
}
