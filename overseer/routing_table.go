package overseer

import dealer "github.com/toshic/cocaine-dealer"

// EventKind is the differential change an overseer convergence step
// produced for one (service, handle).
type EventKind int

const (
	CREATE EventKind = iota
	UPDATE
	DESTROY
)

func (k EventKind) String() string {
	switch k {
	case CREATE:
		return "CREATE"
	case UPDATE:
		return "UPDATE"
	case DESTROY:
		return "DESTROY"
	default:
		return "UNKNOWN"
	}
}

// Event is what the overseer emits to downstream consumers (the
// service router) on every convergence step that changes something
// (spec §4.6 "Merge and emit").
type Event struct {
	Kind      EventKind
	Service   string
	Handle    string
	Endpoints dealer.EndpointSet
}

// RoutingTable is service -> handle -> live endpoint set (spec §3).
// Entries for configured services always exist, even with no handles
// yet, per the invariant "entries for missing services are empty
// maps, not absent". It is owned exclusively by the overseer's loop.
type RoutingTable map[string]map[string]dealer.EndpointSet

// newRoutingTable seeds an empty handle map for every configured
// service name.
func newRoutingTable(services []string) RoutingTable {
	t := make(RoutingTable, len(services))
	for _, s := range services {
		t[s] = make(map[string]dealer.EndpointSet)
	}
	return t
}

// handleSet returns the live endpoint set for (service, handle),
// creating an empty one if absent, without mutating anything about
// its aliveness.
func (t RoutingTable) handleSet(service, handle string) dealer.EndpointSet {
	handles, ok := t[service]
	if !ok {
		handles = make(map[string]dealer.EndpointSet)
		t[service] = handles
	}
	set, ok := handles[handle]
	if !ok {
		set = make(dealer.EndpointSet)
		handles[handle] = set
	}
	return set
}

// snapshot returns a deep-enough copy of one handle's endpoint set,
// safe to hand to an Event consumer.
func (t RoutingTable) snapshot(service, handle string) dealer.EndpointSet {
	return t.handleSet(service, handle).Clone()
}
