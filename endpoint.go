package dealer

import "time"

// Endpoint is one reachable transport address of one handle. Equality
// and ordering use (TransportURI, Route) only; Weight and LastSeen
// are mutable metadata that do not affect set membership (spec §4.1).
type Endpoint struct {
	TransportURI string
	Route        []byte
	Weight       int
	LastSeen     time.Time
}

// Identity returns the value used for equality and map-keying:
// (TransportURI, Route) as a comparable string pair.
func (e Endpoint) Identity() EndpointIdentity {
	return EndpointIdentity{TransportURI: e.TransportURI, Route: string(e.Route)}
}

// EndpointIdentity is the comparable, hashable half of an Endpoint.
type EndpointIdentity struct {
	TransportURI string
	Route        string
}

// Alive reports whether the endpoint currently carries traffic.
// weight = 0 means "known but unusable; do not send, but do not forget".
func (e Endpoint) Alive() bool { return e.Weight > 0 }

// EndpointSet is a routing-table entry: the endpoints known for one
// handle, keyed by identity.
type EndpointSet map[EndpointIdentity]Endpoint

// Clone returns a shallow copy safe to hand to a consumer.
func (s EndpointSet) Clone() EndpointSet {
	out := make(EndpointSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// AllDead reports whether every endpoint in the set has weight 0.
// An empty set counts as dead (spec §3: "a handle is considered dead
// iff every one of its endpoints has weight = 0").
func (s EndpointSet) AllDead() bool {
	for _, e := range s {
		if e.Alive() {
			return false
		}
	}
	return true
}

// Merge applies the merge rule of spec §4.6: membership is by
// identity; on merge, the incoming record overwrites weight and
// last_seen (a fresh announce wins). It returns whether the
// resulting set differs from the set prior to the call (identity set
// changed, or any endpoint's weight changed).
func (s EndpointSet) Merge(incoming EndpointSet) (changed bool) {
	for id, in := range incoming {
		cur, ok := s[id]
		if !ok || cur.Weight != in.Weight {
			changed = true
		}
		s[id] = in
	}
	return changed
}
