package overseer

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dealer "github.com/toshic/cocaine-dealer"
)

func newTestOverseer(endpointTimeout time.Duration, services []string) (*Overseer, *[]Event) {
	events := &[]Event{}
	o := &Overseer{
		table:           newRoutingTable(services),
		endpointTimeout: endpointTimeout,
		callback: func(ev Event) {
			*events = append(*events, ev)
		},
	}
	return o, events
}

func oneEndpointSet(route string, weight int) dealer.EndpointSet {
	ep := dealer.Endpoint{TransportURI: "tcp://127.0.0.1:9000", Route: []byte(route), Weight: weight, LastSeen: time.Now()}
	return dealer.EndpointSet{ep.Identity(): ep}
}

func TestMergeAndEmitCreateThenUpdateThenDestroy(t *testing.T) {
	o, events := newTestOverseer(time.Second, []string{"echo"})

	o.mergeAndEmit("echo", "echo", oneEndpointSet("r1", 1))
	require.Len(t, *events, 1)
	assert.Equal(t, CREATE, (*events)[0].Kind)

	// A second endpoint joins: identity set changes -> UPDATE.
	ep2 := dealer.Endpoint{TransportURI: "tcp://127.0.0.1:9001", Route: []byte("r2"), Weight: 1, LastSeen: time.Now()}
	merged := oneEndpointSet("r1", 1)
	merged[ep2.Identity()] = ep2
	o.mergeAndEmit("echo", "echo", merged)
	require.Len(t, *events, 2)
	assert.Equal(t, UPDATE, (*events)[1].Kind)

	// Both endpoints go to weight 0: entire handle dies -> DESTROY.
	dead := oneEndpointSet("r1", 0)
	dead[ep2.Identity()] = dealer.Endpoint{TransportURI: ep2.TransportURI, Route: ep2.Route, Weight: 0, LastSeen: time.Now()}
	o.mergeAndEmit("echo", "echo", dead)
	require.Len(t, *events, 3)
	assert.Equal(t, DESTROY, (*events)[2].Kind)

	gotWeights := make(map[string]int, len(dead))
	for id, ep := range (*events)[2].Endpoints {
		gotWeights[id.Route] = ep.Weight
	}
	wantWeights := map[string]int{"r1": 0, "r2": 0}
	if diff := cmp.Diff(wantWeights, gotWeights); diff != "" {
		t.Errorf("destroyed endpoint weights mismatch (-want +got):\n%s", diff)
	}
}

func TestDuplicateAnnounceSameWeightNoUpdate(t *testing.T) {
	o, events := newTestOverseer(time.Second, []string{"echo"})

	o.mergeAndEmit("echo", "echo", oneEndpointSet("r1", 1))
	require.Len(t, *events, 1)

	// Refresh with identical weight: last_seen changes but set/weight
	// do not, so no UPDATE should be emitted (spec §8 boundary case).
	o.mergeAndEmit("echo", "echo", oneEndpointSet("r1", 1))
	assert.Len(t, *events, 1)
}

func TestTimeoutSweepAgesOutSilentEndpoint(t *testing.T) {
	o, events := newTestOverseer(10*time.Millisecond, []string{"echo"})

	set := oneEndpointSet("r1", 1)
	for id, ep := range set {
		ep.LastSeen = time.Now().Add(-time.Second)
		set[id] = ep
	}
	o.table["echo"]["echo"] = set

	o.timeoutSweep()
	require.Len(t, *events, 1)
	assert.Equal(t, DESTROY, (*events)[0].Kind)
}

func TestTimeoutSweepLeavesFreshEndpointAlone(t *testing.T) {
	o, events := newTestOverseer(time.Minute, []string{"echo"})
	o.table["echo"]["echo"] = oneEndpointSet("r1", 1)

	o.timeoutSweep()
	assert.Len(t, *events, 0)
}

func TestTimeoutSweepPartialAgeOutEmitsUpdate(t *testing.T) {
	o, events := newTestOverseer(10*time.Millisecond, []string{"echo"})

	fresh := dealer.Endpoint{TransportURI: "tcp://127.0.0.1:9000", Route: []byte("r1"), Weight: 1, LastSeen: time.Now()}
	stale := dealer.Endpoint{TransportURI: "tcp://127.0.0.1:9001", Route: []byte("r2"), Weight: 1, LastSeen: time.Now().Add(-time.Second)}
	set := dealer.EndpointSet{fresh.Identity(): fresh, stale.Identity(): stale}
	o.table["echo"]["echo"] = set

	o.timeoutSweep()
	require.Len(t, *events, 1)
	assert.Equal(t, UPDATE, (*events)[0].Kind)
}
