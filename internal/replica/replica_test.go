package replica

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"causalkv/internal/clock"
	"causalkv/internal/netsim"
)

func fastSampler() *netsim.Sampler {
	return netsim.NewSampler(1)
}

func zeroRange() netsim.Range {
	return netsim.Fixed(0)
}

func newTestReplica(id string) *Replica {
	return New(id, zeroRange(), fastSampler())
}

func TestClientPutThenClientGetReadYourWrites(t *testing.T) {
	r := newTestReplica("a")
	session := clock.New()

	vv := r.ClientPut("k", "v1", session, Causal)
	session.MergeInto(vv.VectorClock)

	got, ok := r.ClientGet("k", session, Causal)
	require.True(t, ok)
	assert.Equal(t, "v1", got.Value)
}

func TestReceiveUpdateBuffersUntilDependenciesSatisfied(t *testing.T) {
	a := newTestReplica("a")
	b := newTestReplica("b")

	session := clock.New()
	v1 := a.ClientPut("k", "v1", session, Causal)
	session.MergeInto(v1.VectorClock)
	v2 := a.ClientPut("k", "v2", session, Causal)

	// deliver v2 to b before v1: v2 depends on v1 (the session vector it
	// was written with already includes v1), so b must buffer it.
	b.ReceiveUpdate(v2.Clone())
	assert.Equal(t, 1, b.PendingCount())

	_, ok := b.KVStore.Latest("k")
	assert.False(t, ok, "v2 must not be visible before its dependency arrives")

	b.ReceiveUpdate(v1.Clone())
	assert.Equal(t, 0, b.PendingCount())

	latest, ok := b.KVStore.Latest("k")
	require.True(t, ok)
	assert.Equal(t, "v2", latest.Value)
}

func TestReceiveUpdateIdempotent(t *testing.T) {
	a := newTestReplica("a")
	b := newTestReplica("b")

	v1 := a.ClientPut("k", "v1", clock.New(), Causal)

	b.ReceiveUpdate(v1.Clone())
	b.ReceiveUpdate(v1.Clone())
	b.ReceiveUpdate(v1.Clone())

	assert.Equal(t, 0, b.PendingCount())
	assert.Len(t, b.KVStore.AllVersions("k"), 1, "re-delivery must not duplicate the version")
}

func TestReceiveUpdateFromSelfPanics(t *testing.T) {
	a := newTestReplica("a")
	v1 := a.ClientPut("k", "v1", clock.New(), Causal)

	assert.Panics(t, func() { a.ReceiveUpdate(v1) })
}

func TestConnectPeersIsSymmetric(t *testing.T) {
	a := newTestReplica("a")
	b := newTestReplica("b")
	rng := netsim.MustRange(10*time.Millisecond, 20*time.Millisecond)

	ConnectPeers(a, b, rng)

	gotA, ok := a.PeerRange("b")
	require.True(t, ok)
	assert.Equal(t, rng, gotA)

	gotB, ok := b.PeerRange("a")
	require.True(t, ok)
	assert.Equal(t, rng, gotB)
}

func TestConnectPeersToSelfPanics(t *testing.T) {
	a := newTestReplica("a")
	assert.Panics(t, func() { ConnectPeers(a, a, zeroRange()) })
}

func TestClientPutCausalPropagatesAsynchronously(t *testing.T) {
	a := newTestReplica("a")
	b := newTestReplica("b")
	ConnectPeers(a, b, zeroRange())

	a.ClientPut("k", "v1", clock.New(), Causal)

	require.Eventually(t, func() bool {
		_, ok := b.KVStore.Latest("k")
		return ok
	}, time.Second, time.Millisecond)
}

func TestClientPutLinearizableWaitsForAllPeers(t *testing.T) {
	a := newTestReplica("a")
	b := newTestReplica("b")
	c := newTestReplica("c")
	ConnectPeers(a, b, zeroRange())
	ConnectPeers(a, c, zeroRange())

	a.ClientPut("k", "v1", clock.New(), Linearizable)

	_, okB := b.KVStore.Latest("k")
	_, okC := c.KVStore.Latest("k")
	assert.True(t, okB, "linearizable write must have already reached peer b")
	assert.True(t, okC, "linearizable write must have already reached peer c")
}

func TestLinearizableReadReturnsFreshestAcrossReplicas(t *testing.T) {
	a := newTestReplica("a")
	b := newTestReplica("b")
	ConnectPeers(a, b, zeroRange())

	a.ClientPut("k", "stale", clock.New(), Linearizable)
	time.Sleep(2 * time.Millisecond)
	b.ClientPut("k", "fresh", clock.New(), Linearizable)

	got, ok := a.ClientGet("k", clock.New(), Linearizable)
	require.True(t, ok)
	assert.Equal(t, "fresh", got.Value)
}

func TestCausalReadBlocksUntilDependenciesArrive(t *testing.T) {
	a := newTestReplica("a")
	b := newTestReplica("b")
	// no ConnectPeers: delivery is driven manually to control timing.

	session := clock.New()
	v1 := a.ClientPut("k", "v1", session, Causal)

	done := make(chan struct{})
	go func() {
		clientSession := v1.VectorClock.Copy()
		got, ok := b.ClientGet("k", clientSession, Causal)
		assert.True(t, ok)
		assert.Equal(t, "v1", got.Value)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("causal read returned before its dependency was delivered")
	case <-time.After(20 * time.Millisecond):
	}

	b.ReceiveUpdate(v1.Clone())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("causal read never unblocked after its dependency arrived")
	}
}

func TestMonotonicReadsNeverGoBackwards(t *testing.T) {
	a := newTestReplica("a")
	session := clock.New()

	v1 := a.ClientPut("k", "v1", session, Causal)
	session.MergeInto(v1.VectorClock)
	got1, _ := a.ClientGet("k", session, Causal)
	session.MergeInto(got1.VectorClock)

	v2 := a.ClientPut("k", "v2", session, Causal)
	session.MergeInto(v2.VectorClock)
	got2, _ := a.ClientGet("k", session, Causal)

	assert.True(t, got2.VectorClock.Dominates(got1.VectorClock))
}

func TestMetricsRecordedPerModeAndOperation(t *testing.T) {
	a := newTestReplica("a")

	a.ClientPut("k", "v1", clock.New(), Causal)
	a.ClientGet("k", clock.New(), Causal)

	snap := a.Metrics().Snapshot()
	assert.Len(t, snap["causal_writes"], 1)
	assert.Len(t, snap["causal_reads"], 1)
	assert.Empty(t, snap["linearizable_writes"])
	assert.Empty(t, snap["linearizable_reads"])
}

func TestClockGrowsMonotonicallyAcrossWrites(t *testing.T) {
	a := newTestReplica("a")
	session := clock.New()

	a.ClientPut("k1", "v1", session, Causal)
	first := a.Clock()

	a.ClientPut("k2", "v2", session, Causal)
	second := a.Clock()

	assert.True(t, second.Dominates(first))
	assert.True(t, second.Get("a") > first.Get("a"))
}
