// Package replica implements the datacenter replica: the per-replica state
// machine that accepts local client writes, propagates them to peers,
// buffers dependency-incomplete updates, applies them once their
// dependencies are satisfied, and serves causal and linearizable reads.
//
// All internal mutation of the clock, store, and pending buffer happens
// under a single per-replica mutex; the mutex is never held across a
// simulated network delay or a call into another replica.
package replica

import (
	"fmt"
	"sync"
	"time"

	"causalkv/internal/clock"
	"causalkv/internal/logging"
	"causalkv/internal/metrics"
	"causalkv/internal/netsim"
	"causalkv/internal/store"
	"causalkv/internal/version"
)

// Mode selects the consistency regime an operation is served under.
type Mode int

const (
	Causal Mode = iota
	Linearizable
)

func (m Mode) String() string {
	if m == Linearizable {
		return "linearizable"
	}
	return "causal"
}

// ReadBucket returns the metrics bucket a read under this mode records into.
func (m Mode) ReadBucket() string {
	if m == Linearizable {
		return metrics.LinearizableReads
	}
	return metrics.CausalReads
}

// WriteBucket returns the metrics bucket a write under this mode records into.
func (m Mode) WriteBucket() string {
	if m == Linearizable {
		return metrics.LinearizableWrites
	}
	return metrics.CausalWrites
}

// Replica is one datacenter: an exclusive-lock actor owning a vector clock,
// a multi-version store, a table of peer handles, and a buffer of
// dependency-incomplete updates awaiting application.
type Replica struct {
	id string

	mu   sync.Mutex
	cond *sync.Cond

	clockV  clock.VectorClock
	pending []version.Value

	// KVStore is exposed for introspection, matching the external
	// interface's replica.kvstore.latest / replica.kvstore.all_versions.
	KVStore *store.MultiVersionStore

	localRange netsim.Range
	peers      map[string]*Replica
	peerRanges map[string]netsim.Range

	sampler *netsim.Sampler
	metrics *metrics.Recorder
	log     *logging.Logger
}

// New creates a replica with no peers. Attach peers with ConnectPeers.
func New(id string, localRange netsim.Range, sampler *netsim.Sampler) *Replica {
	r := &Replica{
		id:         id,
		clockV:     clock.New(),
		KVStore:    store.New(),
		localRange: localRange,
		peers:      make(map[string]*Replica),
		peerRanges: make(map[string]netsim.Range),
		sampler:    sampler,
		metrics:    metrics.New(),
		log:        logging.NewLogger(id),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// ID returns the replica's identifier.
func (r *Replica) ID() string { return r.id }

// LocalRange returns the replica's local client-latency range.
func (r *Replica) LocalRange() netsim.Range { return r.localRange }

// PeerRange returns the configured latency range to a peer, if any.
func (r *Replica) PeerRange(peerID string) (netsim.Range, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rng, ok := r.peerRanges[peerID]
	return rng, ok
}

// Metrics returns the replica's server-side latency recorder.
func (r *Replica) Metrics() *metrics.Recorder { return r.metrics }

// ResetMetrics clears the replica's metrics buckets.
func (r *Replica) ResetMetrics() { r.metrics.Reset() }

// Clock returns a copy of the replica's current vector clock, for testing
// and invariant checks.
func (r *Replica) Clock() clock.VectorClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clockV.Copy()
}

// PendingCount returns the number of updates currently buffered awaiting
// their dependencies, for testing the buffering invariant.
func (r *Replica) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ConnectPeers links a and b symmetrically with the same latency range, the
// external interface's add_peer(a, b, latency_range). Panics if a and b are
// the same replica: a replica is never its own peer.
func ConnectPeers(a, b *Replica, latencyRange netsim.Range) {
	if a.id == b.id {
		panic(fmt.Sprintf("replica: cannot peer %q with itself", a.id))
	}

	a.mu.Lock()
	a.peers[b.id] = b
	a.peerRanges[b.id] = latencyRange
	a.mu.Unlock()

	b.mu.Lock()
	b.peers[a.id] = a
	b.peerRanges[a.id] = latencyRange
	b.mu.Unlock()
}

func (r *Replica) peerSnapshot() map[string]*Replica {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Replica, len(r.peers))
	for id, p := range r.peers {
		out[id] = p
	}
	return out
}

// ClientPut commits a write locally and propagates it to every peer,
// synchronously for linearizable mode and fire-and-forget for causal mode.
// session is read, never mutated; the returned version is the committed
// value the caller should merge into its own causal context.
func (r *Replica) ClientPut(key, value string, session clock.VectorClock, mode Mode) version.Value {
	start := time.Now()

	r.mu.Lock()
	r.clockV.MergeInto(session)
	r.clockV.Increment(r.id)
	vv := version.New(key, value, r.id, r.clockV, session, time.Now())
	r.KVStore.Put(vv)
	r.drainLocked()
	r.cond.Broadcast()
	r.mu.Unlock()

	r.log.Debug("committed local write", "key", key, "version", vv.VectorClock.String())

	ackDelay := r.sampler.Duration(r.localRange)
	time.Sleep(ackDelay)

	if mode == Linearizable {
		r.broadcast(vv, true)
	} else {
		go r.broadcast(vv, false)
	}

	r.metrics.Record(mode.WriteBucket(), time.Since(start))
	return vv
}

// broadcast replicates vv to every peer. If wait is true it blocks until
// every peer's receive_update has returned (the linearizable write's
// all-peer acknowledgement); otherwise it fires each peer delivery off and
// returns immediately once they are all launched.
func (r *Replica) broadcast(vv version.Value, wait bool) {
	peers := r.peerSnapshot()
	var wg sync.WaitGroup

	for id, peer := range peers {
		wg.Add(1)
		rng, _ := r.PeerRange(id)
		go func(peer *Replica, rng netsim.Range) {
			defer wg.Done()
			time.Sleep(r.sampler.Duration(rng))
			peer.ReceiveUpdate(vv.Clone())
		}(peer, rng)
	}

	if wait {
		wg.Wait()
	}
}

// ClientGet serves a read under the given consistency mode.
func (r *Replica) ClientGet(key string, session clock.VectorClock, mode Mode) (version.Value, bool) {
	start := time.Now()

	var vv version.Value
	var ok bool
	if mode == Linearizable {
		vv, ok = r.linearizableRead(key)
	} else {
		vv, ok = r.causalRead(key, session)
	}

	r.metrics.Record(mode.ReadBucket(), time.Since(start))
	return vv, ok
}

// causalRead blocks until the replica's clock dominates session (the
// client's causal frontier), then returns the local latest version for key.
func (r *Replica) causalRead(key string, session clock.VectorClock) (version.Value, bool) {
	r.mu.Lock()
	for !r.clockV.Dominates(session) {
		r.cond.Wait()
	}
	r.mu.Unlock()

	time.Sleep(r.sampler.Duration(r.localRange))

	vv, ok := r.KVStore.Latest(key)
	if ok {
		r.mu.Lock()
		r.clockV.MergeInto(vv.VectorClock)
		r.drainLocked()
		r.cond.Broadcast()
		r.mu.Unlock()
	}
	return vv, ok
}

// linearizableRead snapshots the local latest version, fans out to every
// peer in parallel for theirs, and returns whichever candidate has the
// greatest timestamp (origin id lexicographic breaks ties).
func (r *Replica) linearizableRead(key string) (version.Value, bool) {
	r.mu.Lock()
	local, localOK := r.KVStore.Latest(key)
	r.mu.Unlock()

	peers := r.peerSnapshot()

	var mu sync.Mutex
	var wg sync.WaitGroup
	candidates := make([]version.Value, 0, len(peers)+1)
	if localOK {
		candidates = append(candidates, local)
	}

	for id, peer := range peers {
		wg.Add(1)
		rng, _ := r.PeerRange(id)
		go func(peer *Replica, rng netsim.Range) {
			defer wg.Done()
			time.Sleep(r.sampler.Duration(rng))

			peer.mu.Lock()
			v, ok := peer.KVStore.Latest(key)
			peer.mu.Unlock()

			if ok {
				mu.Lock()
				candidates = append(candidates, v)
				mu.Unlock()
			}
		}(peer, rng)
	}
	wg.Wait()

	return freshest(candidates)
}

func freshest(candidates []version.Value) (version.Value, bool) {
	if len(candidates) == 0 {
		return version.Value{}, false
	}

	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.Timestamp.After(winner.Timestamp) {
			winner = c
		} else if c.Timestamp.Equal(winner.Timestamp) && c.Origin < winner.Origin {
			winner = c
		}
	}
	return winner, true
}

// ReceiveUpdate is the peer-ingress entry point. A replica must never
// receive an update whose origin is itself: there is no multi-hop
// forwarding in this topology, so that would indicate a malformed
// replication path.
func (r *Replica) ReceiveUpdate(vv version.Value) {
	if vv.Origin == r.id {
		panic(fmt.Sprintf("replica %s: received an update it originated itself", r.id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clockV.Get(vv.Origin) >= vv.VectorClock.Get(vv.Origin) {
		r.log.Debug("discarded already-applied update", "key", vv.Key, "origin", vv.Origin)
		return
	}

	if r.clockV.Dominates(vv.Dependencies) {
		r.commitLocked(vv)
	} else {
		r.pending = append(r.pending, vv)
		r.log.Debug("buffered dependency-incomplete update", "key", vv.Key, "origin", vv.Origin)
	}

	r.drainLocked()
	r.cond.Broadcast()
}

// commitLocked applies vv to the clock and store. Caller must hold r.mu.
func (r *Replica) commitLocked(vv version.Value) {
	r.clockV.MergeInto(vv.VectorClock)
	r.KVStore.Put(vv)
	r.log.Debug("committed replicated update", "key", vv.Key, "origin", vv.Origin)
}

// drainLocked re-scans the pending buffer until a full pass makes no
// progress, committing any entry whose dependencies are now satisfied and
// discarding any entry that turns out to already be applied. Caller must
// hold r.mu. Quadratic in buffer size, which is fine at simulator scale.
func (r *Replica) drainLocked() {
	progress := true
	for progress {
		progress = false
		still := r.pending[:0:0]

		for _, p := range r.pending {
			switch {
			case r.clockV.Get(p.Origin) >= p.VectorClock.Get(p.Origin):
				progress = true // discarded
			case r.clockV.Dominates(p.Dependencies):
				r.commitLocked(p)
				progress = true
			default:
				still = append(still, p)
			}
		}
		r.pending = still
	}
}
