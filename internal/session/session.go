// Package session implements the client session: the causal context a
// single client carries across requests, plus the routing and simulated
// client-to-replica latency that turns a logical put/get into a call
// against one particular replica.
package session

import (
	"fmt"
	"time"

	"causalkv/internal/clock"
	"causalkv/internal/logging"
	"causalkv/internal/metrics"
	"causalkv/internal/netsim"
	"causalkv/internal/replica"
	"causalkv/internal/version"
)

// fallbackLatency is used when a session targets a replica it has no
// configured route to: there is no peer-range entry to sample from, so a
// session falls back to a fixed round-trip estimate rather than refusing
// the request.
const fallbackLatency = 80 * time.Millisecond

// Session tracks one client's causal context (a session vector growing by
// write-your-writes / read-your-writes merges) and routes its requests to a
// home replica or, explicitly, to any other known replica.
type Session struct {
	name string
	home *replica.Replica

	sampler *netsim.Sampler
	metrics *metrics.Recorder
	log     *logging.Logger

	vector clock.VectorClock
}

// New creates a session homed at home, the replica its requests reach by
// default.
func New(name string, home *replica.Replica, sampler *netsim.Sampler) *Session {
	return &Session{
		name:    name,
		home:    home,
		sampler: sampler,
		metrics: metrics.New(),
		log:     logging.NewLogger("session:" + name),
		vector:  clock.New(),
	}
}

// Vector returns a copy of the session's current causal context.
func (s *Session) Vector() clock.VectorClock { return s.vector.Copy() }

// Home returns the replica this session defaults to.
func (s *Session) Home() *replica.Replica { return s.home }

// Metrics returns the session's end-to-end latency recorder.
func (s *Session) Metrics() *metrics.Recorder { return s.metrics }

// ResetMetrics clears the session's metrics buckets.
func (s *Session) ResetMetrics() { s.metrics.Reset() }

// clientLatency samples the simulated client-to-replica delay for target.
// If target is the session's home replica it uses the home's local client
// range; otherwise it looks up the configured latency from home to target
// and falls back to fallbackLatency if no such link is known.
func (s *Session) clientLatency(target *replica.Replica) time.Duration {
	if target.ID() == s.home.ID() {
		return s.sampler.Duration(target.LocalRange())
	}
	if rng, ok := s.home.PeerRange(target.ID()); ok {
		return s.sampler.Duration(rng)
	}
	return fallbackLatency
}

// Put issues a write against target under mode, folding the committed
// version's vector clock into the session's causal context so a subsequent
// read anywhere observes this write (read-your-writes, writes-follow-reads).
func (s *Session) Put(target *replica.Replica, key, value string, mode replica.Mode) version.Value {
	start := time.Now()
	time.Sleep(s.clientLatency(target))

	vv := target.ClientPut(key, value, s.vector, mode)
	s.vector.MergeInto(vv.VectorClock)

	s.log.Debug("put", "key", key, "target", target.ID(), "mode", mode.String())
	s.metrics.Record(mode.WriteBucket(), time.Since(start))
	return vv
}

// Get issues a read against target under mode, folding the returned
// version's vector clock into the session's causal context (monotonic
// reads: a later read in this session never observes less than an earlier
// one did).
func (s *Session) Get(target *replica.Replica, key string, mode replica.Mode) (version.Value, bool) {
	start := time.Now()
	time.Sleep(s.clientLatency(target))

	vv, ok := target.ClientGet(key, s.vector, mode)
	if ok {
		s.vector.MergeInto(vv.VectorClock)
	}

	s.log.Debug("get", "key", key, "target", target.ID(), "mode", mode.String(), "found", fmt.Sprint(ok))
	s.metrics.Record(mode.ReadBucket(), time.Since(start))
	return vv, ok
}
