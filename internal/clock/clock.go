// Package clock implements vector clocks for tracking causality between
// datacenter replicas. Vector clocks are per-replica counters that, compared
// pointwise, tell a replica whether it has observed everything another
// clock has observed.
package clock

import (
	"fmt"
	"sort"
	"strings"
)

// VectorClock is a mapping from replica ID to a monotone counter. A missing
// entry reads as zero. The zero value (a nil map) is valid for reads but
// must be replaced with New() before any write.
type VectorClock map[string]int64

// New creates a new empty vector clock.
func New() VectorClock {
	return make(VectorClock)
}

// Get returns the counter value for the given replica ID, or 0 if absent.
func (vc VectorClock) Get(replicaID string) int64 {
	return vc[replicaID]
}

// Set sets the counter for the given replica ID. Panics on a negative value:
// a negative counter is a precondition violation, never a recoverable error.
func (vc VectorClock) Set(replicaID string, value int64) {
	if value < 0 {
		panic(fmt.Sprintf("clock: negative counter %d for replica %q", value, replicaID))
	}
	vc[replicaID] = value
}

// Increment increments the counter for the given replica ID by exactly one.
func (vc VectorClock) Increment(replicaID string) {
	vc[replicaID] = vc[replicaID] + 1
}

// Copy returns a deep copy of vc. A nil receiver copies to an empty clock.
func (vc VectorClock) Copy() VectorClock {
	cp := New()
	for k, v := range vc {
		cp[k] = v
	}
	return cp
}

// Sum returns the scalar sum of all counters, used by the multi-version
// store as a cheap, total ordering proxy for "more causal history."
func (vc VectorClock) Sum() int64 {
	var total int64
	for _, v := range vc {
		total += v
	}
	return total
}

// Dominates reports whether vc dominates target: for every (k, c) in target,
// vc[k] >= c. This is total (defined even over disjoint keysets) and is not
// strict — a clock always dominates itself.
func (vc VectorClock) Dominates(target VectorClock) bool {
	for replicaID, counter := range target {
		if vc[replicaID] < counter {
			return false
		}
	}
	return true
}

// Equal reports whether vc and other agree on every replica's counter,
// treating a missing entry as zero on either side.
func (vc VectorClock) Equal(other VectorClock) bool {
	return vc.Dominates(other) && other.Dominates(vc)
}

// MergeInto merges incoming into vc in place: for every (k, c) in incoming,
// vc[k] = max(vc[k], c).
func (vc VectorClock) MergeInto(incoming VectorClock) {
	for replicaID, counter := range incoming {
		if vc[replicaID] < counter {
			vc[replicaID] = counter
		}
	}
}

// Merge returns a new vector clock holding the pointwise maximum of a and b,
// leaving both inputs untouched. Idempotent, commutative, and associative.
func Merge(a, b VectorClock) VectorClock {
	out := a.Copy()
	out.MergeInto(b)
	return out
}

// String renders vc as a sorted, comma-separated "replica:counter" list for
// logging and test failure messages.
func (vc VectorClock) String() string {
	if len(vc) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(vc))
	for k := range vc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, vc[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
