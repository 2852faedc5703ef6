// Package config parses and validates a simulation topology: the set of
// replicas, each one's local client-latency range, the peer links between
// them and their latency ranges, and which replica acts as leader for
// linearizable writes.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"causalkv/internal/netsim"
)

// ReplicaConfig describes one datacenter: its identifier and the latency
// range a local client experiences talking to it.
type ReplicaConfig struct {
	ID         string
	LocalRange netsim.Range
}

// LinkConfig describes a peer link between two replicas and the simulated
// network latency range between them.
type LinkConfig struct {
	A, B  string
	Range netsim.Range
}

// Topology is a fully validated simulation topology.
type Topology struct {
	Replicas []ReplicaConfig
	Links    []LinkConfig
	LeaderID string
}

// ParseReplicas parses a comma-separated list of "id:minMs-maxMs" pairs,
// e.g. "us-east:5-15,eu-west:5-15,ap-south:5-15".
func ParseReplicas(s string) ([]ReplicaConfig, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("config: replica list must not be empty")
	}

	parts := strings.Split(s, ",")
	out := make([]ReplicaConfig, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, rangeStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("config: invalid replica entry %q (expected id:minMs-maxMs)", part)
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("config: replica entry %q has an empty id", part)
		}

		rng, err := parseLatencyRange(rangeStr)
		if err != nil {
			return nil, fmt.Errorf("config: replica %q: %w", id, err)
		}

		out = append(out, ReplicaConfig{ID: id, LocalRange: rng})
	}

	return out, nil
}

// ParseLinks parses a comma-separated list of peer links in the form
// "a/b:minMs-maxMs", e.g. "us-east/eu-west:80-120,us-east/ap-south:150-220".
// The two endpoint ids are separated by "/" rather than "-" since a
// replica id may itself contain a hyphen.
func ParseLinks(s string) ([]LinkConfig, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	out := make([]LinkConfig, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idsAndRange, rangeStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("config: invalid link entry %q (expected a/b:minMs-maxMs)", part)
		}

		a, b, ok := strings.Cut(idsAndRange, "/")
		if !ok {
			return nil, fmt.Errorf("config: invalid link endpoints %q (expected a/b)", idsAndRange)
		}
		a, b = strings.TrimSpace(a), strings.TrimSpace(b)
		if a == "" || b == "" {
			return nil, fmt.Errorf("config: link entry %q has an empty endpoint", part)
		}

		rng, err := parseLatencyRange(rangeStr)
		if err != nil {
			return nil, fmt.Errorf("config: link %s/%s: %w", a, b, err)
		}

		out = append(out, LinkConfig{A: a, B: b, Range: rng})
	}

	return out, nil
}

func parseLatencyRange(s string) (netsim.Range, error) {
	minStr, maxStr, ok := strings.Cut(s, "-")
	if !ok {
		return netsim.Range{}, fmt.Errorf("invalid latency range %q (expected minMs-maxMs)", s)
	}

	minMs, err := strconv.Atoi(strings.TrimSpace(minStr))
	if err != nil {
		return netsim.Range{}, fmt.Errorf("invalid minimum latency %q: %w", minStr, err)
	}
	maxMs, err := strconv.Atoi(strings.TrimSpace(maxStr))
	if err != nil {
		return netsim.Range{}, fmt.Errorf("invalid maximum latency %q: %w", maxStr, err)
	}
	if minMs <= 0 || maxMs <= 0 {
		return netsim.Range{}, fmt.Errorf("latency bounds must be positive, got %d-%d", minMs, maxMs)
	}

	return netsim.NewRange(time.Duration(minMs)*time.Millisecond, time.Duration(maxMs)*time.Millisecond)
}

// Validate checks internal consistency of a Topology: every link must
// reference replicas that exist, the leader id (if set) must name a known
// replica, and no replica id may repeat.
func (t Topology) Validate() error {
	ids := make(map[string]bool, len(t.Replicas))
	for _, r := range t.Replicas {
		if ids[r.ID] {
			return fmt.Errorf("config: duplicate replica id %q", r.ID)
		}
		ids[r.ID] = true
	}

	for _, l := range t.Links {
		if !ids[l.A] {
			return fmt.Errorf("config: link references unknown replica %q", l.A)
		}
		if !ids[l.B] {
			return fmt.Errorf("config: link references unknown replica %q", l.B)
		}
		if l.A == l.B {
			return fmt.Errorf("config: link cannot connect replica %q to itself", l.A)
		}
	}

	if t.LeaderID != "" && !ids[t.LeaderID] {
		return fmt.Errorf("config: leader id %q is not a known replica", t.LeaderID)
	}

	return nil
}
