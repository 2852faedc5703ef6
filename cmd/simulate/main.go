// cmd/simulate is the CLI entry point: it assembles a topology from flags,
// builds replicas and client sessions, drives the synthetic workload
// against both the causal and linearizable regimes, and prints, per replica
// and per client, how many latency samples each metrics bucket recorded (the
// sample values themselves are not printed).
//
// Usage:
//
//	simulate run --replicas us-east:5-15,eu-west:5-15,ap-south:5-15 \
//	             --links us-east/eu-west:80-120,us-east/ap-south:150-220,eu-west/ap-south:120-180 \
//	             --leader us-east --clients 4 --ops 12 --seed 42
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"causalkv/internal/config"
	"causalkv/internal/logging"
	"causalkv/internal/netsim"
	"causalkv/internal/replica"
	"causalkv/internal/session"
	"causalkv/internal/workload"
)

var (
	replicasFlag string
	linksFlag    string
	leaderFlag   string
	clientsFlag  int
	opsFlag      int
	seedFlag     int64
	logLevel     string
	jsonLogs     bool
	runTimeout   time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a geo-replicated key-value store under causal and linearizable consistency",
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON instead of text")

	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the synthetic workload against both consistency regimes",
		RunE:  runSimulation,
	}

	cmd.Flags().StringVar(&replicasFlag, "replicas", "us-east:5-15,eu-west:5-15,ap-south:5-15",
		"comma-separated replica list, id:minMs-maxMs")
	cmd.Flags().StringVar(&linksFlag, "links",
		"us-east/eu-west:80-120,us-east/ap-south:150-220,eu-west/ap-south:120-180",
		"comma-separated peer links, a/b:minMs-maxMs")
	cmd.Flags().StringVar(&leaderFlag, "leader", "us-east", "replica id every linearizable operation is routed through")
	cmd.Flags().IntVar(&clientsFlag, "clients", 4, "number of simulated clients")
	cmd.Flags().IntVar(&opsFlag, "ops", 12, "operations per client")
	cmd.Flags().Int64Var(&seedFlag, "seed", 42, "deterministic RNG seed for simulated network latency")
	cmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Second, "safety deadline for the whole run")

	return cmd
}

func runSimulation(cmd *cobra.Command, args []string) error {
	logging.SetGlobalLevel(logging.ParseLevel(logLevel))
	logging.SetJSONMode(jsonLogs)

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	startupLog := zerolog.New(console).With().Timestamp().Logger()

	top, err := buildTopology()
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}

	startupLog.Info().
		Int("replicas", len(top.Replicas)).
		Int("links", len(top.Links)).
		Str("leader", top.LeaderID).
		Msg("topology assembled")

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	ops := workload.Generate(clientsFlag, opsFlag)

	for _, mode := range []replica.Mode{replica.Causal, replica.Linearizable} {
		sampler := netsim.NewSampler(seedFlag)
		replicas, order, err := buildReplicas(top, sampler)
		if err != nil {
			return fmt.Errorf("simulate: %w", err)
		}

		sessions := buildSessions(ops, replicas, order, sampler)

		if err := runOps(ctx, ops, sessions, replicas, mode); err != nil {
			return fmt.Errorf("simulate: %s regime: %w", mode, err)
		}

		printReport(startupLog, mode, replicas, sessions)
	}

	return nil
}

func buildTopology() (config.Topology, error) {
	replicas, err := config.ParseReplicas(replicasFlag)
	if err != nil {
		return config.Topology{}, err
	}
	links, err := config.ParseLinks(linksFlag)
	if err != nil {
		return config.Topology{}, err
	}

	top := config.Topology{Replicas: replicas, Links: links, LeaderID: leaderFlag}
	if err := top.Validate(); err != nil {
		return config.Topology{}, err
	}
	return top, nil
}

// buildReplicas constructs one Replica per configured replica and wires
// every configured link, returning the replicas keyed by id plus the ids in
// the stable order they were configured in.
func buildReplicas(top config.Topology, sampler *netsim.Sampler) (map[string]*replica.Replica, []string, error) {
	replicas := make(map[string]*replica.Replica, len(top.Replicas))
	order := make([]string, 0, len(top.Replicas))

	for _, rc := range top.Replicas {
		replicas[rc.ID] = replica.New(rc.ID, rc.LocalRange, sampler)
		order = append(order, rc.ID)
	}

	for _, link := range top.Links {
		a, ok := replicas[link.A]
		if !ok {
			return nil, nil, fmt.Errorf("link references unknown replica %q", link.A)
		}
		b, ok := replicas[link.B]
		if !ok {
			return nil, nil, fmt.Errorf("link references unknown replica %q", link.B)
		}
		replica.ConnectPeers(a, b, link.Range)
	}

	return replicas, order, nil
}

// buildSessions creates one session per distinct client named in ops,
// homing each at a replica chosen round-robin from order so load spreads
// across the topology.
func buildSessions(ops []workload.Op, replicas map[string]*replica.Replica, order []string, sampler *netsim.Sampler) map[string]*session.Session {
	sessions := make(map[string]*session.Session)
	next := 0

	for _, op := range ops {
		if _, ok := sessions[op.Client]; ok {
			continue
		}
		home := replicas[order[next%len(order)]]
		sessions[op.Client] = session.New(op.Client, home, sampler)
		next++
	}

	return sessions
}

// runOps drives every operation against its client's session. Under the
// causal regime each client talks to its own home replica, modeling a
// client pinned to its nearest datacenter; under the linearizable regime
// every client routes through the configured leader, modeling the
// leader-forwarding a linearizable write requires.
func runOps(ctx context.Context, ops []workload.Op, sessions map[string]*session.Session, replicas map[string]*replica.Replica, mode replica.Mode) error {
	leader := replicas[leaderFlag]

	for _, op := range ops {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s := sessions[op.Client]
		target := s.Home()
		if mode == replica.Linearizable {
			target = leader
		}

		switch op.Kind {
		case workload.Put:
			s.Put(target, op.Key, op.Value, mode)
		case workload.Get:
			s.Get(target, op.Key, mode)
		}
	}

	return nil
}

func printReport(log zerolog.Logger, mode replica.Mode, replicas map[string]*replica.Replica, sessions map[string]*session.Session) {
	fmt.Printf("\n=== %s regime ===\n", mode)

	ids := make([]string, 0, len(replicas))
	for id := range replicas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		snap := replicas[id].Metrics().Snapshot()
		fmt.Printf("replica %-10s causal_reads=%-4d causal_writes=%-4d linearizable_reads=%-4d linearizable_writes=%-4d\n",
			id, len(snap["causal_reads"]), len(snap["causal_writes"]),
			len(snap["linearizable_reads"]), len(snap["linearizable_writes"]))
	}

	names := make([]string, 0, len(sessions))
	for name := range sessions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		snap := sessions[name].Metrics().Snapshot()
		fmt.Printf("client   %-10s causal_reads=%-4d causal_writes=%-4d linearizable_reads=%-4d linearizable_writes=%-4d\n",
			name, len(snap["causal_reads"]), len(snap["causal_writes"]),
			len(snap["linearizable_reads"]), len(snap["linearizable_writes"]))
	}

	log.Info().Str("regime", mode.String()).Msg("regime complete")
}
