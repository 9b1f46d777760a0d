package main

import (
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/config"
	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/disruptors"
	"github.com/danielpatrickdp/fuzzctl/internal/logging"
	"github.com/danielpatrickdp/fuzzctl/internal/replay"
	"github.com/danielpatrickdp/fuzzctl/internal/store"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture YAML (fixture mode)")
	dbPath := flag.String("db", "", "path to the run database (DB mode, or where -record logs)")
	runID := flag.String("run", "", "run whose productions are replayed (DB mode)")
	seed := flag.String("seed", "", "seed handed to every replayed chain (DB mode)")
	last := flag.Int("last", 100, "replay the N most recent productions of the run (DB mode)")
	cfgPath := flag.String("config", "", "path to fuzzctl.yaml; its tactic overrides apply to the generic disruptors")
	record := flag.Bool("record", false, "log replayed productions into a new run")
	flag.Parse()

	if (*fixturePath == "") == (*runID == "") {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.yaml [--record --db path] [--config fuzzctl.yaml]")
		fmt.Fprintln(os.Stderr, "       replay --run id --seed bytes [--db path] [--last N] [--config fuzzctl.yaml]")
		os.Exit(2)
	}

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(2)
		}
	}
	if *dbPath != "" {
		cfg.DB = *dbPath
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(*fixturePath, cfg, *record)
	} else {
		exitCode = runDBMode(cfg, *runID, *seed, *last, *record)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region resolver

// newResolver builds a resolver over the generic disruptors. When st is set,
// every replayed production is logged into a fresh run labelled label.
func newResolver(cfg config.Config, st *store.Store, label string) (*chain.Resolver, func(), error) {
	gen, err := disruptors.NewGenericRegistry()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Apply(gen); err != nil {
		return nil, nil, fmt.Errorf("apply config: %w", err)
	}
	opts := []chain.Option{chain.WithGeneric(gen)}
	done := gen.Teardown
	if st != nil {
		run, err := st.StartRun(label, "replay")
		if err != nil {
			return nil, nil, err
		}
		sink := logging.NewSink(st.DB(), run.RunID)
		opts = append(opts, chain.WithSink(sink))
		done = func() {
			gen.Teardown()
			if err := st.FinishRun(run.RunID); err != nil {
				fmt.Fprintf(os.Stderr, "finish run: %v\n", err)
			}
			fmt.Printf("\nRecorded run %s (%d write failures)\n", run.RunID, sink.Failures())
		}
	}
	return chain.NewResolver(nil, nil, opts...), done, nil
}

// #endregion resolver

// #region fixture-mode

func runFixtureMode(path string, cfg config.Config, record bool) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	var st *store.Store
	if record {
		if st, err = store.NewStore(cfg.DB); err != nil {
			fmt.Fprintf(os.Stderr, "open db: %v\n", err)
			return 2
		}
		defer st.Close()
	}
	r, done, err := newResolver(cfg, st, "fixture "+path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build resolver: %v\n", err)
		return 2
	}
	results := replay.Replay(r, f.Items())
	done()

	expected := make([]string, len(f.Productions))
	for i, p := range f.Productions {
		expected[i] = p.Expect.Outcome
	}
	printComparison(results, expected)

	mismatches := replay.Diff(f, results)
	for _, m := range mismatches {
		fmt.Printf("  %s %s: expected %s, got %s\n", m.ID, m.Field, m.Expected, m.Actual)
	}
	if len(mismatches) > 0 {
		return 1
	}
	return 0
}

// #endregion fixture-mode

// #region db-mode

func runDBMode(cfg config.Config, runID, seed string, last int, record bool) int {
	st, err := store.NewStore(cfg.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer st.Close()

	entries, err := logging.ListProductions(st.DB(), runID, last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list productions: %v\n", err)
		return 2
	}

	var sd *data.Data
	if seed != "" {
		sd = data.NewRaw("seed", []byte(seed))
	}
	items := replay.FromProductions(entries, sd)
	if len(items) == 0 {
		fmt.Fprintf(os.Stderr, "no productions with history in run %s\n", runID)
		return 2
	}

	// Same order and filter as FromProductions.
	slices.Reverse(entries)
	var expected []string
	for _, e := range entries {
		if len(e.History) > 0 {
			expected = append(expected, e.Outcome)
		}
	}

	var rec *store.Store
	if record {
		rec = st
	}
	r, done, err := newResolver(cfg, rec, "replay of "+runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build resolver: %v\n", err)
		return 2
	}
	results := replay.Replay(r, items)
	done()

	if printComparison(results, expected) > 0 {
		return 1
	}
	return 0
}

// #endregion db-mode

// #region output

// printComparison outputs a comparison table and returns the number of diverging rows.
func printComparison(results []replay.Result, expected []string) int {
	fmt.Printf("%-12s| %-15s| %-15s| %s\n", "Production", "Expected", "Replayed", "Match")
	fmt.Printf("%-12s+%-15s+%-15s+%s\n",
		"------------", "----------------", "----------------", "------")

	matches := 0
	total := min(len(results), len(expected))
	for i := 0; i < total; i++ {
		exp := expected[i]
		got := results[i].Outcome
		match := "DIFF"
		if exp == "" || exp == got {
			match = "OK"
			matches++
		}
		fmt.Printf("%-12s| %-15s| %-15s| %s\n", shortID(results[i].ID), exp, got, match)
	}

	diverge := total - matches
	s := replay.Summarize(results)
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", s.Total, matches, diverge)
	for _, outcome := range slices.Sorted(maps.Keys(s.ByOutcome)) {
		fmt.Printf("  %-15s %d\n", outcome, s.ByOutcome[outcome])
	}
	return diverge
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// #endregion output
