package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/fuzzctl/internal/config"
	"github.com/danielpatrickdp/fuzzctl/internal/logging"
	"github.com/danielpatrickdp/fuzzctl/internal/store"
)

// #region main

func main() {
	cfgPath := flag.String("config", "", "path to fuzzctl.yaml (optional, supplies the db path)")
	dbPath := flag.String("db", "", "path to the run database (default from FUZZCTL_DB or fuzzctl.db)")
	last := flag.Int("last", 20, "show N most recent runs or productions")
	runID := flag.String("run", "", "show the productions of one run")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	path, err := resolveDBPath(*cfgPath, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	st, err := store.NewStore(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *runID != "" {
		err = runDetailMode(st, *runID, *last, *jsonOut)
	} else {
		err = runListMode(st, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func resolveDBPath(cfgPath, dbPath string) (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	if cfgPath != "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return "", err
		}
		return cfg.DB, nil
	}
	return store.DefaultConfig().Path, nil
}

// #endregion main

// #region list-mode

type runRow struct {
	RunID      string         `json:"run_id"`
	Label      string         `json:"label,omitempty"`
	Target     string         `json:"target,omitempty"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at,omitempty"`
	Outcomes   map[string]int `json:"outcomes"`
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]runRow, len(runs))
	for i, r := range runs {
		counts, err := logging.CountOutcomes(st.DB(), r.RunID)
		if err != nil {
			return err
		}
		row := runRow{
			RunID:     r.RunID,
			Label:     r.Label,
			Target:    r.Target,
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
			Outcomes:  counts,
		}
		if r.Finished() {
			row.FinishedAt = r.FinishedAt.Format("2006-01-02T15:04:05Z")
		}
		// store returns DESC, reverse for chronological
		rows[len(runs)-1-i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-16s  %-20s  %-8s  %s\n", "Run", "Label", "Started", "State", "Outcomes")
	fmt.Printf("%-10s+-%-16s+-%-20s+-%-8s+-%s\n",
		"----------", "----------------", "--------------------", "--------", "--------------------")
	for _, r := range rows {
		state := "active"
		if r.FinishedAt != "" {
			state = "done"
		}
		fmt.Printf("%-10s  %-16s  %-20s  %-8s  %s\n", shortID(r.RunID), r.Label, r.StartedAt, state, formatCounts(r.Outcomes))
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type productionRow struct {
	DataID   string   `json:"data_id,omitempty"`
	Scenario string   `json:"scenario,omitempty"`
	Step     *int     `json:"step,omitempty"`
	Initial  string   `json:"initial,omitempty"`
	Chain    []string `json:"chain"`
	Outcome  string   `json:"outcome"`
	Reason   string   `json:"reason,omitempty"`
	Created  string   `json:"created_at"`
}

func runDetailMode(st *store.Store, runID string, last int, jsonOut bool) error {
	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	entries, err := logging.ListProductions(st.DB(), run.RunID, last)
	if err != nil {
		return err
	}

	rows := make([]productionRow, len(entries))
	for i, e := range entries {
		row := productionRow{
			DataID:   e.DataID,
			Scenario: e.Scenario,
			Outcome:  e.Outcome,
			Reason:   e.Reason,
			Created:  e.CreatedAt.Format("2006-01-02T15:04:05Z"),
			Chain:    make([]string, len(e.History)),
		}
		if e.Step >= 0 {
			step := e.Step
			row.Step = &step
		}
		if e.InitialType != "" {
			row.Initial = e.InitialType + "/" + e.InitialName
		}
		for j, s := range e.History {
			row.Chain[j] = s.Type + "/" + s.Name
		}
		rows[len(entries)-1-i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("Run:     %s\n", run.RunID)
	fmt.Printf("Label:   %s\n", run.Label)
	fmt.Printf("Target:  %s\n", run.Target)
	fmt.Printf("Started: %s\n\n", run.StartedAt.Format("2006-01-02T15:04:05Z"))

	if len(rows) == 0 {
		fmt.Println("no productions logged")
		return nil
	}
	fmt.Printf("%-10s  %-14s  %4s  %-14s  %s\n", "Data", "Outcome", "Step", "Scenario", "Chain")
	fmt.Printf("%-10s+-%-14s+-%4s+-%-14s+-%s\n",
		"----------", "--------------", "----", "--------------", "--------------------")
	for _, r := range rows {
		step := "—"
		if r.Step != nil {
			step = fmt.Sprintf("%d", *r.Step)
		}
		fmt.Printf("%-10s  %-14s  %4s  %-14s  %s\n",
			shortID(r.DataID), r.Outcome, step, r.Scenario, strings.Join(r.Chain, " > "))
		if r.Reason != "" {
			fmt.Printf("%-10s  %s\n", "", r.Reason)
		}
	}
	return nil
}

// #endregion detail-mode

// #region output

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
