package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/config"
	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/disruptors"
	"github.com/danielpatrickdp/fuzzctl/internal/logging"
	"github.com/danielpatrickdp/fuzzctl/internal/periodic"
	"github.com/danielpatrickdp/fuzzctl/internal/probe"
	"github.com/danielpatrickdp/fuzzctl/internal/session"
	"github.com/danielpatrickdp/fuzzctl/internal/store"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region main
func main() {
	cfgPath := envOr("FUZZCTL_CONFIG", "")
	probeAddr := envOr("FUZZCTL_PROBE_ADDR", "")
	probeService := envOr("FUZZCTL_PROBE_SERVICE", "")

	cfg := config.DefaultConfig()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	st, err := store.NewStore(cfg.DB)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	run, err := st.StartRun("interactive", probeAddr)
	if err != nil {
		log.Fatalf("failed to start run: %v", err)
	}
	defer func() {
		if err := st.FinishRun(run.RunID); err != nil {
			log.Printf("finish run: %v", err)
		}
	}()

	gen, err := disruptors.NewGenericRegistry()
	if err != nil {
		log.Fatalf("failed to build generic registry: %v", err)
	}
	defer gen.Teardown()
	reg := tactics.NewRegistry("fuzzctl")
	defer reg.Teardown()

	var dm data.Model
	if atoms, err := cfg.Model(); err != nil {
		log.Fatalf("failed to load atoms: %v", err)
	} else if atoms != nil {
		dm = atoms
	}
	scenarios, err := cfg.Scenarios()
	if err != nil {
		log.Fatalf("failed to build scenarios: %v", err)
	}

	sink := logging.NewSink(st.DB(), run.RunID)
	resolver := chain.NewResolver(reg, dm, chain.WithGeneric(gen), chain.WithSink(sink))

	sched := periodic.New(periodic.DefaultConfig())
	defer sched.Close()

	opts := []session.Option{session.WithSender(printSent)}
	if probeAddr != "" {
		hp, err := probe.NewHealthProbe(probeAddr, probeService)
		if err != nil {
			log.Fatalf("failed to connect to probe at %s: %v", probeAddr, err)
		}
		defer hp.Close()
		opts = append(opts, session.WithMonitor(hp))
	}
	sess := session.New(resolver, sched, opts...)
	defer sess.Close()

	if err := sess.AddScenarios(reg, cfg.Driver, scenarios...); err != nil {
		log.Fatalf("failed to register scenarios: %v", err)
	}
	if err := cfg.Apply(reg, gen); err != nil {
		log.Fatalf("failed to apply config: %v", err)
	}

	fmt.Println("fuzzctl ready.")
	fmt.Printf("  DB: %s | Run: %s | Probe: %s | Scenarios: %s\n",
		cfg.DB, run.RunID, orNone(probeAddr), orNone(strings.Join(sess.Scenarios(), ",")))
	fmt.Println("Type 'seed <text>' to set the seed, a chain such as 'tTYPE:walk C' to produce,")
	fmt.Println("'scenario <name> [n]' to play n steps of a scenario, or 'quit' to exit:")

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	var seed *data.Data
	n := 0

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if text, ok := strings.CutPrefix(line, "seed "); ok {
			seed = data.NewRaw("seed", []byte(text))
			fmt.Printf("seed set (%d bytes)\n", len(text))
			continue
		}
		if args, ok := strings.CutPrefix(line, "scenario "); ok {
			name, count, err := parseScenarioArgs(args)
			if err != nil {
				fmt.Println(err)
				continue
			}
			for range count {
				n++
				p, err := sess.Step(ctx, name)
				report(n, p, err)
				if err != nil {
					break
				}
			}
			continue
		}

		n++
		p, err := sess.Produce(ctx, parseChain(line), seed)
		report(n, p, err)
	}

	fmt.Printf("%d productions, %d log failures\n", n, sink.Failures())
}

// #endregion main

// #region helpers

// parseChain reads whitespace separated "Type[:name]" links.
func parseChain(line string) []chain.Action {
	fields := strings.Fields(line)
	out := make([]chain.Action, len(fields))
	for i, f := range fields {
		typ, name, _ := strings.Cut(f, ":")
		out[i] = chain.Action{Type: typ, Name: name}
	}
	return out
}

// parseScenarioArgs reads "name [n]"; n defaults to 1.
func parseScenarioArgs(args string) (string, int, error) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 1:
		return fields[0], 1, nil
	case 2:
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return "", 0, fmt.Errorf("usage: scenario <name> [n], n >= 1")
		}
		return fields[0], n, nil
	}
	return "", 0, fmt.Errorf("usage: scenario <name> [n]")
}

func printSent(_ context.Context, d *data.Data) error {
	name := "data"
	if c := d.Content(); c != nil {
		name = c.Name()
	}
	for i, part := range d.Bundle() {
		if i > 0 {
			name = "+"
		}
		fmt.Printf("  sent %s %s\n", name, hex.EncodeToString(part.Bytes()))
	}
	return nil
}

func report(n int, p *session.Production, err error) {
	if err != nil {
		fmt.Printf("[%d] %s: %v\n", n, chain.Label(err), err)
		return
	}
	if !p.Sent {
		fmt.Printf("[%d] nothing sent\n", n)
	}
	if p.Feedback != nil {
		fmt.Printf("[%d] feedback status=%d entries=%d\n", n, p.Feedback.WorstStatus(), len(p.Feedback.Entries()))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// #endregion helpers
