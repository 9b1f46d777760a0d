package driver

import (
	"fmt"
	"log"
	"os"

	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/scenario"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// RegisterScenarios registers one Driver per Scenario in the generator space
// of reg, under TypeName(sc) and the Scenario name. Setting
// FUZZCTL_DRIVER_ENABLED=false skips registration.
func RegisterScenarios(reg *tactics.Registry, r *chain.Resolver, opts Options, scenarios ...*scenario.Scenario) ([]*Driver, error) {
	if v := os.Getenv("FUZZCTL_DRIVER_ENABLED"); v == "false" {
		log.Printf("[DRIVER] disabled by FUZZCTL_DRIVER_ENABLED, %d scenarios not registered", len(scenarios))
		return nil, nil
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("driver options: %w", err)
	}
	out := make([]*Driver, 0, len(scenarios))
	for _, sc := range scenarios {
		d := New(sc, r, WithOptions(opts))
		if err := reg.Register(tactics.SpaceGenerator, TypeName(sc), sc.Name(), d, 1, true); err != nil {
			return out, fmt.Errorf("register scenario %s: %w", sc.Name(), err)
		}
		out = append(out, d)
	}
	log.Printf("[DRIVER] registered %d scenarios in %s", len(out), reg.Name())
	return out, nil
}
