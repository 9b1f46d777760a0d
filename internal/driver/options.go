package driver

import (
	"errors"

	"github.com/danielpatrickdp/fuzzctl/internal/disruptors"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region config

// Options selects the alteration mode of a Driver.
type Options struct {
	DataFuzz       bool     `yaml:"data_fuzz"`
	CondFuzz       bool     `yaml:"cond_fuzz"`
	IgnoreTiming   bool     `yaml:"ignore_timing"`
	Stutter        bool     `yaml:"stutter"`
	StutterMax     int      `yaml:"stutter_max"`
	ReinitSurround bool     `yaml:"reinit"`
	FuzzTypes      []string `yaml:"fuzz_types"`
	MaxHops        int      `yaml:"max_hops"`
}

// DefaultOptions returns a plain walk without alteration.
func DefaultOptions() Options {
	return Options{
		StutterMax: 2,
		FuzzTypes:  []string{disruptors.TypeWalker, disruptors.TypeStruct},
		MaxHops:    64,
	}
}

// Validate rejects combined modes. Only CondFuzz and IgnoreTiming may combine.
func (o Options) Validate() error {
	modes := 0
	for _, on := range []bool{o.DataFuzz, o.CondFuzz || o.IgnoreTiming, o.Stutter} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return errors.New("alteration modes are mutually exclusive, except cond_fuzz with ignore_timing")
	}
	if o.Stutter && o.StutterMax < 1 {
		return errors.New("stutter_max must be >= 1")
	}
	if o.DataFuzz && len(o.FuzzTypes) == 0 {
		return errors.New("data_fuzz needs at least one fuzz type")
	}
	if o.MaxHops < 1 {
		return errors.New("max_hops must be >= 1")
	}
	return nil
}

// Altering reports whether any alteration mode is on.
func (o Options) Altering() bool {
	return o.DataFuzz || o.CondFuzz || o.IgnoreTiming || o.Stutter
}

// #endregion config

// #region params

func paramSchema(o Options) tactics.Schema {
	return tactics.Schema{
		"data_fuzz":     {Description: "fuzz the data of one step at a time", Default: o.DataFuzz, Type: "boolean"},
		"cond_fuzz":     {Description: "invert the guards of one step at a time", Default: o.CondFuzz, Type: "boolean"},
		"ignore_timing": {Description: "zero the feedback timeout of one step at a time", Default: o.IgnoreTiming, Type: "boolean"},
		"stutter":       {Description: "repeat one step at a time", Default: o.Stutter, Type: "boolean"},
		"stutter_max":   {Description: "repetitions of a stuttered step", Default: o.StutterMax, Type: "integer"},
		"reinit":        {Description: "branch to the reinit anchor around the altered step", Default: o.ReinitSurround, Type: "boolean"},
		"max_hops":      {Description: "steps walked per production before giving up", Default: o.MaxHops, Type: "integer"},
	}
}

func optionsFromParams(p *tactics.Params, base Options) Options {
	o := base
	o.DataFuzz = p.Bool("data_fuzz")
	o.CondFuzz = p.Bool("cond_fuzz")
	o.IgnoreTiming = p.Bool("ignore_timing")
	o.Stutter = p.Bool("stutter")
	o.StutterMax = p.Int("stutter_max")
	o.ReinitSurround = p.Bool("reinit")
	o.MaxHops = p.Int("max_hops")
	return o
}

// #endregion params
