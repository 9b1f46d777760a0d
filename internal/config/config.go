// Package config loads the fuzzctl YAML document: the run database location,
// weight and validity overrides for registered dmakers, and the alteration
// options handed to scenario drivers.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/fuzzctl/internal/driver"
	"github.com/danielpatrickdp/fuzzctl/internal/store"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region types

// Override changes the weight or validity of registered dmakers.
// An empty Name targets every dmaker of Type.
type Override struct {
	Kind   string   `yaml:"kind"`
	Type   string   `yaml:"type"`
	Name   string   `yaml:"name,omitempty"`
	Weight *float64 `yaml:"weight,omitempty"`
	Valid  *bool    `yaml:"valid,omitempty"`
}

// Space maps Kind to a registry space.
func (o Override) Space() (tactics.Space, error) {
	switch o.Kind {
	case "generator":
		return tactics.SpaceGenerator, nil
	case "disruptor":
		return tactics.SpaceDisruptor, nil
	}
	return 0, fmt.Errorf("unknown kind %q", o.Kind)
}

// Config is the top-level YAML document.
type Config struct {
	DB           string             `yaml:"db"`
	Tactics      []Override         `yaml:"tactics"`
	Driver       driver.Options     `yaml:"driver"`
	Atoms        map[string]AtomDoc `yaml:"atoms"`
	ScenarioDocs []ScenarioDoc      `yaml:"scenarios"`
}

// DefaultConfig returns the store default path and plain driver options.
func DefaultConfig() Config {
	return Config{
		DB:     store.DefaultConfig().Path,
		Driver: driver.DefaultOptions(),
	}
}

// #endregion types

// #region load

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	log.Printf("[CONFIG] loaded %s: %d tactic overrides, %d scenarios, db=%s", path, len(cfg.Tactics), len(cfg.ScenarioDocs), cfg.DB)
	return cfg, nil
}

// Parse validates raw against the document schema and decodes it over
// DefaultConfig. FUZZCTL_DB wins over the db key.
func Parse(raw []byte) (Config, error) {
	if err := validateDocument(raw); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if v := os.Getenv("FUZZCTL_DB"); v != "" {
		cfg.DB = v
	}
	if err := cfg.Driver.Validate(); err != nil {
		return Config{}, fmt.Errorf("driver: %w", err)
	}
	return cfg, nil
}

// #endregion load

// #region apply

// Apply sets the overrides on the first of regs that knows each (kind, type).
// Every override is attempted; the errors are joined.
func (c Config) Apply(regs ...*tactics.Registry) error {
	var errs []error
	for i, o := range c.Tactics {
		if err := apply(o, regs); err != nil {
			errs = append(errs, fmt.Errorf("tactics[%d] %s %s: %w", i, o.Kind, o.Type, err))
		}
	}
	return errors.Join(errs...)
}

func apply(o Override, regs []*tactics.Registry) error {
	space, err := o.Space()
	if err != nil {
		return err
	}
	for _, reg := range regs {
		if !reg.Has(space, o.Type) {
			continue
		}
		names := []string{o.Name}
		if o.Name == "" {
			names = reg.Names(space, o.Type)
		}
		for _, name := range names {
			if o.Weight != nil {
				if err := reg.SetWeight(space, o.Type, name, *o.Weight); err != nil {
					return err
				}
			}
			if o.Valid != nil {
				if err := reg.SetValid(space, o.Type, name, *o.Valid); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s %q", tactics.ErrUnknownType, space, o.Type)
}

// #endregion apply

// #region schema

const documentSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "db": {"type": "string"},
    "tactics": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["kind", "type"],
        "properties": {
          "kind": {"enum": ["generator", "disruptor"]},
          "type": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "weight": {"type": "number", "minimum": 0},
          "valid": {"type": "boolean"}
        }
      }
    },
    "driver": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "data_fuzz": {"type": "boolean"},
        "cond_fuzz": {"type": "boolean"},
        "ignore_timing": {"type": "boolean"},
        "stutter": {"type": "boolean"},
        "stutter_max": {"type": "integer", "minimum": 1},
        "reinit": {"type": "boolean"},
        "fuzz_types": {"type": "array", "items": {"type": "string"}},
        "max_hops": {"type": "integer", "minimum": 1}
      }
    },
    "atoms": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/literal"}
    },
    "scenarios": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name", "steps"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "reinit": {"type": "string"},
          "steps": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/step"}}
        }
      }
    }
  },
  "$defs": {
    "literal": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "text": {"type": "string"},
        "hex": {"type": "string", "pattern": "^([0-9a-fA-F]{2})*$"}
      }
    },
    "action": {
      "type": "object",
      "additionalProperties": false,
      "required": ["type"],
      "properties": {
        "type": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "params": {"type": "object"}
      }
    },
    "item": {
      "type": "object",
      "additionalProperties": false,
      "minProperties": 1,
      "maxProperties": 1,
      "properties": {
        "text": {"type": "string"},
        "hex": {"type": "string", "pattern": "^([0-9a-fA-F]{2})*$"},
        "atom": {"type": "string", "minLength": 1},
        "process": {
          "type": "object",
          "additionalProperties": false,
          "required": ["chains"],
          "properties": {
            "chains": {
              "type": "array",
              "minItems": 1,
              "items": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/action"}}
            },
            "seed": {"$ref": "#/$defs/item"},
            "lazy": {"type": "boolean"},
            "auto_regen": {"type": "boolean"}
          }
        }
      }
    },
    "step": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "final": {"type": "boolean"},
        "data": {"type": "array", "items": {"$ref": "#/$defs/item"}},
        "fbk_timeout": {"type": "string"},
        "fbk_mode": {"type": "string"},
        "periodic": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["id", "period", "data"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "period": {"type": "string"},
              "data": {"$ref": "#/$defs/item"}
            }
          }
        },
        "periodic_clear": {"type": "array", "items": {"type": "string"}},
        "next": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["to"],
            "properties": {
              "to": {"type": "string", "minLength": 1},
              "description": {"type": "string"},
              "fbk_contains": {"type": "string"},
              "fbk_status_below": {"type": "integer"},
              "dp_completed": {"type": "boolean"}
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.json", bytes.NewReader([]byte(documentSchema))); err != nil {
		panic(err)
	}
	return c.MustCompile("config.json")
}()

func validateDocument(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if doc == nil {
		return nil
	}
	// Round trip through JSON so the validator sees JSON number and map types.
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return compiledSchema.Validate(v)
}

// #endregion schema
