package tactics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// #region param-spec

// ParamSpec describes one user-configurable parameter of a dmaker.
// Type is a JSON-schema type name: "integer", "number", "boolean", "string", "array".
type ParamSpec struct {
	Description string
	Default     any
	Type        string
}

// Schema maps parameter names to their spec.
type Schema map[string]ParamSpec

// Values holds concrete parameter values.
type Values map[string]any

// #endregion param-spec

// #region params

// Params holds the schema of a dmaker and the values of its last successful setup.
type Params struct {
	schema   Schema
	values   Values
	compiled *jsonschema.Schema
}

// NewParams builds Params initialized with the schema defaults.
func NewParams(schema Schema) *Params {
	p := &Params{schema: schema}
	p.Restore()
	return p
}

// Schema returns the parameter schema.
func (p *Params) Schema() Schema { return p.schema }

// Restore resets every value to its default.
func (p *Params) Restore() {
	p.values = make(Values, len(p.schema))
	for name, spec := range p.schema {
		p.values[name] = spec.Default
	}
}

// Copy returns an independent copy sharing the compiled schema.
func (p *Params) Copy() *Params {
	return &Params{schema: p.schema, values: maps.Clone(p.values), compiled: p.compiled}
}

// Validate checks user input against the schema. Unknown names and wrong types are rejected.
func (p *Params) Validate(in Values) error {
	if len(in) == 0 {
		return nil
	}
	if p.compiled == nil {
		sch, err := compileSchema(p.schema)
		if err != nil {
			return err
		}
		p.compiled = sch
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	if err := p.compiled.Validate(doc); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// Apply validates in and stores defaults overridden by in.
func (p *Params) Apply(in Values) (Values, error) {
	if err := p.Validate(in); err != nil {
		return nil, err
	}
	p.Restore()
	for k, v := range in {
		p.values[k] = v
	}
	return maps.Clone(p.values), nil
}

// Set overrides one value without validation.
func (p *Params) Set(name string, v any) { p.values[name] = v }

// Get returns the raw value of name.
func (p *Params) Get(name string) any { return p.values[name] }

// Int returns name as an int, accepting any numeric representation.
func (p *Params) Int(name string) int {
	switch v := p.values[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Bool returns name as a bool.
func (p *Params) Bool(name string) bool {
	b, _ := p.values[name].(bool)
	return b
}

// String returns name as a string.
func (p *Params) String(name string) string {
	s, _ := p.values[name].(string)
	return s
}

// #endregion params

// #region schema-compile

func compileSchema(schema Schema) (*jsonschema.Schema, error) {
	props := make(map[string]any, len(schema))
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := schema[name]
		prop := map[string]any{"description": spec.Description}
		if spec.Type != "" {
			prop["type"] = spec.Type
		}
		props[name] = prop
	}
	doc, err := json.Marshal(map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	})
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("params.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	sch, err := c.Compile("params.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// InputKey canonicalizes user input so two equal inputs compare equal.
func InputKey(in Values) string {
	if len(in) == 0 {
		return ""
	}
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Sprintf("%v", in)
	}
	return string(b)
}

// #endregion schema-compile
