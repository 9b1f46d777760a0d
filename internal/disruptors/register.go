// Package disruptors holds the generic dmakers every data model can use.
package disruptors

import (
	"fmt"

	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region register

// RegisterGeneric registers the generic disruptors into reg.
func RegisterGeneric(reg *tactics.Registry) error {
	entries := []struct {
		typ  string
		name string
		m    tactics.Maker
	}{
		{TypeWalker, "walk", NewWalker()},
		{TypeStruct, "struct", NewStructWalker()},
		{TypeCorrupt, "corrupt", NewCorruptor()},
	}
	for _, e := range entries {
		if err := reg.Register(tactics.SpaceDisruptor, e.typ, e.name, e.m, 1, true); err != nil {
			return fmt.Errorf("register %s: %w", e.typ, err)
		}
	}
	return nil
}

// NewGenericRegistry returns a registry holding the generic disruptors.
func NewGenericRegistry(opts ...tactics.Option) (*tactics.Registry, error) {
	reg := tactics.NewRegistry("generic", opts...)
	if err := RegisterGeneric(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// #endregion register
