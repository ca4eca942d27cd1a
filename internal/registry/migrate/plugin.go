package migrate

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"
)

// Migrator creates or updates the schema owned by one plugin. Migrators
// decide from the config in ctx whether they apply and are no-ops otherwise.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin is a migrator with an execution order.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// RunAll executes all registered migrators by Order and stops at the first
// failure.
func RunAll(ctx context.Context) error {
	sorted := slices.Clone(plugins)
	slices.SortStableFunc(sorted, func(a, b Plugin) int { return cmp.Compare(a.Order, b.Order) })

	for _, p := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debug("Checking migration", "name", p.Migrator.Name(), "order", p.Order)
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
