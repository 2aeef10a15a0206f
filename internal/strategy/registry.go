// Package strategy hosts the built-in strategies and the registry the CLI
// resolves the configured strategy name through. Strategies receive the
// execution engine at construction and talk back to it from their callbacks.
package strategy

import (
	"fmt"
	"log/slog"
	"sort"

	"polytrader/internal/executor"
	"polytrader/internal/harness"
)

// Factory builds one strategy instance. Params are the free-form tunables
// from the harness config section.
type Factory func(eng *executor.Engine, params map[string]float64, logger *slog.Logger) (harness.Strategy, error)

var registry = map[string]Factory{}

// Register adds a strategy factory under a unique name. Called from init()
// in each strategy file; duplicate names are a programming error.
func Register(name string, factory Factory) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = factory
}

// New builds the named strategy.
func New(name string, eng *executor.Engine, params map[string]float64, logger *slog.Logger) (harness.Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, Names())
	}
	return factory(eng, params, logger)
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
