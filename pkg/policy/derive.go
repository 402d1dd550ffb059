package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbooks/pkg/attributes"
	"github.com/openfroyo/cookbooks/pkg/engine"
)

// Derivation is the output of one Derive call.
type Derivation struct {
	// Intents are in declaration order. Keys may repeat; the planner merges them.
	Intents []engine.Intent `json:"intents"`

	// Edges are the declared notifications.
	Edges []engine.NotificationEdge `json:"edges"`

	// Recipes lists the recipes applied, includes first.
	Recipes []string `json:"recipes"`
}

// Engine derives intents from a snapshot by applying the cookbook recipes
// named in its run list.
type Engine struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewEngine creates a policy engine over the built-in cookbooks.
func NewEngine(logger zerolog.Logger) *Engine {
	return NewEngineWithRegistry(NewRegistry(), logger)
}

// NewEngineWithRegistry creates a policy engine over a custom registry.
func NewEngineWithRegistry(registry *Registry, logger zerolog.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
}

// Registry returns the engine's recipe registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Derive applies the snapshot's run list and returns the declared intents
// and edges. It is deterministic and never returns a partial result: on any
// error the Derivation is nil.
func (e *Engine) Derive(ctx context.Context, snap attributes.Snapshot) (*Derivation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	// A snapshot may be built by hand, so the fatal TLS combination is
	// checked here as well as in the resolver, before any recipe runs.
	if snap.Rsyslog.TLSRequested() && snap.Rsyslog.Protocol != "tcp" {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("fatal misconfiguration: TLS with CA file %s requires protocol tcp, got %s",
				snap.Rsyslog.TLSCAFile, snap.Rsyslog.Protocol), nil).
			WithRecipe(attributes.DefaultRecipe).
			WithDetail("protocol", snap.Rsyslog.Protocol)
	}

	runList := snap.RunList
	if len(runList) == 0 {
		runList = []string{attributes.DefaultRecipe}
	}

	b := newBuilder(snap)
	applied := make(map[string]bool)
	var recipes []string
	for _, name := range runList {
		if err := e.apply(b, snap, name, applied, &recipes); err != nil {
			e.logger.Debug().Err(err).Str("recipe", name).Msg("Derivation failed")
			return nil, err
		}
	}
	if b.err != nil {
		return nil, b.err
	}

	e.logger.Debug().
		Str("node", snap.Node).
		Str("family", snap.Family).
		Strs("recipes", recipes).
		Int("intents", len(b.intents)).
		Int("edges", len(b.edges)).
		Dur("duration", time.Since(start)).
		Msg("Derivation completed")

	return &Derivation{
		Intents: b.intents,
		Edges:   b.edges,
		Recipes: recipes,
	}, nil
}

// apply runs one recipe and its includes. A recipe is marked applied before
// its includes run, so mutual includes terminate.
func (e *Engine) apply(b *Builder, snap attributes.Snapshot, name string, applied map[string]bool, recipes *[]string) error {
	if applied[name] {
		return nil
	}
	recipe, ok := e.registry.Get(name)
	if !ok {
		return engine.NewUnknownRecipeError(name)
	}
	applied[name] = true

	for _, include := range recipe.Includes {
		if err := e.apply(b, snap, include, applied, recipes); err != nil {
			return err
		}
	}

	b.recipe = name
	if err := recipe.Apply(b, snap); err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) && ee.Recipe == "" {
			ee.WithRecipe(name)
		}
		return err
	}
	*recipes = append(*recipes, name)
	return nil
}
