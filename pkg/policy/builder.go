package policy

import (
	"github.com/openfroyo/cookbooks/pkg/attributes"
	"github.com/openfroyo/cookbooks/pkg/engine"
)

// Builder collects the intents and edges a recipe declares. Recipes only
// append; the finished Derivation is never modified.
type Builder struct {
	snap    attributes.Snapshot
	recipe  string
	intents []engine.Intent
	edges   []engine.NotificationEdge
	err     error
}

func newBuilder(snap attributes.Snapshot) *Builder {
	return &Builder{
		snap:    snap,
		intents: make([]engine.Intent, 0),
		edges:   make([]engine.NotificationEdge, 0),
	}
}

// Declared is a handle on the most recent declaration of an intent.
type Declared struct {
	b     *Builder
	index int
}

// Key returns the declared intent's identity key.
func (d *Declared) Key() string {
	return d.b.intents[d.index].Key()
}

func (b *Builder) declare(in engine.Intent) *Declared {
	in.Recipe = b.recipe
	b.intents = append(b.intents, in)
	return &Declared{b: b, index: len(b.intents) - 1}
}

// Package declares an installed package.
func (b *Builder) Package(name string) *Declared {
	return b.declare(engine.Intent{
		Kind:    engine.KindPackage,
		Name:    name,
		Actions: []engine.Action{engine.ActionInstall},
	})
}

// Directory declares a directory with ownership and mode.
func (b *Builder) Directory(path, owner, group, mode string) *Declared {
	return b.declare(engine.Intent{
		Kind:    engine.KindDirectory,
		Name:    path,
		Actions: []engine.Action{engine.ActionCreate},
		Owner:   owner,
		Group:   group,
		Mode:    mode,
	})
}

// Template declares a file rendered from an embedded template. A render
// failure is kept and returned by the recipe run.
func (b *Builder) Template(path, source, owner, group, mode string) *Declared {
	content, err := Render(source, b.snap)
	if err != nil && b.err == nil {
		b.err = engine.NewInternalError(err.Error()).WithRecipe(b.recipe).WithIntent(engine.Key(engine.KindTemplate, path))
	}
	return b.declare(engine.Intent{
		Kind:     engine.KindTemplate,
		Name:     path,
		Actions:  []engine.Action{engine.ActionCreate},
		Owner:    owner,
		Group:    group,
		Mode:     mode,
		Source:   source,
		Content:  content,
		Checksum: Checksum(content),
	})
}

// Service declares the lifecycle state of a service.
func (b *Builder) Service(name string, actions ...engine.Action) *Declared {
	return b.declare(engine.Intent{
		Kind:    engine.KindService,
		Name:    name,
		Actions: append([]engine.Action(nil), actions...),
	})
}

// Execute declares a command. Use ActionNothing for commands that only run
// when notified.
func (b *Builder) Execute(name, command string, actions ...engine.Action) *Declared {
	return b.declare(engine.Intent{
		Kind:    engine.KindExecute,
		Name:    name,
		Command: command,
		Actions: append([]engine.Action(nil), actions...),
	})
}

// Expect records literal substrings the rendered content must contain.
func (d *Declared) Expect(substrings ...string) *Declared {
	in := &d.b.intents[d.index]
	in.Expect = append(in.Expect, substrings...)
	return d
}

// Supports records the service operations the backend may use.
func (d *Declared) Supports(actions ...engine.NotifyAction) *Declared {
	in := &d.b.intents[d.index]
	in.Supports = append(in.Supports, actions...)
	return d
}

// Creates marks an execute as done once path exists.
func (d *Declared) Creates(path string) *Declared {
	d.b.intents[d.index].Creates = path
	return d
}

// Notifies wires a notification from this intent to target.
func (d *Declared) Notifies(action engine.NotifyAction, target string, timing engine.Timing) *Declared {
	d.b.edges = append(d.b.edges, engine.NotificationEdge{
		Source: d.Key(),
		Target: target,
		Action: action,
		Timing: timing,
	})
	return d
}

// Subscribes wires a notification from source to this intent.
func (d *Declared) Subscribes(action engine.NotifyAction, source string, timing engine.Timing) *Declared {
	d.b.edges = append(d.b.edges, engine.NotificationEdge{
		Source: source,
		Target: d.Key(),
		Action: action,
		Timing: timing,
	})
	return d
}
