package policy

import (
	"sort"

	"github.com/openfroyo/cookbooks/pkg/attributes"
)

// Recipe is one cookbook entry point.
type Recipe struct {
	// Name is "cookbook::recipe".
	Name string

	// Description is shown by the CLI.
	Description string

	// Includes are applied first, once per run.
	Includes []string

	// Apply declares the recipe's intents. It must not keep the builder.
	Apply func(b *Builder, snap attributes.Snapshot) error
}

// Registry holds the recipes the engine can apply.
type Registry struct {
	recipes map[string]Recipe
}

// NewRegistry creates a registry with the built-in cookbooks.
func NewRegistry() *Registry {
	r := &Registry{recipes: make(map[string]Recipe)}
	for _, recipe := range rsyslogRecipes() {
		r.Register(recipe)
	}
	for _, recipe := range elasticsearchRecipes() {
		r.Register(recipe)
	}
	return r
}

// Register adds or replaces a recipe.
func (r *Registry) Register(recipe Recipe) {
	r.recipes[recipe.Name] = recipe
}

// Get returns a recipe by name.
func (r *Registry) Get(name string) (Recipe, bool) {
	recipe, ok := r.recipes[name]
	return recipe, ok
}

// List returns all recipes sorted by name.
func (r *Registry) List() []Recipe {
	out := make([]Recipe, 0, len(r.recipes))
	for _, recipe := range r.recipes {
		out = append(out, recipe)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
