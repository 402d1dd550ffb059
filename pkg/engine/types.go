package engine

import (
	"fmt"
)

// Intent is one declared piece of desired system state.
type Intent struct {
	// Kind is the type of state declared.
	Kind Kind `json:"kind"`

	// Name is the package name, filesystem path, service name or execute label.
	Name string `json:"name"`

	// Actions are the transitions to ensure, in order.
	Actions []Action `json:"actions"`

	// Owner is the owning user for filesystem kinds.
	Owner string `json:"owner,omitempty"`

	// Group is the owning group for filesystem kinds.
	Group string `json:"group,omitempty"`

	// Mode is the octal permission string for filesystem kinds (e.g. "0755").
	Mode string `json:"mode,omitempty"`

	// Source is the template source name for template intents.
	Source string `json:"source,omitempty"`

	// Content is the rendered template content.
	Content string `json:"content,omitempty"`

	// Checksum is the BLAKE3 digest of Content, hex encoded.
	Checksum string `json:"checksum,omitempty"`

	// Expect lists literal substrings the rendered content must contain.
	// Backends use it to verify what they wrote.
	Expect []string `json:"expect,omitempty"`

	// Command is the command line for execute intents.
	Command string `json:"command,omitempty"`

	// Creates is a path whose existence makes an execute intent a no-op.
	Creates string `json:"creates,omitempty"`

	// Supports lists the service operations the backend may use.
	Supports []NotifyAction `json:"supports,omitempty"`

	// Recipe is the recipe that declared the intent.
	Recipe string `json:"recipe,omitempty"`
}

// Key returns the identity key used for dedup and idempotence, e.g. "service[rsyslog]".
func (i Intent) Key() string {
	return Key(i.Kind, i.Name)
}

// Key builds an identity key from a kind and a name.
func Key(kind Kind, name string) string {
	return fmt.Sprintf("%s[%s]", kind, name)
}

// HasAction reports whether the intent declares the action.
func (i Intent) HasAction(a Action) bool {
	for _, have := range i.Actions {
		if have == a {
			return true
		}
	}
	return false
}

// Validate checks the intent is well formed.
func (i Intent) Validate() error {
	if err := i.Kind.Validate(); err != nil {
		return NewValidationError(err.Error(), nil)
	}
	if i.Name == "" {
		return NewValidationError(fmt.Sprintf("%s intent has empty name", i.Kind), nil)
	}
	if len(i.Actions) == 0 {
		return NewValidationError("intent declares no actions", nil).WithIntent(i.Key())
	}
	for _, a := range i.Actions {
		if err := a.ValidFor(i.Kind); err != nil {
			return NewValidationError(err.Error(), nil).WithIntent(i.Key())
		}
	}
	if i.Kind == KindExecute && i.Command == "" {
		return NewValidationError("execute intent has no command", nil).WithIntent(i.Key())
	}
	return nil
}

// clone returns a deep copy so plans never share slices with their inputs.
func (i Intent) clone() Intent {
	out := i
	out.Actions = append([]Action(nil), i.Actions...)
	out.Expect = append([]string(nil), i.Expect...)
	out.Supports = append([]NotifyAction(nil), i.Supports...)
	return out
}

// NotificationEdge states that a change to Source triggers Action on Target.
type NotificationEdge struct {
	// Source is the identity key of the notifying intent.
	Source string `json:"source"`

	// Target is the identity key of the notified intent.
	Target string `json:"target"`

	// Action is the verb triggered on the target.
	Action NotifyAction `json:"action"`

	// Timing is when the action fires.
	Timing Timing `json:"timing"`
}

// String renders the edge the way recipes read, e.g.
// "template[/etc/rsyslog.conf] notifies service[rsyslog]:restart (delayed)".
func (e NotificationEdge) String() string {
	return fmt.Sprintf("%s notifies %s:%s (%s)", e.Source, e.Target, e.Action, e.Timing)
}

// Handler is one (target, action, timing) triple and every source that fires it.
// A delayed handler runs at most once per convergence run however many
// sources notify it.
type Handler struct {
	// Target is the identity key of the notified intent.
	Target string `json:"target"`

	// Action is the triggered verb.
	Action NotifyAction `json:"action"`

	// Timing is when the handler fires.
	Timing Timing `json:"timing"`

	// Sources are the notifying intents in plan order.
	Sources []string `json:"sources"`
}

// Plan is the ordered execution plan handed to the backend.
type Plan struct {
	// ID is derived from the plan content, so equal plans share an ID.
	ID string `json:"id"`

	// Node is the node name the plan was derived for.
	Node string `json:"node,omitempty"`

	// Platform is the platform name of the node.
	Platform string `json:"platform,omitempty"`

	// Family is the resolved platform family.
	Family string `json:"family,omitempty"`

	// RunList is the recipes that contributed intents.
	RunList []string `json:"run_list,omitempty"`

	// Intents are deduplicated and topologically ordered.
	Intents []Intent `json:"intents"`

	// Notifications are the deduplicated notification edges.
	Notifications []NotificationEdge `json:"notifications"`

	// Graph is the minimal partial order over the intents.
	Graph *ExecutionGraph `json:"graph"`

	// Handlers group notifications by target and action.
	Handlers []Handler `json:"handlers"`

	// Summary provides counts per kind.
	Summary PlanSummary `json:"summary"`
}

// Intent returns the intent with the given key.
func (p *Plan) Intent(key string) (Intent, bool) {
	for _, in := range p.Intents {
		if in.Key() == key {
			return in, true
		}
	}
	return Intent{}, false
}

// NotificationsFrom returns the edges whose source is key.
func (p *Plan) NotificationsFrom(key string) []NotificationEdge {
	var out []NotificationEdge
	for _, e := range p.Notifications {
		if e.Source == key {
			out = append(out, e)
		}
	}
	return out
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	// Total is the number of intents after dedup.
	Total int `json:"total"`

	// ByKind counts intents per kind.
	ByKind map[Kind]int `json:"by_kind"`

	// Notifications is the number of notification edges.
	Notifications int `json:"notifications"`

	// Merged is the number of duplicate intents folded into earlier ones.
	Merged int `json:"merged"`

	// Levels is the number of execution waves.
	Levels int `json:"levels"`
}

// ExecutionGraph represents the DAG of intents.
type ExecutionGraph struct {
	// Nodes maps intent keys to their graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists the ordering constraints left after transitive reduction.
	Edges []GraphEdge `json:"edges"`

	// Roots are the intent keys with no predecessors.
	Roots []string `json:"roots"`

	// Levels groups intent keys into waves that may run in parallel.
	Levels [][]string `json:"levels"`

	// Depth is the number of levels.
	Depth int `json:"depth"`
}

// GraphNode represents a node in the execution graph.
type GraphNode struct {
	// ID is the intent key.
	ID string `json:"id"`

	// Level is the topological level (depth from roots).
	Level int `json:"level"`

	// Dependencies are the intents that must converge first.
	Dependencies []string `json:"dependencies"`

	// Dependents are the intents that wait on this one.
	Dependents []string `json:"dependents"`
}

// GraphEdge represents an ordering edge in the execution graph.
type GraphEdge struct {
	// From is the intent that converges first.
	From string `json:"from"`

	// To is the intent that converges after.
	To string `json:"to"`
}

// Change represents a single difference between two plans.
type Change struct {
	// Intent is the identity key that changed.
	Intent string `json:"intent"`

	// Field is the intent field that changed, empty for whole-intent changes.
	Field string `json:"field,omitempty"`

	// Before is the value before the change.
	Before interface{} `json:"before,omitempty"`

	// After is the value after the change.
	After interface{} `json:"after,omitempty"`

	// Action describes the change action (add, remove, modify).
	Action ChangeAction `json:"action"`
}

// ChangeAction represents the type of change being made.
type ChangeAction string

const (
	// ChangeActionAdd indicates an intent only in the newer plan.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionRemove indicates an intent only in the older plan.
	ChangeActionRemove ChangeAction = "remove"

	// ChangeActionModify indicates an intent whose desired state changed.
	ChangeActionModify ChangeAction = "modify"
)
