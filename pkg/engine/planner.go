package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// planNamespace seeds content-derived plan IDs.
var planNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://openfroyo.dev/cookbooks/plan"))

// Planner assembles execution plans from derived intents and notification edges.
// It deduplicates intents, rejects dangling and invalid edges, builds the
// minimal partial order and groups notifications into handlers.
type Planner struct{}

// NewPlanner creates a new planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// PlanOption sets descriptive plan fields. They take part in the plan ID.
type PlanOption func(*Plan)

// WithNode records the node the plan was derived for.
func WithNode(node, platform, family string) PlanOption {
	return func(p *Plan) {
		p.Node = node
		p.Platform = platform
		p.Family = family
	}
}

// WithRunList records the recipes that contributed intents.
func WithRunList(recipes []string) PlanOption {
	return func(p *Plan) {
		p.RunList = append([]string(nil), recipes...)
	}
}

// Plan builds an immutable execution plan. The same input always yields a
// deep-equal plan, including its ID.
func (p *Planner) Plan(ctx context.Context, intents []Intent, edges []NotificationEdge, opts ...PlanOption) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged, keys, dropped, err := p.dedupIntents(intents)
	if err != nil {
		return nil, err
	}

	notifications, err := p.checkEdges(merged, edges)
	if err != nil {
		return nil, err
	}

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(keys, notifications)
	if err != nil {
		return nil, fmt.Errorf("failed to build execution graph: %w", err)
	}
	if err := builder.ValidateGraph(graph); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	plan := &Plan{
		Intents:       make([]Intent, 0, len(keys)),
		Notifications: notifications,
		Graph:         graph,
	}
	for _, opt := range opts {
		opt(plan)
	}

	for _, key := range builder.Order() {
		plan.Intents = append(plan.Intents, merged[key])
	}

	plan.Handlers = buildHandlers(plan)
	plan.Summary = summarize(plan, dropped)

	id, err := planID(plan)
	if err != nil {
		return nil, err
	}
	plan.ID = id

	return plan, nil
}

// dedupIntents folds intents sharing an identity key. The first declaration
// fixes the position; the last declaration supplies the attributes.
func (p *Planner) dedupIntents(intents []Intent) (map[string]Intent, []string, int, error) {
	merged := make(map[string]Intent, len(intents))
	keys := make([]string, 0, len(intents))
	dropped := 0

	for _, in := range intents {
		if err := in.Validate(); err != nil {
			return nil, nil, 0, err
		}
		key := in.Key()
		if _, exists := merged[key]; exists {
			dropped++
		} else {
			keys = append(keys, key)
		}
		merged[key] = in.clone()
	}

	return merged, keys, dropped, nil
}

// checkEdges rejects edges that dangle or that the target cannot honor,
// and collapses exact duplicates.
func (p *Planner) checkEdges(intents map[string]Intent, edges []NotificationEdge) ([]NotificationEdge, error) {
	out := make([]NotificationEdge, 0, len(edges))
	seen := make(map[NotificationEdge]bool, len(edges))

	for _, edge := range edges {
		if _, ok := intents[edge.Source]; !ok {
			return nil, NewDanglingEdgeError(edge.Source, edge.Target)
		}
		target, ok := intents[edge.Target]
		if !ok {
			return nil, NewDanglingEdgeError(edge.Source, edge.Target)
		}
		if err := edge.Timing.Validate(); err != nil {
			return nil, NewValidationError(err.Error(), nil).WithIntent(edge.Source)
		}
		if err := edge.Action.ValidFor(target.Kind); err != nil {
			return nil, NewValidationError(err.Error(), nil).
				WithIntent(edge.Source).
				WithDetail("target", edge.Target)
		}

		if seen[edge] {
			continue
		}
		seen[edge] = true
		out = append(out, edge)
	}

	return out, nil
}

// buildHandlers groups notifications by target, action and timing. Handlers
// are listed in the plan order of their first source.
func buildHandlers(plan *Plan) []Handler {
	type handlerKey struct {
		target string
		action NotifyAction
		timing Timing
	}

	index := make(map[handlerKey]int)
	handlers := make([]Handler, 0)

	for _, in := range plan.Intents {
		for _, edge := range plan.NotificationsFrom(in.Key()) {
			k := handlerKey{edge.Target, edge.Action, edge.Timing}
			i, ok := index[k]
			if !ok {
				i = len(handlers)
				index[k] = i
				handlers = append(handlers, Handler{
					Target: edge.Target,
					Action: edge.Action,
					Timing: edge.Timing,
				})
			}
			h := &handlers[i]
			if len(h.Sources) == 0 || h.Sources[len(h.Sources)-1] != edge.Source {
				h.Sources = append(h.Sources, edge.Source)
			}
		}
	}

	return handlers
}

func summarize(plan *Plan, merged int) PlanSummary {
	summary := PlanSummary{
		Total:         len(plan.Intents),
		ByKind:        make(map[Kind]int),
		Notifications: len(plan.Notifications),
		Merged:        merged,
	}
	for _, in := range plan.Intents {
		summary.ByKind[in.Kind]++
	}
	if plan.Graph != nil {
		summary.Levels = plan.Graph.Depth
	}
	return summary
}

// planID hashes the plan content. encoding/json sorts map keys, so the
// encoding is canonical for a given plan.
func planID(plan *Plan) (string, error) {
	content := struct {
		Node          string             `json:"node"`
		Platform      string             `json:"platform"`
		Family        string             `json:"family"`
		RunList       []string           `json:"run_list"`
		Intents       []Intent           `json:"intents"`
		Notifications []NotificationEdge `json:"notifications"`
	}{plan.Node, plan.Platform, plan.Family, plan.RunList, plan.Intents, plan.Notifications}

	data, err := json.Marshal(content)
	if err != nil {
		return "", NewInternalError(fmt.Sprintf("failed to encode plan content: %v", err))
	}
	return uuid.NewSHA1(planNamespace, data).String(), nil
}

// ValidatePlan checks a plan received from elsewhere (a store, a hand-off
// stream) is internally consistent and carries the ID its content implies.
func (p *Planner) ValidatePlan(ctx context.Context, plan *Plan) error {
	if plan == nil {
		return NewValidationError("plan is nil", nil)
	}

	rebuilt, err := p.Plan(ctx, plan.Intents, plan.Notifications,
		WithNode(plan.Node, plan.Platform, plan.Family), WithRunList(plan.RunList))
	if err != nil {
		return fmt.Errorf("plan does not rebuild: %w", err)
	}

	if rebuilt.ID != plan.ID {
		return NewValidationError(
			fmt.Sprintf("plan ID %s does not match content (expected %s)", plan.ID, rebuilt.ID), nil)
	}

	return nil
}
