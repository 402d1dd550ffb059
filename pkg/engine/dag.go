package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DAGBuilder builds the minimal partial order over a plan's intents.
// It detects cycles, drops edges implied by transitivity, and assigns
// execution levels so the backend can run unrelated intents in parallel.
type DAGBuilder struct {
	// keys holds intent keys in declaration order
	keys []string

	// index maps intent keys to their declaration position
	index map[string]int

	// successors maps a key to the keys that must converge after it
	successors map[string][]string

	// predecessors maps a key to the keys that must converge before it
	predecessors map[string][]string

	// levels maps execution level to keys at that level
	levels [][]string

	// order is the deterministic linear extension of the partial order
	order []string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		index:        make(map[string]int),
		successors:   make(map[string][]string),
		predecessors: make(map[string][]string),
	}
}

// BuildGraph constructs an execution graph from intent keys (in declaration
// order) and the notification edges between them.
func (b *DAGBuilder) BuildGraph(keys []string, edges []NotificationEdge) (*ExecutionGraph, error) {
	if len(keys) == 0 {
		return &ExecutionGraph{
			Nodes:  make(map[string]*GraphNode),
			Edges:  make([]GraphEdge, 0),
			Roots:  make([]string, 0),
			Levels: make([][]string, 0),
		}, nil
	}

	if err := b.initialize(keys, edges); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	b.reduce()

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	b.computeOrder()

	return b.buildExecutionGraph(), nil
}

// initialize indexes keys and builds adjacency from the edges.
func (b *DAGBuilder) initialize(keys []string, edges []NotificationEdge) error {
	for i, key := range keys {
		if key == "" {
			return NewValidationError("intent has empty key", nil)
		}
		if _, exists := b.index[key]; exists {
			return NewValidationError(fmt.Sprintf("duplicate intent key: %s", key), nil)
		}
		b.keys = append(b.keys, key)
		b.index[key] = i
		b.successors[key] = make([]string, 0)
		b.predecessors[key] = make([]string, 0)
	}

	seen := make(map[[2]string]bool)
	for _, edge := range edges {
		if _, ok := b.index[edge.Source]; !ok {
			return NewDanglingEdgeError(edge.Source, edge.Target)
		}
		if _, ok := b.index[edge.Target]; !ok {
			return NewDanglingEdgeError(edge.Source, edge.Target)
		}

		// Parallel edges with different verbs order the same pair once.
		pair := [2]string{edge.Source, edge.Target}
		if seen[pair] {
			continue
		}
		seen[pair] = true

		b.successors[edge.Source] = append(b.successors[edge.Source], edge.Target)
		b.predecessors[edge.Target] = append(b.predecessors[edge.Target], edge.Source)
	}

	for _, key := range b.keys {
		b.sortByIndex(b.successors[key])
		b.sortByIndex(b.predecessors[key])
	}

	return nil
}

// detectCycles uses depth-first search in declaration order.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	for _, key := range b.keys {
		if visited[key] {
			continue
		}
		if cycle := b.detectCyclesUtil(key, visited, onStack, nil); cycle != nil {
			return NewCycleError(cycle)
		}
	}

	return nil
}

// detectCyclesUtil returns the closed cycle path if one is reachable from key.
func (b *DAGBuilder) detectCyclesUtil(key string, visited, onStack map[string]bool, path []string) []string {
	visited[key] = true
	onStack[key] = true
	path = append(path, key)

	for _, next := range b.successors[key] {
		if !visited[next] {
			if cycle := b.detectCyclesUtil(next, visited, onStack, path); cycle != nil {
				return cycle
			}
			continue
		}
		if onStack[next] {
			for i, id := range path {
				if id == next {
					cycle := append([]string(nil), path[i:]...)
					return append(cycle, next)
				}
			}
		}
	}

	onStack[key] = false
	return nil
}

// reduce removes every edge u->v that is implied by a longer path u->...->v.
// The graph must be acyclic.
func (b *DAGBuilder) reduce() {
	for _, u := range b.keys {
		kept := make([]string, 0, len(b.successors[u]))
		for _, v := range b.successors[u] {
			if !b.reachableAvoiding(u, v) {
				kept = append(kept, v)
			}
		}
		b.successors[u] = kept
	}

	for _, key := range b.keys {
		b.predecessors[key] = b.predecessors[key][:0]
	}
	for _, u := range b.keys {
		for _, v := range b.successors[u] {
			b.predecessors[v] = append(b.predecessors[v], u)
		}
	}
	for _, key := range b.keys {
		b.sortByIndex(b.predecessors[key])
	}
}

// reachableAvoiding reports whether v is reachable from u without taking
// the direct edge u->v.
func (b *DAGBuilder) reachableAvoiding(u, v string) bool {
	visited := make(map[string]bool)
	stack := make([]string, 0)
	for _, w := range b.successors[u] {
		if w != v {
			stack = append(stack, w)
		}
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == v {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, b.successors[n]...)
	}
	return false
}

// computeLevels assigns execution levels using Kahn's algorithm.
// Intents at the same level have no ordering constraint between them.
func (b *DAGBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.keys))
	for _, key := range b.keys {
		inDegree[key] = len(b.predecessors[key])
	}

	current := make([]string, 0)
	for _, key := range b.keys {
		if inDegree[key] == 0 {
			current = append(current, key)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, key := range current {
			for _, dependent := range b.successors[key] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		b.sortByIndex(next)
		current = next
	}

	// Unreachable once detectCycles has passed.
	if processed != len(b.keys) {
		return NewInternalError("failed to level all intents - possible cycle")
	}

	return nil
}

// computeOrder produces the linear order the plan lists intents in: a
// topological order that prefers the earliest declared ready intent.
func (b *DAGBuilder) computeOrder() {
	inDegree := make(map[string]int, len(b.keys))
	for _, key := range b.keys {
		inDegree[key] = len(b.predecessors[key])
	}

	ready := make([]string, 0)
	for _, key := range b.keys {
		if inDegree[key] == 0 {
			ready = append(ready, key)
		}
	}

	b.order = make([]string, 0, len(b.keys))
	for len(ready) > 0 {
		b.sortByIndex(ready)
		key := ready[0]
		ready = ready[1:]
		b.order = append(b.order, key)

		for _, dependent := range b.successors[key] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
}

// buildExecutionGraph creates the final ExecutionGraph structure.
func (b *DAGBuilder) buildExecutionGraph() *ExecutionGraph {
	graph := &ExecutionGraph{
		Nodes:  make(map[string]*GraphNode, len(b.keys)),
		Edges:  make([]GraphEdge, 0),
		Roots:  make([]string, 0),
		Levels: make([][]string, 0, len(b.levels)),
		Depth:  len(b.levels),
	}

	for level, keys := range b.levels {
		graph.Levels = append(graph.Levels, append([]string(nil), keys...))
		for _, key := range keys {
			graph.Nodes[key] = &GraphNode{
				ID:           key,
				Level:        level,
				Dependencies: append([]string{}, b.predecessors[key]...),
				Dependents:   append([]string{}, b.successors[key]...),
			}
			if level == 0 {
				graph.Roots = append(graph.Roots, key)
			}
		}
	}

	for _, from := range b.order {
		for _, to := range b.successors[from] {
			graph.Edges = append(graph.Edges, GraphEdge{From: from, To: to})
		}
	}

	return graph
}

// Order returns the computed linear order of intent keys.
func (b *DAGBuilder) Order() []string {
	return b.order
}

// GetLevels returns the computed execution levels.
// Each level contains intent keys that can be converged in parallel.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

func (b *DAGBuilder) sortByIndex(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		return b.index[keys[i]] < b.index[keys[j]]
	})
}

// ValidateGraph performs additional validation on the built graph.
func (b *DAGBuilder) ValidateGraph(graph *ExecutionGraph) error {
	if len(graph.Nodes) != len(b.keys) {
		return NewInternalError("graph node count mismatch")
	}

	for _, edge := range graph.Edges {
		from, ok := graph.Nodes[edge.From]
		if !ok {
			return NewInternalError(fmt.Sprintf("edge references non-existent node: %s", edge.From))
		}
		to, ok := graph.Nodes[edge.To]
		if !ok {
			return NewInternalError(fmt.Sprintf("edge references non-existent node: %s", edge.To))
		}
		if from.Level >= to.Level {
			return NewInternalError(fmt.Sprintf("edge %s -> %s does not increase level", edge.From, edge.To))
		}
	}

	for _, rootID := range graph.Roots {
		if len(graph.Nodes[rootID].Dependencies) > 0 {
			return NewInternalError(fmt.Sprintf("root node %s has dependencies", rootID))
		}
	}

	return nil
}

// ToDOT renders a plan as Graphviz DOT. Solid edges are ordering constraints
// of the reduced graph; dashed edges are notifications labelled with their verb.
func ToDOT(plan *Plan) string {
	var sb strings.Builder

	sb.WriteString("digraph ExecutionPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	if plan.Graph != nil {
		for level, keys := range plan.Graph.Levels {
			sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
			sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
			sb.WriteString("    style=dashed;\n")
			for _, key := range keys {
				in, _ := plan.Intent(key)
				sb.WriteString(fmt.Sprintf("    %q [label=%q, fillcolor=%q, style=\"filled,rounded\"];\n",
					key, key, getKindColor(in.Kind)))
			}
			sb.WriteString("  }\n\n")
		}
	}

	for _, edge := range plan.Notifications {
		sb.WriteString(fmt.Sprintf("  %q -> %q [%s, label=%q];\n",
			edge.Source, edge.Target, getTimingStyle(edge.Timing), string(edge.Action)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

func getKindColor(kind Kind) string {
	switch kind {
	case KindPackage:
		return "lightgreen"
	case KindDirectory, KindTemplate:
		return "lightblue"
	case KindService:
		return "lightcoral"
	case KindExecute:
		return "lightyellow"
	default:
		return "white"
	}
}

func getTimingStyle(timing Timing) string {
	if timing == TimingImmediate {
		return "style=bold, color=red"
	}
	return "style=dashed, color=blue"
}
