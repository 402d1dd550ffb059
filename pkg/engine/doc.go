// Package engine provides the core types and the convergence planner for
// cookbook execution plans.
//
// # Overview
//
// A convergence run moves through three pure stages before anything touches
// a node:
//
//  1. Resolve - normalize node attributes into a Snapshot (package attributes)
//  2. Derive - apply cookbook recipes to produce intents and edges (package policy)
//  3. Plan - deduplicate, order and group notifications (this package)
//
// The resulting Plan is handed to an external execution backend, which
// reconciles each intent against the real system.
//
// # Core Domain Types
//
//   - Intent: one declared piece of desired state, identified by "kind[name]"
//   - NotificationEdge: a change to one intent triggers restart, run or reload on another
//   - Plan: the ordered intents, the edges, the execution graph and the handler table
//   - Handler: every source that fires one (target, action, timing)
//   - Firing: a notification action the backend performs after reporting changes
//
// # Ordering
//
// Notification edges are the only ordering constraints. The planner reduces
// them transitively, so the graph holds the minimal partial order, and groups
// intents into levels the backend may converge in parallel:
//
//	planner := engine.NewPlanner()
//	plan, err := planner.Plan(ctx, intents, edges)
//	if err != nil {
//	    return err
//	}
//	for level, keys := range plan.Graph.Levels {
//	    fmt.Printf("Level %d: %v\n", level, keys)
//	}
//
// Plan.Intents lists a deterministic linear extension of that order which
// keeps declaration order wherever the edges allow it.
//
// # Notifications
//
// Immediate notifications fire right after their source converges. Delayed
// notifications collapse to one firing per (target, action) at the end of the
// run. Plan.Fire simulates this given the set of intents the backend changed.
//
// # Error Handling
//
// All errors are *EngineError values with a class and a code:
//
//   - configuration: contradictory input, invalid intents, dangling edges
//   - platform: a platform family with no known mapping
//   - internal: a broken planner invariant such as a notification cycle
//
// Use IsConfigurationError, IsCycleError and IsUnknownPlatformError to
// classify them.
package engine
