// Package converge runs the planning pipeline for one node: load attribute
// files, apply overrides, resolve, derive, plan, guard and optionally save.
package converge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/cookbooks/pkg/attributes"
	"github.com/openfroyo/cookbooks/pkg/config"
	"github.com/openfroyo/cookbooks/pkg/engine"
	"github.com/openfroyo/cookbooks/pkg/policy"
	"github.com/openfroyo/cookbooks/pkg/stores"
	"github.com/openfroyo/cookbooks/pkg/telemetry"
)

// Stage names, used for spans, metrics and logs.
const (
	StageLoad    = "load"
	StageResolve = "resolve"
	StageDerive  = "derive"
	StagePlan    = "plan"
	StageGuard   = "guard"
	StageSave    = "save"
)

// Options configure a Runner.
type Options struct {
	// AttributePaths are attribute files or directories, merged in order.
	AttributePaths []string

	// OverrideFile is an optional Starlark script applied after merging.
	// It is re-read on every run.
	OverrideFile string

	// PolicyPaths are extra rego rule files or directories for the guard.
	PolicyPaths []string

	// SkipPolicy disables the guard.
	SkipPolicy bool

	// Store, when set, receives every computed plan and its events.
	Store stores.Store

	// OverrideTimeout bounds the override script. Zero means 30s.
	OverrideTimeout time.Duration
}

// Result is the outcome of one run.
type Result struct {
	Attributes map[string]interface{}
	Snapshot   attributes.Snapshot
	Derivation *policy.Derivation
	Plan       *engine.Plan
	Guard      *policy.Result
	Record     *stores.PlanRecord
	Status     stores.PlanStatus
	Duration   time.Duration
}

// Blocked reports whether the guard blocked the plan.
func (r *Result) Blocked() bool {
	return r.Status == stores.PlanStatusBlocked
}

// Runner executes the pipeline. A Runner is safe for sequential reuse; the
// watch loop serializes runs.
type Runner struct {
	opts    Options
	loader  *config.Loader
	derive  *policy.Engine
	planner *engine.Planner
	guard   *policy.Guard
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
}

// NewRunner builds a runner. Extra policy paths are compiled up front so a
// broken rule fails before any planning.
func NewRunner(ctx context.Context, tel *telemetry.Telemetry, opts Options) (*Runner, error) {
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	if len(opts.AttributePaths) == 0 {
		return nil, engine.NewValidationError("at least one attribute path is required", nil)
	}

	logger := tel.Logger.NewComponentLogger("converge")
	zl := logger.Zerolog()

	r := &Runner{
		opts:    opts,
		loader:  config.NewLoader(zl, opts.OverrideTimeout),
		derive:  policy.NewEngine(zl),
		planner: engine.NewPlanner(),
		tel:     tel,
		logger:  logger,
	}

	if !opts.SkipPolicy {
		guard, err := policy.NewGuard(ctx, zl)
		if err != nil {
			return nil, err
		}
		if len(opts.PolicyPaths) > 0 {
			if err := guard.LoadRules(ctx, opts.PolicyPaths); err != nil {
				return nil, err
			}
		}
		r.guard = guard
	}

	return r, nil
}

// Guard returns the runner's guard, or nil when policy is skipped.
func (r *Runner) Guard() *policy.Guard {
	return r.guard
}

// Run executes the pipeline once. A blocked plan is a successful run with
// Status blocked; errors are returned for everything that stops planning.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}
	var pending []telemetry.Event

	err := r.run(ctx, res, &pending)
	res.Duration = time.Since(start)

	if err != nil {
		r.tel.Metrics.RecordPlan(telemetry.PlanStatusFailed, nil, 0)
		ev := telemetry.Event{
			Type:    telemetry.EventTypePlanFailed,
			Node:    res.Snapshot.Node,
			Level:   telemetry.EventLevelError,
			Message: err.Error(),
			Data:    map[string]interface{}{"code": engine.CodeOf(err)},
		}
		r.publish(ev)
		r.persist(ctx, nil, []telemetry.Event{ev})
		r.logger.WithError(err).Error("Planning failed")
		return nil, err
	}

	byKind := make(map[string]int, len(res.Plan.Summary.ByKind))
	for k, n := range res.Plan.Summary.ByKind {
		byKind[string(k)] = n
	}
	r.tel.Metrics.RecordPlan(string(res.Status), byKind, res.Plan.Summary.Notifications)

	if res.Record != nil {
		pending = append(pending, telemetry.Event{
			Type:    telemetry.EventTypePlanSaved,
			Node:    res.Plan.Node,
			PlanID:  res.Plan.ID,
			Message: fmt.Sprintf("saved %d bytes", res.Record.Size),
		})
		r.persist(ctx, &res.Plan.ID, pending)
	}
	for _, ev := range pending {
		r.publish(ev)
	}

	r.logger.WithNode(res.Plan.Node, res.Plan.Platform).WithPlanID(res.Plan.ID).
		WithField("status", res.Status).
		WithField("intents", res.Plan.Summary.Total).
		Info("Plan computed")
	return res, nil
}

func (r *Runner) run(ctx context.Context, res *Result, pending *[]telemetry.Event) error {
	// load
	st := r.tel.StartStage(ctx, StageLoad, "")
	attrs, err := r.load(st.Ctx)
	st.End(err, engine.CodeOf(err))
	if err != nil {
		return err
	}
	res.Attributes = attrs

	// resolve
	st = r.tel.StartStage(ctx, StageResolve, "")
	snap, err := attributes.Resolve(attrs)
	if err == nil {
		st.Span.SetAttributes(
			telemetry.AttrNode.String(snap.Node),
			telemetry.AttrPlatform.String(snap.Platform),
			telemetry.AttrFamily.String(snap.Family),
		)
	}
	st.End(err, engine.CodeOf(err))
	if err != nil {
		return err
	}
	res.Snapshot = snap

	// derive
	st = r.tel.StartStage(ctx, StageDerive, snap.Node)
	d, err := r.derive.Derive(st.Ctx, snap)
	if err == nil {
		st.Span.SetAttributes(telemetry.AttrIntents.Int(len(d.Intents)), telemetry.AttrEdges.Int(len(d.Edges)))
	}
	st.End(err, engine.CodeOf(err))
	if err != nil {
		return err
	}
	res.Derivation = d

	// plan
	st = r.tel.StartStage(ctx, StagePlan, snap.Node)
	plan, err := r.planner.Plan(st.Ctx, d.Intents, d.Edges,
		engine.WithNode(snap.Node, snap.Platform, snap.Family),
		engine.WithRunList(d.Recipes))
	if err == nil {
		st.Span.SetAttributes(telemetry.AttrPlanID.String(plan.ID))
	}
	st.End(err, engine.CodeOf(err))
	if err != nil {
		return err
	}
	res.Plan = plan
	res.Status = stores.PlanStatusPlanned
	*pending = append(*pending, telemetry.Event{
		Type:    telemetry.EventTypePlanComputed,
		Node:    plan.Node,
		PlanID:  plan.ID,
		Message: fmt.Sprintf("%d intents, %d notifications", plan.Summary.Total, plan.Summary.Notifications),
		Data: map[string]interface{}{
			"recipes": d.Recipes,
			"levels":  plan.Summary.Levels,
		},
	})

	// guard
	if r.guard != nil {
		st = r.tel.StartStage(ctx, StageGuard, snap.Node)
		guard, err := r.guard.EvaluatePlan(st.Ctx, plan)
		if err == nil {
			st.Span.SetAttributes(telemetry.AttrViolations.Int(len(guard.Violations)))
		}
		st.End(err, engine.CodeOf(err))
		if err != nil {
			return fmt.Errorf("guard evaluation failed: %w", err)
		}
		res.Guard = guard

		for _, v := range guard.Violations {
			r.tel.Metrics.RecordViolation(v.Rule, string(v.Severity))
			*pending = append(*pending, telemetry.Event{
				Type:    telemetry.EventTypePolicyViolation,
				Node:    plan.Node,
				PlanID:  plan.ID,
				Level:   violationLevel(v.Severity),
				Message: v.Message,
				Data:    map[string]interface{}{"rule": v.Rule, "intent": v.Intent},
			})
		}
		if blocking := guard.Blocking(); len(blocking) > 0 {
			res.Status = stores.PlanStatusBlocked
			*pending = append(*pending, telemetry.Event{
				Type:    telemetry.EventTypePlanBlocked,
				Node:    plan.Node,
				PlanID:  plan.ID,
				Level:   telemetry.EventLevelError,
				Message: fmt.Sprintf("%d blocking violation(s)", len(blocking)),
			})
		}
	}

	// save
	if r.opts.Store != nil {
		st = r.tel.StartStage(ctx, StageSave, snap.Node)
		rec, err := r.opts.Store.SavePlan(st.Ctx, plan, res.Status)
		st.End(err, engine.CodeOf(err))
		if err != nil {
			return fmt.Errorf("failed to save plan: %w", err)
		}
		r.tel.Metrics.RecordPlanSaved()
		res.Record = rec
	}

	return nil
}

// load reads, overrides and validates the attribute document.
func (r *Runner) load(ctx context.Context) (map[string]interface{}, error) {
	doc, err := r.loader.Load(ctx, r.opts.AttributePaths)
	if err != nil {
		return nil, err
	}

	if r.opts.OverrideFile != "" {
		script, err := os.ReadFile(r.opts.OverrideFile)
		if err != nil {
			return nil, engine.NewConfigurationError("failed to read override script", err).
				WithDetail("file", r.opts.OverrideFile)
		}
		attrs, err := r.loader.ApplyOverrides(ctx, doc.Attributes, string(script))
		if err != nil {
			return nil, err
		}
		doc.Attributes = attrs
		doc.Overrides = r.opts.OverrideFile
	}

	if err := r.loader.Validate(ctx, doc); err != nil {
		return nil, err
	}
	return doc.Attributes, nil
}

func (r *Runner) publish(ev telemetry.Event) {
	if err := r.tel.Events.Publish(ev); err != nil {
		r.logger.WithError(err).Warn("Dropped convergence event")
	}
}

// persist stores events when a store is configured. Failures are logged;
// events never fail a run.
func (r *Runner) persist(ctx context.Context, planID *string, events []telemetry.Event) {
	if r.opts.Store == nil {
		return
	}
	for _, ev := range events {
		var details *string
		if len(ev.Data) > 0 {
			if b, err := json.Marshal(ev.Data); err == nil {
				s := string(b)
				details = &s
			}
		}
		stored := &stores.Event{
			PlanID:    planID,
			Node:      ev.Node,
			Type:      ev.Type,
			Level:     storeLevel(ev.Level),
			Message:   ev.Message,
			Details:   details,
			Timestamp: ev.Timestamp,
		}
		if err := r.opts.Store.AppendEvent(ctx, stored); err != nil {
			r.logger.WithError(err).Warn("Failed to store event")
		}
	}
}

func violationLevel(s policy.Severity) string {
	switch s {
	case policy.SeverityInfo:
		return telemetry.EventLevelInfo
	case policy.SeverityWarning:
		return telemetry.EventLevelWarning
	default:
		return telemetry.EventLevelError
	}
}

func storeLevel(level string) stores.EventLevel {
	switch level {
	case telemetry.EventLevelWarning:
		return stores.EventLevelWarning
	case telemetry.EventLevelError:
		return stores.EventLevelError
	default:
		return stores.EventLevelInfo
	}
}
