// Package telemetry provides observability for cookbook convergence runs.
//
// It bundles structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and an ordered convergence event stream behind a
// single Telemetry value.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.ListenAddress = ":9464"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.Metrics.StartMetricsServer(ctx, tel.Logger.Zerolog()); err != nil {
//	    return err
//	}
//
// # Stages
//
// A convergence run is a sequence of stages (load, resolve, derive, plan,
// guard, save). Each stage gets a span named "converge.<stage>", a
// duration observation and a logger tagged with the stage and trace ID:
//
//	st := tel.StartStage(ctx, "derive", node)
//	derivation, err := engine.Derive(st.Ctx, snap)
//	st.End(err, string(engine.CodeOf(err)))
//
// # Metrics
//
// All metrics live on a private registry under the configured namespace:
//
//   - plans_total{status}
//   - stage_duration_seconds{stage}
//   - intents_planned{kind}
//   - notifications_planned
//   - errors_total{code}
//   - guard_violations_total{rule,severity}
//   - plans_saved_total
//   - watch_reloads_total{trigger}
//
// # Events
//
// Events are delivered to subscribers in publish order. Watch mode
// subscribes to print plan.computed and policy.violation events as files
// change:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
