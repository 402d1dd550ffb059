// Package policy holds the cookbooks and the plan guard.
//
// # Architecture
//
// The package has two halves:
//
//  1. Engine - applies cookbook recipes to a Snapshot and returns intents and edges
//  2. Guard - evaluates Rego rules against finished plans using Open Policy Agent
//
// Derivation is pure. The same snapshot always produces the same intents in
// the same order, and any error (fatal misconfiguration, unknown recipe,
// template failure) returns no intents at all.
//
// # Usage
//
// Deriving and planning:
//
//	snap, err := attributes.Resolve(raw)
//	if err != nil {
//	    return err
//	}
//
//	d, err := policy.NewEngine(logger).Derive(ctx, snap)
//	if err != nil {
//	    return err
//	}
//
//	plan, err := engine.NewPlanner().Plan(ctx, d.Intents, d.Edges)
//
// Guarding a plan:
//
//	guard, err := policy.NewGuard(ctx, logger)
//	if err != nil {
//	    return err
//	}
//
//	result, err := guard.EvaluatePlan(ctx, plan)
//	if err != nil {
//	    return err
//	}
//	for _, v := range result.Blocking() {
//	    fmt.Printf("%s: %s\n", v.Rule, v.Message)
//	}
//
// # Cookbooks
//
//   - rsyslog::default - packages, config and spool directories, the main and
//     rules templates, legacy syslog services, the SMF manifest on omnios and
//     the rsyslog service
//   - elasticsearch::default - tarball install, directories, configuration
//     templates, init script and service
//   - elasticsearch::restart - a delayed restart request
//   - elasticsearch::curl - the curl package, included by the two above
//
// # Built-in Rules
//
//  1. filesystem-ownership - directories and templates declare owner, group and mode
//  2. world-writable - no file or directory is writable by others
//  3. template-expectations - rendered content holds every expected line
//  4. restart-support - notified services support the notified action
//  5. unguarded-execute - executes that run on every convergence
//
// # Custom Rules
//
// Rules are Rego modules with a deny set. A leading comment block becomes
// the description and a "# severity:" line sets the default severity:
//
//	# Nothing may be written below /tmp
//	# severity: critical
//	package site.tmp
//
//	import rego.v1
//
//	deny contains violation if {
//	    some intent in input.plan.intents
//	    startswith(intent.name, "/tmp/")
//	    violation := {
//	        "message": sprintf("%s writes below /tmp", [intent.name]),
//	        "intent": sprintf("%s[%s]", [intent.kind, intent.name]),
//	    }
//	}
//
// # Hot Reload
//
// The loader watches rule directories and hands the full rule set to a
// callback after each burst of changes:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(rules []policy.Rule) error {
//	    return guard.SetRules(ctx, rules)
//	})
package policy
