package engine_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// Example_plan builds a plan for a package, its configuration and its service,
// then asks which notifications fire when the configuration changed.
func Example_plan() {
	intents := []engine.Intent{
		{Kind: engine.KindService, Name: "rsyslog", Actions: []engine.Action{engine.ActionEnable, engine.ActionStart}},
		{Kind: engine.KindPackage, Name: "rsyslog", Actions: []engine.Action{engine.ActionInstall}},
		{Kind: engine.KindTemplate, Name: "/etc/rsyslog.conf", Actions: []engine.Action{engine.ActionCreate}, Owner: "root", Group: "root", Mode: "0644"},
	}
	edges := []engine.NotificationEdge{
		{
			Source: "template[/etc/rsyslog.conf]",
			Target: "service[rsyslog]",
			Action: engine.NotifyRestart,
			Timing: engine.TimingDelayed,
		},
	}

	plan, err := engine.NewPlanner().Plan(context.Background(), intents, edges)
	if err != nil {
		log.Fatalf("Failed to plan: %v", err)
	}

	for _, in := range plan.Intents {
		fmt.Println(in.Key())
	}
	for level, keys := range plan.Graph.Levels {
		fmt.Printf("Level %d: %v\n", level, keys)
	}

	firings, err := plan.Fire([]string{"template[/etc/rsyslog.conf]"})
	if err != nil {
		log.Fatalf("Failed to fire: %v", err)
	}
	for _, f := range firings {
		fmt.Println(f)
	}

	// Output:
	// package[rsyslog]
	// template[/etc/rsyslog.conf]
	// service[rsyslog]
	// Level 0: [package[rsyslog] template[/etc/rsyslog.conf]]
	// Level 1: [service[rsyslog]]
	// service[rsyslog]:restart (delayed, from template[/etc/rsyslog.conf])
}

// Example_cycle shows how a notification cycle is reported.
func Example_cycle() {
	intents := []engine.Intent{
		{Kind: engine.KindService, Name: "a", Actions: []engine.Action{engine.ActionStart}},
		{Kind: engine.KindService, Name: "b", Actions: []engine.Action{engine.ActionStart}},
	}
	edges := []engine.NotificationEdge{
		{Source: "service[a]", Target: "service[b]", Action: engine.NotifyRestart, Timing: engine.TimingDelayed},
		{Source: "service[b]", Target: "service[a]", Action: engine.NotifyRestart, Timing: engine.TimingDelayed},
	}

	_, err := engine.NewPlanner().Plan(context.Background(), intents, edges)
	fmt.Println(engine.IsCycleError(err))
	fmt.Println(err)

	// Output:
	// true
	// failed to build execution graph: [internal] circular notification detected: service[a] -> service[b] -> service[a]
}
