package engine

import (
	"fmt"
)

// Kind is the type of system state an intent declares.
type Kind string

const (
	// KindPackage declares an installed package.
	KindPackage Kind = "package"

	// KindDirectory declares a directory with ownership and mode.
	KindDirectory Kind = "directory"

	// KindTemplate declares a file rendered from a template.
	KindTemplate Kind = "template"

	// KindService declares the lifecycle state of a service.
	KindService Kind = "service"

	// KindExecute declares a command to run.
	KindExecute Kind = "execute"
)

// IsFilesystem returns true for kinds that carry owner, group and mode.
func (k Kind) IsFilesystem() bool {
	return k == KindDirectory || k == KindTemplate
}

// Validate checks if the kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindPackage, KindDirectory, KindTemplate, KindService, KindExecute:
		return nil
	default:
		return fmt.Errorf("invalid intent kind: %s", k)
	}
}

// Action is a state transition an intent asks the backend to ensure.
type Action string

const (
	ActionInstall Action = "install"
	ActionCreate  Action = "create"
	ActionEnable  Action = "enable"
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionDisable Action = "disable"
	ActionRun     Action = "run"

	// ActionNothing declares an intent that only acts when notified.
	ActionNothing Action = "nothing"
)

// allowedActions lists the actions each kind accepts.
var allowedActions = map[Kind][]Action{
	KindPackage:   {ActionInstall},
	KindDirectory: {ActionCreate},
	KindTemplate:  {ActionCreate},
	KindService:   {ActionEnable, ActionStart, ActionStop, ActionDisable, ActionNothing},
	KindExecute:   {ActionRun, ActionNothing},
}

// ValidFor checks that the action is accepted by the given kind.
func (a Action) ValidFor(k Kind) error {
	for _, allowed := range allowedActions[k] {
		if a == allowed {
			return nil
		}
	}
	return fmt.Errorf("action %s is not valid for %s", a, k)
}

// NotifyAction is the verb a notification edge triggers on its target.
type NotifyAction string

const (
	NotifyRestart NotifyAction = "restart"
	NotifyRun     NotifyAction = "run"
	NotifyReload  NotifyAction = "reload"
)

// ValidFor checks that the target kind can receive this notification.
func (a NotifyAction) ValidFor(k Kind) error {
	switch {
	case (a == NotifyRestart || a == NotifyReload) && k == KindService:
		return nil
	case a == NotifyRun && k == KindExecute:
		return nil
	default:
		return fmt.Errorf("cannot %s a %s", a, k)
	}
}

// Timing controls when a notification fires relative to its source.
type Timing string

const (
	// TimingImmediate fires right after the source converges.
	TimingImmediate Timing = "immediate"

	// TimingDelayed queues the action to the end of the run, once per target.
	TimingDelayed Timing = "delayed"
)

// Validate checks if the timing is valid.
func (t Timing) Validate() error {
	switch t {
	case TimingImmediate, TimingDelayed:
		return nil
	default:
		return fmt.Errorf("invalid notification timing: %s", t)
	}
}
