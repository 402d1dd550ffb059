package engine

import (
	"fmt"
)

// Firing is one notification action the backend must perform.
type Firing struct {
	// Target is the identity key of the notified intent.
	Target string `json:"target"`

	// Action is the verb to perform on the target.
	Action NotifyAction `json:"action"`

	// Timing is immediate when the action ran right after its trigger,
	// delayed when it ran at the end of the run.
	Timing Timing `json:"timing"`

	// Trigger is the intent whose change caused the firing.
	Trigger string `json:"trigger"`
}

func (f Firing) String() string {
	return fmt.Sprintf("%s:%s (%s, from %s)", f.Target, f.Action, f.Timing, f.Trigger)
}

// Fire returns the notification actions that run when the intents in changed
// were updated by the backend. Immediate actions follow their trigger; delayed
// actions run once each, after every intent has converged, in the order they
// were first queued. A notified intent counts as changed, so chains such as
// manifest -> import -> restart propagate.
func (p *Plan) Fire(changed []string) ([]Firing, error) {
	changedSet := make(map[string]bool, len(changed))
	for _, key := range changed {
		if _, ok := p.Intent(key); !ok {
			return nil, NewValidationError(fmt.Sprintf("changed intent %s is not in the plan", key), nil)
		}
		changedSet[key] = true
	}

	type queued struct {
		target string
		action NotifyAction
	}

	var (
		firings   = make([]Firing, 0)
		processed = make(map[string]bool)
		inQueue   = make(map[queued]bool)
		delayed   = make([]Firing, 0)
	)

	var visit func(key string)
	visit = func(key string) {
		if processed[key] {
			return
		}
		processed[key] = true

		for _, edge := range p.NotificationsFrom(key) {
			if edge.Timing == TimingImmediate {
				firings = append(firings, Firing{
					Target:  edge.Target,
					Action:  edge.Action,
					Timing:  TimingImmediate,
					Trigger: key,
				})
				visit(edge.Target)
				continue
			}

			q := queued{edge.Target, edge.Action}
			if inQueue[q] {
				continue
			}
			inQueue[q] = true
			delayed = append(delayed, Firing{
				Target:  edge.Target,
				Action:  edge.Action,
				Timing:  TimingDelayed,
				Trigger: key,
			})
		}
	}

	for _, in := range p.Intents {
		if changedSet[in.Key()] {
			visit(in.Key())
		}
	}

	// Delayed actions can queue further delayed actions.
	for i := 0; i < len(delayed); i++ {
		firings = append(firings, delayed[i])
		visit(delayed[i].Target)
	}

	return firings, nil
}
