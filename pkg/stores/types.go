package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// PlanStatus is the outcome recorded with a saved plan.
type PlanStatus string

const (
	PlanStatusPlanned PlanStatus = "planned"
	PlanStatusBlocked PlanStatus = "blocked"
)

// EventLevel represents the severity level of a stored event.
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// ErrNotFound is returned when a plan does not exist.
var ErrNotFound = errors.New("not found")

// PlanRecord is one plan in the history.
type PlanRecord struct {
	ID            string     `json:"id"`
	Node          string     `json:"node"`
	Platform      string     `json:"platform"`
	Family        string     `json:"family"`
	Status        PlanStatus `json:"status"`
	Intents       int        `json:"intents"`
	Notifications int        `json:"notifications"`
	Digest        string     `json:"digest"` // BLAKE3 of the stored payload
	Size          int        `json:"size"`   // compressed payload bytes
	CreatedAt     time.Time  `json:"created_at"`

	// Plan is nil in list results.
	Plan *engine.Plan `json:"plan,omitempty"`
}

// ListOptions filters and pages ListPlans.
type ListOptions struct {
	Node   string
	Limit  int
	Offset int
}

// Event is an append-only convergence event.
type Event struct {
	ID        int64      `json:"id"`
	PlanID    *string    `json:"plan_id,omitempty"`
	Node      string     `json:"node"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for plan history persistence.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Plan operations
	SavePlan(ctx context.Context, plan *engine.Plan, status PlanStatus) (*PlanRecord, error)
	GetPlan(ctx context.Context, id string) (*PlanRecord, error)
	ListPlans(ctx context.Context, opts ListOptions) ([]*PlanRecord, error)
	LatestPlan(ctx context.Context, node string) (*PlanRecord, error)
	DeletePlan(ctx context.Context, id string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, planID *string, node string, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
