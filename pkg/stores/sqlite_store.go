package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/cookbooks/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	// Every connection to :memory: is a separate database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// dsn builds a modernc.org/sqlite DSN with per-connection pragmas.
func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
		"_txlock=immediate",
	}
	if !isMemory(s.cfg.Path) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}

	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(s.cfg.Path, "file:") + sep + strings.Join(pragmas, "&")
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SavePlan writes a plan to the history. Plan IDs are content-derived, so
// saving an identical plan again refreshes its status and timestamp.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *engine.Plan, status PlanStatus) (*PlanRecord, error) {
	if plan == nil || plan.ID == "" {
		return nil, fmt.Errorf("plan with an ID is required")
	}
	if status != PlanStatusPlanned && status != PlanStatusBlocked {
		return nil, fmt.Errorf("invalid plan status: %q", status)
	}

	payload, digest, err := encodePlan(plan)
	if err != nil {
		return nil, err
	}

	rec := &PlanRecord{
		ID:            plan.ID,
		Node:          plan.Node,
		Platform:      plan.Platform,
		Family:        plan.Family,
		Status:        status,
		Intents:       len(plan.Intents),
		Notifications: len(plan.Notifications),
		Digest:        digest,
		Size:          len(payload),
		CreatedAt:     time.Now().UTC(),
		Plan:          plan,
	}

	query := `
		INSERT INTO plans (id, node, platform, family, status, intents, notifications, digest, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			created_at = excluded.created_at
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Node,
		rec.Platform,
		rec.Family,
		rec.Status,
		rec.Intents,
		rec.Notifications,
		rec.Digest,
		payload,
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save plan: %w", err)
	}

	return rec, nil
}

// GetPlan retrieves a plan by ID, or by a unique ID prefix.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("plan %q: %w", id, ErrNotFound)
	}

	query := `
		SELECT id, node, platform, family, status, intents, notifications, digest, payload, created_at
		FROM plans
		WHERE id = ? OR id LIKE ? || '%'
		ORDER BY id = ? DESC
		LIMIT 2
	`

	rows, err := s.db.QueryContext(ctx, query, id, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	defer rows.Close()

	var found []*PlanRecord
	for rows.Next() {
		rec, err := scanPlan(rows, true)
		if err != nil {
			return nil, err
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	case found[0].ID == id, len(found) == 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("plan ID prefix %s is ambiguous", id)
	}
}

// ListPlans lists plans newest first, without payloads.
func (s *SQLiteStore) ListPlans(ctx context.Context, opts ListOptions) ([]*PlanRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, node, platform, family, status, intents, notifications, digest, length(payload), created_at
		FROM plans
	`
	var args []interface{}
	if opts.Node != "" {
		query += " WHERE node = ?"
		args = append(args, opts.Node)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var records []*PlanRecord
	for rows.Next() {
		rec, err := scanPlan(rows, false)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	return records, nil
}

// LatestPlan returns the most recently saved plan for node.
func (s *SQLiteStore) LatestPlan(ctx context.Context, node string) (*PlanRecord, error) {
	query := `
		SELECT id, node, platform, family, status, intents, notifications, digest, payload, created_at
		FROM plans
		WHERE node = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	rows, err := s.db.QueryContext(ctx, query, node)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest plan: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get latest plan: %w", err)
		}
		return nil, fmt.Errorf("no plans for node %q: %w", node, ErrNotFound)
	}
	return scanPlan(rows, true)
}

// DeletePlan deletes a plan and its events.
func (s *SQLiteStore) DeletePlan(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}

	return nil
}

// scanPlan reads one plans row. With withPayload the tenth column is the
// payload blob, otherwise its length.
func scanPlan(rows *sql.Rows, withPayload bool) (*PlanRecord, error) {
	rec := &PlanRecord{}
	var created int64
	var payload []byte
	var size int

	dest := []interface{}{
		&rec.ID,
		&rec.Node,
		&rec.Platform,
		&rec.Family,
		&rec.Status,
		&rec.Intents,
		&rec.Notifications,
		&rec.Digest,
	}
	if withPayload {
		dest = append(dest, &payload)
	} else {
		dest = append(dest, &size)
	}
	dest = append(dest, &created)

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()

	if withPayload {
		plan, err := decodePlan(payload, rec.Digest)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", rec.ID, err)
		}
		rec.Plan = plan
		rec.Size = len(payload)
	} else {
		rec.Size = size
	}

	return rec, nil
}

// AppendEvent appends an event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Level == "" {
		event.Level = EventLevelInfo
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (plan_id, node, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.PlanID,
		event.Node,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events in append order, filtered by plan ID and node.
func (s *SQLiteStore) GetEvents(ctx context.Context, planID *string, node string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, plan_id, node, type, level, message, details, timestamp
		FROM events
		WHERE 1=1
	`
	args := []interface{}{}

	if planID != nil {
		query += " AND plan_id = ?"
		args = append(args, *planID)
	}
	if node != "" {
		query += " AND node = ?"
		args = append(args, node)
	}
	if limit <= 0 {
		limit = 100
	}

	query += " ORDER BY id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var ts int64
		err := rows.Scan(
			&event.ID,
			&event.PlanID,
			&event.Node,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
