// Package audit keeps a trail of the device commands the skill has sent,
// one row per device per directive, in the switch_audit table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeLayout sorts lexically in time order for UTC timestamps.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Entry is one command sent to one device.
type Entry struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	Action    string        `json:"action"`
	DeviceID  int64         `json:"device_id"`
	Alias     string        `json:"alias"`
	Room      string        `json:"room"`
	Topic     string        `json:"topic"`
	Outcome   string        `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
	Latency   time.Duration `json:"latency"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter controls which entries List returns. Empty fields match anything.
type Filter struct {
	RequestID string
	Action    string
	Room      string
	Outcome   string
	Limit     int // default 50, max 200
	Offset    int
}

// ListResult contains a page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the audit trail operations.
type Repository interface {
	CreateBatch(ctx context.Context, entries []Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the trail in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an audit repository. The schema is created by
// the embedded migrations.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateBatch inserts entries in one transaction. IDs and timestamps are
// generated where empty, and written back into entries.
func (r *SQLiteRepository) CreateBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting audit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO switch_audit (id, request_id, action, device_id, alias, room, topic, outcome, reason, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing audit insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = "aud-" + uuid.NewString()[:8]
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}

		if _, err := stmt.ExecContext(ctx,
			e.ID, e.RequestID, e.Action, e.DeviceID, e.Alias, e.Room, e.Topic,
			e.Outcome, nullableString(e.Reason), e.Latency.Milliseconds(),
			e.CreatedAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("inserting audit entry for %s: %w", e.Topic, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing audit entries: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for _, c := range []struct {
		column string
		value  string
	}{
		{"request_id", filter.RequestID},
		{"action", filter.Action},
		{"room", filter.Room},
		{"outcome", filter.Outcome},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM switch_audit " + where //nolint:gosec // columns are fixed, values are parameters
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT id, request_id, action, device_id, alias, room, topic, outcome, reason, latency_ms, created_at
		FROM switch_audit ` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?` //nolint:gosec // as above
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var reason sql.NullString
		var latencyMS int64
		var createdAt string

		if err := rows.Scan(&e.ID, &e.RequestID, &e.Action, &e.DeviceID, &e.Alias, &e.Room,
			&e.Topic, &e.Outcome, &reason, &latencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Reason = reason.String
		e.Latency = time.Duration(latencyMS) * time.Millisecond

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
