// Package audit provides access to the action_log table: every command the
// bridge sent to the cloud and how it ended.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/poolbridge/internal/coordinator"
)

// List page sizes.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one row of the action log.
type Entry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Channel   string    `json:"channel,omitempty"`
	Value     string    `json:"value,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Action  string    // optional: exact action name
	Channel string    // optional: exact channel id
	Outcome string    // optional: exact outcome
	Since   time.Time // optional: entries at or after this time
	Limit   int       // default 50, max 500
	Offset  int       // pagination offset
}

// ListResult is one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the action log operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the action log in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Create inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.Action == "" || e.Outcome == "" {
		return fmt.Errorf("audit entry needs an action and an outcome")
	}
	if e.ID == "" {
		e.ID = "act-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO action_log (id, action, channel, value, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Channel, e.Value, e.Outcome, e.Detail,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting action log entry: %w", err)
	}
	return nil
}

// Record stores a coordinator event. It makes the repository a
// coordinator.Auditor.
func (r *SQLiteRepository) Record(ctx context.Context, e coordinator.AuditEvent) error {
	return r.Create(ctx, &Entry{
		Action:  e.Action,
		Channel: e.Channel,
		Value:   e.Value,
		Outcome: e.Outcome,
		Detail:  e.Detail,
	})
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	filter.Limit = min(filter.Limit, maxLimit)
	filter.Offset = max(filter.Offset, 0)

	var conditions []string
	var args []any
	for _, c := range []struct{ column, value string }{
		{"action", filter.Action},
		{"channel", filter.Channel},
		{"outcome", filter.Outcome},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM action_log " + where //nolint:gosec // WHERE built from fixed column names
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting action log: %w", err)
	}

	query := "SELECT id, action, channel, value, outcome, detail, created_at FROM action_log " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying action log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Action, &e.Channel, &e.Value, &e.Outcome, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning action log entry: %w", err)
		}
		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing action log timestamp %q: %w", createdAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating action log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
