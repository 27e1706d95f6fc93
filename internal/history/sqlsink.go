package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Dialect adapts SQLSink to one database engine.
type Dialect struct {
	Name string
	// Schema holds idempotent DDL run once at construction.
	Schema []string
	// Bind returns the placeholder for the n-th (1-based) argument.
	Bind func(n int) string
}

// SQLSink stores events in a restart_history table through database/sql.
type SQLSink struct {
	db *sql.DB
	d  Dialect
}

// NewSQLSink prepares the schema on db. db is closed on failure.
func NewSQLSink(ctx context.Context, db *sql.DB, d Dialect) (*SQLSink, error) {
	for _, q := range d.Schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s history schema: %w", d.Name, err)
		}
	}
	return &SQLSink{db: db, d: d}, nil
}

func (s *SQLSink) binds(n int) string {
	b := make([]string, n)
	for i := range b {
		b[i] = s.d.Bind(i + 1)
	}
	return strings.Join(b, ", ")
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	q := `INSERT INTO restart_history(id, occurred_at, event, process_id, process_type, state, old_pid, new_pid, attempt, error)
		VALUES(` + s.binds(10) + `)`
	_, err := s.db.ExecContext(ctx, q,
		e.ID, e.OccurredAt.UTC(), string(e.Type), e.ProcessID, e.ProcessType, e.State,
		e.OldPID, e.NewPID, e.Attempt, Nullable(e.Error))
	if err != nil {
		return fmt.Errorf("%s history insert: %w", s.d.Name, err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty processID
// matches every process.
func (s *SQLSink) Recent(ctx context.Context, processID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	q := `SELECT id, occurred_at, event, process_id, process_type, state, old_pid, new_pid, attempt, error
		FROM restart_history`
	var args []any
	if processID != "" {
		q += ` WHERE process_id = ` + s.d.Bind(1)
		args = append(args, processID)
	}
	q += ` ORDER BY occurred_at DESC LIMIT ` + s.d.Bind(len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s history query: %w", s.d.Name, err)
	}
	defer func() { _ = rows.Close() }()

	out := []Event{}
	for rows.Next() {
		var (
			e   Event
			typ string
			at  time.Time
			msg sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &typ, &e.ProcessID, &e.ProcessType, &e.State,
			&e.OldPID, &e.NewPID, &e.Attempt, &msg); err != nil {
			return nil, fmt.Errorf("%s history scan: %w", s.d.Name, err)
		}
		e.Type = EventType(typ)
		e.OccurredAt = at.UTC()
		e.Error = msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of stored events for a process.
func (s *SQLSink) Count(ctx context.Context, processID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM restart_history WHERE process_id = `+s.d.Bind(1), processID).Scan(&n)
	return n, err
}

func (s *SQLSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
