package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/twinwatch/internal/history"
)

var dialect = history.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS restart_history(
			id TEXT PRIMARY KEY,
			occurred_at TIMESTAMP NOT NULL,
			event TEXT NOT NULL,
			process_id TEXT NOT NULL,
			process_type TEXT NOT NULL,
			state TEXT NOT NULL,
			old_pid INTEGER NOT NULL,
			new_pid INTEGER NOT NULL,
			attempt INTEGER NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_restart_history_process ON restart_history(process_id, occurred_at)`,
	},
	Bind: func(int) string { return "?" },
}

// New opens an SQLite history store. Accepted DSNs:
// "sqlite:///path/to/file.db", "sqlite://:memory:", a bare path or ":memory:".
func New(dsn string) (*history.SQLSink, error) {
	dsn = strings.TrimSpace(dsn)
	if len(dsn) >= len("sqlite://") && strings.EqualFold(dsn[:len("sqlite://")], "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one connection: :memory: is per connection and SQLite serializes writers
	db.SetMaxOpenConns(1)
	return history.NewSQLSink(context.Background(), db, dialect)
}
