package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/twinwatch/internal/history"
)

// DefaultTable receives events when Options.Table is empty.
const DefaultTable = "restart_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Options locates the ClickHouse server and table.
type Options struct {
	Addr     string // host:port of the native protocol
	Database string
	Username string
	Password string
	Table    string // [db.]table
}

// Sink appends restart events to a MergeTree table over the native protocol.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects and pings the server. The table is not created; call
// EnsureTable.
func New(opts Options) (*Sink, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if !tableName.MatchString(opts.Table) {
		return nil, fmt.Errorf("clickhouse: invalid table name %q", opts.Table)
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open %s: %w", opts.Addr, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse: ping %s: %w", opts.Addr, err)
	}
	return &Sink{conn: conn, table: opts.Table}, nil
}

// EnsureTable creates the events table if missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
			id UUID,
			type LowCardinality(String),
			occurred_at DateTime64(6, 'UTC'),
			process_id String,
			process_type LowCardinality(String),
			state LowCardinality(String),
			old_pid Int64,
			new_pid Int64,
			attempt Int32,
			error Nullable(String)
		) ENGINE = MergeTree
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (process_id, occurred_at)`)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	var errText *string
	if e.Error != "" {
		errText = &e.Error
	}
	err := s.conn.Exec(ctx, `INSERT INTO `+s.table+`
		(id, type, occurred_at, process_id, process_type, state, old_pid, new_pid, attempt, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.OccurredAt.UTC(), e.ProcessID, e.ProcessType, e.State,
		int64(e.OldPID), int64(e.NewPID), int32(e.Attempt), errText)
	if err != nil {
		return fmt.Errorf("clickhouse: insert into %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
