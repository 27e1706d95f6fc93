package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/twinwatch/internal/history"
)

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("starts a PostgreSQL container")
	}
	pg, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("twinwatch"),
		postgres.WithUsername("twinwatch"),
		postgres.WithPassword("twinwatch"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, pg.Terminate(context.Background())) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	sink, err := New(startPostgres(ctx, t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, sink.Close()) })

	ok := history.NewEvent(history.EventRestartSucceeded, time.Now())
	ok.ProcessID = "sim-server"
	ok.ProcessType = "server"
	ok.State = "hung"
	ok.OldPID, ok.NewPID, ok.Attempt = 10, 11, 1
	require.NoError(t, sink.Send(ctx, ok))

	failed := history.NewEvent(history.EventRestartFailed, time.Now().Add(time.Second))
	failed.ProcessID = "sim-server"
	failed.ProcessType = "server"
	failed.State = "dead"
	failed.OldPID, failed.Attempt = 11, 2
	failed.Error = "exec: not found"
	require.NoError(t, sink.Send(ctx, failed))

	n, err := sink.Count(ctx, "sim-server")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := sink.Recent(ctx, "sim-server", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ok.ID, got[1].ID)
	assert.Equal(t, 11, got[1].NewPID)
	assert.Equal(t, "exec: not found", got[0].Error)
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
