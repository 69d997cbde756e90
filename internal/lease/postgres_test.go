package lease

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfleet/internal/domain"
)

// Runs only against a real database: TASKFLEET_TEST_PG_DSN=postgres://...
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TASKFLEET_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TASKFLEET_TEST_PG_DSN not set")
	}
	ctx := context.Background()

	st, err := OpenPostgres(ctx, Config{DSN: dsn}, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.EnsureSchema(ctx))
	require.NoError(t, st.EnsureSchema(ctx))

	task := "pgtest-" + domain.NewLease("", "", "", time.Now()).ID.String()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, st.Insert(ctx, domain.NewLease("node-a", task, "default", now.Add(-time.Minute))))
	require.NoError(t, st.Insert(ctx, domain.NewLease("node-b", task, "default", now)))

	got, err := st.Latest(ctx, task, "default")
	require.NoError(t, err)
	assert.Equal(t, "node-b", got.Node)
	assert.True(t, got.LastRun.Equal(now))

	_, err = st.Latest(ctx, task, "other")
	assert.ErrorIs(t, err, ErrNotFound)

	bucket := Bucket(now, time.Minute)
	won, err := st.Claim(ctx, domain.NewLease("node-a", task, "bucketed", now), bucket)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = st.Claim(ctx, domain.NewLease("node-b", task, "bucketed", now), bucket)
	require.NoError(t, err)
	assert.False(t, won)
}
