package retention

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/config"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

func seedTombstones(t *testing.T, st *store.Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		m := models.Message{ConversationID: "c1", SenderID: "u1", Text: fmt.Sprintf("m%d", i)}
		require.NoError(t, st.AppendMessage(ctx, &m))
		require.NoError(t, st.TombstoneMessage("c1", m.ID))
	}
}

func TestRunOncePurgesOldTombstones(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	seedTombstones(t, st, 5)

	// a period of one nanosecond makes every tombstone already expired
	s := New(st, config.RetentionConfig{Enabled: true, Period: config.Duration(time.Nanosecond), BatchSize: 2})
	require.NoError(t, s.RunOnce(context.Background()))

	left, err := st.ListTombstones(time.Now().Add(time.Hour).UnixNano(), 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRunOnceKeepsRecentTombstones(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	seedTombstones(t, st, 3)

	s := New(st, config.RetentionConfig{Enabled: true, Period: config.Duration(24 * time.Hour)})
	require.NoError(t, s.RunOnce(context.Background()))

	left, err := st.ListTombstones(time.Now().Add(time.Hour).UnixNano(), 0)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestRunOnceDryRun(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	seedTombstones(t, st, 2)

	s := New(st, config.RetentionConfig{Enabled: true, Period: config.Duration(time.Nanosecond), DryRun: true})
	require.NoError(t, s.RunOnce(context.Background()))

	left, err := st.ListTombstones(time.Now().Add(time.Hour).UnixNano(), 0)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestRunOnceRejectsZeroPeriod(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	s := New(st, config.RetentionConfig{Enabled: true})
	assert.Error(t, s.RunOnce(context.Background()))
}

func TestStartDisabledIsNoop(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	s := New(st, config.RetentionConfig{})
	cancel, err := s.Start(context.Background())
	require.NoError(t, err)
	cancel()
}

func TestStartRejectsBadCron(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	s := New(st, config.RetentionConfig{Enabled: true, Period: config.Duration(time.Hour), Cron: "not a cron"})
	_, err = s.Start(context.Background())
	assert.Error(t, err)
}
