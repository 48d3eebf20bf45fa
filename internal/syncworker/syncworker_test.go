package syncworker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commubrain/core/internal/model"
	"github.com/commubrain/core/internal/store"
)

func newTestBackend(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", true, 0, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestParseScheduleAcceptsPlainSeconds(t *testing.T) {
	sched, err := parseSchedule("30")
	require.NoError(t, err)
	next := sched.Next(time.Now())
	assert.WithinDuration(t, time.Now().Add(30*time.Second), next, 2*time.Second)
}

func TestParseScheduleAcceptsCronDescriptor(t *testing.T) {
	sched, err := parseSchedule("@every 1m")
	require.NoError(t, err)
	next := sched.Next(time.Now())
	assert.WithinDuration(t, time.Now().Add(time.Minute), next, 2*time.Second)
}

func TestParseScheduleDefaultsWhenEmpty(t *testing.T) {
	sched, err := parseSchedule("")
	require.NoError(t, err)
	assert.NotNil(t, sched)
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	_, err := parseSchedule("not a schedule at all !!!")
	assert.Error(t, err)
}

func TestEnqueueStoresPendingOperation(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	w, err := New("device-a", backend, "30", nil, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, w.Enqueue(ctx, model.SyncCreate, model.SyncItemMemory, "mem-1", map[string]any{"k": "v"}))

	pending, err := backend.GetPendingSyncOperations(ctx, "device-a")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "mem-1", pending[0].ItemID)
	assert.False(t, pending[0].Resolved)
}

func TestTickInvokesPerformSyncAndSurvivesError(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	var calls int32
	performSync := func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return assert.AnError
	}
	w, err := New("device-a", backend, "30", performSync, zerolog.Nop())
	require.NoError(t, err)

	err = w.tick(ctx)
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestStartStopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	w, err := New("device-a", backend, "@every 1h", nil, zerolog.Nop())
	require.NoError(t, err)

	w.Start(ctx)
	w.Start(ctx)
	assert.True(t, w.running)

	w.Stop()
	w.Stop()
	assert.False(t, w.running)
}
