package convo

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commubrain/core/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", true, 0, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, zerolog.Nop()), s
}

func TestStartConversationGeneratesSessionID(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.StartConversation(context.Background(), "nano", "", "device-a")
	require.NoError(t, err)
	assert.Contains(t, id, "nano_")
}

func TestStartConversationUsesGivenSessionID(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.StartConversation(context.Background(), "nano", "fixed-session", "device-a")
	require.NoError(t, err)
	assert.Equal(t, "fixed-session", id)
}

// S5 — conversation lifecycle.
func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	sessionID, err := m.StartConversation(ctx, "nano", "", "device-a")
	require.NoError(t, err)

	_, err = m.AddTurn(ctx, sessionID, "u1", "b1", 10, nil)
	require.NoError(t, err)
	_, err = m.AddTurn(ctx, sessionID, "u2", "b2", 20, nil)
	require.NoError(t, err)

	summary, err := m.GetConversationSummary(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 30, summary.TotalTokens)
	assert.Equal(t, 2, summary.TotalTurns)
	assert.EqualValues(t, "active", summary.Status)

	require.NoError(t, m.EndConversation(ctx, sessionID))

	reloaded, err := s.LoadConversation(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.EqualValues(t, "completed", reloaded.Status)
	assert.NotNil(t, reloaded.EndTime)
}

func TestAddTurnOnUnknownSessionReconstructsChatbotName(t *testing.T) {
	m, _ := newTestManager(t)
	turn, err := m.AddTurn(context.Background(), "mynano_ab12cd34", "hi", "hello", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", turn.UserMessage)

	history, err := m.GetConversationHistory(context.Background(), "mynano_ab12cd34", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestAddTurnOnSessionWithoutUnderscoreFallsBackToUnknown(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.AddTurn(context.Background(), "nosuffix", "hi", "hello", 5, nil)
	require.NoError(t, err)

	summary, err := m.GetConversationSummary(context.Background(), "nosuffix")
	require.NoError(t, err)
	assert.Equal(t, "unknown", summary.ChatbotName)
}

// Invariant 6: get_conversation_history returns at most the last max_turns
// turns, and every turn when max_turns is 0.
func TestGetConversationHistoryReturnsBoundedPrefix(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sessionID, err := m.StartConversation(ctx, "nano", "", "device-a")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := m.AddTurn(ctx, sessionID, "u", "b", 1, nil)
		require.NoError(t, err)
	}

	history, err := m.GetConversationHistory(ctx, sessionID, 3)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	full, err := m.GetConversationHistory(ctx, sessionID, 0)
	require.NoError(t, err)
	assert.Len(t, full, 5)
}

// Invariant 7: concurrent add_turn on the same session produces no lost
// updates.
func TestConcurrentAddTurnNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sessionID, err := m.StartConversation(ctx, "nano", "", "device-a")
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := m.AddTurn(ctx, sessionID, "u", "b", 1, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := m.GetConversationHistory(ctx, sessionID, 0)
	require.NoError(t, err)
	assert.Len(t, history, n)
}

func TestEndConversationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sessionID, err := m.StartConversation(ctx, "nano", "", "device-a")
	require.NoError(t, err)

	require.NoError(t, m.EndConversation(ctx, sessionID))
	require.NoError(t, m.EndConversation(ctx, sessionID))
}

func TestListActiveAndAllConversationsDedup(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	s1, err := m.StartConversation(ctx, "nano", "", "device-a")
	require.NoError(t, err)
	_, err = m.StartConversation(ctx, "nano", "", "device-a")
	require.NoError(t, err)

	active := m.ListActiveConversations()
	assert.Len(t, active, 2)

	all, err := m.ListAllConversations(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, m.EndConversation(ctx, s1))
	activeAfterEnd := m.ListActiveConversations()
	assert.Len(t, activeAfterEnd, 1)
}

func TestListenerErrorIsSwallowed(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	called := false
	m.AddListener(func(evt Event) <-chan error {
		called = true
		ch := make(chan error, 1)
		ch <- assert.AnError
		return ch
	})

	_, err := m.StartConversation(ctx, "nano", "", "device-a")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestExportConversationSnapshotIncludesSummary(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sessionID, err := m.StartConversation(ctx, "nano", "", "device-a")
	require.NoError(t, err)
	_, err = m.AddTurn(ctx, sessionID, "u1", "b1", 7, nil)
	require.NoError(t, err)

	snap, err := m.ExportConversationSnapshot(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, snap.Summary.SessionID)
	assert.Len(t, snap.Conversation.Turns, 1)
}
