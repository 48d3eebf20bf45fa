package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/commubrain/core/internal/model"
	"github.com/commubrain/core/internal/vecmath"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", true, 0, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := &model.Memory{
		ID:          "mem-1",
		DeviceID:    "device-a",
		UserMessage: "hello",
		BotResponse: "hi there",
		Embedding:   []float32{0.1, 0.2, 0.3},
		Timestamp:   time.Now().UTC(),
		Tags:        []string{"greeting"},
		Metadata:    map[string]any{"k": "v"},
	}
	require.NoError(t, s.StoreMemory(ctx, m))

	got, err := s.GetMemoryByID(ctx, "mem-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, m.UserMessage, got.UserMessage)
	require.Equal(t, m.Embedding, got.Embedding)
	require.Equal(t, []string{"greeting"}, got.Tags)
}

func TestStoreMemoryUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := &model.Memory{ID: "mem-1", DeviceID: "a", UserMessage: "v1", BotResponse: "r1", Embedding: []float32{1, 0}, Timestamp: time.Now().UTC()}
	require.NoError(t, s.StoreMemory(ctx, m))
	m.UserMessage = "v2"
	require.NoError(t, s.StoreMemory(ctx, m))

	got, err := s.GetMemoryByID(ctx, "mem-1")
	require.NoError(t, err)
	require.Equal(t, "v2", got.UserMessage)
	count, err := s.GetMemoryCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

// S2 — Retrieval ranking.
func TestRetrieveMemoriesRanking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e1 := vecmath.Normalize([]float32{1, 0})
	e2 := vecmath.Normalize([]float32{0.9, 0.1})
	e3 := vecmath.Normalize([]float32{0, 1})
	base := time.Now().UTC()
	require.NoError(t, s.StoreMemory(ctx, &model.Memory{ID: "e1", DeviceID: "A", UserMessage: "u1", BotResponse: "b1", Embedding: e1, Timestamp: base}))
	require.NoError(t, s.StoreMemory(ctx, &model.Memory{ID: "e2", DeviceID: "A", UserMessage: "u2", BotResponse: "b2", Embedding: e2, Timestamp: base.Add(time.Second)}))
	require.NoError(t, s.StoreMemory(ctx, &model.Memory{ID: "e3", DeviceID: "A", UserMessage: "u3", BotResponse: "b3", Embedding: e3, Timestamp: base.Add(2 * time.Second)}))

	results, err := s.RetrieveMemories(ctx, vecmath.Normalize([]float32{1, 0}), 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "e1", results[0].ID)
	require.Equal(t, "e2", results[1].ID)
	require.Greater(t, results[0].RelevanceScore, results[1].RelevanceScore)
}

// S3 — Device filter.
func TestRetrieveMemoriesDeviceFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := vecmath.Normalize([]float32{1, 0})
	require.NoError(t, s.StoreMemory(ctx, &model.Memory{ID: "a1", DeviceID: "A", UserMessage: "u", BotResponse: "b", Embedding: e, Timestamp: time.Now().UTC()}))
	require.NoError(t, s.StoreMemory(ctx, &model.Memory{ID: "b1", DeviceID: "B", UserMessage: "u", BotResponse: "b", Embedding: e, Timestamp: time.Now().UTC()}))

	filter := "B"
	results, err := s.RetrieveMemories(ctx, e, 5, &filter)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b1", results[0].ID)
	require.Equal(t, "B", results[0].DeviceID)
}

func TestKnowledgeRoundTripAndSourceFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := vecmath.Normalize([]float32{1, 0, 0})
	require.NoError(t, s.StoreKnowledge(ctx, &model.Knowledge{ID: "k1", DeviceID: "A", Content: "doc one", Source: "s1.txt", Embedding: e, Timestamp: time.Now().UTC(), TotalChunks: 1}))
	require.NoError(t, s.StoreKnowledge(ctx, &model.Knowledge{ID: "k2", DeviceID: "A", Content: "doc two", Source: "s2.txt", Embedding: e, Timestamp: time.Now().UTC(), TotalChunks: 1}))

	filter := "s2.txt"
	results, err := s.RetrieveKnowledge(ctx, e, 5, &filter)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "k2", results[0].ID)
}

func TestDeviceRegisterAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.RegisterDevice(ctx, &model.Device{
		DeviceID:     "dev-1",
		HardwareTier: model.TierLaptop,
		Capabilities: []string{"network"},
		Status:       model.DeviceOnline,
		LastSeen:     time.Now().UTC(),
	}))
	got, err := s.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, model.TierLaptop, got.HardwareTier)

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
}

// S7 — Sync queue.
func TestSyncOperationQueueOrderingAndResolution(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Now().UTC()
	ids := []string{"op-1", "op-2", "op-3"}
	for i, id := range ids {
		require.NoError(t, s.StoreSyncOperation(ctx, &model.SyncOperation{
			OperationID:   id,
			OperationType: model.SyncCreate,
			ItemType:      model.SyncItemMemory,
			ItemID:        "mem-" + id,
			DeviceID:      "A",
			Timestamp:     base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	pending, err := s.GetPendingSyncOperations(ctx, "A")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, ids, []string{pending[0].OperationID, pending[1].OperationID, pending[2].OperationID})

	require.NoError(t, s.MarkSyncOperationResolved(ctx, "op-2"))
	pending, err = s.GetPendingSyncOperations(ctx, "A")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, []string{"op-1", "op-3"}, []string{pending[0].OperationID, pending[1].OperationID})
}

func TestMarkSyncOperationResolvedUnknownIDErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.MarkSyncOperationResolved(ctx, "does-not-exist")
	require.Error(t, err)
}

func TestConversationStoreLoadListDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv := &model.Conversation{
		SessionID:   "sess-1",
		ChatbotName: "nano",
		DeviceID:    "A",
		StartTime:   time.Now().UTC(),
		Status:      model.ConversationActive,
		Turns: []model.Turn{
			{TurnID: "t1", Timestamp: time.Now().UTC(), UserMessage: "hi", BotResponse: "hello", TokensUsed: 5},
		},
	}
	require.NoError(t, s.StoreConversation(ctx, conv))

	got, err := s.LoadConversation(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Turns, 1)
	require.Equal(t, "hi", got.Turns[0].UserMessage)

	list, err := s.ListConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteConversation(ctx, "sess-1"))
	got, err = s.LoadConversation(ctx, "sess-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetMemoryByIDNotFoundReturnsNilNoError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	got, err := s.GetMemoryByID(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}
