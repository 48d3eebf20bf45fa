package brain

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commubrain/core/internal/device"
	"github.com/commubrain/core/internal/store"
)

func newTestBrain(t *testing.T) *Brain {
	t.Helper()
	backend, err := store.Open(context.Background(), ":memory:", true, 0, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	b := New(backend, zerolog.Nop(), "test-version", WithHardwareProbe(device.HardwareProbe{Cores: 4, MemoryBytes: 8 << 30}))
	require.NoError(t, b.Initialize(context.Background()))
	return b
}

func TestOperationsFailBeforeInitialize(t *testing.T) {
	backend, err := store.Open(context.Background(), ":memory:", true, 0, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	b := New(backend, zerolog.Nop(), "test-version")
	_, err = b.StoreMemory(context.Background(), "hi", "hello", []float32{1, 0}, "", nil, nil)
	assert.Error(t, err)
}

func TestInitializeIsIdempotent(t *testing.T) {
	b := newTestBrain(t)
	require.NoError(t, b.Initialize(context.Background()))
}

func TestOperationsFailAfterClose(t *testing.T) {
	b := newTestBrain(t)
	require.NoError(t, b.Close())

	_, err := b.StoreMemory(context.Background(), "hi", "hello", []float32{1, 0}, "", nil, nil)
	assert.Error(t, err)
}

func TestStoreAndRetrieveMemoriesAppliesMinSimilarity(t *testing.T) {
	ctx := context.Background()
	b := newTestBrain(t)

	_, err := b.StoreMemory(ctx, "u1", "b1", []float32{1, 0}, "", nil, nil)
	require.NoError(t, err)
	_, err = b.StoreMemory(ctx, "u2", "b2", []float32{0, 1}, "", nil, nil)
	require.NoError(t, err)

	results, err := b.RetrieveMemories(ctx, []float32{1, 0}, 5, nil, 0.9)
	require.NoError(t, err)
	for _, m := range results {
		assert.GreaterOrEqual(t, m.RelevanceScore, 0.9)
	}
	assert.NotEmpty(t, results)
}

func TestRetrieveMemoriesCapsAtTopK(t *testing.T) {
	ctx := context.Background()
	b := newTestBrain(t)
	for i := 0; i < 5; i++ {
		_, err := b.StoreMemory(ctx, "u", "b", []float32{1, 0}, "", nil, nil)
		require.NoError(t, err)
	}
	results, err := b.RetrieveMemories(ctx, []float32{1, 0}, 2, nil, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStoreAndRetrieveKnowledge(t *testing.T) {
	ctx := context.Background()
	b := newTestBrain(t)
	_, err := b.StoreKnowledge(ctx, "lorem ipsum", "doc.txt", 0, 1, []float32{1, 0}, nil, nil)
	require.NoError(t, err)

	results, err := b.RetrieveKnowledge(ctx, []float32{1, 0}, 5, nil, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestGetMemoryStats(t *testing.T) {
	ctx := context.Background()
	b := newTestBrain(t)
	_, err := b.StoreMemory(ctx, "u", "b", []float32{1, 0}, "", nil, nil)
	require.NoError(t, err)

	stats, err := b.GetMemoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoryCount)
	assert.Equal(t, 1, stats.DeviceCount)
	assert.NotEmpty(t, stats.ThisDevice.DeviceID)
}

func TestCheckContextSizeWithoutSummarizerReturnsFalse(t *testing.T) {
	ctx := context.Background()
	b := newTestBrain(t)
	needs, summary, err := b.CheckContextSize(ctx, "short")
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Nil(t, summary)
}

func TestListAndGetDevice(t *testing.T) {
	ctx := context.Background()
	b := newTestBrain(t)

	devices, err := b.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	dev, err := b.GetDevice(ctx, devices[0].DeviceID)
	require.NoError(t, err)
	require.NotNil(t, dev)
	assert.Equal(t, devices[0].DeviceID, dev.DeviceID)
}

func TestConversationsDelegatesToManager(t *testing.T) {
	ctx := context.Background()
	b := newTestBrain(t)

	sessionID, err := b.Conversations().StartConversation(ctx, "nano", "", "device-a")
	require.NoError(t, err)
	assert.Contains(t, sessionID, "nano_")
}
