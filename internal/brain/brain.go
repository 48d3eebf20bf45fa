// Package brain implements the communal brain façade (C5): the single
// entry point client code calls, composing storage, the device registry,
// the conversation manager, and the optional summarizer/sync workers.
//
// Grounded on spec.md §4.4 / SPEC_FULL.md §4.4 for the public surface and
// the heartbeat-on-every-write discipline, and on beeper-ai-bridge's
// pkg/connector/memory_manager.go for the shape of a façade that owns a
// storage backend plus derived in-process caches/workers behind one
// constructor-injected struct.
package brain

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/commubrain/core/internal/convo"
	"github.com/commubrain/core/internal/device"
	"github.com/commubrain/core/internal/model"
	"github.com/commubrain/core/internal/storeerr"
	"github.com/commubrain/core/internal/store"
	"github.com/commubrain/core/internal/summarizer"
	"github.com/commubrain/core/internal/syncworker"
)

// Summarizer is the subset of *summarizer.Worker the façade depends on;
// declared as an interface so Brain can be built without one wired in.
type Summarizer interface {
	StartBackgroundMonitoring(ctx context.Context) error
	StopBackgroundMonitoring()
	SummarizeOnStartup(ctx context.Context) error
	CheckContextSize(ctx context.Context, text string) (bool, *string, error)
	Stats() summarizer.Stats
}

// SyncWorker is the subset of *syncworker.Worker the façade depends on.
type SyncWorker interface {
	Start(ctx context.Context)
	Stop()
	Enqueue(ctx context.Context, opType model.SyncOperationType, itemType model.SyncItemType, itemID string, data map[string]any) error
}

// Brain is the communal brain façade. Construct with New, then call
// Initialize before any other operation.
type Brain struct {
	backend     store.Store
	convo       *convo.Manager
	summarizer  Summarizer
	sync        SyncWorker
	log         zerolog.Logger
	hardware    device.HardwareProbe
	version     string

	deviceIDOverride string

	mu          sync.RWMutex
	initialized bool
	thisDevice  *model.Device
}

// Option configures optional collaborators at construction time.
type Option func(*Brain)

// WithSummarizer wires a summarizer worker; Initialize starts it and
// CheckContextSize delegates to it.
func WithSummarizer(s Summarizer) Option {
	return func(b *Brain) { b.summarizer = s }
}

// WithSyncWorker wires a sync worker; Initialize starts it and StoreMemory
// and StoreKnowledge enqueue a change record through it.
func WithSyncWorker(s SyncWorker) Option {
	return func(b *Brain) { b.sync = s }
}

// WithHardwareProbe overrides the default runtime-derived hardware probe
// used for device registration.
func WithHardwareProbe(p device.HardwareProbe) Option {
	return func(b *Brain) { b.hardware = p }
}

// WithDeviceID overrides the generated device id, e.g. so a caller can
// share the same id with a separately-constructed sync worker.
func WithDeviceID(id string) Option {
	return func(b *Brain) { b.deviceIDOverride = id }
}

// New constructs a Brain backed by backend and a conversation manager
// derived from it.
func New(backend store.Store, log zerolog.Logger, version string, opts ...Option) *Brain {
	log = log.With().Str("component", "brain").Logger()
	b := &Brain{
		backend:  backend,
		convo:    convo.New(backend, log),
		log:      log,
		hardware: device.LocalHardwareProbe(),
		version:  version,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Conversations exposes the conversation manager for delegation methods;
// the façade otherwise keeps it unexported to enforce Initialize gating on
// device/memory/knowledge operations.
func (b *Brain) Conversations() *convo.Manager { return b.convo }

func (b *Brain) requireInitialized() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.initialized {
		return storeerr.New(storeerr.NotInitialized, "brain has not been initialized", nil)
	}
	return nil
}

// Initialize opens storage (already open at construction time in this
// implementation), registers this device, and starts the summarizer/sync
// workers if wired. Idempotent.
func (b *Brain) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.initialized {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	tier := device.DetectHardwareTier(b.hardware)
	hasGPU := device.DetectGPU()
	caps := device.DetectCapabilities(b.hardware, hasGPU, hasGPU)
	deviceID := b.deviceIDOverride
	if deviceID == "" {
		deviceID = device.GenerateDeviceID()
	}
	dev := device.CreateDeviceContext(deviceID, tier, caps, b.version)

	if err := b.backend.RegisterDevice(ctx, dev); err != nil {
		return fmt.Errorf("register device on initialize: %w", err)
	}

	if b.summarizer != nil {
		if err := b.summarizer.StartBackgroundMonitoring(ctx); err != nil {
			return fmt.Errorf("start summarizer: %w", err)
		}
		if err := b.summarizer.SummarizeOnStartup(ctx); err != nil {
			b.log.Error().Err(err).Msg("startup summarization sweep failed")
		}
	}
	if b.sync != nil {
		b.sync.Start(ctx)
	}

	b.mu.Lock()
	b.thisDevice = dev
	b.initialized = true
	b.mu.Unlock()
	return nil
}

// Close stops any wired workers and closes storage. After Close, every
// operation fails with NotInitialized until Initialize is called again.
func (b *Brain) Close() error {
	b.mu.Lock()
	b.initialized = false
	b.mu.Unlock()

	if b.summarizer != nil {
		b.summarizer.StopBackgroundMonitoring()
	}
	if b.sync != nil {
		b.sync.Stop()
	}
	return b.backend.Close()
}

// StoreMemory writes a new memory owned by this device and refreshes its
// heartbeat.
func (b *Brain) StoreMemory(ctx context.Context, userMessage, botResponse string, embedding []float32, memContext string, tags []string, metadata map[string]any) (string, error) {
	if err := b.requireInitialized(); err != nil {
		return "", err
	}

	b.mu.RLock()
	deviceID := b.thisDevice.DeviceID
	b.mu.RUnlock()

	m := &model.Memory{
		ID:          uuid.NewString(),
		DeviceID:    deviceID,
		UserMessage: userMessage,
		BotResponse: botResponse,
		Context:     memContext,
		Embedding:   embedding,
		Tags:        tags,
		Metadata:    metadata,
	}
	if err := b.backend.StoreMemory(ctx, m); err != nil {
		return "", fmt.Errorf("store memory: %w", err)
	}

	if b.sync != nil {
		if err := b.sync.Enqueue(ctx, model.SyncCreate, model.SyncItemMemory, m.ID, nil); err != nil {
			b.log.Error().Err(err).Str("memory_id", m.ID).Msg("enqueue sync operation failed")
		}
	}

	b.touchDevice(ctx, deviceID)
	return m.ID, nil
}

// touchDevice re-registers deviceID, refreshing its last_seen heartbeat.
// Called on every write path, matching the teacher's per-write last_seen
// refresh pattern in its device/session bookkeeping.
func (b *Brain) touchDevice(ctx context.Context, deviceID string) {
	dev, err := b.backend.GetDevice(ctx, deviceID)
	if err != nil || dev == nil {
		return
	}
	dev.Status = model.DeviceOnline
	if err := b.backend.RegisterDevice(ctx, dev); err != nil {
		b.log.Error().Err(err).Str("device_id", deviceID).Msg("heartbeat refresh failed")
	}
}

// RetrieveMemories asks storage for 2*topK candidates, filters by
// minSimilarity in the façade (the resolved Open Question), and returns
// the first topK.
func (b *Brain) RetrieveMemories(ctx context.Context, query []float32, topK int, deviceFilter *string, minSimilarity float64) ([]model.Memory, error) {
	if err := b.requireInitialized(); err != nil {
		return nil, err
	}
	candidates, err := b.backend.RetrieveMemories(ctx, query, topK*2, deviceFilter)
	if err != nil {
		return nil, fmt.Errorf("retrieve memories: %w", err)
	}
	return filterAndCap(candidates, topK, minSimilarity, func(m model.Memory) float64 { return m.RelevanceScore }), nil
}

// StoreKnowledge writes a new knowledge chunk.
func (b *Brain) StoreKnowledge(ctx context.Context, content, source string, chunkIndex, totalChunks int, embedding []float32, tags []string, metadata map[string]any) (string, error) {
	if err := b.requireInitialized(); err != nil {
		return "", err
	}

	b.mu.RLock()
	deviceID := b.thisDevice.DeviceID
	b.mu.RUnlock()

	k := &model.Knowledge{
		ID:          uuid.NewString(),
		DeviceID:    deviceID,
		Content:     content,
		Source:      source,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		Embedding:   embedding,
		Tags:        tags,
		Metadata:    metadata,
	}
	if err := b.backend.StoreKnowledge(ctx, k); err != nil {
		return "", fmt.Errorf("store knowledge: %w", err)
	}

	if b.sync != nil {
		if err := b.sync.Enqueue(ctx, model.SyncCreate, model.SyncItemKnowledge, k.ID, nil); err != nil {
			b.log.Error().Err(err).Str("knowledge_id", k.ID).Msg("enqueue sync operation failed")
		}
	}

	b.touchDevice(ctx, deviceID)
	return k.ID, nil
}

// RetrieveKnowledge asks storage for 2*topK candidates, filters by
// minSimilarity, and returns the first topK.
func (b *Brain) RetrieveKnowledge(ctx context.Context, query []float32, topK int, sourceFilter *string, minSimilarity float64) ([]model.Knowledge, error) {
	if err := b.requireInitialized(); err != nil {
		return nil, err
	}
	candidates, err := b.backend.RetrieveKnowledge(ctx, query, topK*2, sourceFilter)
	if err != nil {
		return nil, fmt.Errorf("retrieve knowledge: %w", err)
	}
	return filterAndCap(candidates, topK, minSimilarity, func(k model.Knowledge) float64 { return k.RelevanceScore }), nil
}

// filterAndCap drops entries below minSimilarity and truncates to topK,
// preserving the backend's ordering (already sorted by relevance desc).
func filterAndCap[T any](items []T, topK int, minSimilarity float64, score func(T) float64) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if score(item) < minSimilarity {
			continue
		}
		out = append(out, item)
		if len(out) == topK {
			break
		}
	}
	return out
}

// ListDevices returns every registered device.
func (b *Brain) ListDevices(ctx context.Context) ([]model.Device, error) {
	if err := b.requireInitialized(); err != nil {
		return nil, err
	}
	devices, err := b.backend.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// GetDevice returns the registry record for deviceID, or nil if absent.
func (b *Brain) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	if err := b.requireInitialized(); err != nil {
		return nil, err
	}
	dev, err := b.backend.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", deviceID, err)
	}
	return dev, nil
}

// UpdateDeviceContext re-registers dev, e.g. after a capability or status
// change.
func (b *Brain) UpdateDeviceContext(ctx context.Context, dev *model.Device) error {
	if err := b.requireInitialized(); err != nil {
		return err
	}
	if err := b.backend.RegisterDevice(ctx, dev); err != nil {
		return fmt.Errorf("update device context for %s: %w", dev.DeviceID, err)
	}
	return nil
}

// MemoryStats is the diagnostic snapshot returned by GetMemoryStats.
type MemoryStats struct {
	MemoryCount    int
	KnowledgeCount int
	DeviceCount    int
	Devices        []model.Device
	ThisDevice     model.Device
}

// GetMemoryStats reports aggregate counts plus the device roster.
func (b *Brain) GetMemoryStats(ctx context.Context) (*MemoryStats, error) {
	if err := b.requireInitialized(); err != nil {
		return nil, err
	}

	memCount, err := b.backend.GetMemoryCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	knowledgeCount, err := b.backend.GetKnowledgeCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count knowledge: %w", err)
	}
	deviceCount, err := b.backend.GetDeviceCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}
	devices, err := b.backend.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	b.mu.RLock()
	thisDevice := *b.thisDevice
	b.mu.RUnlock()

	return &MemoryStats{
		MemoryCount:    memCount,
		KnowledgeCount: knowledgeCount,
		DeviceCount:    deviceCount,
		Devices:        devices,
		ThisDevice:     thisDevice,
	}, nil
}

// CheckContextSize delegates to the wired summarizer; with none wired it
// reports (false, nil).
func (b *Brain) CheckContextSize(ctx context.Context, text string) (bool, *string, error) {
	if err := b.requireInitialized(); err != nil {
		return false, nil, err
	}
	if b.summarizer == nil {
		return false, nil, nil
	}
	return b.summarizer.CheckContextSize(ctx, text)
}
