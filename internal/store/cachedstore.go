package store

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/commubrain/core/internal/model"
)

// CachedStore fans a Store contract out over one primary backend and an
// optional cache backend. Writes go to primary first; the cache write is
// best-effort and its errors are logged, never surfaced. Similarity reads
// try the cache first; a non-empty result is returned as-is, otherwise the
// primary is queried and the cache is opportunistically repopulated one
// record at a time. Point reads and mutations always bypass the cache.
// There is no reconciliation: the cache is strictly read-through and is
// expected to be reseeded from primary when it runs cold.
//
// Grounded on spec §4.2 and the resolved Open Question in DESIGN.md (the
// teacher's StorageAbstraction cache path is declared but never populated
// in the original source; here it is implemented as described).
type CachedStore struct {
	primary Store
	cache   Store // nil disables caching entirely
	log     zerolog.Logger
}

// NewCachedStore wraps primary with an optional cache backend. cache may be
// nil, in which case every operation passes straight through to primary.
func NewCachedStore(primary Store, cache Store, log zerolog.Logger) *CachedStore {
	return &CachedStore{primary: primary, cache: cache, log: log.With().Str("component", "cached_store").Logger()}
}

func (c *CachedStore) StoreMemory(ctx context.Context, m *model.Memory) error {
	if err := c.primary.StoreMemory(ctx, m); err != nil {
		return err
	}
	c.bestEffortCacheWrite(func() error { return c.cache.StoreMemory(ctx, m) })
	return nil
}

func (c *CachedStore) GetMemoryByID(ctx context.Context, id string) (*model.Memory, error) {
	return c.primary.GetMemoryByID(ctx, id)
}

func (c *CachedStore) RetrieveMemories(ctx context.Context, query []float32, topK int, deviceFilter *string) ([]model.Memory, error) {
	if c.cache != nil {
		cached, err := c.cache.RetrieveMemories(ctx, query, topK, deviceFilter)
		if err == nil && len(cached) > 0 {
			return cached, nil
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("cache retrieve memories failed, falling back to primary")
		}
	}
	results, err := c.primary.RetrieveMemories(ctx, query, topK, deviceFilter)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		for i := range results {
			m := results[i]
			c.bestEffortCacheWrite(func() error { return c.cache.StoreMemory(ctx, &m) })
		}
	}
	return results, nil
}

func (c *CachedStore) DeleteMemory(ctx context.Context, id string) error {
	return c.primary.DeleteMemory(ctx, id)
}

func (c *CachedStore) GetMemoryCount(ctx context.Context) (int, error) {
	return c.primary.GetMemoryCount(ctx)
}

func (c *CachedStore) StoreKnowledge(ctx context.Context, k *model.Knowledge) error {
	if err := c.primary.StoreKnowledge(ctx, k); err != nil {
		return err
	}
	c.bestEffortCacheWrite(func() error { return c.cache.StoreKnowledge(ctx, k) })
	return nil
}

func (c *CachedStore) GetKnowledgeByID(ctx context.Context, id string) (*model.Knowledge, error) {
	return c.primary.GetKnowledgeByID(ctx, id)
}

func (c *CachedStore) RetrieveKnowledge(ctx context.Context, query []float32, topK int, sourceFilter *string) ([]model.Knowledge, error) {
	if c.cache != nil {
		cached, err := c.cache.RetrieveKnowledge(ctx, query, topK, sourceFilter)
		if err == nil && len(cached) > 0 {
			return cached, nil
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("cache retrieve knowledge failed, falling back to primary")
		}
	}
	results, err := c.primary.RetrieveKnowledge(ctx, query, topK, sourceFilter)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		for i := range results {
			k := results[i]
			c.bestEffortCacheWrite(func() error { return c.cache.StoreKnowledge(ctx, &k) })
		}
	}
	return results, nil
}

func (c *CachedStore) DeleteKnowledge(ctx context.Context, id string) error {
	return c.primary.DeleteKnowledge(ctx, id)
}

func (c *CachedStore) GetKnowledgeCount(ctx context.Context) (int, error) {
	return c.primary.GetKnowledgeCount(ctx)
}

func (c *CachedStore) RegisterDevice(ctx context.Context, d *model.Device) error {
	return c.primary.RegisterDevice(ctx, d)
}

func (c *CachedStore) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	return c.primary.GetDevice(ctx, deviceID)
}

func (c *CachedStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	return c.primary.ListDevices(ctx)
}

func (c *CachedStore) GetDeviceCount(ctx context.Context) (int, error) {
	return c.primary.GetDeviceCount(ctx)
}

func (c *CachedStore) StoreSyncOperation(ctx context.Context, op *model.SyncOperation) error {
	return c.primary.StoreSyncOperation(ctx, op)
}

func (c *CachedStore) GetPendingSyncOperations(ctx context.Context, deviceID string) ([]model.SyncOperation, error) {
	return c.primary.GetPendingSyncOperations(ctx, deviceID)
}

func (c *CachedStore) MarkSyncOperationResolved(ctx context.Context, operationID string) error {
	return c.primary.MarkSyncOperationResolved(ctx, operationID)
}

func (c *CachedStore) StoreConversation(ctx context.Context, conv *model.Conversation) error {
	return c.primary.StoreConversation(ctx, conv)
}

func (c *CachedStore) LoadConversation(ctx context.Context, sessionID string) (*model.Conversation, error) {
	return c.primary.LoadConversation(ctx, sessionID)
}

func (c *CachedStore) ListConversations(ctx context.Context, limit int) ([]model.Conversation, error) {
	return c.primary.ListConversations(ctx, limit)
}

func (c *CachedStore) DeleteConversation(ctx context.Context, sessionID string) error {
	return c.primary.DeleteConversation(ctx, sessionID)
}

func (c *CachedStore) Close() error {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.log.Warn().Err(err).Msg("cache close failed")
		}
	}
	return c.primary.Close()
}

func (c *CachedStore) bestEffortCacheWrite(write func() error) {
	if c.cache == nil {
		return
	}
	if err := write(); err != nil {
		c.log.Warn().Err(err).Msg("cache write failed")
	}
}

var _ Store = (*CachedStore)(nil)
var _ Store = (*SQLiteStore)(nil)
