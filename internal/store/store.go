// Package store implements the durable backend for memories, knowledge,
// devices, sync operations, and conversations, plus a read-through caching
// fan-out over two such backends.
//
// Grounded on original_source/core/brain/storage/backends/sqlite.py for the
// schema and candidate-scan-then-rerank retrieval algorithm, and on
// beeper-ai-bridge's pkg/connector/memory_manager.go for the Go shape of a
// scan-then-score-in-process search (searchKeywordScan) and on
// pkg/textfs/store.go for the go.mau.fi/util/dbutil calling convention.
package store

import (
	"context"

	"github.com/commubrain/core/internal/model"
)

// Store is the storage-backend contract every implementation (the SQLite
// reference backend, the cached fan-out, any future remote backend) must
// satisfy. Point reads return (nil, nil) when a record is absent; NotFound
// is only ever surfaced as an *storeerr.Error for
// MarkSyncOperationResolved of an unknown id, per spec §7.
type Store interface {
	// Memories
	StoreMemory(ctx context.Context, m *model.Memory) error
	GetMemoryByID(ctx context.Context, id string) (*model.Memory, error)
	RetrieveMemories(ctx context.Context, query []float32, topK int, deviceFilter *string) ([]model.Memory, error)
	DeleteMemory(ctx context.Context, id string) error
	GetMemoryCount(ctx context.Context) (int, error)

	// Knowledge
	StoreKnowledge(ctx context.Context, k *model.Knowledge) error
	GetKnowledgeByID(ctx context.Context, id string) (*model.Knowledge, error)
	RetrieveKnowledge(ctx context.Context, query []float32, topK int, sourceFilter *string) ([]model.Knowledge, error)
	DeleteKnowledge(ctx context.Context, id string) error
	GetKnowledgeCount(ctx context.Context) (int, error)

	// Devices
	RegisterDevice(ctx context.Context, d *model.Device) error
	GetDevice(ctx context.Context, deviceID string) (*model.Device, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
	GetDeviceCount(ctx context.Context) (int, error)

	// Sync
	StoreSyncOperation(ctx context.Context, op *model.SyncOperation) error
	GetPendingSyncOperations(ctx context.Context, deviceID string) ([]model.SyncOperation, error)
	MarkSyncOperationResolved(ctx context.Context, operationID string) error

	// Conversations
	StoreConversation(ctx context.Context, conv *model.Conversation) error
	LoadConversation(ctx context.Context, sessionID string) (*model.Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]model.Conversation, error)
	DeleteConversation(ctx context.Context, sessionID string) error

	Close() error
}

// candidateMultiplier is the "at most 10*top_k" candidate-set size mandated
// by §4.1's ANN rule.
const candidateMultiplier = 10
