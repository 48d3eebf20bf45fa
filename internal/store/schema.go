package store

// schemaStatements creates all five entity tables and their indexes,
// idempotently. Field-for-field grounded on
// original_source/core/brain/storage/backends/sqlite.py, translated from
// CREATE TABLE IF NOT EXISTS into the same statements against
// go.mau.fi/util/dbutil's sqlite3 dialect.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user_message TEXT NOT NULL,
		bot_response TEXT NOT NULL,
		embedding BLOB NOT NULL,
		device_id TEXT NOT NULL,
		context TEXT,
		timestamp TEXT NOT NULL,
		relevance_score REAL DEFAULT 0.0,
		tags TEXT,
		metadata TEXT,
		created_at REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		source TEXT NOT NULL,
		device_id TEXT NOT NULL,
		chunk_index INTEGER DEFAULT 0,
		total_chunks INTEGER DEFAULT 1,
		timestamp TEXT NOT NULL,
		relevance_score REAL DEFAULT 0.0,
		tags TEXT,
		metadata TEXT,
		created_at REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		hardware_tier TEXT NOT NULL,
		capabilities TEXT,
		specialization TEXT,
		location TEXT,
		ip_address TEXT,
		hostname TEXT,
		last_seen TEXT NOT NULL,
		status TEXT NOT NULL,
		version TEXT,
		metadata TEXT,
		created_at REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_operations (
		operation_id TEXT PRIMARY KEY,
		operation_type TEXT NOT NULL,
		item_type TEXT NOT NULL,
		item_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		data TEXT,
		resolved INTEGER DEFAULT 0,
		created_at REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		session_id TEXT PRIMARY KEY,
		chatbot_name TEXT NOT NULL,
		device_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		status TEXT NOT NULL,
		metadata TEXT,
		turns TEXT,
		created_at REAL NOT NULL,
		updated_at REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_device ON memories(device_id)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_device ON knowledge(device_id)`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_source ON knowledge(source)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_device ON sync_operations(device_id, resolved)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_resolved ON sync_operations(resolved)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_device ON conversations(device_id)`,
}

// walPragmas are applied only when storage.enable_wal is set.
var walPragmas = []string{
	`PRAGMA journal_mode=WAL`,
}
