package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/commubrain/core/internal/model"
	"github.com/commubrain/core/internal/storeerr"
	"github.com/commubrain/core/internal/vecmath"
)

// SQLiteStore is the reference Store backend: a single SQLite file with
// WAL journaling and a configurable page cache, storing embeddings as
// packed little-endian float32 blobs and doing brute-force candidate-scan
// similarity search in process.
//
// Grounded on original_source/core/brain/storage/backends/sqlite.py.
type SQLiteStore struct {
	db  *dbutil.Database
	log zerolog.Logger
}

// Open creates (if absent) and opens a SQLite-backed Store at path, applies
// the schema, and optionally enables WAL with the given page cache size
// (negative values mean KiB, matching SQLite's own cache_size pragma
// convention, per spec §6's storage.cache_size option).
func Open(ctx context.Context, path string, enableWAL bool, cacheSize int, log zerolog.Logger) (*SQLiteStore, error) {
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeerr.New(storeerr.StorageFatal, "open sqlite database", err)
	}
	db, err := dbutil.NewWithDB(raw, "sqlite3")
	if err != nil {
		return nil, storeerr.New(storeerr.StorageFatal, "wrap sqlite database", err)
	}
	s := &SQLiteStore{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.ensureSchema(ctx, enableWAL, cacheSize); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context, enableWAL bool, cacheSize int) error {
	if enableWAL {
		for _, p := range walPragmas {
			if _, err := s.db.Exec(ctx, p); err != nil {
				return storeerr.New(storeerr.StorageFatal, "apply wal pragma", err)
			}
		}
	}
	if cacheSize != 0 {
		if _, err := s.db.Exec(ctx, fmt.Sprintf("PRAGMA cache_size=%d", cacheSize)); err != nil {
			return storeerr.New(storeerr.StorageFatal, "apply cache_size pragma", err)
		}
	}
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return storeerr.New(storeerr.StorageFatal, "apply schema", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.RawDB.Close()
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSONOrEmpty[T any](raw sql.NullString, out *T) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), out)
}

// --- Memories ---------------------------------------------------------

func (s *SQLiteStore) StoreMemory(ctx context.Context, m *model.Memory) error {
	if m.ID == "" {
		return storeerr.New(storeerr.InvalidArgument, "memory id required", nil)
	}
	tagsJSON, err := marshalJSON(m.Tags)
	if err != nil {
		return storeerr.New(storeerr.InvalidArgument, "encode tags", err)
	}
	metaJSON, err := marshalJSON(m.Metadata)
	if err != nil {
		return storeerr.New(storeerr.InvalidArgument, "encode metadata", err)
	}
	blob := vecmath.EncodeVector(m.Embedding)
	_, err = s.db.Exec(ctx, `
		INSERT INTO memories (id, user_message, bot_response, embedding, device_id, context, timestamp, relevance_score, tags, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			user_message=excluded.user_message,
			bot_response=excluded.bot_response,
			embedding=excluded.embedding,
			device_id=excluded.device_id,
			context=excluded.context,
			timestamp=excluded.timestamp,
			tags=excluded.tags,
			metadata=excluded.metadata
	`, m.ID, m.UserMessage, m.BotResponse, blob, m.DeviceID, m.Context, m.Timestamp.Format(time.RFC3339Nano), 0.0, tagsJSON, metaJSON, nowEpoch())
	if err != nil {
		return storeerr.New(storeerr.StorageTransient, "upsert memory", err)
	}
	return nil
}

func (s *SQLiteStore) GetMemoryByID(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRow(ctx, `SELECT id, user_message, bot_response, embedding, device_id, context, timestamp, tags, metadata FROM memories WHERE id=$1`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "get memory by id", err)
	}
	return m, nil
}

func scanMemory(row *sql.Row) (*model.Memory, error) {
	var m model.Memory
	var blob []byte
	var ctxStr sql.NullString
	var ts string
	var tags, meta sql.NullString
	if err := row.Scan(&m.ID, &m.UserMessage, &m.BotResponse, &blob, &m.DeviceID, &ctxStr, &ts, &tags, &meta); err != nil {
		return nil, err
	}
	m.Context = ctxStr.String
	m.Embedding = vecmath.DecodeVector(blob)
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err == nil {
		m.Timestamp = parsed
	}
	_ = unmarshalJSONOrEmpty(tags, &m.Tags)
	_ = unmarshalJSONOrEmpty(meta, &m.Metadata)
	return &m, nil
}

func (s *SQLiteStore) RetrieveMemories(ctx context.Context, query []float32, topK int, deviceFilter *string) ([]model.Memory, error) {
	limit := topK * candidateMultiplier
	var rows *sql.Rows
	var err error
	if deviceFilter != nil {
		rows, err = s.db.Query(ctx, `SELECT id, user_message, bot_response, embedding, device_id, context, timestamp, tags, metadata, created_at FROM memories WHERE device_id=$1 ORDER BY created_at DESC LIMIT $2`, *deviceFilter, limit)
	} else {
		rows, err = s.db.Query(ctx, `SELECT id, user_message, bot_response, embedding, device_id, context, timestamp, tags, metadata, created_at FROM memories ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "scan memory candidates", err)
	}
	defer rows.Close()

	type candidate struct {
		m         model.Memory
		createdAt float64
	}
	var candidates []candidate
	for rows.Next() {
		var m model.Memory
		var blob []byte
		var ctxStr sql.NullString
		var ts string
		var tags, meta sql.NullString
		var createdAt float64
		if err := rows.Scan(&m.ID, &m.UserMessage, &m.BotResponse, &blob, &m.DeviceID, &ctxStr, &ts, &tags, &meta, &createdAt); err != nil {
			return nil, storeerr.New(storeerr.StorageTransient, "read memory row", err)
		}
		m.Context = ctxStr.String
		m.Embedding = vecmath.DecodeVector(blob)
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.Timestamp = parsed
		}
		_ = unmarshalJSONOrEmpty(tags, &m.Tags)
		_ = unmarshalJSONOrEmpty(meta, &m.Metadata)
		candidates = append(candidates, candidate{m: m, createdAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "iterate memory candidates", err)
	}

	scored := make([]vecmath.Scored[candidate], 0, len(candidates))
	for _, c := range candidates {
		cos := vecmath.CosineSimilarity(query, c.m.Embedding)
		c.m.RelevanceScore = vecmath.RelevanceScore(cos)
		scored = append(scored, vecmath.Scored[candidate]{Item: c, Score: c.m.RelevanceScore})
	}
	sortByRelevanceThenRecencyThenID(scored, func(c candidate) (float64, string) { return c.createdAt, c.m.ID })

	out := make([]model.Memory, 0, topK)
	for i := 0; i < len(scored) && i < topK; i++ {
		out = append(out, scored[i].Item.m)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteMemory(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM memories WHERE id=$1`, id); err != nil {
		return storeerr.New(storeerr.StorageTransient, "delete memory", err)
	}
	return nil
}

func (s *SQLiteStore) GetMemoryCount(ctx context.Context) (int, error) {
	return s.scalarCount(ctx, `SELECT COUNT(*) FROM memories`)
}

// --- Knowledge ----------------------------------------------------------

func (s *SQLiteStore) StoreKnowledge(ctx context.Context, k *model.Knowledge) error {
	if k.ID == "" {
		return storeerr.New(storeerr.InvalidArgument, "knowledge id required", nil)
	}
	tagsJSON, err := marshalJSON(k.Tags)
	if err != nil {
		return storeerr.New(storeerr.InvalidArgument, "encode tags", err)
	}
	metaJSON, err := marshalJSON(k.Metadata)
	if err != nil {
		return storeerr.New(storeerr.InvalidArgument, "encode metadata", err)
	}
	blob := vecmath.EncodeVector(k.Embedding)
	_, err = s.db.Exec(ctx, `
		INSERT INTO knowledge (id, content, embedding, source, device_id, chunk_index, total_chunks, timestamp, relevance_score, tags, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			content=excluded.content,
			embedding=excluded.embedding,
			source=excluded.source,
			device_id=excluded.device_id,
			chunk_index=excluded.chunk_index,
			total_chunks=excluded.total_chunks,
			timestamp=excluded.timestamp,
			tags=excluded.tags,
			metadata=excluded.metadata
	`, k.ID, k.Content, blob, k.Source, k.DeviceID, k.ChunkIndex, k.TotalChunks, k.Timestamp.Format(time.RFC3339Nano), 0.0, tagsJSON, metaJSON, nowEpoch())
	if err != nil {
		return storeerr.New(storeerr.StorageTransient, "upsert knowledge", err)
	}
	return nil
}

func (s *SQLiteStore) GetKnowledgeByID(ctx context.Context, id string) (*model.Knowledge, error) {
	row := s.db.QueryRow(ctx, `SELECT id, content, embedding, source, device_id, chunk_index, total_chunks, timestamp, tags, metadata FROM knowledge WHERE id=$1`, id)
	var k model.Knowledge
	var blob []byte
	var ts string
	var tags, meta sql.NullString
	err := row.Scan(&k.ID, &k.Content, &blob, &k.Source, &k.DeviceID, &k.ChunkIndex, &k.TotalChunks, &ts, &tags, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "get knowledge by id", err)
	}
	k.Embedding = vecmath.DecodeVector(blob)
	if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
		k.Timestamp = parsed
	}
	_ = unmarshalJSONOrEmpty(tags, &k.Tags)
	_ = unmarshalJSONOrEmpty(meta, &k.Metadata)
	return &k, nil
}

func (s *SQLiteStore) RetrieveKnowledge(ctx context.Context, query []float32, topK int, sourceFilter *string) ([]model.Knowledge, error) {
	limit := topK * candidateMultiplier
	var rows *sql.Rows
	var err error
	if sourceFilter != nil {
		rows, err = s.db.Query(ctx, `SELECT id, content, embedding, source, device_id, chunk_index, total_chunks, timestamp, tags, metadata, created_at FROM knowledge WHERE source=$1 ORDER BY created_at DESC LIMIT $2`, *sourceFilter, limit)
	} else {
		rows, err = s.db.Query(ctx, `SELECT id, content, embedding, source, device_id, chunk_index, total_chunks, timestamp, tags, metadata, created_at FROM knowledge ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "scan knowledge candidates", err)
	}
	defer rows.Close()

	type candidate struct {
		k         model.Knowledge
		createdAt float64
	}
	var candidates []candidate
	for rows.Next() {
		var k model.Knowledge
		var blob []byte
		var ts string
		var tags, meta sql.NullString
		var createdAt float64
		if err := rows.Scan(&k.ID, &k.Content, &blob, &k.Source, &k.DeviceID, &k.ChunkIndex, &k.TotalChunks, &ts, &tags, &meta, &createdAt); err != nil {
			return nil, storeerr.New(storeerr.StorageTransient, "read knowledge row", err)
		}
		k.Embedding = vecmath.DecodeVector(blob)
		if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			k.Timestamp = parsed
		}
		_ = unmarshalJSONOrEmpty(tags, &k.Tags)
		_ = unmarshalJSONOrEmpty(meta, &k.Metadata)
		candidates = append(candidates, candidate{k: k, createdAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "iterate knowledge candidates", err)
	}

	scored := make([]vecmath.Scored[candidate], 0, len(candidates))
	for _, c := range candidates {
		cos := vecmath.CosineSimilarity(query, c.k.Embedding)
		c.k.RelevanceScore = vecmath.RelevanceScore(cos)
		scored = append(scored, vecmath.Scored[candidate]{Item: c, Score: c.k.RelevanceScore})
	}
	sortByRelevanceThenRecencyThenID(scored, func(c candidate) (float64, string) { return c.createdAt, c.k.ID })

	out := make([]model.Knowledge, 0, topK)
	for i := 0; i < len(scored) && i < topK; i++ {
		out = append(out, scored[i].Item.k)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteKnowledge(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM knowledge WHERE id=$1`, id); err != nil {
		return storeerr.New(storeerr.StorageTransient, "delete knowledge", err)
	}
	return nil
}

func (s *SQLiteStore) GetKnowledgeCount(ctx context.Context) (int, error) {
	return s.scalarCount(ctx, `SELECT COUNT(*) FROM knowledge`)
}

// --- Devices --------------------------------------------------------------

func (s *SQLiteStore) RegisterDevice(ctx context.Context, d *model.Device) error {
	if d.DeviceID == "" {
		return storeerr.New(storeerr.InvalidArgument, "device id required", nil)
	}
	capsJSON, err := marshalJSON(d.Capabilities)
	if err != nil {
		return storeerr.New(storeerr.InvalidArgument, "encode capabilities", err)
	}
	metaJSON, err := marshalJSON(d.Metadata)
	if err != nil {
		return storeerr.New(storeerr.InvalidArgument, "encode metadata", err)
	}
	lastSeen := d.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO devices (device_id, hardware_tier, capabilities, specialization, location, ip_address, hostname, last_seen, status, version, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (device_id) DO UPDATE SET
			hardware_tier=excluded.hardware_tier,
			capabilities=excluded.capabilities,
			specialization=excluded.specialization,
			location=excluded.location,
			ip_address=excluded.ip_address,
			hostname=excluded.hostname,
			last_seen=excluded.last_seen,
			status=excluded.status,
			version=excluded.version,
			metadata=excluded.metadata
	`, d.DeviceID, string(d.HardwareTier), capsJSON, d.Specialization, d.Location, d.IPAddress, d.Hostname, lastSeen.Format(time.RFC3339Nano), string(d.Status), d.Version, metaJSON, nowEpoch())
	if err != nil {
		return storeerr.New(storeerr.StorageTransient, "upsert device", err)
	}
	return nil
}

func (s *SQLiteStore) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	row := s.db.QueryRow(ctx, `SELECT device_id, hardware_tier, capabilities, specialization, location, ip_address, hostname, last_seen, status, version, metadata FROM devices WHERE device_id=$1`, deviceID)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "get device", err)
	}
	return d, nil
}

func scanDevice(row *sql.Row) (*model.Device, error) {
	var d model.Device
	var tier, status string
	var caps, meta sql.NullString
	var spec, loc, ip, host, version sql.NullString
	var lastSeen string
	if err := row.Scan(&d.DeviceID, &tier, &caps, &spec, &loc, &ip, &host, &lastSeen, &status, &version, &meta); err != nil {
		return nil, err
	}
	d.HardwareTier = model.HardwareTier(tier)
	d.Status = model.DeviceStatus(status)
	d.Specialization = spec.String
	d.Location = loc.String
	d.IPAddress = ip.String
	d.Hostname = host.String
	d.Version = version.String
	if parsed, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
		d.LastSeen = parsed
	}
	_ = unmarshalJSONOrEmpty(caps, &d.Capabilities)
	_ = unmarshalJSONOrEmpty(meta, &d.Metadata)
	return &d, nil
}

func (s *SQLiteStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := s.db.Query(ctx, `SELECT device_id, hardware_tier, capabilities, specialization, location, ip_address, hostname, last_seen, status, version, metadata FROM devices ORDER BY last_seen DESC`)
	if err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "list devices", err)
	}
	defer rows.Close()
	var out []model.Device
	for rows.Next() {
		var d model.Device
		var tier, status string
		var caps, meta sql.NullString
		var spec, loc, ip, host, version sql.NullString
		var lastSeen string
		if err := rows.Scan(&d.DeviceID, &tier, &caps, &spec, &loc, &ip, &host, &lastSeen, &status, &version, &meta); err != nil {
			return nil, storeerr.New(storeerr.StorageTransient, "read device row", err)
		}
		d.HardwareTier = model.HardwareTier(tier)
		d.Status = model.DeviceStatus(status)
		d.Specialization = spec.String
		d.Location = loc.String
		d.IPAddress = ip.String
		d.Hostname = host.String
		d.Version = version.String
		if parsed, perr := time.Parse(time.RFC3339Nano, lastSeen); perr == nil {
			d.LastSeen = parsed
		}
		_ = unmarshalJSONOrEmpty(caps, &d.Capabilities)
		_ = unmarshalJSONOrEmpty(meta, &d.Metadata)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDeviceCount(ctx context.Context) (int, error) {
	return s.scalarCount(ctx, `SELECT COUNT(*) FROM devices`)
}

// --- Sync operations --------------------------------------------------

func (s *SQLiteStore) StoreSyncOperation(ctx context.Context, op *model.SyncOperation) error {
	if op.OperationID == "" {
		return storeerr.New(storeerr.InvalidArgument, "operation id required", nil)
	}
	dataJSON, err := marshalJSON(op.Data)
	if err != nil {
		return storeerr.New(storeerr.InvalidArgument, "encode sync op data", err)
	}
	resolved := 0
	if op.Resolved {
		resolved = 1
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_operations (operation_id, operation_type, item_type, item_id, device_id, timestamp, data, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (operation_id) DO UPDATE SET
			operation_type=excluded.operation_type,
			item_type=excluded.item_type,
			item_id=excluded.item_id,
			device_id=excluded.device_id,
			timestamp=excluded.timestamp,
			data=excluded.data,
			resolved=excluded.resolved
	`, op.OperationID, string(op.OperationType), string(op.ItemType), op.ItemID, op.DeviceID, op.Timestamp.Format(time.RFC3339Nano), dataJSON, resolved, nowEpoch())
	if err != nil {
		return storeerr.New(storeerr.StorageTransient, "upsert sync operation", err)
	}
	return nil
}

func (s *SQLiteStore) GetPendingSyncOperations(ctx context.Context, deviceID string) ([]model.SyncOperation, error) {
	rows, err := s.db.Query(ctx, `SELECT operation_id, operation_type, item_type, item_id, device_id, timestamp, data, resolved FROM sync_operations WHERE device_id=$1 AND resolved=0 ORDER BY created_at ASC, operation_id ASC`, deviceID)
	if err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "query pending sync operations", err)
	}
	defer rows.Close()
	var out []model.SyncOperation
	for rows.Next() {
		var op model.SyncOperation
		var opType, itemType, ts string
		var data sql.NullString
		var resolved int
		if err := rows.Scan(&op.OperationID, &opType, &itemType, &op.ItemID, &op.DeviceID, &ts, &data, &resolved); err != nil {
			return nil, storeerr.New(storeerr.StorageTransient, "read sync operation row", err)
		}
		op.OperationType = model.SyncOperationType(opType)
		op.ItemType = model.SyncItemType(itemType)
		op.Resolved = resolved != 0
		if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			op.Timestamp = parsed
		}
		_ = unmarshalJSONOrEmpty(data, &op.Data)
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkSyncOperationResolved(ctx context.Context, operationID string) error {
	res, err := s.db.Exec(ctx, `UPDATE sync_operations SET resolved=1 WHERE operation_id=$1`, operationID)
	if err != nil {
		return storeerr.New(storeerr.StorageTransient, "mark sync operation resolved", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeerr.New(storeerr.StorageTransient, "check rows affected", err)
	}
	if n == 0 {
		return storeerr.New(storeerr.NotFound, fmt.Sprintf("sync operation %s", operationID), nil)
	}
	return nil
}

// --- Conversations ------------------------------------------------------

func (s *SQLiteStore) StoreConversation(ctx context.Context, conv *model.Conversation) error {
	if conv.SessionID == "" {
		return storeerr.New(storeerr.InvalidArgument, "session id required", nil)
	}
	metaJSON, err := marshalJSON(conv.Metadata)
	if err != nil {
		return storeerr.New(storeerr.InvalidArgument, "encode metadata", err)
	}
	turnsJSON, err := marshalJSON(conv.Turns)
	if err != nil {
		return storeerr.New(storeerr.InvalidArgument, "encode turns", err)
	}
	var endTime sql.NullString
	if conv.EndTime != nil {
		endTime = sql.NullString{String: conv.EndTime.Format(time.RFC3339Nano), Valid: true}
	}
	now := nowEpoch()
	_, err = s.db.Exec(ctx, `
		INSERT INTO conversations (session_id, chatbot_name, device_id, start_time, end_time, status, metadata, turns, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			chatbot_name=excluded.chatbot_name,
			device_id=excluded.device_id,
			start_time=excluded.start_time,
			end_time=excluded.end_time,
			status=excluded.status,
			metadata=excluded.metadata,
			turns=excluded.turns,
			updated_at=excluded.updated_at
	`, conv.SessionID, conv.ChatbotName, conv.DeviceID, conv.StartTime.Format(time.RFC3339Nano), endTime, string(conv.Status), metaJSON, turnsJSON, now)
	if err != nil {
		return storeerr.New(storeerr.StorageTransient, "upsert conversation", err)
	}
	return nil
}

func (s *SQLiteStore) LoadConversation(ctx context.Context, sessionID string) (*model.Conversation, error) {
	row := s.db.QueryRow(ctx, `SELECT session_id, chatbot_name, device_id, start_time, end_time, status, metadata, turns FROM conversations WHERE session_id=$1`, sessionID)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "load conversation", err)
	}
	return conv, nil
}

func scanConversation(row *sql.Row) (*model.Conversation, error) {
	var conv model.Conversation
	var status, start string
	var end, meta, turns sql.NullString
	if err := row.Scan(&conv.SessionID, &conv.ChatbotName, &conv.DeviceID, &start, &end, &status, &meta, &turns); err != nil {
		return nil, err
	}
	conv.Status = model.ConversationStatus(status)
	if parsed, perr := time.Parse(time.RFC3339Nano, start); perr == nil {
		conv.StartTime = parsed
	}
	if end.Valid && end.String != "" {
		if parsed, perr := time.Parse(time.RFC3339Nano, end.String); perr == nil {
			conv.EndTime = &parsed
		}
	}
	_ = unmarshalJSONOrEmpty(meta, &conv.Metadata)
	_ = unmarshalJSONOrEmpty(turns, &conv.Turns)
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]model.Conversation, error) {
	rows, err := s.db.Query(ctx, `SELECT session_id, chatbot_name, device_id, start_time, end_time, status, metadata, turns FROM conversations ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, storeerr.New(storeerr.StorageTransient, "list conversations", err)
	}
	defer rows.Close()
	var out []model.Conversation
	for rows.Next() {
		var conv model.Conversation
		var status, start string
		var end, meta, turns sql.NullString
		if err := rows.Scan(&conv.SessionID, &conv.ChatbotName, &conv.DeviceID, &start, &end, &status, &meta, &turns); err != nil {
			return nil, storeerr.New(storeerr.StorageTransient, "read conversation row", err)
		}
		conv.Status = model.ConversationStatus(status)
		if parsed, perr := time.Parse(time.RFC3339Nano, start); perr == nil {
			conv.StartTime = parsed
		}
		if end.Valid && end.String != "" {
			if parsed, perr := time.Parse(time.RFC3339Nano, end.String); perr == nil {
				conv.EndTime = &parsed
			}
		}
		_ = unmarshalJSONOrEmpty(meta, &conv.Metadata)
		_ = unmarshalJSONOrEmpty(turns, &conv.Turns)
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE session_id=$1`, sessionID); err != nil {
		return storeerr.New(storeerr.StorageTransient, "delete conversation", err)
	}
	return nil
}

func (s *SQLiteStore) scalarCount(ctx context.Context, query string) (int, error) {
	row := s.db.QueryRow(ctx, query)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, storeerr.New(storeerr.StorageTransient, "scalar count", err)
	}
	return n, nil
}

// sortByRelevanceThenRecencyThenID applies the §4.1 tie-break: relevance
// score descending, then created_at descending, then id ascending. Stable
// insertion sort; candidate sets are bounded to at most 10*top_k rows.
func sortByRelevanceThenRecencyThenID[T any](items []vecmath.Scored[T], key func(T) (float64, string)) {
	betterThan := func(a, b vecmath.Scored[T]) bool {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aCreated, aID := key(a.Item)
		bCreated, bID := key(b.Item)
		if aCreated != bCreated {
			return aCreated > bCreated
		}
		return aID < bID
	}
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && betterThan(items[j], items[j-1]) {
			items[j-1], items[j] = items[j], items[j-1]
			j--
		}
	}
}
