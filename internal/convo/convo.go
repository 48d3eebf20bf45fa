// Package convo implements the conversation manager (C6): in-process
// session state plus per-session locking, turn append, history retrieval,
// event dispatch, and snapshot export.
//
// Grounded on spec.md §4.5 / SPEC_FULL.md §4.5 for the session map + mutex
// map + lock-evict-on-end design, and on beeper-ai-bridge's
// pkg/connector/typing_controller.go for the mutex-guarded-struct style
// this package follows (state fields behind a single sync.Mutex, explicit
// sealed/active-style booleans rather than channels for lifecycle state).
// Listener error swallowing mirrors the same file's isolate-the-failure
// stance: a broken listener never takes down add_turn.
package convo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/commubrain/core/internal/model"
	"github.com/commubrain/core/internal/store"
)

// EventName identifies which lifecycle event a listener was handed.
type EventName string

const (
	EventConversationStarted EventName = "conversation_started"
	EventTurnAppended        EventName = "turn_appended"
	EventConversationEnded   EventName = "conversation_ended"
)

// Event is dispatched to every registered Listener on a lifecycle
// transition. Payload fields beyond Name/SessionID are event-specific and
// left as a loosely-typed map so new event kinds don't need a sum type.
type Event struct {
	Name      EventName
	SessionID string
	Payload   map[string]any
}

// Listener reacts to an Event. A non-nil returned channel is awaited by the
// manager (serially, after the triggering call's own work is done); any
// error sent on it is logged, never propagated to the caller.
type Listener func(Event) <-chan error

// Manager owns all in-memory conversation state for one brain instance.
type Manager struct {
	backend store.Store
	log     zerolog.Logger

	mu        sync.Mutex // guards sessions, locks, listeners
	sessions  map[string]*model.Conversation
	locks     map[string]*sync.Mutex
	listeners []Listener
}

// New constructs a Manager backed by backend.
func New(backend store.Store, log zerolog.Logger) *Manager {
	return &Manager{
		backend:  backend,
		log:      log.With().Str("component", "convo").Logger(),
		sessions: make(map[string]*model.Conversation),
		locks:    make(map[string]*sync.Mutex),
	}
}

// AddListener registers l to receive every future Event.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

func randomHex8() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// StartConversation creates and persists a new active Conversation, using
// sessionID if non-empty or generating chatbotName + "_" + random8hex
// otherwise, and dispatches conversation_started.
func (m *Manager) StartConversation(ctx context.Context, chatbotName, sessionID, deviceID string) (string, error) {
	if sessionID == "" {
		sessionID = chatbotName + "_" + randomHex8()
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	conv := &model.Conversation{
		SessionID:   sessionID,
		ChatbotName: chatbotName,
		DeviceID:    deviceID,
		StartTime:   time.Now().UTC(),
		Status:      model.ConversationActive,
		Metadata:    map[string]any{},
	}
	if err := m.backend.StoreConversation(ctx, conv); err != nil {
		return "", fmt.Errorf("persist new conversation: %w", err)
	}

	m.mu.Lock()
	m.sessions[sessionID] = conv
	m.mu.Unlock()

	m.dispatch(Event{
		Name:      EventConversationStarted,
		SessionID: sessionID,
		Payload: map[string]any{
			"session_id":   sessionID,
			"chatbot_name": chatbotName,
			"device_id":    deviceID,
		},
	})

	return sessionID, nil
}

// chatbotNameFromSessionID derives a fallback chatbot name from the prefix
// of sessionID before its first underscore, or "unknown" if absent.
// Supplements the teacher-distilled spec with a behavior preserved from
// original_source's conversation reconstruction path (SPEC_FULL.md §11).
func chatbotNameFromSessionID(sessionID string) string {
	if idx := strings.Index(sessionID, "_"); idx > 0 {
		return sessionID[:idx]
	}
	return "unknown"
}

func (m *Manager) resolveSession(ctx context.Context, sessionID string) (*model.Conversation, error) {
	m.mu.Lock()
	conv, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		return conv, nil
	}

	loaded, err := m.backend.LoadConversation(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", sessionID, err)
	}
	if loaded != nil {
		m.mu.Lock()
		m.sessions[sessionID] = loaded
		m.mu.Unlock()
		return loaded, nil
	}

	conv = &model.Conversation{
		SessionID:   sessionID,
		ChatbotName: chatbotNameFromSessionID(sessionID),
		StartTime:   time.Now().UTC(),
		Status:      model.ConversationActive,
		Metadata:    map[string]any{},
	}
	m.mu.Lock()
	m.sessions[sessionID] = conv
	m.mu.Unlock()
	return conv, nil
}

// AddTurn appends a user/bot exchange to sessionID, loading or
// reconstructing the conversation if it is not already resident in memory.
func (m *Manager) AddTurn(ctx context.Context, sessionID, userMessage, botResponse string, tokensUsed int, metadata map[string]any) (*model.Turn, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := m.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	turn := model.Turn{
		TurnID:      uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		UserMessage: userMessage,
		BotResponse: botResponse,
		TokensUsed:  tokensUsed,
		Metadata:    metadata,
	}
	conv.Turns = append(conv.Turns, turn)

	if err := m.backend.StoreConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persist turn for %s: %w", sessionID, err)
	}

	m.dispatch(Event{
		Name:      EventTurnAppended,
		SessionID: sessionID,
		Payload: map[string]any{
			"session_id":   sessionID,
			"turn_id":      turn.TurnID,
			"user_message": turn.UserMessage,
			"bot_response": turn.BotResponse,
			"tokens_used":  turn.TokensUsed,
			"metadata":     turn.Metadata,
		},
	})

	return &turn, nil
}

// GetConversationHistory returns up to the last maxTurns turns of sessionID.
func (m *Manager) GetConversationHistory(ctx context.Context, sessionID string, maxTurns int) ([]model.Turn, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := m.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if maxTurns <= 0 || maxTurns >= len(conv.Turns) {
		return append([]model.Turn(nil), conv.Turns...), nil
	}
	return append([]model.Turn(nil), conv.Turns[len(conv.Turns)-maxTurns:]...), nil
}

// GetConversationSummary computes the derived statistics view for sessionID.
func (m *Manager) GetConversationSummary(ctx context.Context, sessionID string) (*model.ConversationSummary, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := m.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return summarize(conv), nil
}

func summarize(conv *model.Conversation) *model.ConversationSummary {
	totalTokens := 0
	for _, t := range conv.Turns {
		totalTokens += t.TokensUsed
	}

	var duration *float64
	switch {
	case conv.EndTime != nil:
		d := conv.EndTime.Sub(conv.StartTime).Seconds()
		duration = &d
	case len(conv.Turns) > 0:
		d := time.Now().UTC().Sub(conv.StartTime).Seconds()
		duration = &d
	}

	var avgTokens float64
	if len(conv.Turns) > 0 {
		avgTokens = float64(totalTokens) / float64(len(conv.Turns))
	}

	return &model.ConversationSummary{
		SessionID:            conv.SessionID,
		ChatbotName:          conv.ChatbotName,
		DeviceID:             conv.DeviceID,
		StartTime:            conv.StartTime,
		EndTime:              conv.EndTime,
		Status:               conv.Status,
		TotalTurns:           len(conv.Turns),
		TotalTokens:          totalTokens,
		DurationSeconds:      duration,
		AverageTokensPerTurn: avgTokens,
	}
}

// EndConversation marks sessionID completed, persists it, and evicts its
// in-memory state and lock. Idempotent-safe: a missing session is a no-op.
func (m *Manager) EndConversation(ctx context.Context, sessionID string) error {
	lock := m.sessionLock(sessionID)
	lock.Lock()

	m.mu.Lock()
	conv, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		lock.Unlock()
		m.evictLock(sessionID)
		return nil
	}

	now := time.Now().UTC()
	conv.EndTime = &now
	conv.Status = model.ConversationCompleted

	err := m.backend.StoreConversation(ctx, conv)

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	lock.Unlock()
	m.evictLock(sessionID)

	if err != nil {
		return fmt.Errorf("persist ended conversation %s: %w", sessionID, err)
	}

	m.dispatch(Event{
		Name:      EventConversationEnded,
		SessionID: sessionID,
		Payload: map[string]any{
			"session_id":   sessionID,
			"chatbot_name": conv.ChatbotName,
			"device_id":    conv.DeviceID,
		},
	})
	return nil
}

func (m *Manager) evictLock(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, sessionID)
}

// ListActiveConversations returns every conversation currently resident in
// memory with status active.
func (m *Manager) ListActiveConversations() []model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Conversation, 0, len(m.sessions))
	for _, c := range m.sessions {
		if c.Status == model.ConversationActive {
			out = append(out, *c)
		}
	}
	return out
}

// ListAllConversations merges storage results with in-memory active
// sessions, de-duplicating by session_id and trimming to limit.
func (m *Manager) ListAllConversations(ctx context.Context, limit int) ([]model.Conversation, error) {
	stored, err := m.backend.ListConversations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	seen := make(map[string]bool, len(stored))
	out := make([]model.Conversation, 0, len(stored))
	for _, c := range stored {
		seen[c.SessionID] = true
		out = append(out, c)
	}

	m.mu.Lock()
	for id, c := range m.sessions {
		if !seen[id] {
			out = append(out, *c)
		}
	}
	m.mu.Unlock()

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ConversationSnapshot is the exported view of a conversation's full state.
type ConversationSnapshot struct {
	Conversation model.Conversation
	Summary      model.ConversationSummary
}

// ExportConversationSnapshot returns sessionID's full turn history plus its
// derived summary.
func (m *Manager) ExportConversationSnapshot(ctx context.Context, sessionID string) (*ConversationSnapshot, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := m.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &ConversationSnapshot{
		Conversation: *conv,
		Summary:      *summarize(conv),
	}, nil
}

// dispatch fans an Event out to every listener, awaiting and logging (never
// propagating) any error each listener's returned channel delivers.
func (m *Manager) dispatch(evt Event) {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		ch := l(evt)
		if ch == nil {
			continue
		}
		if err := <-ch; err != nil {
			m.log.Error().Err(err).Str("event", string(evt.Name)).Str("session_id", evt.SessionID).Msg("conversation listener failed")
		}
	}
}
