// Package summarizer implements the background conversation-compaction
// worker (C8): a periodic scan of conversation blob files that summarizes
// and archives any file tripping the size-or-age trigger, plus an ad hoc
// context-size check used by the brain façade before a turn is sent to a
// generator.
//
// Grounded on spec.md §4.7 / SPEC_FULL.md §4.7 for the directory layout,
// trigger rule, and per-file procedure; on beeper-ai-bridge's
// pkg/aitokens/tokenizer.go for token estimation via tiktoken-go; and on
// kart-io-sentinel-x's pkg/infra/config/watcher.go for the "fsnotify marks
// things dirty, a periodic scan remains the source of truth" shape this
// worker's fsnotify use follows (watcher feeds a dirty-set, never drives
// the trigger decision itself).
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/commubrain/core/internal/aitokens"
	"github.com/commubrain/core/internal/provider"
)

const summaryPromptHeader = `Please provide a comprehensive but concise summary of this conversation. Focus on:
1. Key topics discussed
2. Important user information
3. Decisions or conclusions reached
4. Action items
5. Emotional context

---
%s
---`

// ConversationBlob is the on-disk shape of conversations/<session_id>.json
// as consumed by the summarizer (a subset of the full conversation record:
// only the fields the summarization procedure reads).
type ConversationBlob struct {
	SessionID string                   `json:"session_id"`
	Device    string                   `json:"device"`
	Timestamp string                   `json:"timestamp"`
	Messages  []ConversationBlobEntry  `json:"messages"`
}

// ConversationBlobEntry is one rendered turn within a ConversationBlob.
type ConversationBlobEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SummaryBlob is the on-disk shape of summaries/<session_id>_summary.json.
type SummaryBlob struct {
	OriginalSessionID   string `json:"original_session_id"`
	Device              string `json:"device"`
	OriginalTimestamp   string `json:"original_timestamp"`
	OriginalMessageCount int   `json:"original_message_count"`
	Summary             string `json:"summary"`
	SummarizedAt        string `json:"summarized_at"`
	SummarizerModel     string `json:"summarizer_model"`
	FileSizeBytes       int64  `json:"file_size_bytes"`
}

// Config controls the worker's triggers and directory layout.
type Config struct {
	DataDir                   string
	MaxFileSizeBytes          int64
	MaxAgeDays                int
	MonitoringIntervalSeconds int
	MaxContextTokens          int
	MaxSummaryTokens          int
	Temperature               float64
	KeepOriginals             bool
}

// Worker owns the background monitoring loop and the manual/startup
// summarization entry points.
type Worker struct {
	cfg       Config
	generator provider.Generator
	log       zerolog.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	dirty     map[string]bool
	stats     statCounters
}

type statCounters struct {
	conversationFiles int
	summaryFiles      int
	archivedFiles     int
}

// New constructs a Worker. generator is used both for conversation
// summarization and for the context-size-check's short summary.
func New(cfg Config, generator provider.Generator, log zerolog.Logger) *Worker {
	return &Worker{
		cfg:       cfg,
		generator: generator,
		log:       log.With().Str("component", "summarizer").Logger(),
		dirty:     make(map[string]bool),
	}
}

func (w *Worker) conversationsDir() string { return filepath.Join(w.cfg.DataDir, "conversations") }
func (w *Worker) archiveDir() string       { return filepath.Join(w.cfg.DataDir, "archive", "conversations") }
func (w *Worker) summariesDir() string     { return filepath.Join(w.cfg.DataDir, "summaries") }

func (w *Worker) ensureDirs() error {
	for _, d := range []string{w.conversationsDir(), w.archiveDir(), w.summariesDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}
	return nil
}

// StartBackgroundMonitoring spawns the periodic scan loop. It is a no-op if
// already running. The loop never exits on a processing error: it logs and
// sleeps 60s before the next attempt, per §4.7's never-die mandate.
func (w *Worker) StartBackgroundMonitoring(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	if err := w.ensureDirs(); err != nil {
		w.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	go w.watchDirty(runCtx)
	go w.monitorLoop(runCtx)
	return nil
}

// StopBackgroundMonitoring cancels the loop cooperatively; pending work is
// abandoned and originals remain intact on disk.
func (w *Worker) StopBackgroundMonitoring() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.cancel()
	w.running = false
}

func (w *Worker) monitorLoop(ctx context.Context) {
	interval := time.Duration(w.cfg.MonitoringIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 300 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.scanOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("summarizer scan failed, sleeping before retry")
				select {
				case <-ctx.Done():
					return
				case <-time.After(60 * time.Second):
				}
			}
		}
	}
}

// watchDirty augments (not replaces) the periodic scan with fsnotify hints:
// a changed conversation file is marked dirty so the next scan checks it
// first. Watch setup failures are logged and otherwise ignored, since the
// scan remains correct without it.
func (w *Worker) watchDirty(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn().Err(err).Msg("fsnotify unavailable, relying on periodic scan only")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.conversationsDir()); err != nil {
		w.log.Warn().Err(err).Msg("could not watch conversations directory")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.mu.Lock()
				w.dirty[ev.Name] = true
				w.mu.Unlock()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("fsnotify watch error")
		}
	}
}

// SummarizeOnStartup performs one synchronous sweep.
func (w *Worker) SummarizeOnStartup(ctx context.Context) error {
	if err := w.ensureDirs(); err != nil {
		return err
	}
	return w.scanOnce(ctx)
}

func (w *Worker) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(w.conversationsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan conversations directory: %w", err)
	}

	w.mu.Lock()
	dirty := make(map[string]bool, len(w.dirty))
	for path := range w.dirty {
		dirty[path] = true
	}
	w.mu.Unlock()

	visited := make(map[string]bool, len(entries))

	// fsnotify-flagged files are checked first so a conversation that just
	// tripped the size/age trigger doesn't wait behind a full directory
	// listing; the listing below still covers every file regardless.
	for path := range dirty {
		info, err := os.Stat(path)
		if err != nil {
			w.mu.Lock()
			delete(w.dirty, path)
			w.mu.Unlock()
			continue
		}
		visited[path] = true
		if !w.shouldSummarize(info) {
			continue
		}
		if err := w.SummarizeNow(ctx, path); err != nil {
			w.log.Error().Err(err).Str("path", path).Msg("summarize conversation file")
		}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(w.conversationsDir(), entry.Name())
		if visited[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			w.log.Error().Err(err).Str("path", path).Msg("stat conversation file")
			continue
		}
		if !w.shouldSummarize(info) {
			continue
		}
		if err := w.SummarizeNow(ctx, path); err != nil {
			w.log.Error().Err(err).Str("path", path).Msg("summarize conversation file")
			continue
		}
	}
	return nil
}

func (w *Worker) shouldSummarize(info os.FileInfo) bool {
	if w.cfg.MaxFileSizeBytes > 0 && info.Size() > w.cfg.MaxFileSizeBytes {
		return true
	}
	if w.cfg.MaxAgeDays > 0 {
		age := time.Since(info.ModTime())
		if age > time.Duration(w.cfg.MaxAgeDays)*24*time.Hour {
			return true
		}
	}
	return false
}

// SummarizeNow performs the per-file procedure on path out of band of the
// periodic scan (the spec's manual_summarize_file, a supplemented feature).
func (w *Worker) SummarizeNow(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read conversation blob %s: %w", path, err)
	}

	var blob ConversationBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return fmt.Errorf("parse conversation blob %s: %w", path, err)
	}
	if blob.SessionID == "" {
		return fmt.Errorf("conversation blob %s missing session_id", path)
	}

	transcript := renderTranscript(blob.Messages)
	if maxTokens := w.cfg.MaxContextTokens; maxTokens > 0 {
		if estimated, err := aitokens.EstimateText(transcript, w.generator.Model()); err == nil && estimated > maxTokens && len(transcript) > 8000 {
			transcript = transcript[len(transcript)-8000:]
		}
	}
	prompt := fmt.Sprintf(summaryPromptHeader, transcript)

	result, err := w.generator.Generate(ctx, provider.GenerateParams{
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: prompt}},
		MaxTokens: w.cfg.MaxSummaryTokens,
		Temperature: w.cfg.Temperature,
	})
	if err != nil {
		return fmt.Errorf("generate summary for %s: %w", blob.SessionID, err)
	}

	summaryBlob := SummaryBlob{
		OriginalSessionID:    blob.SessionID,
		Device:               blob.Device,
		OriginalTimestamp:    blob.Timestamp,
		OriginalMessageCount: len(blob.Messages),
		Summary:              result.Text,
		SummarizedAt:         time.Now().UTC().Format(time.RFC3339),
		SummarizerModel:      w.generator.Model(),
		FileSizeBytes:        int64(len(raw)),
	}

	if err := w.writeSummaryAtomic(blob.SessionID, summaryBlob); err != nil {
		return err
	}

	w.mu.Lock()
	w.stats.summaryFiles++
	delete(w.dirty, path)
	w.mu.Unlock()

	if w.cfg.KeepOriginals {
		dest := filepath.Join(w.archiveDir(), filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			return fmt.Errorf("archive conversation blob %s: %w", path, err)
		}
		w.mu.Lock()
		w.stats.archivedFiles++
		w.mu.Unlock()
	} else {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("delete conversation blob %s: %w", path, err)
		}
	}
	return nil
}

// writeSummaryAtomic writes blob via a uniquely-named temp file and renames
// it into place, so a crash mid-write never leaves a truncated summary
// visible at its canonical path.
func (w *Worker) writeSummaryAtomic(sessionID string, blob SummaryBlob) error {
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary blob: %w", err)
	}
	finalPath := filepath.Join(w.summariesDir(), sessionID+"_summary.json")
	tmpPath := finalPath + ".tmp-" + xid.New().String()

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp summary file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename summary file into place: %w", err)
	}
	return nil
}

func renderTranscript(entries []ConversationBlobEntry) string {
	var sb strings.Builder
	for i, e := range entries {
		label := "**USER**"
		if strings.EqualFold(e.Role, "assistant") || strings.EqualFold(e.Role, "bot") {
			label = "**ASSISTANT**"
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(e.Content)
	}
	return sb.String()
}

// CheckContextSize estimates text's token count as len(text)/4; above
// maxContextTokens it requests a short summary of the trailing 8000
// characters (capped at 300 tokens, same temperature) and reports true;
// otherwise it reports false with no summary.
func (w *Worker) CheckContextSize(ctx context.Context, text string) (bool, *string, error) {
	maxTokens := w.cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = 6000
	}
	estimated := len(text) / 4
	if estimated <= maxTokens {
		return false, nil, nil
	}

	tail := text
	if len(tail) > 8000 {
		tail = tail[len(tail)-8000:]
	}
	prompt := fmt.Sprintf(summaryPromptHeader, tail)
	result, err := w.generator.Generate(ctx, provider.GenerateParams{
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: prompt}},
		MaxTokens:   300,
		Temperature: w.cfg.Temperature,
	})
	if err != nil {
		return false, nil, fmt.Errorf("generate context-size summary: %w", err)
	}
	summary := result.Text
	return true, &summary, nil
}

// Stats is the diagnostic snapshot returned by Stats() — a supplemented
// feature carried from the Python get_stats() method (SPEC_FULL.md §11).
type Stats struct {
	Model                     string
	IsRunning                 bool
	MonitoringIntervalSeconds int
	MaxFileSizeKB             float64
	MaxContextTokens          int
	ConversationFileCount     int
	SummaryFileCount          int
	ArchivedFileCount         int
}

// Stats reports the worker's running state plus live directory counts.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	conversationCount := countJSONFiles(w.conversationsDir())
	summaryCount := countJSONFiles(w.summariesDir())
	archivedCount := countJSONFiles(w.archiveDir())

	return Stats{
		Model:                     w.generator.Model(),
		IsRunning:                 running,
		MonitoringIntervalSeconds: w.cfg.MonitoringIntervalSeconds,
		MaxFileSizeKB:             float64(w.cfg.MaxFileSizeBytes) / 1024,
		MaxContextTokens:          w.cfg.MaxContextTokens,
		ConversationFileCount:     conversationCount,
		SummaryFileCount:          summaryCount,
		ArchivedFileCount:         archivedCount,
	}
}

func countJSONFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}
