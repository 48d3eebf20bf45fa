// Package syncworker implements the per-device sync tick loop (C9): a
// single cooperative task that, on every tick, invokes a pluggable
// PerformSync callback and then reads this device's pending sync operations
// from internal/store. The tick only logs how many are pending; it does not
// resolve or remove them.
//
// Grounded on spec.md §4.8 / SPEC_FULL.md §4.8 for the tick/retry contract,
// and on beeper-ai-bridge's pkg/cron/schedule.go (ComputeNextRunAtMs) for
// the robfig/cron/v3 expression-parsing convention, generalized here from a
// one-shot "next run" computation into a live repeating ticker so a single
// job (not a multi-job cron.Cron scheduler) can honor either a plain
// interval or a full cron expression passed to New. The brain.sync_interval
// config option is whole seconds, so cmd/brained always passes a plain
// interval.
package syncworker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/commubrain/core/internal/model"
	"github.com/commubrain/core/internal/store"
)

// PerformSync is the pluggable sync callback invoked each tick. The default
// is a no-op; wire transport is out of scope per spec.
type PerformSync func(ctx context.Context) error

// NoopSync is the default PerformSync: it does nothing and never errors.
func NoopSync(ctx context.Context) error { return nil }

var cronParser = cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)

// parseSchedule turns spec into a cronlib.Schedule. A bare positive integer
// is treated as a plain interval in seconds ("@every Ns"); anything else is
// parsed as a cron expression or descriptor (e.g. "@every 30s").
func parseSchedule(spec string) (cronlib.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = "@every 30s"
	} else if secs, err := strconv.Atoi(spec); err == nil {
		spec = fmt.Sprintf("@every %ds", secs)
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sync schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Worker ticks on a schedule, invoking PerformSync and logging (never
// terminating on) errors.
type Worker struct {
	deviceID    string
	backend     store.Store
	schedule    cronlib.Schedule
	performSync PerformSync
	log         zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New constructs a Worker for deviceID. intervalSpec may be a bare integer
// (seconds) or a full cron expression/descriptor; an empty performSync
// defaults to NoopSync.
func New(deviceID string, backend store.Store, intervalSpec string, performSync PerformSync, log zerolog.Logger) (*Worker, error) {
	sched, err := parseSchedule(intervalSpec)
	if err != nil {
		return nil, err
	}
	if performSync == nil {
		performSync = NoopSync
	}
	return &Worker{
		deviceID:    deviceID,
		backend:     backend,
		schedule:    sched,
		performSync: performSync,
		log:         log.With().Str("component", "syncworker").Logger(),
	}, nil
}

// Start launches the ticking loop. It is a no-op if already running.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	go w.loop(runCtx)
}

// Stop cancels the loop cooperatively.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.cancel()
	w.running = false
}

func (w *Worker) loop(ctx context.Context) {
	for {
		next := w.schedule.Next(time.Now().UTC())
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := w.tick(ctx); err != nil {
				w.log.Error().Err(err).Msg("sync tick failed, retrying next interval")
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context) error {
	if err := w.performSync(ctx); err != nil {
		return fmt.Errorf("perform sync: %w", err)
	}

	pending, err := w.backend.GetPendingSyncOperations(ctx, w.deviceID)
	if err != nil {
		return fmt.Errorf("fetch pending sync operations: %w", err)
	}
	w.log.Debug().Int("pending", len(pending)).Msg("sync tick completed")
	return nil
}

// Enqueue records a pending SyncOperation for this device. Delivery is
// at-least-once to any conforming PerformSync; idempotence at the
// receiving end relies on the upsert-by-id contract in internal/store.
func (w *Worker) Enqueue(ctx context.Context, opType model.SyncOperationType, itemType model.SyncItemType, itemID string, data map[string]any) error {
	op := &model.SyncOperation{
		OperationID:   uuid.NewString(),
		OperationType: opType,
		ItemType:      itemType,
		ItemID:        itemID,
		DeviceID:      w.deviceID,
		Timestamp:     time.Now().UTC(),
		Data:          data,
		Resolved:      false,
	}
	if err := w.backend.StoreSyncOperation(ctx, op); err != nil {
		return fmt.Errorf("enqueue sync operation for %s: %w", itemID, err)
	}
	return nil
}
