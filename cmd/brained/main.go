// Command brained runs one device's communal brain process: storage,
// device registration, conversation management, and the optional
// summarizer/sync background workers, wired from a YAML config file.
//
// Grounded on theRebelliousNerd-codenerd's cmd/nerd signal-handling
// pattern (signal.Notify + cancel-on-interrupt) and
// beeper-ai-bridge's pkg/connector/memory_manager.go for the
// constructor-wiring order (storage → façade → workers).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/commubrain/core/internal/brain"
	"github.com/commubrain/core/internal/config"
	"github.com/commubrain/core/internal/device"
	"github.com/commubrain/core/internal/evlog"
	"github.com/commubrain/core/internal/provider"
	"github.com/commubrain/core/internal/store"
	"github.com/commubrain/core/internal/summarizer"
	"github.com/commubrain/core/internal/syncworker"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "brained.yaml", "path to the brain config file")
	openaiKey := flag.String("openai-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key, used by the generator/embedder when configured")
	anthropicKey := flag.String("anthropic-key", os.Getenv("ANTHROPIC_API_KEY"), "Anthropic API key, used as the alternate generator when configured")
	generatorChoice := flag.String("generator", "openai", "generator backend: openai or anthropic")
	generatorModel := flag.String("generator-model", "gpt-4o-mini", "model name passed to the chosen generator")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	eventLog, err := evlog.Open(cfg.EvLog.Path, cfg.EvLog.MaxLines, cfg.EvLog.MaxAgeDays)
	if err != nil {
		log.Fatal().Err(err).Msg("open event log")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		_ = eventLog.Emit("shutdown signal received")
		cancel()
	}()

	backend, err := store.Open(ctx, cfg.Storage.LocalDBPath, cfg.Storage.EnableWAL, cfg.Storage.CacheSize, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open storage")
	}

	deviceID := device.GenerateDeviceID()
	opts := []brain.Option{brain.WithDeviceID(deviceID)}
	var summarizerWorker *summarizer.Worker
	if cfg.Brain.EnableSummarizer {
		generator, err := buildGenerator(*generatorChoice, *generatorModel, *openaiKey, *anthropicKey, cfg.Generator.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("build generator")
		}
		summarizerWorker = summarizer.New(summarizer.Config{
			DataDir:                   cfg.Summarizer.DataDir,
			MaxFileSizeBytes:          cfg.Summarizer.MaxFileSizeBytes,
			MaxAgeDays:                cfg.Summarizer.MaxAgeDays,
			MonitoringIntervalSeconds: cfg.Summarizer.MonitoringIntervalSeconds,
			MaxContextTokens:          cfg.Summarizer.MaxContextTokens,
			MaxSummaryTokens:          cfg.Summarizer.MaxSummaryTokens,
			Temperature:               cfg.Summarizer.Temperature,
			KeepOriginals:             cfg.Summarizer.KeepOriginals,
		}, generator, log)
		opts = append(opts, brain.WithSummarizer(summarizerWorker))
	}

	if cfg.Brain.EnableSync {
		syncWorker, err := syncworker.New(deviceID, backend, itoaSyncInterval(cfg.Brain.SyncInterval), syncworker.NoopSync, log)
		if err != nil {
			log.Fatal().Err(err).Msg("build sync worker")
		}
		opts = append(opts, brain.WithSyncWorker(syncWorker))
	}

	b := brain.New(backend, log, version, opts...)

	if err := b.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("initialize brain")
	}
	_ = eventLog.Emit("brain initialized")

	log.Info().Str("config", *configPath).Msg("brained running, waiting for shutdown signal")
	<-ctx.Done()

	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("close brain")
	}
	_ = eventLog.Emit("brain closed")
}

// buildGenerator constructs the configured Generator. There is no local
// generator implementation (unlike the embedder, which has a deterministic
// stub): a real generator backend must be chosen.
func buildGenerator(choice, model, openaiKey, anthropicKey string, timeout time.Duration) (provider.Generator, error) {
	switch choice {
	case "openai":
		return provider.NewOpenAIGenerator(openaiKey, "", model, timeout)
	case "anthropic":
		return provider.NewAnthropicGenerator(anthropicKey, "", model, timeout)
	default:
		return nil, fmt.Errorf("unknown generator backend %q, want openai or anthropic", choice)
	}
}

func itoaSyncInterval(seconds int) string {
	if seconds <= 0 {
		return "30"
	}
	return strconv.Itoa(seconds)
}
