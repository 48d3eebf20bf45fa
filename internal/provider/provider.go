// Package provider defines the embedding and generator interfaces the
// communal brain treats as external collaborators (per spec §6), plus
// concrete implementations backed by openai-go and anthropic-sdk-go, and a
// deterministic local stub used in tests and offline operation.
//
// Grounded on beeper-ai-bridge's pkg/memory/types.go (EmbeddingProvider
// shape), pkg/memory/embedding/openai.go (embedBatch/embedQuery closures
// over an openai.Client), and pkg/connector/provider_openai.go
// (generateChatCompletions's ChatCompletionNewParams/usage mapping).
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/commubrain/core/internal/storeerr"
	"github.com/commubrain/core/internal/vecmath"
)

// Role is the speaker role of a generator message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a generator call's ordered message list.
type Message struct {
	Role    Role
	Content string
}

// Usage reports token accounting for one generate call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// GenerateParams bundles one generator call's inputs.
type GenerateParams struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// GenerateResult is a generator call's output: concatenated full text (even
// when Stream was requested) and best-effort usage.
type GenerateResult struct {
	Text  string
	Usage Usage
}

// Embedder maps text to a fixed-dimension float vector. Empty input MUST
// be mapped to the zero vector without calling the underlying provider.
type Embedder interface {
	ID() string
	Model() string
	Dimension() int
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator synthesizes text from an ordered message list, used both for
// chat responses and for the summarizer's compression calls.
type Generator interface {
	Model() string
	Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error)
}

// zeroVectorGuard wraps an Embedder so that empty-string input always maps
// to the zero vector without ever invoking the delegate, per the §6
// contract; every concrete Embedder below is expected to be wrapped in
// this once constructed.
type zeroVectorGuard struct {
	Embedder
}

func (g zeroVectorGuard) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, g.Dimension()), nil
	}
	return g.Embedder.EmbedQuery(ctx, text)
}

func (g zeroVectorGuard) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var pending []string
	var pendingIdx []int
	for i, t := range texts {
		if t == "" {
			out[i] = make([]float32, g.Dimension())
			continue
		}
		pending = append(pending, t)
		pendingIdx = append(pendingIdx, i)
	}
	if len(pending) == 0 {
		return out, nil
	}
	results, err := g.Embedder.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	for i, idx := range pendingIdx {
		out[idx] = results[i]
	}
	return out, nil
}

// WithZeroVectorGuard wraps e so empty text never reaches the provider.
func WithZeroVectorGuard(e Embedder) Embedder {
	return zeroVectorGuard{Embedder: e}
}

// externalCallTimeout bounds a single external generator/embedder call per
// §5's "configurable timeout, default 60s generation / 30s embedding"
// invariant. A non-positive timeout leaves ctx's own deadline (if any)
// untouched.
func externalCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyExternalErr maps a call that failed because callCtx's deadline
// elapsed onto storeerr's recoverable ExternalUnavailable kind, so a slow
// provider surfaces as a classified error instead of propagating as a bare
// context.DeadlineExceeded (or hanging, absent any timeout at all).
func classifyExternalErr(callCtx context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return storeerr.New(storeerr.ExternalUnavailable, msg+" timed out", err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// LocalEmbedder is a deterministic, offline embedder: it hashes input text
// into a pseudo-random unit vector of the configured dimension. It exists
// for tests and for operating without a configured external provider; it
// carries no semantic meaning.
type LocalEmbedder struct {
	dimension int
}

// NewLocalEmbedder returns a LocalEmbedder of the given dimension.
func NewLocalEmbedder(dimension int) *LocalEmbedder {
	return &LocalEmbedder{dimension: dimension}
}

func (l *LocalEmbedder) ID() string      { return "local" }
func (l *LocalEmbedder) Model() string   { return "local-hash-embed" }
func (l *LocalEmbedder) Dimension() int  { return l.dimension }

func (l *LocalEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, l.dimension), nil
	}
	return hashToVector(text, l.dimension), nil
}

func (l *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := l.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// hashToVector expands a SHA-256 digest of text into dimension pseudo-
// random float32s in [-1, 1], then L2-normalizes, so cosine similarity
// between distinct strings is well-defined but not semantically
// meaningful.
func hashToVector(text string, dimension int) []float32 {
	out := make([]float32, dimension)
	block := 0
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", text, block)))
	offset := 0
	for i := 0; i < dimension; i++ {
		if offset+4 > len(digest) {
			block++
			digest = sha256.Sum256([]byte(fmt.Sprintf("%s:%d", text, block)))
			offset = 0
		}
		bits := binary.LittleEndian.Uint32(digest[offset : offset+4])
		offset += 4
		// map uint32 onto [-1, 1]
		out[i] = float32(int32(bits))/float32(1<<31)
	}
	return vecmath.Normalize(out)
}

var _ Embedder = (*LocalEmbedder)(nil)
