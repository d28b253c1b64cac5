// Package translator turns free-form task descriptions into executable
// commands via a chat-completion provider.
//
// Results are memoized by the exact task string in a bounded LRU cache, so
// repeated submissions of the same task never pay for a second model call.
// The cache is a pure memoizer: no invalidation on external state change,
// entries only leave by capacity eviction.
package translator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jkaninda/taskgate/internal/llm"
)

const (
	// systemPrompt is the fixed instruction sent with every translation.
	systemPrompt = "Convert the following task into an executable command."

	// DefaultCacheSize bounds the number of memoized translations.
	DefaultCacheSize = 100

	// defaultMaxTokens keeps translated commands short.
	defaultMaxTokens = 50

	defaultTimeout = 30 * time.Second
)

// ErrTranslation wraps any provider transport or decode failure.
// Translations are never retried automatically.
var ErrTranslation = errors.New("translating task failed")

// Config configures the translator.
type Config struct {
	CacheSize int           // Memoized entries. 0 = 100 default.
	MaxTokens int           // Completion token budget. 0 = 50 default.
	Timeout   time.Duration // Per-call provider deadline. 0 = 30s default.
}

// Metrics receives translation outcomes. Nil-safe via the recorder interface;
// the observability package provides the production implementation.
type Metrics interface {
	RecordTranslation(cacheHit bool, status string, duration time.Duration)
}

// Translator memoizes provider completions keyed by exact task string.
type Translator struct {
	provider  llm.Provider
	cache     *lru.Cache[string, string]
	maxTokens int
	timeout   time.Duration
	metrics   Metrics
	logger    *slog.Logger
}

// New creates a Translator backed by the given provider.
func New(provider llm.Provider, cfg Config, logger *slog.Logger) (*Translator, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating translation cache: %w", err)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Translator{
		provider:  provider,
		cache:     cache,
		maxTokens: maxTokens,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// WithMetrics attaches a metrics recorder.
func (t *Translator) WithMetrics(m Metrics) *Translator {
	t.metrics = m
	return t
}

// Translate returns the executable command for the given task description.
// Identical task strings return the previously computed result without a new
// provider call, up to the cache capacity. Concurrent misses on the same key
// may each call the provider once; last write wins, which is harmless since
// the translation is a pure function of the input.
func (t *Translator) Translate(ctx context.Context, task string) (string, error) {
	if cached, ok := t.cache.Get(task); ok {
		t.record(true, "success", 0)
		t.logger.DebugContext(ctx, "translation cache hit", slog.String("task", task))
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	resp, err := t.provider.Complete(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: task}},
		MaxTokens:    t.maxTokens,
	})
	duration := time.Since(start)
	if err != nil {
		t.record(false, "error", duration)
		t.logger.ErrorContext(ctx, "translation failed",
			slog.String("task", task),
			slog.String("provider", t.provider.Name()),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %w", ErrTranslation, err)
	}

	command := strings.TrimSpace(resp.Content)
	t.cache.Add(task, command)
	t.record(false, "success", duration)

	t.logger.InfoContext(ctx, "task translated",
		slog.String("task", task),
		slog.String("command", command),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.Duration("duration", duration),
	)

	return command, nil
}

// CacheLen reports the number of memoized translations.
func (t *Translator) CacheLen() int { return t.cache.Len() }

func (t *Translator) record(hit bool, status string, d time.Duration) {
	if t.metrics != nil {
		t.metrics.RecordTranslation(hit, status, d)
	}
}
