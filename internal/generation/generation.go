// Package generation calls the language model that turns precompute
// queries into response text.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/config"
	"github.com/rcliao/ham/internal/hamerr"
)

const DefaultSystemPrompt = "You are a warm, attentive companion. Reply to the user's message in one or two short sentences."

// Generator produces a reply for query. The deadline travels in ctx.
type Generator interface {
	Generate(ctx context.Context, query string, hints map[string]any) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, query string, hints map[string]any) (string, error)

func (f Func) Generate(ctx context.Context, query string, c map[string]any) (string, error) {
	return f(ctx, query, c)
}

// New builds the configured provider wrapped in a circuit breaker.
func New(cfg config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	var g Generator
	switch cfg.Provider {
	case "anthropic":
		g = NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens, cfg.System, httpClient)
	case "openai":
		g = NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens, cfg.System, httpClient)
	case "":
		return nil, hamerr.New(hamerr.KindInvalid, "generation.new", "no generation provider configured (set HAM_GEN_PROVIDER)")
	default:
		return nil, hamerr.New(hamerr.KindInvalid, "generation.new", "unknown provider %q", cfg.Provider)
	}
	return NewBreaker(g, BreakerOptions{Name: cfg.Provider, Logger: logger}), nil
}

// systemPrompt appends the task context to the base prompt.
func systemPrompt(base string, c map[string]any) string {
	if base == "" {
		base = DefaultSystemPrompt
	}
	if len(c) == 0 {
		return base
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nContext:")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %v", k, c[k])
	}
	return b.String()
}

// classify maps deadline errors to the Timeout kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return hamerr.Wrap(hamerr.KindTimeout, op, err)
	}
	var nerr interface{ Timeout() bool }
	if errors.As(err, &nerr) && nerr.Timeout() {
		return hamerr.Wrap(hamerr.KindTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func defaultDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
