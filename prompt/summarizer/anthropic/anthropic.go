// Package anthropic implements profile and history summarization with
// the Claude Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/time/rate"

	"github.com/becomeliminal/companion-core/core"
	"github.com/becomeliminal/companion-core/memory"
)

// Defaults for Config fields left zero.
const (
	DefaultModel      = "claude-3-5-haiku-latest"
	DefaultMaxTokens  = 512
	DefaultMaxSources = 50
	// DefaultRPS throttles summarization calls; summaries are cached
	// upstream, so a low ceiling is fine.
	DefaultRPS = 2
)

// Config tunes the summarizer.
type Config struct {
	Model     string
	MaxTokens int64
	// MaxSources caps how many memories feed a profile summary.
	MaxSources int
	// RPS limits requests per second to the API.
	RPS float64
}

// DefaultConfig returns the standard summarizer configuration.
func DefaultConfig() Config {
	return Config{
		Model:      DefaultModel,
		MaxTokens:  DefaultMaxTokens,
		MaxSources: DefaultMaxSources,
		RPS:        DefaultRPS,
	}
}

// Summarizer produces profile and history summaries via Claude. It
// satisfies both summarizer interfaces of the prompt package.
type Summarizer struct {
	client   *anthropic.Client
	memories *memory.Service
	cfg      Config
	limiter  *rate.Limiter
}

// New creates a summarizer. memories may be nil if only history
// summarization is used.
func New(client *anthropic.Client, memories *memory.Service, cfg Config) *Summarizer {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = DefaultMaxSources
	}
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRPS
	}
	return &Summarizer{
		client:   client,
		memories: memories,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), 1),
	}
}

const profileInstruction = "Summarize what is known about this user in a short paragraph. " +
	"Write in second person addressed to an AI companion (\"The user likes...\"). " +
	"Only state facts present in the notes; do not speculate."

// SummarizeProfile implements prompt.ProfileSummarizer. An empty string
// with nil error means there is nothing to summarize.
func (s *Summarizer) SummarizeProfile(ctx context.Context, userID string) (string, error) {
	if s.memories == nil {
		return "", nil
	}
	mems, err := s.memories.ListByUser(ctx, userID, memory.Filter{})
	if err != nil {
		return "", fmt.Errorf("profile summary: %w", err)
	}
	if len(mems) == 0 {
		return "", nil
	}
	if len(mems) > s.cfg.MaxSources {
		mems = mems[:s.cfg.MaxSources]
	}

	var b strings.Builder
	b.WriteString("Notes about the user:\n")
	for _, m := range mems {
		fmt.Fprintf(&b, "- %s\n", m.Text)
	}
	return s.complete(ctx, profileInstruction, b.String())
}

const historyInstruction = "Summarize this earlier part of a conversation in one short sentence " +
	"so the assistant can keep continuity. Mention concrete topics, not pleasantries."

// SummarizeHistory implements prompt.HistorySummarizer.
func (s *Summarizer) SummarizeHistory(ctx context.Context, excluded []core.Message) (string, error) {
	if len(excluded) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, m := range excluded {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return s.complete(ctx, historyInstruction, b.String())
}

func (s *Summarizer) complete(ctx context.Context, instruction, input string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: s.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: instruction},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(input)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return strings.TrimSpace(text), nil
}
