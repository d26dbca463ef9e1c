// Package openai implements profile and history summarization with the
// OpenAI chat completion API. Interchangeable with the anthropic
// summarizer.
package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/becomeliminal/companion-core/core"
	"github.com/becomeliminal/companion-core/memory"
)

// Defaults for Config fields left zero.
const (
	DefaultModel      = openai.GPT4oMini
	DefaultMaxTokens  = 512
	DefaultMaxSources = 50
	DefaultRPS        = 2
)

// Config tunes the summarizer.
type Config struct {
	Model      string
	MaxTokens  int
	MaxSources int
	RPS        float64
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

// Summarizer produces profile and history summaries via OpenAI.
type Summarizer struct {
	client   *openai.Client
	memories *memory.Service
	cfg      Config
	limiter  *rate.Limiter
}

// New creates a summarizer. memories may be nil if only history
// summarization is used.
func New(client *openai.Client, memories *memory.Service, cfg Config) *Summarizer {
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
	"Write it for an AI companion (\"The user likes...\"). " +
	"Only state facts present in the notes; do not speculate."

// SummarizeProfile implements prompt.ProfileSummarizer.
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
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
