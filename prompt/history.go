package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/becomeliminal/companion-core/core"
)

// HistorySummarizer condenses an excluded prefix of conversation turns
// into one line of text. The budget-enforcement algorithm in
// FormatHistory is independent of the implementation; HeuristicSummarizer
// is the zero-dependency fallback, and the summarizer subpackages plug
// in model-backed ones.
type HistorySummarizer interface {
	SummarizeHistory(ctx context.Context, excluded []core.Message) (string, error)
}

// FormatHistory windows messages to a token budget. Messages arrive
// oldest first; the walk runs newest to oldest accumulating the token
// estimate, and once the next older message would exceed the budget the
// rest is replaced by exactly one synthetic system entry summarizing it.
// A nil summarizer, or a summarizer failure, falls back to the
// heuristic.
func FormatHistory(ctx context.Context, messages []core.Message, tokenBudget int, summarizer HistorySummarizer) []core.Message {
	if len(messages) == 0 {
		return []core.Message{}
	}

	used := 0
	cut := 0 // messages[:cut] are excluded
	for i := len(messages) - 1; i >= 0; i-- {
		cost := EstimateTokens(messages[i].Content)
		if used+cost > tokenBudget {
			cut = i + 1
			break
		}
		used += cost
	}
	if cut == 0 {
		out := make([]core.Message, len(messages))
		copy(out, messages)
		return out
	}

	excluded := messages[:cut]
	summary, err := summarize(ctx, excluded, summarizer)
	if err != nil || summary == "" {
		summary, _ = HeuristicSummarizer{}.SummarizeHistory(ctx, excluded)
	}

	out := make([]core.Message, 0, len(messages)-cut+1)
	out = append(out, core.Message{Role: core.RoleSystem, Content: summary})
	out = append(out, messages[cut:]...)
	return out
}

func summarize(ctx context.Context, excluded []core.Message, s HistorySummarizer) (string, error) {
	if s == nil {
		s = HeuristicSummarizer{}
	}
	return s.SummarizeHistory(ctx, excluded)
}

// HeuristicSummarizer condenses excluded turns without a model call.
// Short prefixes get a per-exchange digest; longer ones get a topic
// line from the most frequent content words of the user's turns.
type HeuristicSummarizer struct{}

const (
	// digestSideLimit truncates each side of an exchange digest.
	digestSideLimit = 60
	// topicPairThreshold is the largest prefix that still digests per
	// exchange.
	topicPairThreshold = 3
	topicWordCount     = 5
	topicMinWordLen    = 4
)

// SummarizeHistory implements HistorySummarizer. Never returns an error.
func (HeuristicSummarizer) SummarizeHistory(_ context.Context, excluded []core.Message) (string, error) {
	pairs := exchangePairs(excluded)
	if len(pairs) == 0 {
		return "Earlier conversation omitted.", nil
	}
	if len(pairs) <= topicPairThreshold {
		lines := make([]string, len(pairs))
		for i, p := range pairs {
			lines[i] = p.digest()
		}
		return "Earlier: " + strings.Join(lines, " | "), nil
	}

	topics := topTopics(userContents(excluded), topicWordCount)
	if len(topics) == 0 {
		return "Earlier conversation omitted.", nil
	}
	return "conversation previously covered topics like " + strings.Join(topics, ", "), nil
}

type exchange struct {
	user      string
	assistant string
}

func (e exchange) digest() string {
	u := truncate(e.user, digestSideLimit)
	a := truncate(e.assistant, digestSideLimit)
	switch {
	case u != "" && a != "":
		return fmt.Sprintf("User: %s / You: %s", u, a)
	case u != "":
		return "User: " + u
	default:
		return "You: " + a
	}
}

// exchangePairs groups consecutive user/assistant turns. A user turn
// opens a pair; the next assistant turn closes it.
func exchangePairs(messages []core.Message) []exchange {
	var pairs []exchange
	var cur *exchange
	for _, m := range messages {
		switch m.Role {
		case core.RoleUser:
			if cur != nil {
				pairs = append(pairs, *cur)
			}
			cur = &exchange{user: m.Content}
		case core.RoleAssistant:
			if cur == nil {
				cur = &exchange{}
			}
			cur.assistant = m.Content
			pairs = append(pairs, *cur)
			cur = nil
		}
	}
	if cur != nil {
		pairs = append(pairs, *cur)
	}
	return pairs
}

func userContents(messages []core.Message) []string {
	var out []string
	for _, m := range messages {
		if m.Role == core.RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

// condenseEvents summarizes older task events into one topic line for
// the task-state section.
func condenseEvents(events []string) string {
	topics := topTopics(events, topicWordCount)
	if len(topics) == 0 {
		return fmt.Sprintf("%d earlier events omitted", len(events))
	}
	return "earlier events involved " + strings.Join(topics, ", ")
}

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "been": {},
	"being": {}, "could": {}, "does": {}, "down": {}, "every": {},
	"from": {}, "have": {}, "here": {}, "just": {}, "know": {},
	"like": {}, "more": {}, "much": {}, "only": {}, "over": {},
	"really": {}, "said": {}, "some": {}, "than": {}, "that": {},
	"them": {}, "then": {}, "there": {}, "they": {}, "this": {},
	"very": {}, "want": {}, "well": {}, "were": {}, "what": {},
	"when": {}, "which": {}, "will": {}, "with": {}, "would": {},
	"your": {},
}

// topTopics returns the n most frequent content words across the given
// texts. Ties break alphabetically so output is deterministic.
func topTopics(texts []string, n int) []string {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, raw := range strings.Fields(strings.ToLower(text)) {
			word := strings.Trim(raw, ".,!?;:'\"()")
			if len(word) < topicMinWordLen {
				continue
			}
			if _, stop := stopWords[word]; stop {
				continue
			}
			counts[word]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}
