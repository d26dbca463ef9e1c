package retrieval

import (
	"context"
	"math"
	"strings"

	"github.com/becomeliminal/companion-core/memory"
)

// Scorer computes the relevance term of the retrieval score: how well
// each candidate's text matches the query. The rest of the score
// (importance, source boost, activity scoping) belongs to the pipeline
// and is identical for every scorer, so a semantic scorer can replace
// the lexical one without touching the pipeline.
type Scorer interface {
	Score(ctx context.Context, query string, candidates []*memory.Memory) ([]float64, error)
}

// KeywordWeight is the per-token contribution of a lexical match.
const KeywordWeight = 0.2

// LexicalScorer is the default relevance scorer: simple, explainable
// keyword overlap. Query tokens longer than three characters that appear
// as substrings of the memory text each add KeywordWeight; contributions
// sum linearly with no cap.
type LexicalScorer struct{}

// Score implements Scorer.
func (LexicalScorer) Score(ctx context.Context, query string, candidates []*memory.Memory) ([]float64, error) {
	var tokens []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if len(tok) > 3 {
			tokens = append(tokens, tok)
		}
	}

	scores := make([]float64, len(candidates))
	if len(tokens) == 0 {
		return scores, nil
	}
	for i, m := range candidates {
		text := strings.ToLower(m.Text)
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				scores[i] += KeywordWeight
			}
		}
	}
	return scores, nil
}

// SemanticScorer scores by cosine similarity between the embedded query
// and each candidate's stored embedding. Candidates without an embedding
// score zero. Drop-in replacement for LexicalScorer.
type SemanticScorer struct {
	Embedder memory.Embedder
}

// Score implements Scorer.
func (s *SemanticScorer) Score(ctx context.Context, query string, candidates []*memory.Memory) ([]float64, error) {
	scores := make([]float64, len(candidates))
	if strings.TrimSpace(query) == "" {
		return scores, nil
	}
	qv, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	for i, m := range candidates {
		if len(m.Embedding) == len(qv) && len(qv) > 0 {
			scores[i] = float64(cosine(qv, m.Embedding))
		}
	}
	return scores, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}
