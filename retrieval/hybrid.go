package retrieval

import (
	"context"
	"log"
	"math"
	"strings"
	"unicode"
)

const (
	defaultSemanticWeight = 0.7
	defaultKeywordWeight  = 0.3
)

// Ranker produces ranked matches for a query. Implemented by HybridRanker
// and SemanticRanker.
type Ranker interface {
	Search(ctx context.Context, queryVec []float32, queryText string, opts SearchOptions) ([]Match, error)
}

// SemanticRanker ranks by cosine similarity alone.
type SemanticRanker struct {
	cache *Cache
}

func NewSemanticRanker(cache *Cache) *SemanticRanker {
	return &SemanticRanker{cache: cache}
}

func (r *SemanticRanker) Search(ctx context.Context, queryVec []float32, _ string, opts SearchOptions) ([]Match, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}
	return r.cache.Search(ctx, queryVec, limit, opts.Threshold)
}

// SearchOptions tunes one hybrid query.
type SearchOptions struct {
	Limit     int
	Threshold float64
	// Section restricts the keyword candidates to chunks whose section title
	// contains the filter, case-insensitively.
	Section string
}

// HybridRanker fuses cosine similarity with a term-frequency keyword score.
// Each side nominates its top 2×limit candidates; a chunk nominated by both
// accumulates both weighted contributions, keyed by chunk id.
type HybridRanker struct {
	cache          *Cache
	semanticWeight float64
	keywordWeight  float64
	logger         *log.Logger
}

func NewHybridRanker(cache *Cache, semanticWeight, keywordWeight float64, logger *log.Logger) *HybridRanker {
	if semanticWeight <= 0 {
		semanticWeight = defaultSemanticWeight
	}
	if keywordWeight <= 0 {
		keywordWeight = defaultKeywordWeight
	}
	if logger == nil {
		logger = log.Default()
	}
	return &HybridRanker{
		cache:          cache,
		semanticWeight: semanticWeight,
		keywordWeight:  keywordWeight,
		logger:         logger,
	}
}

// Search returns the top opts.Limit chunks by fused score.
func (h *HybridRanker) Search(ctx context.Context, queryVec []float32, queryText string, opts SearchOptions) ([]Match, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	semantic, err := h.cache.Search(ctx, queryVec, 2*limit, opts.Threshold)
	if err != nil {
		return nil, err
	}

	entries, err := h.cache.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	keyword := topMatches(keywordScores(entries, queryText, opts.Section), 2*limit)

	type fused struct {
		match Match
		score float64
	}
	order := make([]string, 0, len(semantic)+len(keyword))
	combined := make(map[string]*fused, len(semantic)+len(keyword))

	for _, match := range semantic {
		id := match.Chunk.ID
		combined[id] = &fused{match: match, score: match.Score * h.semanticWeight}
		order = append(order, id)
	}
	for _, match := range keyword {
		id := match.Chunk.ID
		if existing, ok := combined[id]; ok {
			existing.score += match.Score * h.keywordWeight
			continue
		}
		combined[id] = &fused{match: match, score: match.Score * h.keywordWeight}
		order = append(order, id)
	}

	matches := make([]Match, 0, len(order))
	for _, id := range order {
		f := combined[id]
		f.match.Score = f.score
		matches = append(matches, f.match)
	}

	return topMatches(matches, limit), nil
}

// keywordScores ranks entries by term frequency and query coverage,
// normalized to [0,1). Entries matching no query term are skipped.
func keywordScores(entries []Entry, query, section string) []Match {
	terms := uniqueTerms(tokenize(query))
	if len(terms) == 0 {
		return nil
	}
	sectionFilter := strings.ToLower(strings.TrimSpace(section))

	matches := make([]Match, 0)
	for _, entry := range entries {
		if sectionFilter != "" &&
			!strings.Contains(strings.ToLower(entry.Chunk.SectionTitle), sectionFilter) {
			continue
		}

		counts := make(map[string]int)
		for _, token := range tokenize(entry.Chunk.Content) {
			counts[token]++
		}

		var tfSum float64
		matched := 0
		for _, term := range terms {
			if n := counts[term]; n > 0 {
				matched++
				tfSum += math.Log(1 + float64(n))
			}
		}
		if matched == 0 {
			continue
		}

		coverage := float64(matched) / float64(len(terms))
		score := (tfSum / (1 + tfSum)) * coverage
		matches = append(matches, Match{Entry: entry, Score: score})
	}
	return matches
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
