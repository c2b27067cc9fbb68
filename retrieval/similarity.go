// Package retrieval ranks embedded chunks against a query using cosine
// similarity, a TTL snapshot cache, and an optional keyword-fusion ranker.
package retrieval

import (
	"fmt"
	"math"
	"sort"

	"github.com/kerryback/book-chat/store"
)

// DimensionMismatchError reports vectors of different lengths handed to the
// similarity engine. Mismatched vectors are never truncated or padded.
type DimensionMismatchError struct {
	LenA, LenB int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: %d vs %d", e.LenA, e.LenB)
}

// Cosine returns the cosine similarity of two equal-length vectors. A zero
// vector on either side yields 0, not an error.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{LenA: len(a), LenB: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Entry is one cached {chunk, document} pair.
type Entry struct {
	Chunk    store.DocumentChunk
	Document store.Document
}

// Match is an entry scored against a query.
type Match struct {
	Entry
	Score float64
}

// sortMatches orders matches by descending score. Ties keep their original
// order so results are deterministic.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
}

// topMatches sorts and truncates to at most limit matches.
func topMatches(matches []Match, limit int) []Match {
	sortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
