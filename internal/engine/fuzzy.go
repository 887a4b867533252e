package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/compresr/rlm-proxy/internal/content"
)

const (
	defaultFuzzyThreshold  = 0.7
	defaultFuzzyMaxMatches = 10
	fuzzyContextRadius     = 50
)

// fuzzyMatch is one approximate match with its surrounding context.
type fuzzyMatch struct {
	Match      string
	Similarity float64
	Position   int
	Context    string
}

// searchFuzzy emits approximate matches of the pattern as annotated text
// items, best match first.
func searchFuzzy(items []content.Item, spec SearchSpec) []content.Item {
	threshold := spec.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultFuzzyThreshold
	}
	maxMatches := spec.MaxMatches
	if maxMatches <= 0 {
		maxMatches = defaultFuzzyMaxMatches
	}

	matches := fuzzySearch(content.JoinText(items), spec.Pattern, threshold, maxMatches)
	results := make([]content.Item, 0, len(matches))
	for _, m := range matches {
		results = append(results, content.Text(fmt.Sprintf(
			"[similarity=%.2f, position=%d]\n%s", m.Similarity, m.Position, m.Context)))
	}
	return results
}

// fuzzySearch slides a pattern-length window across the text. A cheap
// character-frequency pre-filter rejects hopeless windows before the
// Levenshtein pass; a hit skips the scan past itself so matches never
// overlap. Results are sorted by similarity descending.
func fuzzySearch(text, pattern string, threshold float64, maxMatches int) []fuzzyMatch {
	patternLen := len(pattern)
	if patternLen == 0 || len(text) < patternLen {
		return nil
	}

	loweredPattern := strings.ToLower(pattern)
	patternFreq := charFreq(loweredPattern)
	maxDistance := int((1.0 - threshold) * float64(patternLen))

	var matches []fuzzyMatch
	skipUntil := -1
	for i := 0; i+patternLen <= len(text); i++ {
		if i < skipUntil {
			continue
		}
		window := text[i : i+patternLen]
		loweredWindow := strings.ToLower(window)

		if charFreqDiff(patternFreq, charFreq(loweredWindow)) > maxDistance*2 {
			continue
		}

		similarity := 1.0 - float64(levenshtein(loweredPattern, loweredWindow))/float64(patternLen)
		if similarity < threshold {
			continue
		}

		start := i - fuzzyContextRadius
		if start < 0 {
			start = 0
		}
		end := i + patternLen + fuzzyContextRadius
		if end > len(text) {
			end = len(text)
		}
		matches = append(matches, fuzzyMatch{
			Match:      window,
			Similarity: similarity,
			Position:   i,
			Context:    text[start:end],
		})
		skipUntil = i + patternLen
		if len(matches) >= maxMatches {
			break
		}
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Similarity > matches[b].Similarity
	})
	return matches
}

func charFreq(s string) map[rune]int {
	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}
	return freq
}

// charFreqDiff is the symmetric multiset difference of two frequency maps.
func charFreqDiff(a, b map[rune]int) int {
	diff := 0
	for r, n := range a {
		if d := n - b[r]; d > 0 {
			diff += d
		}
	}
	for r, n := range b {
		if d := n - a[r]; d > 0 {
			diff += d
		}
	}
	return diff
}

// levenshtein computes edit distance with the classic two-row method.
func levenshtein(a, b string) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 0; i < len(a); i++ {
		curr[0] = i + 1
		for j := 0; j < len(b); j++ {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}
			curr[j+1] = min3(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
