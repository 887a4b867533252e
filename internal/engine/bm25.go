package engine

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/compresr/rlm-proxy/internal/content"
)

// Okapi BM25 constants.
const (
	bm25K1           = 1.5
	bm25B            = 0.75
	defaultChunkSize = 500
	defaultTopK      = 5
)

var tokenPattern = regexp.MustCompile(`\w+`)

// rankedChunk is one BM25 result.
type rankedChunk struct {
	Text  string
	Score float64
	Index int
	Start int
	End   int
}

// searchBM25 ranks overlapping text chunks by relevance to the query and
// emits the top-k as annotated text items.
func searchBM25(items []content.Item, spec SearchSpec) []content.Item {
	chunkSize := spec.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	topK := spec.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	ranked := rankChunks(content.JoinText(items), spec.Pattern, chunkSize, topK)
	results := make([]content.Item, 0, len(ranked))
	for _, c := range ranked {
		results = append(results, content.Text(fmt.Sprintf(
			"[chunk %d, score=%.3f, chars %d-%d]\n%s", c.Index, c.Score, c.Start, c.End, c.Text)))
	}
	return results
}

// rankChunks chunks the text with 25% overlap and scores each chunk with
// Okapi BM25 against the query terms. Only chunks with positive score are
// returned, highest score first, ties broken by lower chunk index.
func rankChunks(text, query string, chunkSize, topK int) []rankedChunk {
	chunks := makeChunks(text, chunkSize)
	if len(chunks) == 0 {
		return nil
	}

	queryTerms := tokenize(query)
	docCount := len(chunks)
	totalLen := 0
	for _, c := range chunks {
		totalLen += len(c)
	}
	avgLen := float64(totalLen) / float64(docCount)

	// Document frequency per query term.
	chunkTokens := make([]map[string]int, len(chunks))
	for i, c := range chunks {
		chunkTokens[i] = termFreq(tokenize(c))
	}
	df := make(map[string]int, len(queryTerms))
	for _, term := range queryTerms {
		for _, tf := range chunkTokens {
			if tf[term] > 0 {
				df[term]++
			}
		}
	}

	var ranked []rankedChunk
	for i, chunk := range chunks {
		score := bm25Score(chunkTokens[i], queryTerms, df, docCount, avgLen)
		if score > 0 {
			end := (i + 1) * chunkSize
			if end > len(text) {
				end = len(text)
			}
			ranked = append(ranked, rankedChunk{
				Text:  chunk,
				Score: score,
				Index: i,
				Start: i * chunkSize,
				End:   end,
			})
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].Score != ranked[b].Score {
			return ranked[a].Score > ranked[b].Score
		}
		return ranked[a].Index < ranked[b].Index
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// makeChunks splits text into windows with overlap of chunkSize/4.
// All-whitespace windows are dropped.
func makeChunks(text string, chunkSize int) []string {
	step := chunkSize - chunkSize/4
	if step < 1 {
		step = 1
	}
	var chunks []string
	for i := 0; i < len(text); i += step {
		end := i + chunkSize
		if end > len(text) {
			end = len(text)
		}
		chunk := text[i:end]
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func termFreq(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	return freq
}

// bm25Score computes the Okapi BM25 score of one chunk. The +1 inside the
// log keeps IDF non-negative for very common terms.
func bm25Score(tf map[string]int, queryTerms []string, df map[string]int, docCount int, avgLen float64) float64 {
	chunkLen := 0
	for _, n := range tf {
		chunkLen += n
	}

	score := 0.0
	for _, term := range queryTerms {
		f := tf[term]
		if f == 0 {
			continue
		}
		d := df[term]
		if d == 0 {
			continue
		}
		idf := math.Log((float64(docCount)-float64(d)+0.5)/(float64(d)+0.5) + 1.0)
		score += idf * (float64(f) * (bm25K1 + 1)) /
			(float64(f) + bm25K1*(1-bm25B+bm25B*float64(chunkLen)/avgLen))
	}
	return score
}
