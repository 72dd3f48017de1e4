// Package confidence scores how far a retrieval result can be trusted.
//
// The score blends three signals with fixed weights: mean similarity of the
// retrieved chunks, the share of question keywords found in the retrieved
// text, and how full the retrieval was relative to the requested k.
package confidence

import (
	"math"
	"regexp"
	"strings"
)

const (
	SimilarityWeight = 0.5
	KeywordWeight    = 0.3
	RetrievalWeight  = 0.2
)

var wordPattern = regexp.MustCompile(`\p{L}+`)

const minKeywordLength = 4

var stopwords = map[string]struct{}{
	"what": {}, "when": {}, "where": {}, "which": {}, "their": {}, "there": {},
	"about": {}, "policy": {}, "please": {}, "tell": {}, "does": {}, "have": {},
	"this": {}, "that": {}, "with": {}, "from": {},
}

type Inputs struct {
	AvgSimilarity    float64
	KeywordHits      int
	ExpectedKeywords int
	RetrievedChunks  int
	K                int
}

// Score returns the blended confidence rounded to three decimals.
func Score(in Inputs) float64 {
	keywordRatio := 0.0
	if in.ExpectedKeywords > 0 {
		keywordRatio = float64(in.KeywordHits) / float64(in.ExpectedKeywords)
	}

	retrievalRatio := 0.0
	if in.K > 0 {
		retrievalRatio = math.Min(float64(in.RetrievedChunks)/float64(in.K), 1)
	}

	score := SimilarityWeight*in.AvgSimilarity +
		KeywordWeight*keywordRatio +
		RetrievalWeight*retrievalRatio

	return math.Round(score*1000) / 1000
}

// ExtractKeywords returns the lowercased letter runs of at least four
// characters that are not stopwords, in order of appearance. Repeats are kept.
func ExtractKeywords(question string) []string {
	var keywords []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(question), -1) {
		if len([]rune(w)) < minKeywordLength {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		keywords = append(keywords, w)
	}
	return keywords
}

// Coverage counts how many distinct question keywords occur anywhere in the
// combined texts. expected is the number of distinct keywords.
func Coverage(question string, texts []string) (hits, expected int) {
	keywords := ExtractKeywords(question)
	if len(keywords) == 0 {
		return 0, 0
	}

	combined := strings.ToLower(strings.Join(texts, " "))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		if strings.Contains(combined, kw) {
			hits++
		}
	}
	return hits, len(seen)
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
