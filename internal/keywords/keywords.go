// Package keywords turns raw article text into a ranked keyword→relevance map
// using a term-frequency heuristic. No stemming, no embeddings; the goal is a
// cheap, deterministic signal the pattern store can accumulate against.
package keywords

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultMaxKeywords is the extraction cap used by pattern updates.
	DefaultMaxKeywords = 15

	// minTokenLength: tokens of length <= 2 carry no topical signal.
	minTokenLength = 3

	// Frequency-band multipliers. Words seen 2-10 times are likely topically
	// informative; very frequent words are likely boilerplate and suppressed;
	// singletons get neutral weight.
	informativeBandLow  = 2
	informativeBandHigh = 10
	informativeBoost    = 1.5
	boilerplatePenalty  = 0.5

	// Reading speed for time estimates.
	wordsPerMinute    = 200
	minReadingSeconds = 60
)

// Keyword is a single extracted keyword with its relevance score.
type Keyword struct {
	Word  string
	Score float64
}

var tokenSplitter = regexp.MustCompile(`[^\w]+`)

// Extractor extracts ranked keywords from article text.
type Extractor struct {
	stopWords map[string]bool
}

// NewExtractor creates an extractor with the common English stop-word set.
func NewExtractor() *Extractor {
	return &Extractor{stopWords: commonStopWords()}
}

// Extract returns up to maxKeywords keywords ordered by score, highest first.
// Degenerate or empty text yields an empty slice, not an error.
func (e *Extractor) Extract(text string, maxKeywords int) []Keyword {
	if maxKeywords <= 0 {
		maxKeywords = DefaultMaxKeywords
	}

	tokens := e.Tokenize(text)
	if len(tokens) == 0 {
		return []Keyword{}
	}

	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}
	totalWords := float64(len(tokens))

	keywords := make([]Keyword, 0, len(counts))
	for word, count := range counts {
		tf := float64(count) / totalWords
		score := tf
		switch {
		case count >= informativeBandLow && count <= informativeBandHigh:
			score = tf * informativeBoost
		case count > informativeBandHigh:
			score = tf * boilerplatePenalty
		}
		keywords = append(keywords, Keyword{Word: word, Score: score})
	}

	sort.Slice(keywords, func(i, j int) bool {
		if keywords[i].Score != keywords[j].Score {
			return keywords[i].Score > keywords[j].Score
		}
		return keywords[i].Word < keywords[j].Word
	})

	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}

// Tokenize strips markup, lowercases, splits on non-word boundaries and drops
// short or stop-worded tokens.
func (e *Extractor) Tokenize(text string) []string {
	cleaned := StripMarkup(text)
	cleaned = strings.ToLower(cleaned)

	var tokens []string
	for _, tok := range tokenSplitter.Split(cleaned, -1) {
		if len(tok) < minTokenLength || e.stopWords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// EstimateReadingTime returns the estimated reading time of text in seconds,
// assuming 200 words per minute with a one minute floor.
func EstimateReadingTime(text string) int {
	words := len(strings.Fields(StripMarkup(text)))
	seconds := words * 60 / wordsPerMinute
	if seconds < minReadingSeconds {
		return minReadingSeconds
	}
	return seconds
}

// StripMarkup removes HTML tags from text, returning plain text. Script and
// style contents are dropped entirely. Text without markup passes through
// unchanged, as does text goquery cannot parse.
func StripMarkup(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text()
}

// commonStopWords returns a set of common English stop words.
func commonStopWords() map[string]bool {
	words := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
		"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
		"to", "was", "were", "will", "with", "this", "but", "they",
		"have", "had", "what", "said", "each", "which", "she", "do", "how",
		"their", "if", "up", "out", "many", "then", "them", "these", "so",
		"some", "her", "would", "make", "like", "into", "him", "time", "two",
		"not", "you", "your", "can", "all", "about", "when", "there", "been",
		"more", "also", "who", "than", "other", "after", "just", "over",
	}

	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
