// Package tfidf scores page keywords by term frequency and inverse document
// frequency over a fixed corpus.
package tfidf

import (
	"fmt"
	"math"
	"sort"
)

// Default thresholds.
const (
	DefaultMinScore       = 0.1
	DefaultRelevanceScore = 0.2
)

// TermScore is one keyword of a document with its weights.
type TermScore struct {
	Term              string  `json:"keyword"`
	Score             float64 `json:"tf_idf_score"`
	TermFrequency     int     `json:"term_frequency"`
	DocumentFrequency int     `json:"document_frequency"`
}

// Corpus is an immutable index over a set of documents. Scores are only
// comparable within the same corpus.
type Corpus struct {
	counts   []map[string]int
	totals   []int
	docFreq  map[string]int
	minScore float64
}

// Option configures a Corpus.
type Option func(*Corpus)

// WithMinScore overrides the score a term must exceed to be returned.
func WithMinScore(min float64) Option {
	return func(c *Corpus) { c.minScore = min }
}

// BuildCorpus tokenizes every document once and builds the document
// frequency table. Document indexes follow the order of docs.
func BuildCorpus(docs []string, opts ...Option) *Corpus {
	c := &Corpus{
		counts:   make([]map[string]int, len(docs)),
		totals:   make([]int, len(docs)),
		docFreq:  make(map[string]int),
		minScore: DefaultMinScore,
	}
	for _, opt := range opts {
		opt(c)
	}

	for i, doc := range docs {
		tokens := Tokenize(doc)
		counts := make(map[string]int, len(tokens))
		for _, t := range tokens {
			counts[t]++
		}
		c.counts[i] = counts
		c.totals[i] = len(tokens)
		for t := range counts {
			c.docFreq[t]++
		}
	}
	return c
}

// Len returns the number of documents in the corpus.
func (c *Corpus) Len() int { return len(c.counts) }

// DocumentFrequency returns how many documents contain term.
func (c *Corpus) DocumentFrequency(term string) int { return c.docFreq[term] }

// Score returns the terms of document i whose TF-IDF exceeds the minimum
// score, highest first.
func (c *Corpus) Score(i int) ([]TermScore, error) {
	if i < 0 || i >= len(c.counts) {
		return nil, fmt.Errorf("document %d out of range [0,%d)", i, len(c.counts))
	}

	total := c.totals[i]
	n := float64(len(c.counts))
	var scores []TermScore
	for term, count := range c.counts[i] {
		tf := 0.0
		if total > 0 {
			tf = float64(count) / float64(total)
		}
		df := c.docFreq[term]
		idf := 0.0
		if df > 0 {
			idf = math.Log(n / float64(df))
		}
		score := tf * idf
		if score <= c.minScore {
			continue
		}
		scores = append(scores, TermScore{
			Term:              term,
			Score:             score,
			TermFrequency:     count,
			DocumentFrequency: df,
		})
	}

	sort.Slice(scores, func(a, b int) bool {
		if scores[a].Score != scores[b].Score {
			return scores[a].Score > scores[b].Score
		}
		return scores[a].Term < scores[b].Term
	})
	return scores, nil
}

// Top scores document i and keeps at most n terms.
func (c *Corpus) Top(i, n int) ([]TermScore, error) {
	scores, err := c.Score(i)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(scores) > n {
		scores = scores[:n]
	}
	return scores, nil
}
