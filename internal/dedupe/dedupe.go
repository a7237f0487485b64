// Package dedupe collapses candidate articles that report the same
// underlying story across different sources.
package dedupe

import (
	"sort"
	"strings"
	"unicode"

	"github.com/truescope/truescope/internal/source"
)

// stopWords are dropped during title normalization so that boilerplate
// words do not inflate similarity scores.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "in": true, "is": true, "it": true, "its": true, "of": true,
	"on": true, "or": true, "say": true, "says": true, "that": true, "the": true,
	"to": true, "was": true, "were": true, "will": true, "with": true,
}

// StoryCluster groups the candidate articles that cover one story. It
// exists only within a single automation run.
type StoryCluster struct {
	// Key is the normalized title of the cluster's seed article.
	Key     string
	Members []source.Article
	// Biases is the sorted distinct set of source bias labels
	// represented among the members.
	Biases []source.Bias
}

// CrossBias reports whether the cluster is corroborated by sources
// carrying more than one bias label.
func (c StoryCluster) CrossBias() bool {
	return len(c.Biases) > 1
}

// ExclusiveBias returns the single bias label sourcing this cluster, or
// "" when the cluster is cross-bias.
func (c StoryCluster) ExclusiveBias() source.Bias {
	if len(c.Biases) == 1 {
		return c.Biases[0]
	}
	return ""
}

// Newest returns the most recent publish time among the members.
func (c StoryCluster) Newest() (t int64) {
	for _, m := range c.Members {
		if ts := m.PublishedAt.UnixNano(); ts > t {
			t = ts
		}
	}
	return t
}

// Representative picks the member to publish: the newest article,
// preferring CENTER-tagged sources when one exists.
func (c StoryCluster) Representative() source.Article {
	best := c.Members[0]
	bestCenter := best.SourceBias == source.BiasCenter
	for _, m := range c.Members[1:] {
		center := m.SourceBias == source.BiasCenter
		switch {
		case center && !bestCenter:
			best, bestCenter = m, true
		case center == bestCenter && m.PublishedAt.After(best.PublishedAt):
			best = m
		}
	}
	return best
}

// NormalizeTitle lowercases a title, strips punctuation, removes stop
// words, and collapses whitespace.
func NormalizeTitle(title string) string {
	return strings.Join(normalizedTokens(title), " ")
}

func normalizedTokens(title string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	var tokens []string
	for _, tok := range strings.Fields(b.String()) {
		if !stopWords[tok] {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// Similarity returns the Jaccard similarity of two titles' normalized
// token sets, in [0, 1].
func Similarity(a, b string) float64 {
	setA := tokenSet(normalizedTokens(a))
	setB := tokenSet(normalizedTokens(b))
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// Cluster groups candidates into story clusters. Two articles join the
// same cluster when their normalized titles are equal or their
// similarity reaches threshold. Candidates are sorted deterministically
// before the greedy pass, so the result does not depend on input order.
func Cluster(articles []source.Article, threshold float64) []StoryCluster {
	sorted := make([]source.Article, len(articles))
	copy(sorted, articles)
	sort.Slice(sorted, func(i, j int) bool {
		ni, nj := NormalizeTitle(sorted[i].Title), NormalizeTitle(sorted[j].Title)
		if ni != nj {
			return ni < nj
		}
		if !sorted[i].PublishedAt.Equal(sorted[j].PublishedAt) {
			return sorted[i].PublishedAt.Before(sorted[j].PublishedAt)
		}
		return sorted[i].SourceID < sorted[j].SourceID
	})

	var clusters []StoryCluster
	for _, art := range sorted {
		norm := NormalizeTitle(art.Title)
		if norm == "" {
			continue
		}
		matched := false
		for i := range clusters {
			if norm == clusters[i].Key || Similarity(art.Title, clusters[i].Members[0].Title) >= threshold {
				clusters[i].Members = append(clusters[i].Members, art)
				matched = true
				break
			}
		}
		if !matched {
			clusters = append(clusters, StoryCluster{Key: norm, Members: []source.Article{art}})
		}
	}

	for i := range clusters {
		clusters[i].Biases = distinctBiases(clusters[i].Members)
	}
	return clusters
}

func distinctBiases(members []source.Article) []source.Bias {
	seen := make(map[source.Bias]bool, 3)
	for _, m := range members {
		seen[m.SourceBias] = true
	}
	biases := make([]source.Bias, 0, len(seen))
	for b := range seen {
		biases = append(biases, b)
	}
	sort.Slice(biases, func(i, j int) bool { return biases[i] < biases[j] })
	return biases
}
