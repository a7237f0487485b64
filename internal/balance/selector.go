// Package balance selects the publication set for a run under the
// cross-bias corroboration and exclusive-bias fairness policy.
package balance

import (
	"sort"

	"github.com/truescope/truescope/internal/dedupe"
	"github.com/truescope/truescope/internal/source"
)

// Select chooses up to maxArticles clusters for publication.
//
// Clusters corroborated across bias labels are preferred; among equals,
// larger and more recent clusters win. The fairness cap bounds, for
// every bias label, the share of the selected set made up of clusters
// sourced exclusively from that label. The cap is enforced while the
// set is built: a candidate that would push a label past the cap is
// held back and reconsidered as the set grows, and the result is left
// short of maxArticles rather than ever violating the cap.
func Select(clusters []dedupe.StoryCluster, maxArticles int, exclusiveCap float64) []dedupe.StoryCluster {
	if maxArticles <= 0 || len(clusters) == 0 {
		return nil
	}

	ordered := rank(clusters)
	selected := make([]dedupe.StoryCluster, 0, maxArticles)
	exclusive := make(map[source.Bias]int, 3)
	picked := make([]bool, len(ordered))

	// Repeat passes until a full pass admits nothing: an exclusive
	// cluster rejected early can become admissible once other labels
	// have grown the set.
	for len(selected) < maxArticles {
		progress := false
		for i, c := range ordered {
			if picked[i] {
				continue
			}
			if len(selected) >= maxArticles {
				break
			}
			if bias := c.ExclusiveBias(); bias != "" {
				if !withinCap(exclusive[bias]+1, len(selected)+1, exclusiveCap) {
					continue
				}
				exclusive[bias]++
			}
			picked[i] = true
			selected = append(selected, c)
			progress = true
		}
		if !progress {
			break
		}
	}
	return selected
}

// withinCap reports whether count exclusive clusters out of total
// selected stays at or under the cap share.
func withinCap(count, total int, share float64) bool {
	const epsilon = 1e-9
	return float64(count) <= share*float64(total)+epsilon
}

// rank orders clusters by descending corroboration (distinct bias
// labels, then member count), then recency, then key for stable ties.
func rank(clusters []dedupe.StoryCluster) []dedupe.StoryCluster {
	ordered := make([]dedupe.StoryCluster, len(clusters))
	copy(ordered, clusters)
	sort.SliceStable(ordered, func(i, j int) bool {
		if len(ordered[i].Biases) != len(ordered[j].Biases) {
			return len(ordered[i].Biases) > len(ordered[j].Biases)
		}
		if len(ordered[i].Members) != len(ordered[j].Members) {
			return len(ordered[i].Members) > len(ordered[j].Members)
		}
		if ni, nj := ordered[i].Newest(), ordered[j].Newest(); ni != nj {
			return ni > nj
		}
		return ordered[i].Key < ordered[j].Key
	})
	return ordered
}
