// Package match scores tagged images against free-text search input.
//
// Scoring is the size of the intersection between the lowercase
// whitespace tokens of the query and the lowercase tag set of an item.
// Items without tags are not eligible. The best item is the first one
// holding the highest score, including a score of zero: an eligible item
// with no overlap still wins when nothing overlaps more.
package match

import (
	"strings"

	"github.com/kailas-cloud/phototag/internal/domain/image"
)

// Result is the selected item with its position and score.
type Result struct {
	Item  image.TaggedItem
	Index int
	Score int
}

// Best returns the best-matching item, or false when no item has tags.
func Best(query string, items []image.TaggedItem) (Result, bool) {
	tokens := tokenSet(query)

	best := Result{Index: -1, Score: -1}
	for i, item := range items {
		if len(item.Tags) == 0 {
			continue
		}

		score := Score(tokens, item.Tags)
		// Strictly greater: ties keep the earliest item.
		if score > best.Score {
			best = Result{Item: item, Index: i, Score: score}
		}
	}

	if best.Index < 0 {
		return Result{}, false
	}
	return best, true
}

// Score counts the distinct lowercase tags of an item present in tokens.
func Score(tokens map[string]struct{}, tags []string) int {
	seen := make(map[string]struct{}, len(tags))
	score := 0
	for _, t := range tags {
		t = strings.ToLower(t)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := tokens[t]; ok {
			score++
		}
	}
	return score
}

// Tokens splits a query on whitespace into a set of lowercase words.
// No stemming and no punctuation stripping.
func Tokens(query string) []string {
	set := tokenSet(query)
	out := make([]string, 0, len(set))
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if _, ok := set[w]; ok {
			out = append(out, w)
			delete(set, w)
		}
	}
	return out
}

func tokenSet(query string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(query))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
