package filter

import (
	"strings"

	"corpus-pipeline/internal/models"
)

// Key fields the near-duplicate filter can compare on.
const (
	KeySource = "source_text"
	KeyTarget = "target_text"
)

// TokenSet is the lower-cased whitespace token set of a text.
type TokenSet map[string]struct{}

// Tokens lower-cases s, collapses whitespace and splits it into a set.
func Tokens(s string) TokenSet {
	fields := strings.Fields(strings.ToLower(s))
	set := make(TokenSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets are identical (1.0); an
// empty set against a non-empty one scores 0.0.
func Jaccard(a, b TokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// SimilarityIndex holds kept exemplars and answers near-duplicate lookups.
type SimilarityIndex interface {
	// Match returns the first exemplar, in insertion order, whose similarity
	// to tokens reaches the threshold.
	Match(tokens TokenSet) (id int64, score float64, ok bool)
	Add(id int64, tokens TokenSet)
}

type exemplar struct {
	id     int64
	tokens TokenSet
}

// LinearIndex scans every exemplar in insertion order.
type LinearIndex struct {
	threshold float64
	exemplars []exemplar
}

// NewLinearIndex returns an empty index that matches at or above threshold.
func NewLinearIndex(threshold float64) *LinearIndex {
	return &LinearIndex{threshold: threshold}
}

func (x *LinearIndex) Match(tokens TokenSet) (int64, float64, bool) {
	for _, ex := range x.exemplars {
		if sim := Jaccard(tokens, ex.tokens); sim >= x.threshold {
			return ex.id, sim, true
		}
	}
	return 0, 0, false
}

func (x *LinearIndex) Add(id int64, tokens TokenSet) {
	x.exemplars = append(x.exemplars, exemplar{id: id, tokens: tokens})
}

// NearDuplicate drops rows whose token set is too similar to an already kept row.
type NearDuplicate struct {
	KeyField  string
	Threshold float64
	// NewIndex overrides the exemplar index; nil means a LinearIndex.
	NewIndex func(threshold float64) SimilarityIndex
}

func (NearDuplicate) Name() string { return "dup_near" }

func (n NearDuplicate) Apply(rows []models.Row) Result {
	var index SimilarityIndex
	if n.NewIndex != nil {
		index = n.NewIndex(n.Threshold)
	} else {
		index = NewLinearIndex(n.Threshold)
	}

	res := Result{}
	for _, r := range rows {
		tokens := Tokens(n.key(r))
		if id, score, ok := index.Match(tokens); ok {
			res.Drops = append(res.Drops, models.Drop{
				Row:         r,
				Reason:      models.ReasonDupNear,
				DuplicateOf: ptr(id),
				Jaccard:     ptr(round3(score)),
			})
			continue
		}
		index.Add(r.ID, tokens)
		res.Kept = append(res.Kept, r)
	}
	res.Stats = map[string]int{models.CountDroppedDupNear: len(res.Drops)}
	return res
}

func (n NearDuplicate) key(r models.Row) string {
	if n.KeyField == KeyTarget {
		return r.TargetText
	}
	return r.SourceText
}
