// Package place is the batch dedup collaborator for place records. It is a
// much simpler problem than person resolution: addresses are already
// normalized, so a single pass with static trigram tiers is enough.
package place

import (
	"context"
	"sort"
	"strings"

	"trapper/internal/similarity"
	id "trapper/pkg/domain"
)

// Tier buckets a pair by how certain the duplicate call is.
type Tier string

const (
	// TierExact: normalized addresses are identical.
	TierExact Tier = "exact"
	// TierLikely: trigram similarity clears the auto-merge threshold.
	TierLikely Tier = "likely"
	// TierReview: similar enough to surface, not enough to merge.
	TierReview Tier = "review"
)

// Candidate is one place record entering dedup.
type Candidate struct {
	ID          id.PlaceID
	Name        string
	AddressNorm string
}

// Match pairs two candidates the deduper believes refer to one place.
type Match struct {
	Left       id.PlaceID
	Right      id.PlaceID
	Similarity float64
	Tier       Tier
}

const (
	defaultLikelyThreshold = 0.85
	defaultReviewThreshold = 0.55
)

// Deduper finds duplicate places within one batch.
type Deduper struct {
	likelyThreshold float64
	reviewThreshold float64
}

// DeduperOption adjusts the static thresholds.
type DeduperOption func(*Deduper)

// WithThresholds overrides the likely and review cutoffs.
func WithThresholds(likely, review float64) DeduperOption {
	return func(d *Deduper) {
		d.likelyThreshold = likely
		d.reviewThreshold = review
	}
}

// NewDeduper builds a deduper with the shipped thresholds.
func NewDeduper(opts ...DeduperOption) *Deduper {
	d := &Deduper{
		likelyThreshold: defaultLikelyThreshold,
		reviewThreshold: defaultReviewThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FindDuplicates compares candidates pairwise within blocks that share a
// leading address token, so "123 main st" is never compared against every
// address in the county. Output order is deterministic.
func (d *Deduper) FindDuplicates(ctx context.Context, candidates []Candidate) ([]Match, error) {
	blocks := make(map[string][]Candidate)
	for _, c := range candidates {
		if c.AddressNorm == "" {
			continue
		}
		blocks[blockKey(c.AddressNorm)] = append(blocks[blockKey(c.AddressNorm)], c)
	}

	var out []Match
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sort.Slice(block, func(i, j int) bool {
			return block[i].ID.String() < block[j].ID.String()
		})
		for i := 0; i < len(block); i++ {
			for j := i + 1; j < len(block); j++ {
				if m, ok := d.compare(block[i], block[j]); ok {
					out = append(out, m)
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Left != out[j].Left {
			return out[i].Left.String() < out[j].Left.String()
		}
		return out[i].Right.String() < out[j].Right.String()
	})
	return out, nil
}

func (d *Deduper) compare(a, b Candidate) (Match, bool) {
	if a.AddressNorm == b.AddressNorm {
		return Match{Left: a.ID, Right: b.ID, Similarity: 1.0, Tier: TierExact}, true
	}
	sim := similarity.TrigramSimilarity(a.AddressNorm, b.AddressNorm)
	switch {
	case sim >= d.likelyThreshold:
		return Match{Left: a.ID, Right: b.ID, Similarity: sim, Tier: TierLikely}, true
	case sim >= d.reviewThreshold:
		return Match{Left: a.ID, Right: b.ID, Similarity: sim, Tier: TierReview}, true
	}
	return Match{}, false
}

// blockKey blocks on the leading street-number token when present, else the
// first word of the address.
func blockKey(addressNorm string) string {
	tok, _, _ := strings.Cut(addressNorm, " ")
	return tok
}
