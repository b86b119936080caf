package match

import (
	"sync/atomic"

	"trapper/internal/blocklist"
)

// ScorerFactory binds a scorer to the blocklist snapshot current at call
// time. Scorers are cheap to construct; the snapshot is what changes.
type ScorerFactory func(filter *blocklist.Filter) (Scorer, error)

// WeightedFactory returns the weighted-sum strategy.
func WeightedFactory() ScorerFactory {
	return func(filter *blocklist.Filter) (Scorer, error) {
		return NewWeightedScorer(filter), nil
	}
}

// FellegiSunterFactory returns the probabilistic strategy, reading its
// parameters from the holder on every construction so operator tuning takes
// effect on the next resolution.
func FellegiSunterFactory(params *ParamsHolder) ScorerFactory {
	return func(filter *blocklist.Filter) (Scorer, error) {
		return NewFellegiSunterScorer(params.Current(), filter)
	}
}

// ParamsHolder is the swappable Fellegi-Sunter parameter set. Process-local:
// tuning applies immediately on this instance and resets to the defaults on
// restart.
type ParamsHolder struct {
	current atomic.Pointer[FSParams]
}

// NewParamsHolder seeds a holder, falling back to the shipped defaults when
// the seed fails validation.
func NewParamsHolder(seed FSParams) *ParamsHolder {
	h := &ParamsHolder{}
	if err := seed.Validate(); err != nil {
		seed = DefaultFSParams()
	}
	h.current.Store(&seed)
	return h
}

// Current returns the active parameter set.
func (h *ParamsHolder) Current() FSParams {
	return *h.current.Load()
}

// Update validates and swaps in a new parameter set.
func (h *ParamsHolder) Update(params FSParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	h.current.Store(&params)
	return nil
}
