package match

import (
	"context"
	"math"
	"strings"

	"trapper/internal/blocklist"
	"trapper/internal/identity"
	"trapper/internal/similarity"
	id "trapper/pkg/domain"
	dErrors "trapper/pkg/domain-errors"
)

// Name agreement levels. Levenshtein-ratio boundaries between them; each
// level carries its own m/u pair so "Katherine vs Kathy" and byte-equal names
// are distinguishable evidence.
const (
	nameCloseThreshold = 0.8
	nameWeakThreshold  = 0.5
)

// logOddsClamp bounds the summed log2 odds so one extreme field pair cannot
// overflow the posterior arithmetic.
const logOddsClamp = 20.0

// FieldParams is one field's conditional agreement probabilities: M among
// true matches, U among random non-matched pairs.
type FieldParams struct {
	M float64 `json:"m"`
	U float64 `json:"u"`
}

func (p FieldParams) agreeWeight() float64    { return math.Log2(p.M / p.U) }
func (p FieldParams) disagreeWeight() float64 { return math.Log2((1 - p.M) / (1 - p.U)) }

func (p FieldParams) validate(field string) error {
	if p.U <= 0 || p.M >= 1 || p.M <= p.U {
		return dErrors.Newf(dErrors.CodeValidation,
			"%s parameters need 0 < u < m < 1, got m=%v u=%v", field, p.M, p.U)
	}
	return nil
}

// FSParams holds the full parameter set for the Fellegi-Sunter strategy.
// Operator-tunable through the admin surface; the defaults come from hand
// labeling a season of intake records.
type FSParams struct {
	Email     FieldParams `json:"email"`
	Phone     FieldParams `json:"phone"`
	Address   FieldParams `json:"address"`
	NameExact FieldParams `json:"name_exact"`
	NameClose FieldParams `json:"name_close"`
	NameWeak  FieldParams `json:"name_weak"`
}

// DefaultFSParams returns the shipped parameter set.
func DefaultFSParams() FSParams {
	return FSParams{
		Email:     FieldParams{M: 0.95, U: 0.001},
		Phone:     FieldParams{M: 0.90, U: 0.005},
		Address:   FieldParams{M: 0.80, U: 0.02},
		NameExact: FieldParams{M: 0.90, U: 0.01},
		NameClose: FieldParams{M: 0.75, U: 0.05},
		NameWeak:  FieldParams{M: 0.55, U: 0.20},
	}
}

// Validate checks every field pair.
func (p FSParams) Validate() error {
	checks := []struct {
		name   string
		params FieldParams
	}{
		{"email", p.Email}, {"phone", p.Phone}, {"address", p.Address},
		{"name_exact", p.NameExact}, {"name_close", p.NameClose}, {"name_weak", p.NameWeak},
	}
	for _, c := range checks {
		if err := c.params.validate(c.name); err != nil {
			return err
		}
	}
	return nil
}

// FellegiSunterScorer sums per-field log2 likelihood ratios. Missing fields
// contribute exactly zero; the total is clamped to ±logOddsClamp and mapped
// to a posterior probability reported as Confidence, so the decision policy
// applies the same thresholds it uses for the weighted strategy.
type FellegiSunterScorer struct {
	params FSParams
	filter *blocklist.Filter
}

// NewFellegiSunterScorer constructs the probabilistic scorer.
func NewFellegiSunterScorer(params FSParams, filter *blocklist.Filter) (*FellegiSunterScorer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &FellegiSunterScorer{params: params, filter: filter}, nil
}

func (s *FellegiSunterScorer) Strategy() string { return "fellegi_sunter" }

func (s *FellegiSunterScorer) Score(_ context.Context, probe *Probe, cand *identity.Candidate) Score {
	score := Score{PersonID: cand.Person.ID, Strategy: s.Strategy()}

	nameSim, nameField := s.scoreName(probe, cand)
	score.NameSim = nameSim

	addrField := s.scoreAddress(probe, cand)
	addressAgrees := addrField.Verdict == VerdictAgree

	emailField := s.scoreIdentifier(FieldEmail, id.IdentifierEmail, s.params.Email,
		probe.Email, cand.EmailValues(), nameSim, addressAgrees)
	phoneField := s.scoreIdentifier(FieldPhone, id.IdentifierPhone, s.params.Phone,
		probe.Phone, cand.PhoneValues(), nameSim, addressAgrees)

	score.Fields = []FieldScore{emailField, phoneField, nameField, addrField}
	for _, f := range score.Fields {
		score.Total += f.Contribution
	}
	if score.Total > logOddsClamp {
		score.Total = logOddsClamp
	}
	if score.Total < -logOddsClamp {
		score.Total = -logOddsClamp
	}
	score.Confidence = 1 / (1 + math.Exp2(-score.Total))
	return score
}

func (s *FellegiSunterScorer) scoreName(probe *Probe, cand *identity.Candidate) (float64, FieldScore) {
	f := FieldScore{Field: FieldName, Verdict: VerdictMissing}
	probeName := strings.ToLower(strings.TrimSpace(probe.DisplayName))
	candName := strings.ToLower(strings.TrimSpace(cand.Person.DisplayName))
	if probeName == "" || candName == "" {
		return 0, f
	}
	sim := similarity.LevenshteinRatio(probeName, candName)
	f.Similarity = sim

	var level FieldParams
	switch {
	case probeName == candName:
		level, f.Note = s.params.NameExact, "exact"
	case sim >= nameCloseThreshold:
		level, f.Note = s.params.NameClose, "close"
	case sim >= nameWeakThreshold:
		level, f.Note = s.params.NameWeak, "weak"
	default:
		// Below the weak level every tier counts it as a disagreement;
		// the exact tier's disagreement weight is the most conservative.
		f.Verdict = VerdictDisagree
		f.Weight = s.params.NameExact.disagreeWeight()
		f.Contribution = f.Weight
		return sim, f
	}
	f.Verdict = VerdictAgree
	f.Weight = level.agreeWeight()
	f.Contribution = f.Weight
	return sim, f
}

func (s *FellegiSunterScorer) scoreAddress(probe *Probe, cand *identity.Candidate) FieldScore {
	f := FieldScore{Field: FieldAddress, Verdict: VerdictMissing}
	if probe.AddressNorm == "" || len(cand.Places) == 0 {
		return f
	}
	if len(cand.AddressSources(probe.AddressNorm)) == 0 {
		f.Verdict = VerdictDisagree
		f.Weight = s.params.Address.disagreeWeight()
		f.Contribution = f.Weight
		return f
	}
	f.Verdict = VerdictAgree
	f.Similarity = 1
	f.Weight = s.params.Address.agreeWeight()
	f.Contribution = f.Weight
	return f
}

func (s *FellegiSunterScorer) scoreIdentifier(field Field, idType id.IdentifierType, params FieldParams, probeValue string, candValues []string, nameSim float64, addressAgrees bool) FieldScore {
	f := FieldScore{Field: field, Verdict: VerdictMissing}
	if probeValue == "" || len(candValues) == 0 {
		return f
	}
	matched := false
	for _, v := range candValues {
		if v == probeValue {
			matched = true
			break
		}
	}
	if !matched {
		f.Verdict = VerdictDisagree
		f.Weight = params.disagreeWeight()
		f.Contribution = f.Weight
		return f
	}
	f.Verdict = VerdictAgree
	f.Similarity = 1
	f.Weight = params.agreeWeight()
	f.Contribution = f.Weight

	entry, soft := s.filter.SoftPenalty(idType, probeValue)
	if !soft {
		return f
	}
	// A shared identifier agreeing is weaker evidence: scale the log-odds
	// gain by the entry's multiplier, after any corroboration gate.
	switch entry.Requires {
	case blocklist.CorroborationName:
		if nameSim < nameWeakThreshold {
			f.Contribution = 0
			f.Note = "soft-blocked, name corroboration unmet"
			return f
		}
	case blocklist.CorroborationAddress:
		if !addressAgrees {
			f.Contribution = 0
			f.Note = "soft-blocked, address corroboration unmet"
			return f
		}
	}
	f.Contribution = f.Weight * entry.Multiplier
	f.Note = "soft-blocked, discounted"
	return f
}
