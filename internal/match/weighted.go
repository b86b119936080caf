package match

import (
	"context"
	"strings"

	"trapper/internal/blocklist"
	"trapper/internal/identity"
	"trapper/internal/similarity"
	id "trapper/pkg/domain"
)

// Field weights for the weighted-sum strategy. They sum to 1.0: email and
// phone carry most of the signal because they are deliberate, user-entered
// identifiers; names are fuzzy and addresses are shared by households.
const (
	weightEmail = 0.40
	weightPhone = 0.25
	weightName  = 0.25

	// Address splits into the same-source exact match and the cross-source
	// agreement that only appears when a second system independently placed
	// the person there. Both together cap at the full address weight.
	weightAddressExact    = 0.08
	weightAddressEnriched = 0.06
	weightAddressCap      = 0.10
)

// nameAgreeThreshold marks the Levenshtein ratio above which two names are
// reported as agreeing; it doubles as the corroboration bar for soft-blocked
// identifiers that require name similarity. Edit-distance ratio stays near
// zero for unrelated names, which the 0.5 bar depends on.
const nameAgreeThreshold = 0.5

// WeightedScorer is the default strategy: a bounded [0,1] sum of per-field
// contributions. Identifiers on the soft blocklist still contribute, scaled
// by the entry's multiplier, and only once any corroboration the entry
// demands is present.
type WeightedScorer struct {
	filter *blocklist.Filter
}

// NewWeightedScorer constructs the weighted-sum scorer. The filter supplies
// soft-blocklist penalties; hard-blocked values never reach the scorer
// because probe construction strips them.
func NewWeightedScorer(filter *blocklist.Filter) *WeightedScorer {
	return &WeightedScorer{filter: filter}
}

func (s *WeightedScorer) Strategy() string { return "weighted" }

func (s *WeightedScorer) Score(_ context.Context, probe *Probe, cand *identity.Candidate) Score {
	score := Score{PersonID: cand.Person.ID, Strategy: s.Strategy()}

	nameSim, nameField := s.scoreName(probe, cand)
	score.NameSim = nameSim

	addrField := s.scoreAddress(probe, cand)
	addressAgrees := addrField.Verdict == VerdictAgree

	emailField := s.scoreIdentifier(FieldEmail, id.IdentifierEmail, weightEmail,
		probe.Email, cand.EmailValues(), nameSim, addressAgrees)
	phoneField := s.scoreIdentifier(FieldPhone, id.IdentifierPhone, weightPhone,
		probe.Phone, cand.PhoneValues(), nameSim, addressAgrees)

	score.Fields = []FieldScore{emailField, phoneField, nameField, addrField}
	for _, f := range score.Fields {
		score.Total += f.Contribution
	}
	score.Confidence = score.Total
	return score
}

func (s *WeightedScorer) scoreName(probe *Probe, cand *identity.Candidate) (float64, FieldScore) {
	f := FieldScore{Field: FieldName, Weight: weightName, Verdict: VerdictMissing}
	probeName := strings.ToLower(strings.TrimSpace(probe.DisplayName))
	candName := strings.ToLower(strings.TrimSpace(cand.Person.DisplayName))
	if probeName == "" || candName == "" {
		return 0, f
	}
	sim := similarity.LevenshteinRatio(probeName, candName)
	f.Similarity = sim
	f.Contribution = weightName * sim
	if sim >= nameAgreeThreshold {
		f.Verdict = VerdictAgree
	} else {
		f.Verdict = VerdictDisagree
	}
	return sim, f
}

func (s *WeightedScorer) scoreAddress(probe *Probe, cand *identity.Candidate) FieldScore {
	f := FieldScore{Field: FieldAddress, Weight: weightAddressCap, Verdict: VerdictMissing}
	if probe.AddressNorm == "" || len(cand.Places) == 0 {
		return f
	}
	sources := cand.AddressSources(probe.AddressNorm)
	if len(sources) == 0 {
		f.Verdict = VerdictDisagree
		return f
	}
	f.Verdict = VerdictAgree
	f.Similarity = 1
	sameSource, crossSource := false, false
	for _, src := range sources {
		if src == probe.SourceSystem {
			sameSource = true
		} else {
			crossSource = true
		}
	}
	if sameSource {
		f.Contribution += weightAddressExact
		f.Note = "same-source"
	}
	if crossSource {
		f.Contribution += weightAddressEnriched
		if f.Note != "" {
			f.Note += "+cross-source"
		} else {
			f.Note = "cross-source"
		}
	}
	if f.Contribution > weightAddressCap {
		f.Contribution = weightAddressCap
	}
	return f
}

func (s *WeightedScorer) scoreIdentifier(field Field, idType id.IdentifierType, weight float64, probeValue string, candValues []string, nameSim float64, addressAgrees bool) FieldScore {
	f := FieldScore{Field: field, Weight: weight, Verdict: VerdictMissing}
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
		return f
	}
	f.Verdict = VerdictAgree
	f.Similarity = 1
	f.Contribution = weight

	entry, soft := s.filter.SoftPenalty(idType, probeValue)
	if !soft {
		return f
	}
	switch entry.Requires {
	case blocklist.CorroborationName:
		if nameSim < nameAgreeThreshold {
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
	f.Contribution = weight * entry.Multiplier
	f.Note = "soft-blocked, discounted"
	return f
}
