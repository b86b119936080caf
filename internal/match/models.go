// Package match finds and scores candidate persons for an incoming record.
// Candidate discovery blocks only on direct identifiers and addresses; names
// never pull candidates, they only score them. Two scorer strategies share a
// single Score contract so the decision policy and the audit log are
// indifferent to which one produced a number.
package match

import (
	"context"
	"sort"

	"trapper/internal/identity"
	id "trapper/pkg/domain"
)

// Probe is the already-normalized view of an incoming record that scoring
// compares against candidates. Blocked identifiers are stripped before a
// Probe is built; an empty field means "absent", never "unknown junk".
type Probe struct {
	FirstName    string
	LastName     string
	DisplayName  string
	Email        string
	Phone        string
	AddressNorm  string
	SourceSystem string
}

// HasIdentifier reports whether the probe carries any direct identifier.
func (p *Probe) HasIdentifier() bool {
	return p.Email != "" || p.Phone != ""
}

// Verdict classifies one field comparison. Missing is a first-class outcome:
// an absent field contributes exactly zero under either strategy, it never
// counts for or against the match.
type Verdict string

const (
	VerdictAgree    Verdict = "agree"
	VerdictDisagree Verdict = "disagree"
	VerdictMissing  Verdict = "missing"
)

// Field names the comparable features. Name levels under Fellegi-Sunter are
// reported on the same field with the level in the note.
type Field string

const (
	FieldEmail   Field = "email"
	FieldPhone   Field = "phone"
	FieldName    Field = "name"
	FieldAddress Field = "address"
)

// FieldScore is one line of a match explanation, kept verbatim in the audit
// log so a reviewer can reconstruct the composite by hand.
type FieldScore struct {
	Field        Field   `json:"field"`
	Verdict      Verdict `json:"verdict"`
	Similarity   float64 `json:"similarity"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Note         string  `json:"note,omitempty"`
}

// Score is the scorer output for one candidate. Confidence is always in
// [0,1] regardless of strategy: the weighted scorer's composite already is,
// and the Fellegi-Sunter scorer reports its posterior there while keeping
// the raw log-odds in Total.
type Score struct {
	PersonID   id.PersonID  `json:"person_id"`
	Strategy   string       `json:"strategy"`
	Confidence float64      `json:"confidence"`
	Total      float64      `json:"total"`
	NameSim    float64      `json:"name_similarity"`
	Fields     []FieldScore `json:"fields"`
}

// Scorer compares a probe to one candidate.
type Scorer interface {
	Score(ctx context.Context, probe *Probe, cand *identity.Candidate) Score
	Strategy() string
}

// Ranked pairs a candidate with its score, ordered best-first.
type Ranked struct {
	Candidate *identity.Candidate
	Score     Score
}

// Rank scores every candidate and sorts descending by confidence, breaking
// ties by earliest person creation so replays produce identical orderings.
func Rank(ctx context.Context, scorer Scorer, probe *Probe, cands []*identity.Candidate) []Ranked {
	ranked := make([]Ranked, 0, len(cands))
	for _, cand := range cands {
		ranked = append(ranked, Ranked{Candidate: cand, Score: scorer.Score(ctx, probe, cand)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score.Confidence != ranked[j].Score.Confidence {
			return ranked[i].Score.Confidence > ranked[j].Score.Confidence
		}
		pi, pj := ranked[i].Candidate.Person, ranked[j].Candidate.Person
		if !pi.CreatedAt.Equal(pj.CreatedAt) {
			return pi.CreatedAt.Before(pj.CreatedAt)
		}
		return pi.ID.String() < pj.ID.String()
	})
	return ranked
}
