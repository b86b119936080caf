package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trapper/internal/audit"
	"trapper/internal/blocklist"
	"trapper/internal/identity"
	"trapper/internal/match"
	"trapper/internal/namerules"
	"trapper/internal/normalize"
	"trapper/internal/resolve/metrics"
	id "trapper/pkg/domain"
	dErrors "trapper/pkg/domain-errors"
	"trapper/pkg/platform/sentinel"
	"trapper/pkg/platform/tx"
	"trapper/pkg/requestcontext"
)

// Deps are the collaborators resolution needs. Everything is an interface or
// a snapshot loader so the policy tests run against in-memory fakes.
type Deps struct {
	Identities identity.Store
	Finder     *match.Finder
	Blocklists *blocklist.Loader
	Names      *namerules.Loader
	Scorer     match.ScorerFactory
	Recorder   *audit.Recorder
	Runner     tx.Runner

	// AutoThreshold and ReviewThreshold bound the gray zone; confidence at
	// or above Auto binds, at or above Review but below Auto never binds.
	AutoThreshold   float64
	ReviewThreshold float64
}

// Service is the decision policy. One call per staged record; rules apply in
// a fixed order and the first that fits wins.
type Service struct {
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the resolution metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs the resolution service.
func NewService(deps Deps, opts ...Option) *Service {
	s := &Service{
		deps:   deps,
		logger: slog.Default(),
		tracer: otel.Tracer("trapper/resolve"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveIdentity classifies one staged record. Policy failures (a panic or
// a scoring bug) degrade to an `error` decision so a single bad record never
// halts a batch; store and transport failures propagate to the caller with
// no audit row, since nothing was decided.
func (s *Service) ResolveIdentity(ctx context.Context, rec StagedRecord) (Resolution, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "resolve.identity",
		trace.WithAttributes(attribute.String("source_system", rec.SourceSystem)))
	defer span.End()

	if err := rec.Validate(); err != nil {
		return Resolution{}, err
	}

	res, err := s.resolveGuarded(ctx, &rec, start)
	if err != nil {
		span.RecordError(err)
		return Resolution{}, err
	}

	span.SetAttributes(
		attribute.String("decision", string(res.Decision)),
		attribute.Int("candidates", res.CandidateCount),
	)
	s.metrics.IncrementOutcome(string(res.Decision), rec.SourceSystem)
	s.metrics.ObserveResolveLatency(time.Since(start))
	s.logger.InfoContext(ctx, "record resolved",
		slog.String("source_system", rec.SourceSystem),
		slog.String("source_record_id", rec.SourceRecordID),
		slog.String("decision", string(res.Decision)),
		slog.Float64("confidence", res.Confidence),
		slog.Int("candidates", res.CandidateCount))
	return res, nil
}

func (s *Service) resolveGuarded(ctx context.Context, rec *StagedRecord, start time.Time) (res Resolution, err error) {
	var recovered any
	func() {
		defer func() {
			if r := recover(); r != nil {
				recovered = r
			}
		}()
		res, err = s.resolveOnce(ctx, rec, start)
	}()

	switch {
	case recovered != nil:
		s.logger.ErrorContext(ctx, "resolution panicked",
			slog.Any("panic", recovered),
			slog.String("source_record_id", rec.SourceRecordID))
		return s.recordTerminal(ctx, rec, audit.DecisionError,
			fmt.Sprintf("panic: %v", recovered), start)
	case err != nil && dErrors.HasCode(err, dErrors.CodeIntegrityViolation):
		// The loser of an identifier race: its transaction rolled back,
		// the record goes to review instead of duplicating a person.
		s.logger.WarnContext(ctx, "identifier race lost, routing to review",
			slog.String("source_record_id", rec.SourceRecordID))
		return s.recordTerminal(ctx, rec, audit.DecisionIntegrityViolation,
			dErrors.Message(err), start)
	default:
		return res, err
	}
}

// evidence is the post-blocklist view of the record's identifiers.
type evidence struct {
	email, phone             string
	emailShared, phoneShared bool
	offeredEmail             bool
	offeredPhone             bool
	emailBlocked             bool
}

func (s *Service) extractEvidence(rec *StagedRecord, filter *blocklist.Filter) evidence {
	var ev evidence
	if strings.TrimSpace(rec.Email) != "" {
		ev.offeredEmail = true
		if email, ok := normalize.Email(rec.Email); ok {
			if filter.IsBlocked(id.IdentifierEmail, email) {
				ev.emailBlocked = true
				s.metrics.IncrementBlocklistHit(string(id.IdentifierEmail))
			} else {
				ev.email = email
				_, ev.emailShared = filter.SoftPenalty(id.IdentifierEmail, email)
			}
		}
	}
	if strings.TrimSpace(rec.Phone) != "" {
		ev.offeredPhone = true
		if phone, ok := normalize.PhoneUS(rec.Phone); ok {
			if filter.IsBlocked(id.IdentifierPhone, phone) {
				s.metrics.IncrementBlocklistHit(string(id.IdentifierPhone))
			} else {
				ev.phone = phone
				_, ev.phoneShared = filter.SoftPenalty(id.IdentifierPhone, phone)
			}
		}
	}
	return ev
}

func (s *Service) resolveOnce(ctx context.Context, rec *StagedRecord, start time.Time) (Resolution, error) {
	nameSnap, err := s.deps.Names.Snapshot(ctx)
	if err != nil {
		return Resolution{}, err
	}
	blockSnap, err := s.deps.Blocklists.Snapshot(ctx)
	if err != nil {
		return Resolution{}, err
	}
	filter := blocklist.NewFilter(blockSnap)

	display := normalize.DisplayName(rec.FirstName, rec.LastName)

	// Rules 1-2: name classification, before any candidate work.
	if class, detail, bad := nameSnap.Classify(display); bad {
		return s.recordRejection(ctx, rec, rejectionReason(class), detail, start)
	}

	// Rules 3-4: a record must bring at least one usable direct identifier.
	ev := s.extractEvidence(rec, filter)
	if ev.email == "" && ev.phone == "" {
		switch {
		case !ev.offeredEmail && !ev.offeredPhone:
			return s.recordRejection(ctx, rec, audit.ReasonNoIdentifier,
				"no email or phone offered", start)
		case ev.emailBlocked && !ev.offeredPhone:
			return s.recordRejection(ctx, rec, audit.ReasonBlocklistedEmailOnly,
				"only identifier is a blocklisted email", start)
		default:
			return s.recordRejection(ctx, rec, audit.ReasonNoIdentifier,
				"no usable identifier after normalization and blocklist", start)
		}
	}

	probe := &match.Probe{
		FirstName:    strings.TrimSpace(rec.FirstName),
		LastName:     strings.TrimSpace(rec.LastName),
		DisplayName:  display,
		Email:        ev.email,
		Phone:        ev.phone,
		AddressNorm:  normalize.Address(rec.Address),
		SourceSystem: rec.SourceSystem,
	}

	cands, err := s.deps.Finder.Find(ctx, probe)
	if err != nil {
		return Resolution{}, err
	}
	scorer, err := s.deps.Scorer(filter)
	if err != nil {
		return Resolution{}, err
	}
	ranked := match.Rank(ctx, scorer, probe, cands)
	s.metrics.ObserveCandidates(len(ranked))

	// Rules 5-8 on the ranked output.
	if len(ranked) > 0 {
		top := &ranked[0]
		switch {
		case top.Score.Confidence >= s.deps.AutoThreshold:
			return s.commitAutoMatch(ctx, rec, probe, ev, ranked, start)
		case top.Score.Confidence >= s.deps.ReviewThreshold:
			if s.householdEligible(top, probe) {
				return s.commitHouseholdMember(ctx, rec, probe, ev, ranked, start)
			}
			return s.commitReviewPending(ctx, rec, probe, ev, ranked, start)
		}
	}
	return s.commitNewEntity(ctx, rec, probe, ev, ranked, start)
}

// householdEligible: gray-zone score with a clearly different name at a
// shared residence reads as "different member of the same household".
func (s *Service) householdEligible(top *match.Ranked, probe *match.Probe) bool {
	if top.Score.NameSim >= 0.5 {
		return false
	}
	if top.Candidate.Household != nil || top.Candidate.Person.HouseholdID != nil {
		return true
	}
	// No household yet: only an exact address agreement justifies
	// bootstrapping one around the candidate.
	return probe.AddressNorm != "" && len(top.Candidate.AddressSources(probe.AddressNorm)) > 0
}

func (s *Service) commitAutoMatch(ctx context.Context, rec *StagedRecord, probe *match.Probe, ev evidence, ranked []match.Ranked, start time.Time) (Resolution, error) {
	top := ranked[0]
	var res Resolution
	err := s.deps.Runner.RunInTx(ctx, func(ctx context.Context) error {
		personID := top.Candidate.Person.ID
		if err := s.attachEvidence(ctx, personID, rec, probe, ev); err != nil {
			return err
		}
		decision := s.newDecision(ctx, rec, audit.DecisionAutoMatch, "", &personID,
			top.Candidate.Person.HouseholdID, top.Score.Confidence, ranked, start)
		if err := s.deps.Recorder.Record(ctx, decision); err != nil {
			return err
		}
		res = resolutionFrom(decision)
		return nil
	})
	if err != nil {
		return Resolution{}, mapSideEffectErr(err)
	}
	return res, nil
}

func (s *Service) commitHouseholdMember(ctx context.Context, rec *StagedRecord, probe *match.Probe, ev evidence, ranked []match.Ranked, start time.Time) (Resolution, error) {
	top := ranked[0]
	var res Resolution
	err := s.deps.Runner.RunInTx(ctx, func(ctx context.Context) error {
		household, bootstrapped, err := s.candidateHousehold(ctx, &top, probe)
		if err != nil {
			return err
		}
		person, err := s.createPerson(ctx, rec, probe, identity.QualityNormal)
		if err != nil {
			return err
		}
		if err := s.attachEvidence(ctx, person.ID, rec, probe, ev); err != nil {
			return err
		}
		if err := s.deps.Identities.AddHouseholdMember(ctx, household.ID, person.ID); err != nil {
			return err
		}
		reason := "shared residence, dissimilar name"
		if bootstrapped {
			reason += "; household created from shared address"
		}
		decision := s.newDecision(ctx, rec, audit.DecisionHouseholdMember,
			reason, &person.ID, &household.ID,
			top.Score.Confidence, ranked, start)
		if err := s.deps.Recorder.Record(ctx, decision); err != nil {
			return err
		}
		res = resolutionFrom(decision)
		return nil
	})
	if err != nil {
		return Resolution{}, mapSideEffectErr(err)
	}
	return res, nil
}

// candidateHousehold returns the candidate's household, creating one around
// the shared address when the candidate has none yet. The second return
// reports that bootstrap so the decision reason can record it.
func (s *Service) candidateHousehold(ctx context.Context, top *match.Ranked, probe *match.Probe) (*identity.Household, bool, error) {
	if top.Candidate.Household != nil {
		return top.Candidate.Household, false, nil
	}
	if top.Candidate.Person.HouseholdID != nil {
		household, err := s.deps.Identities.GetHousehold(ctx, *top.Candidate.Person.HouseholdID)
		return household, false, err
	}
	household, err := s.deps.Identities.EnsureHousehold(ctx, probe.AddressNorm)
	if err != nil {
		return nil, false, err
	}
	if err := s.deps.Identities.AddHouseholdMember(ctx, household.ID, top.Candidate.Person.ID); err != nil {
		return nil, false, err
	}
	return household, true, nil
}

func (s *Service) commitReviewPending(ctx context.Context, rec *StagedRecord, probe *match.Probe, ev evidence, ranked []match.Ranked, start time.Time) (Resolution, error) {
	top := ranked[0]
	var res Resolution
	err := s.deps.Runner.RunInTx(ctx, func(ctx context.Context) error {
		person, err := s.createPerson(ctx, rec, probe, identity.QualityNeedsReview)
		if err != nil {
			return err
		}
		if err := s.attachEvidence(ctx, person.ID, rec, probe, ev); err != nil {
			return err
		}
		decision := s.newDecision(ctx, rec, audit.DecisionReviewPending,
			"ambiguous score, provisional entity", &person.ID, nil,
			top.Score.Confidence, ranked, start)
		if err := s.deps.Recorder.Record(ctx, decision); err != nil {
			return err
		}
		res = resolutionFrom(decision)
		return nil
	})
	if err != nil {
		return Resolution{}, mapSideEffectErr(err)
	}
	return res, nil
}

func (s *Service) commitNewEntity(ctx context.Context, rec *StagedRecord, probe *match.Probe, ev evidence, ranked []match.Ranked, start time.Time) (Resolution, error) {
	var res Resolution
	err := s.deps.Runner.RunInTx(ctx, func(ctx context.Context) error {
		// Last-chance recheck: an unshared identifier already owned by
		// someone means the finder raced a concurrent create. Ownership
		// of a direct identifier binds outright.
		if owner, found, err := s.directOwner(ctx, ev); err != nil {
			return err
		} else if found {
			if err := s.attachEvidence(ctx, owner, rec, probe, ev); err != nil {
				return err
			}
			decision := s.newDecision(ctx, rec, audit.DecisionAutoMatch,
				"direct identifier ownership", &owner, nil, 1.0, ranked, start)
			if err := s.deps.Recorder.Record(ctx, decision); err != nil {
				return err
			}
			res = resolutionFrom(decision)
			return nil
		}

		person, err := s.createPerson(ctx, rec, probe, identity.QualityNormal)
		if err != nil {
			return err
		}
		if err := s.attachEvidence(ctx, person.ID, rec, probe, ev); err != nil {
			return err
		}
		var confidence float64
		if len(ranked) > 0 {
			confidence = ranked[0].Score.Confidence
		}
		decision := s.newDecision(ctx, rec, audit.DecisionNewEntity, "",
			&person.ID, nil, confidence, ranked, start)
		if err := s.deps.Recorder.Record(ctx, decision); err != nil {
			return err
		}
		res = resolutionFrom(decision)
		return nil
	})
	if err != nil {
		return Resolution{}, mapSideEffectErr(err)
	}
	return res, nil
}

func (s *Service) directOwner(ctx context.Context, ev evidence) (id.PersonID, bool, error) {
	if ev.email != "" && !ev.emailShared {
		if owner, found, err := s.deps.Identities.OwnerOfIdentifier(ctx, id.IdentifierEmail, ev.email); err != nil || found {
			return owner, found, err
		}
	}
	if ev.phone != "" && !ev.phoneShared {
		return s.deps.Identities.OwnerOfIdentifier(ctx, id.IdentifierPhone, ev.phone)
	}
	return id.PersonID{}, false, nil
}

func (s *Service) createPerson(ctx context.Context, rec *StagedRecord, probe *match.Probe, quality identity.DataQuality) (*identity.Person, error) {
	person, err := identity.NewPerson(id.NewPersonID(), probe.FirstName, probe.LastName,
		probe.DisplayName, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	person.DataQuality = quality
	if err := s.deps.Identities.CreatePerson(ctx, person); err != nil {
		return nil, err
	}
	return person, nil
}

func (s *Service) attachEvidence(ctx context.Context, personID id.PersonID, rec *StagedRecord, probe *match.Probe, ev evidence) error {
	now := requestcontext.Now(ctx)
	if ev.email != "" {
		ident, err := identity.NewIdentifier(id.NewIdentifierID(), personID, id.IdentifierEmail,
			strings.TrimSpace(rec.Email), ev.email, 1.0, rec.SourceSystem, now)
		if err != nil {
			return err
		}
		ident.Shared = ev.emailShared
		if err := s.addIdentifierIfNew(ctx, ident); err != nil {
			return err
		}
	}
	if ev.phone != "" {
		ident, err := identity.NewIdentifier(id.NewIdentifierID(), personID, id.IdentifierPhone,
			strings.TrimSpace(rec.Phone), ev.phone, 1.0, rec.SourceSystem, now)
		if err != nil {
			return err
		}
		ident.Shared = ev.phoneShared
		if err := s.addIdentifierIfNew(ctx, ident); err != nil {
			return err
		}
	}
	if probe.AddressNorm != "" {
		return s.deps.Identities.AttachPlace(ctx, &identity.PlaceRelation{
			PlaceID:      id.NewPlaceID(),
			PersonID:     personID,
			AddressRaw:   strings.TrimSpace(rec.Address),
			AddressNorm:  probe.AddressNorm,
			SourceSystem: rec.SourceSystem,
			CreatedAt:    now,
		})
	}
	return nil
}

// addIdentifierIfNew skips an unshared identifier whose canonical owner is
// already the target person. After a merge the uniqueness constraint still
// holds the value under the duplicate's row, so re-inserting it for the
// survivor would read as a cross-person conflict.
func (s *Service) addIdentifierIfNew(ctx context.Context, ident *identity.Identifier) error {
	if !ident.Shared {
		owner, found, err := s.deps.Identities.OwnerOfIdentifier(ctx, ident.Type, ident.Normalized)
		if err != nil {
			return err
		}
		if found && owner == ident.PersonID {
			return nil
		}
	}
	return s.deps.Identities.AddIdentifier(ctx, ident)
}

func (s *Service) recordRejection(ctx context.Context, rec *StagedRecord, reason, detail string, start time.Time) (Resolution, error) {
	var res Resolution
	err := s.deps.Runner.RunInTx(ctx, func(ctx context.Context) error {
		decision := s.newDecision(ctx, rec, audit.DecisionRejected, reason, nil, nil, 0, nil, start)
		if detail != "" {
			decision.Reason = reason + ": " + detail
		}
		if err := s.deps.Recorder.Record(ctx, decision); err != nil {
			return err
		}
		res = resolutionFrom(decision)
		return nil
	})
	if err != nil {
		return Resolution{}, err
	}
	return res, nil
}

func (s *Service) recordTerminal(ctx context.Context, rec *StagedRecord, typ audit.DecisionType, reason string, start time.Time) (Resolution, error) {
	var res Resolution
	err := s.deps.Runner.RunInTx(ctx, func(ctx context.Context) error {
		decision := s.newDecision(ctx, rec, typ, reason, nil, nil, 0, nil, start)
		if err := s.deps.Recorder.Record(ctx, decision); err != nil {
			return err
		}
		res = resolutionFrom(decision)
		return nil
	})
	if err != nil {
		return Resolution{}, err
	}
	return res, nil
}

func (s *Service) newDecision(ctx context.Context, rec *StagedRecord, typ audit.DecisionType, reason string, person *id.PersonID, household *id.HouseholdID, confidence float64, ranked []match.Ranked, start time.Time) *audit.Decision {
	return &audit.Decision{
		ID:             id.NewDecisionID(),
		SourceSystem:   rec.SourceSystem,
		SourceRecordID: rec.SourceRecordID,
		Input:          rec.snapshot(),
		Decision:       typ,
		Reason:         reason,
		PersonID:       person,
		HouseholdID:    household,
		Confidence:     confidence,
		CandidateCount: len(ranked),
		Candidates:     audit.BreakdownsFromRanked(ranked),
		RequestID:      requestcontext.RequestID(ctx),
		Duration:       time.Since(start),
		CreatedAt:      requestcontext.Now(ctx),
	}
}

func resolutionFrom(d *audit.Decision) Resolution {
	return Resolution{
		DecisionID:     d.ID,
		Decision:       d.Decision,
		Reason:         d.Reason,
		PersonID:       d.PersonID,
		HouseholdID:    d.HouseholdID,
		Confidence:     d.Confidence,
		CandidateCount: d.CandidateCount,
	}
}

func rejectionReason(class namerules.Class) string {
	switch class {
	case namerules.ClassInternal:
		return audit.ReasonInternalName
	case namerules.ClassOrganization:
		return audit.ReasonOrganizationName
	default:
		return audit.ReasonGarbageName
	}
}

// mapSideEffectErr converts an identifier uniqueness race into the integrity
// code the guard turns into a reviewed decision. Everything else propagates.
func mapSideEffectErr(err error) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeIntegrityViolation,
			"identifier already bound to another person")
	}
	return err
}
