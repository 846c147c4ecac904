package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"

	domain "github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/repositories"
)

const (
	surveyEventSessionStarted    = "survey.session.started"
	surveyEventProfileAccepted   = "survey.profile.accepted"
	surveyEventProfileRejected   = "survey.profile.rejected"
	surveyEventAdsGenerated      = "survey.ads.generated"
	surveyEventFidelityDegraded  = "survey.ads.fidelity_degraded"
	surveyEventGenerationFailed  = "survey.generation.failed"
	surveyEventArchiveFailed     = "survey.archive.failed"
	surveyEventStepPersistFailed = "survey.step_persist.failed"
	surveyEventPersistFailed     = "survey.persistence.failed"
	surveyEventPublishFailed     = "survey.publish.failed"
	surveyEventCompleted         = "survey.session.completed"

	outcomeAccepted         = "accepted"
	outcomeGenerationFailed = "generation_failed"
	outcomeMalformed        = "malformed"
	outcomeIncomplete       = "incomplete"
)

// SurveyServiceDeps wires dependencies for the survey service implementation.
type SurveyServiceDeps struct {
	Sessions  repositories.SessionRepository
	Responses *ResponseGateway
	Generator TextGenerator
	// Catalog overrides DefaultProductCatalog.
	Catalog    []string
	Rules      domain.ProfileRules
	SessionTTL time.Duration
	// PersistEachStep upserts the growing response list after every rating, not only at completion.
	PersistEachStep bool
	Archiver        BatchArchiver
	Publisher       CompletionPublisher
	Metrics         SurveyMetrics
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type surveyService struct {
	sessions        repositories.SessionRepository
	responses       *ResponseGateway
	generator       TextGenerator
	catalog         []string
	rules           domain.ProfileRules
	ttl             time.Duration
	persistEachStep bool
	archiver        BatchArchiver
	publisher       CompletionPublisher
	metrics         SurveyMetrics
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
	locks           *keyedMutex
}

// NewSurveyService constructs a SurveyService backed by the provided dependencies.
func NewSurveyService(deps SurveyServiceDeps) (SurveyService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("survey service: session repository is required")
	}
	if deps.Responses == nil {
		return nil, errors.New("survey service: response gateway is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("survey service: text generator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	rules := deps.Rules
	if rules.MaxAge == 0 {
		rules = domain.DefaultProfileRules()
	}
	catalog := deps.Catalog
	if len(catalog) == 0 {
		catalog = DefaultProductCatalog
	}

	return &surveyService{
		sessions:        deps.Sessions,
		responses:       deps.Responses,
		generator:       deps.Generator,
		catalog:         append([]string(nil), catalog...),
		rules:           rules,
		ttl:             deps.SessionTTL,
		persistEachStep: deps.PersistEachStep,
		archiver:        deps.Archiver,
		publisher:       deps.Publisher,
		metrics:         deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
		locks:  newKeyedMutex(),
	}, nil
}

func (s *surveyService) StartSession(ctx context.Context) (RatingSession, error) {
	session := domain.NewRatingSession(s.newID(), s.clock(), s.ttl)
	if err := s.sessions.Save(ctx, session); err != nil {
		return RatingSession{}, fmt.Errorf("survey: save new session: %w", err)
	}
	s.logger(ctx, surveyEventSessionStarted, map[string]any{"sessionID": session.ID})
	return session, nil
}

func (s *surveyService) GetSession(ctx context.Context, sessionID string) (RatingSession, error) {
	return s.load(ctx, sessionID)
}

func (s *surveyService) AcknowledgeIntro(ctx context.Context, sessionID string) (RatingSession, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return RatingSession{}, err
	}
	if session.IntroSeen {
		return session, nil
	}
	session.IntroSeen = true
	return session, s.save(ctx, &session)
}

func (s *surveyService) SubmitProfile(ctx context.Context, cmd SubmitProfileCommand) (RatingSession, error) {
	unlock := s.locks.Lock(cmd.SessionID)
	defer unlock()

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return RatingSession{}, err
	}

	profile := normaliseProfile(cmd)
	if err := session.AcceptProfile(profile, s.rules); err != nil {
		if errors.Is(err, domain.ErrValidationFailure) {
			s.logger(ctx, surveyEventProfileRejected, map[string]any{
				"sessionID": session.ID,
				"fields":    fieldNames(domain.FieldErrors(err)),
			})
		}
		return session, err
	}
	if err := s.save(ctx, &session); err != nil {
		return session, err
	}
	s.logger(ctx, surveyEventProfileAccepted, map[string]any{"sessionID": session.ID})

	return s.generate(ctx, session)
}

func (s *surveyService) EnsureAds(ctx context.Context, sessionID string) (RatingSession, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return RatingSession{}, err
	}
	if session.HasAds() {
		return session, nil
	}
	if session.State != domain.SessionStateAwaitingAds {
		return session, fmt.Errorf("%w: ads requested in state %s", domain.ErrInvalidTransition, session.State)
	}
	return s.generate(ctx, session)
}

// generate requests one batch and attaches it. On failure the session stays in AwaitingAds
// with no ads so the participant can retry.
func (s *surveyService) generate(ctx context.Context, session RatingSession) (RatingSession, error) {
	plan := Plan()
	req := BuildAdPrompt(session.Profile, plan, s.catalog)
	start := time.Now()

	raw, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.recordGeneration(ctx, outcomeGenerationFailed, false, time.Since(start))
		s.logger(ctx, surveyEventGenerationFailed, map[string]any{
			"sessionID": session.ID,
			"outcome":   outcomeGenerationFailed,
			"error":     err,
		})
		return session, fmt.Errorf("%w: %w", domain.ErrGenerationFailure, err)
	}

	ads, err := ParseAndValidate(raw, plan)
	if err != nil {
		outcome := outcomeMalformed
		if errors.Is(err, domain.ErrIncompleteBatch) {
			outcome = outcomeIncomplete
		}
		s.recordGeneration(ctx, outcome, false, time.Since(start))
		s.archive(ctx, session.ID, raw, plan, nil, outcome)
		s.logger(ctx, surveyEventGenerationFailed, map[string]any{
			"sessionID": session.ID,
			"outcome":   outcome,
			"error":     err,
		})
		return session, err
	}

	fidelity := AssessFidelity(ads, plan)
	s.recordGeneration(ctx, outcomeAccepted, fidelity.Faithful(), time.Since(start))
	s.archive(ctx, session.ID, raw, plan, &fidelity, outcomeAccepted)

	if err := session.AttachAds(ads, &fidelity); err != nil {
		return session, err
	}
	if err := s.save(ctx, &session); err != nil {
		return session, err
	}

	fields := map[string]any{
		"sessionID": session.ID,
		"ads":       len(ads),
		"matched":   fidelity.Matched,
		"planned":   fidelity.Planned,
	}
	s.logger(ctx, surveyEventAdsGenerated, fields)
	if !fidelity.Faithful() {
		s.logger(ctx, surveyEventFidelityDegraded, map[string]any{
			"sessionID":  session.ID,
			"unknown":    len(fidelity.Unknown),
			"duplicated": len(fidelity.Duplicated),
			"missing":    fidelity.Missing,
		})
	}
	return session, nil
}

func (s *surveyService) SubmitRating(ctx context.Context, cmd SubmitRatingCommand) (RatingSession, error) {
	unlock := s.locks.Lock(cmd.SessionID)
	defer unlock()

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return RatingSession{}, err
	}
	if err := session.SubmitRating(cmd.AdIndex, cmd.Scores); err != nil {
		return session, err
	}

	meta := UpsertMeta{SessionID: session.ID, Fidelity: session.Fidelity}
	switch {
	case session.IsComplete():
		s.complete(ctx, &session, meta)
	case s.persistEachStep:
		if err := s.responses.Upsert(ctx, session.Profile, session.Responses, meta); err != nil {
			s.logger(ctx, surveyEventStepPersistFailed, map[string]any{
				"sessionID": session.ID,
				"responses": len(session.Responses),
				"error":     err,
			})
		}
	}

	if err := s.save(ctx, &session); err != nil {
		return session, err
	}
	return session, nil
}

// complete performs the final upsert. A failed write is recorded on the session and never
// blocks the Complete state.
func (s *surveyService) complete(ctx context.Context, session *RatingSession, meta UpsertMeta) {
	session.Persistence = domain.PersistenceStatusSaved
	if err := s.responses.Upsert(ctx, session.Profile, session.Responses, meta); err != nil {
		session.Persistence = domain.PersistenceStatusFailed
		s.logger(ctx, surveyEventPersistFailed, map[string]any{
			"sessionID": session.ID,
			"responses": len(session.Responses),
			"error":     err,
		})
	}
	persisted := session.Persistence == domain.PersistenceStatusSaved
	if s.metrics != nil {
		s.metrics.RecordCompletion(ctx, persisted)
	}

	event := CompletionEvent{
		SessionID:   session.ID,
		AdCount:     len(session.Ads),
		Persisted:   persisted,
		CompletedAt: s.clock(),
	}
	if f := session.Fidelity; f != nil {
		event.Faithful = f.Faithful()
		event.Matched = f.Matched
		event.Planned = f.Planned
	}
	if s.publisher != nil {
		if err := s.publisher.PublishCompletion(ctx, event); err != nil {
			s.logger(ctx, surveyEventPublishFailed, map[string]any{"sessionID": session.ID, "error": err})
		}
	}
	s.logger(ctx, surveyEventCompleted, map[string]any{
		"sessionID": session.ID,
		"responses": len(session.Responses),
		"persisted": persisted,
	})
}

func (s *surveyService) PurgeExpiredSessions(ctx context.Context) (int, error) {
	removed, err := s.sessions.DeleteExpired(ctx, s.clock())
	if err != nil {
		return removed, fmt.Errorf("survey: purge expired sessions: %w", err)
	}
	return removed, nil
}

func (s *surveyService) load(ctx context.Context, sessionID string) (RatingSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return RatingSession{}, domain.ErrSessionNotFound
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return RatingSession{}, domain.ErrSessionNotFound
		}
		return RatingSession{}, fmt.Errorf("survey: load session: %w", err)
	}
	if session.Expired(s.clock()) {
		return RatingSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *surveyService) save(ctx context.Context, session *RatingSession) error {
	session.UpdatedAt = s.clock()
	if err := s.sessions.Save(ctx, *session); err != nil {
		return fmt.Errorf("survey: save session: %w", err)
	}
	return nil
}

func (s *surveyService) archive(ctx context.Context, sessionID, raw string, plan CombinationPlan, fidelity *BatchFidelity, outcome string) {
	if s.archiver == nil {
		return
	}
	err := s.archiver.ArchiveBatch(ctx, BatchArchiveEntry{
		SessionID:   sessionID,
		Raw:         raw,
		PlannedKeys: plan.Keys(),
		Fidelity:    fidelity,
		Outcome:     outcome,
		CreatedAt:   s.clock(),
	})
	if err != nil {
		s.logger(ctx, surveyEventArchiveFailed, map[string]any{"sessionID": sessionID, "error": err})
	}
}

func (s *surveyService) recordGeneration(ctx context.Context, outcome string, faithful bool, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordGeneration(ctx, outcome, faithful, d)
	}
}

func normaliseProfile(cmd SubmitProfileCommand) ParticipantProfile {
	clean := func(v string) string {
		return strings.Join(strings.Fields(norm.NFC.String(v)), " ")
	}
	gender, ok := domain.ParseGender(cmd.Gender)
	if !ok {
		gender = domain.Gender(strings.TrimSpace(cmd.Gender))
	}
	return ParticipantProfile{
		Name:           clean(cmd.Name),
		Location:       clean(cmd.Location),
		Age:            cmd.Age,
		Gender:         gender,
		PurchaseIntent: clean(cmd.PurchaseIntent),
	}
}

func fieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for _, key := range []string{"name", "location", "age", "gender", "purchase_intent"} {
		if _, ok := fields[key]; ok {
			names = append(names, key)
		}
	}
	return names
}
