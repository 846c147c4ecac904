package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	domain "github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/repositories/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubGenerator struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []GenerationRequest
}

func (g *stubGenerator) Generate(_ context.Context, req GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	call := len(g.requests)
	g.requests = append(g.requests, req)
	if call < len(g.errs) && g.errs[call] != nil {
		return "", g.errs[call]
	}
	if call < len(g.replies) {
		return g.replies[call], nil
	}
	return g.replies[len(g.replies)-1], nil
}

func (g *stubGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type failingResponses struct {
	err   error
	calls int
}

func (f *failingResponses) Upsert(context.Context, domain.ResponseRecord) error {
	f.calls++
	return f.err
}

func (f *failingResponses) Get(context.Context, string) (domain.ResponseRecord, error) {
	return domain.ResponseRecord{}, f.err
}

type recordingArchiver struct {
	entries []BatchArchiveEntry
}

func (a *recordingArchiver) ArchiveBatch(_ context.Context, entry BatchArchiveEntry) error {
	a.entries = append(a.entries, entry)
	return nil
}

type recordingPublisher struct {
	events []CompletionEvent
	err    error
}

func (p *recordingPublisher) PublishCompletion(_ context.Context, event CompletionEvent) error {
	p.events = append(p.events, event)
	return p.err
}

type recordedEvent struct {
	name   string
	fields map[string]any
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{name: event, fields: fields})
}

func (l *eventLog) has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.name == name {
			return true
		}
	}
	return false
}

// plannedBatch returns a well-formed reply covering every planned key in plan order.
func plannedBatch(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("{")
	for i, key := range Plan().Keys() {
		if i > 0 {
			b.WriteString(",")
		}
		k, _ := json.Marshal(key)
		v, _ := json.Marshal(fmt.Sprintf("Ad %d for %s", i+1, key))
		b.Write(k)
		b.WriteString(":")
		b.Write(v)
	}
	b.WriteString("}")
	return b.String()
}

type fixture struct {
	service   SurveyService
	sessions  *memory.SessionRepository
	responses *memory.ResponseRepository
	generator *stubGenerator
	archiver  *recordingArchiver
	publisher *recordingPublisher
	events    *eventLog
	now       time.Time
}

type fixtureOption func(*SurveyServiceDeps)

func newFixture(t *testing.T, gen *stubGenerator, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		sessions:  memory.NewSessionRepository(),
		responses: memory.NewResponseRepository(),
		generator: gen,
		archiver:  &recordingArchiver{},
		publisher: &recordingPublisher{},
		events:    &eventLog{},
		now:       time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	gateway, err := NewResponseGateway(f.responses, func() time.Time { return f.now })
	require.NoError(t, err)

	counter := 0
	deps := SurveyServiceDeps{
		Sessions:   f.sessions,
		Responses:  gateway,
		Generator:  gen,
		Rules:      domain.DefaultProfileRules(),
		SessionTTL: time.Hour,
		Archiver:   f.archiver,
		Publisher:  f.publisher,
		Clock:      func() time.Time { return f.now },
		IDGenerator: func() string {
			counter++
			return fmt.Sprintf("sess-%02d", counter)
		},
		Logger: f.events.log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewSurveyService(deps)
	require.NoError(t, err)
	f.service = svc
	return f
}

func anaProfile(sessionID string) SubmitProfileCommand {
	return SubmitProfileCommand{
		SessionID: sessionID,
		Name:      "Ana",
		Location:  "Lima",
		Age:       29,
		Gender:    "Female",
	}
}

func TestSurveyServiceCompletesFullFlow(t *testing.T) {
	gen := &stubGenerator{replies: []string{plannedBatch(t)}}
	f := newFixture(t, gen)
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SessionStateAwaitingProfile, session.State)

	session, err = f.service.AcknowledgeIntro(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, session.IntroSeen)

	session, err = f.service.SubmitProfile(ctx, anaProfile(session.ID))
	require.NoError(t, err)
	require.Equal(t, domain.SessionStateRating, session.State)
	require.Len(t, session.Ads, 15)
	require.Equal(t, "Ad 1 for Name", session.Ads[0].Text)
	require.NotNil(t, session.Fidelity)
	require.True(t, session.Fidelity.Faithful())
	require.Equal(t, 1, gen.calls())
	require.True(t, gen.requests[0].JSONOutput)

	for i := 0; i < 15; i++ {
		session, err = f.service.SubmitRating(ctx, SubmitRatingCommand{
			SessionID: session.ID,
			AdIndex:   i,
			Scores:    domain.DefaultScores(),
		})
		require.NoError(t, err)
	}
	require.True(t, session.IsComplete())
	require.Equal(t, domain.PersistenceStatusSaved, session.Persistence)

	require.Equal(t, 1, f.responses.Writes())
	record, err := f.responses.Get(ctx, "Ana")
	require.NoError(t, err)
	require.Len(t, record.Responses, 15)
	require.Equal(t, "Ad 15 for Name,Age,Location,Gender", record.Responses[14].Ad)
	require.Equal(t, 3, record.Responses[0].Creepiness)
	require.Equal(t, session.ID, record.SessionID)

	require.Len(t, f.archiver.entries, 1)
	require.Equal(t, outcomeAccepted, f.archiver.entries[0].Outcome)
	require.Len(t, f.publisher.events, 1)
	require.True(t, f.publisher.events[0].Persisted)
	require.Equal(t, 15, f.publisher.events[0].AdCount)
	require.True(t, f.events.has(surveyEventCompleted))
}

func TestSurveyServiceRejectsProfileWithoutGender(t *testing.T) {
	gen := &stubGenerator{replies: []string{plannedBatch(t)}}
	f := newFixture(t, gen)
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)

	cmd := anaProfile(session.ID)
	cmd.Gender = ""
	got, err := f.service.SubmitProfile(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrValidationFailure)
	require.Contains(t, domain.FieldErrors(err), "gender")
	require.Equal(t, domain.SessionStateAwaitingProfile, got.State)
	require.Zero(t, gen.calls())

	stored, err := f.service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionStateAwaitingProfile, stored.State)
	require.True(t, f.events.has(surveyEventProfileRejected))
}

func TestSurveyServiceMalformedBatchLeavesSessionAwaitingAds(t *testing.T) {
	gen := &stubGenerator{replies: []string{"Sorry, I cannot help with that.", plannedBatch(t)}}
	f := newFixture(t, gen)
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)

	got, err := f.service.SubmitProfile(ctx, anaProfile(session.ID))
	require.ErrorIs(t, err, domain.ErrMalformedBatch)
	require.Equal(t, domain.SessionStateAwaitingAds, got.State)
	require.Empty(t, got.Ads)

	stored, err := f.service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionStateAwaitingAds, stored.State)
	require.Empty(t, stored.Ads)
	require.Len(t, f.archiver.entries, 1)
	require.Equal(t, outcomeMalformed, f.archiver.entries[0].Outcome)

	retried, err := f.service.EnsureAds(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionStateRating, retried.State)
	require.Len(t, retried.Ads, 15)
	require.Equal(t, 2, gen.calls())
}

func TestSurveyServiceGenerationFailureWrapsKind(t *testing.T) {
	gen := &stubGenerator{errs: []error{errors.New("connection reset")}, replies: []string{""}}
	f := newFixture(t, gen)
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)

	got, err := f.service.SubmitProfile(ctx, anaProfile(session.ID))
	require.ErrorIs(t, err, domain.ErrGenerationFailure)
	require.Equal(t, domain.SessionStateAwaitingAds, got.State)
	require.Empty(t, f.archiver.entries)
	require.True(t, f.events.has(surveyEventGenerationFailed))
}

func TestSurveyServiceRejectsOutOfRangeScore(t *testing.T) {
	gen := &stubGenerator{replies: []string{plannedBatch(t)}}
	f := newFixture(t, gen)
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)
	session, err = f.service.SubmitProfile(ctx, anaProfile(session.ID))
	require.NoError(t, err)

	scores := domain.DefaultScores()
	scores.Creepiness = 6
	got, err := f.service.SubmitRating(ctx, SubmitRatingCommand{SessionID: session.ID, AdIndex: 0, Scores: scores})
	require.ErrorIs(t, err, domain.ErrValidationFailure)
	require.Contains(t, domain.FieldErrors(err), "creepiness")
	require.Equal(t, 0, got.CurrentIndex)
	require.Empty(t, got.Responses)

	stored, err := f.service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 0, stored.CurrentIndex)
	require.Empty(t, stored.Responses)
}

func TestSurveyServiceIgnoresResubmittedRating(t *testing.T) {
	gen := &stubGenerator{replies: []string{plannedBatch(t)}}
	f := newFixture(t, gen)
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)
	session, err = f.service.SubmitProfile(ctx, anaProfile(session.ID))
	require.NoError(t, err)

	_, err = f.service.SubmitRating(ctx, SubmitRatingCommand{SessionID: session.ID, AdIndex: 0, Scores: domain.DefaultScores()})
	require.NoError(t, err)
	got, err := f.service.SubmitRating(ctx, SubmitRatingCommand{SessionID: session.ID, AdIndex: 0, Scores: domain.DefaultScores()})
	require.ErrorIs(t, err, domain.ErrStaleSubmission)
	require.Equal(t, 1, got.CurrentIndex)
	require.Len(t, got.Responses, 1)
}

func TestSurveyServiceDoesNotRegenerateOnceAdsExist(t *testing.T) {
	gen := &stubGenerator{replies: []string{plannedBatch(t)}}
	f := newFixture(t, gen)
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)
	session, err = f.service.SubmitProfile(ctx, anaProfile(session.ID))
	require.NoError(t, err)

	again, err := f.service.EnsureAds(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.Ads, again.Ads)

	_, err = f.service.SubmitProfile(ctx, anaProfile(session.ID))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.Equal(t, 1, gen.calls())
}

func TestSurveyServicePersistenceFailureStillCompletes(t *testing.T) {
	gen := &stubGenerator{replies: []string{plannedBatch(t)}}
	failing := &failingResponses{err: errors.New("store offline")}
	f := newFixture(t, gen, func(deps *SurveyServiceDeps) {
		gateway, err := NewResponseGateway(failing, nil)
		require.NoError(t, err)
		deps.Responses = gateway
	})
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)
	session, err = f.service.SubmitProfile(ctx, anaProfile(session.ID))
	require.NoError(t, err)
	for i := range session.Ads {
		session, err = f.service.SubmitRating(ctx, SubmitRatingCommand{SessionID: session.ID, AdIndex: i, Scores: domain.DefaultScores()})
		require.NoError(t, err)
	}

	require.True(t, session.IsComplete())
	require.Equal(t, domain.PersistenceStatusFailed, session.Persistence)
	require.Equal(t, 1, failing.calls)
	require.True(t, f.events.has(surveyEventPersistFailed))
	require.Len(t, f.publisher.events, 1)
	require.False(t, f.publisher.events[0].Persisted)
}

func TestSurveyServicePersistsEachStepWhenEnabled(t *testing.T) {
	gen := &stubGenerator{replies: []string{plannedBatch(t)}}
	f := newFixture(t, gen, func(deps *SurveyServiceDeps) { deps.PersistEachStep = true })
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)
	session, err = f.service.SubmitProfile(ctx, anaProfile(session.ID))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.service.SubmitRating(ctx, SubmitRatingCommand{SessionID: session.ID, AdIndex: i, Scores: domain.DefaultScores()})
		require.NoError(t, err)
	}
	require.Equal(t, 3, f.responses.Writes())
	record, err := f.responses.Get(ctx, "Ana")
	require.NoError(t, err)
	require.Len(t, record.Responses, 3)
}

func TestSurveyServiceTreatsExpiredSessionAsMissing(t *testing.T) {
	gen := &stubGenerator{replies: []string{plannedBatch(t)}}
	f := newFixture(t, gen)
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	_, err = f.service.GetSession(ctx, session.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	removed, err := f.service.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = f.service.GetSession(ctx, "")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSurveyServiceSerialisesConcurrentSubmissions(t *testing.T) {
	gen := &stubGenerator{replies: []string{plannedBatch(t)}}
	f := newFixture(t, gen)
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)
	session, err = f.service.SubmitProfile(ctx, anaProfile(session.ID))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.service.SubmitRating(ctx, SubmitRatingCommand{SessionID: session.ID, AdIndex: 0, Scores: domain.DefaultScores()})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range results {
		if err == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, err, domain.ErrStaleSubmission)
	}
	require.Equal(t, 1, accepted)

	stored, err := f.service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, stored.Responses, 1)
}

func TestSurveyServiceNormalisesProfileText(t *testing.T) {
	gen := &stubGenerator{replies: []string{plannedBatch(t)}}
	f := newFixture(t, gen)
	ctx := context.Background()

	session, err := f.service.StartSession(ctx)
	require.NoError(t, err)
	cmd := anaProfile(session.ID)
	cmd.Name = "  José  "
	cmd.Location = "São   Paulo"
	cmd.Gender = "female"
	session, err = f.service.SubmitProfile(ctx, cmd)
	require.NoError(t, err)
	require.Equal(t, "José", session.Profile.Name)
	require.Equal(t, "São Paulo", session.Profile.Location)
	require.Equal(t, domain.GenderFemale, session.Profile.Gender)
	require.Contains(t, gen.requests[0].Prompt, "José")
}

func TestNewSurveyServiceRequiresDependencies(t *testing.T) {
	_, err := NewSurveyService(SurveyServiceDeps{})
	require.Error(t, err)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	require.Equal(t, 1, k.size())
	unlock()
	require.Zero(t, k.size())
}
