package firestore

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	domain "github.com/adperception/survey/internal/domain"
)

func TestSessionDocumentRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pair := domain.NewFeatureCombination(domain.FeatureName, domain.FeatureAge)
	session := domain.RatingSession{
		ID:        "01HZX",
		State:     domain.SessionStateRating,
		IntroSeen: true,
		Profile: domain.ParticipantProfile{
			Name: "Ana", Location: "Lima", Age: 29, Gender: domain.GenderFemale,
		},
		Ads: []domain.AdRecord{
			{Text: "Ana, 29? These shoes are for you.", Combination: domain.KnownCombination(pair, "Name, Age")},
			{Text: "Something else", Combination: domain.UnknownCombination("Hobby")},
		},
		Fidelity: &domain.BatchFidelity{Planned: 15, Matched: 14, Unknown: []string{"Hobby"}, Missing: []string{"Gender"}},
		Responses: []domain.RatingEntry{
			domain.NewRatingEntry("Ana, 29? These shoes are for you.", domain.DefaultScores()),
		},
		CurrentIndex: 1,
		Persistence:  domain.PersistenceStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}

	got := encodeSession(session).decode(session.ID)

	opts := cmp.Options{
		cmp.AllowUnexported(domain.CombinationTag{}),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(session, got, opts...); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParticipantDocumentIDDependsOnlyOnName(t *testing.T) {
	a := participantDocumentID("Ana")
	if a != participantDocumentID("Ana") {
		t.Fatal("expected stable id")
	}
	if a == participantDocumentID("ana") {
		t.Fatal("expected case-sensitive id")
	}
	if len(a) != 26 {
		t.Fatalf("unexpected id length %d", len(a))
	}
}

func TestEncodeFidelityRecordsFaithfulFlag(t *testing.T) {
	doc := encodeFidelity(&domain.BatchFidelity{Planned: 15, Matched: 15})
	if doc == nil || !doc.Faithful {
		t.Fatalf("expected faithful document, got %+v", doc)
	}
	if encodeFidelity(nil) != nil {
		t.Fatal("expected nil for missing fidelity")
	}
}
