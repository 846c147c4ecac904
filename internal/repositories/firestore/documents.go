package firestore

import (
	"time"

	domain "github.com/adperception/survey/internal/domain"
)

type participantDocument struct {
	Name           string `firestore:"name"`
	Location       string `firestore:"location"`
	Age            int    `firestore:"age"`
	Gender         string `firestore:"gender"`
	PurchaseIntent string `firestore:"purchase_intent"`
}

type ratingDocument struct {
	Ad                string `firestore:"ad"`
	Creepiness        int    `firestore:"creepiness"`
	PersonalRelevance int    `firestore:"personal_relevance"`
	ClickIntention    int    `firestore:"click_intention"`
	PurchaseIntention int    `firestore:"purchase_intention"`
}

type fidelityDocument struct {
	Planned    int      `firestore:"planned"`
	Matched    int      `firestore:"matched"`
	Faithful   bool     `firestore:"faithful"`
	Unknown    []string `firestore:"unknown,omitempty"`
	Duplicated []string `firestore:"duplicated,omitempty"`
	Missing    []string `firestore:"missing,omitempty"`
}

type adDocument struct {
	Text        string `firestore:"text"`
	Key         string `firestore:"key"`
	Combination int    `firestore:"combination"`
	Known       bool   `firestore:"known"`
}

type responseDocument struct {
	ParticipantInfo participantDocument `firestore:"participant_info"`
	Responses       []ratingDocument    `firestore:"responses"`
	Fidelity        *fidelityDocument   `firestore:"fidelity,omitempty"`
	SessionID       string              `firestore:"session_id"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	Revision        int                 `firestore:"revision"`
}

type sessionDocument struct {
	State        string              `firestore:"state"`
	IntroSeen    bool                `firestore:"intro_seen"`
	Participant  participantDocument `firestore:"participant_info"`
	Ads          []adDocument        `firestore:"ads"`
	Fidelity     *fidelityDocument   `firestore:"fidelity,omitempty"`
	Responses    []ratingDocument    `firestore:"responses"`
	CurrentIndex int                 `firestore:"current_index"`
	Persistence  string              `firestore:"persistence"`
	CreatedAt    time.Time           `firestore:"created_at"`
	UpdatedAt    time.Time           `firestore:"updated_at"`
	ExpiresAt    time.Time           `firestore:"expires_at"`
}

func encodeParticipant(p domain.ParticipantProfile) participantDocument {
	return participantDocument{
		Name:           p.Name,
		Location:       p.Location,
		Age:            p.Age,
		Gender:         string(p.Gender),
		PurchaseIntent: p.PurchaseIntent,
	}
}

func (d participantDocument) decode() domain.ParticipantProfile {
	return domain.ParticipantProfile{
		Name:           d.Name,
		Location:       d.Location,
		Age:            d.Age,
		Gender:         domain.Gender(d.Gender),
		PurchaseIntent: d.PurchaseIntent,
	}
}

func encodeRatings(entries []domain.RatingEntry) []ratingDocument {
	out := make([]ratingDocument, 0, len(entries))
	for _, e := range entries {
		out = append(out, ratingDocument{
			Ad:                e.Ad,
			Creepiness:        e.Creepiness,
			PersonalRelevance: e.PersonalRelevance,
			ClickIntention:    e.ClickIntention,
			PurchaseIntention: e.PurchaseIntention,
		})
	}
	return out
}

func decodeRatings(docs []ratingDocument) []domain.RatingEntry {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.RatingEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.RatingEntry{
			Ad:                d.Ad,
			Creepiness:        d.Creepiness,
			PersonalRelevance: d.PersonalRelevance,
			ClickIntention:    d.ClickIntention,
			PurchaseIntention: d.PurchaseIntention,
		})
	}
	return out
}

func encodeFidelity(f *domain.BatchFidelity) *fidelityDocument {
	if f == nil {
		return nil
	}
	return &fidelityDocument{
		Planned:    f.Planned,
		Matched:    f.Matched,
		Faithful:   f.Faithful(),
		Unknown:    f.Unknown,
		Duplicated: f.Duplicated,
		Missing:    f.Missing,
	}
}

func (d *fidelityDocument) decode() *domain.BatchFidelity {
	if d == nil {
		return nil
	}
	return &domain.BatchFidelity{
		Planned:    d.Planned,
		Matched:    d.Matched,
		Unknown:    d.Unknown,
		Duplicated: d.Duplicated,
		Missing:    d.Missing,
	}
}

func encodeAds(ads []domain.AdRecord) []adDocument {
	out := make([]adDocument, 0, len(ads))
	for _, ad := range ads {
		combination, known := ad.Combination.Combination()
		out = append(out, adDocument{
			Text:        ad.Text,
			Key:         ad.Combination.RawKey(),
			Combination: int(combination),
			Known:       known,
		})
	}
	return out
}

func decodeAds(docs []adDocument) []domain.AdRecord {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.AdRecord, 0, len(docs))
	for _, d := range docs {
		tag := domain.UnknownCombination(d.Key)
		if d.Known {
			tag = domain.KnownCombination(domain.FeatureCombination(d.Combination), d.Key)
		}
		out = append(out, domain.AdRecord{Text: d.Text, Combination: tag})
	}
	return out
}

func encodeSession(s domain.RatingSession) sessionDocument {
	return sessionDocument{
		State:        string(s.State),
		IntroSeen:    s.IntroSeen,
		Participant:  encodeParticipant(s.Profile),
		Ads:          encodeAds(s.Ads),
		Fidelity:     encodeFidelity(s.Fidelity),
		Responses:    encodeRatings(s.Responses),
		CurrentIndex: s.CurrentIndex,
		Persistence:  string(s.Persistence),
		CreatedAt:    s.CreatedAt.UTC(),
		UpdatedAt:    s.UpdatedAt.UTC(),
		ExpiresAt:    s.ExpiresAt.UTC(),
	}
}

func (d sessionDocument) decode(id string) domain.RatingSession {
	return domain.RatingSession{
		ID:           id,
		State:        domain.SessionState(d.State),
		IntroSeen:    d.IntroSeen,
		Profile:      d.Participant.decode(),
		Ads:          decodeAds(d.Ads),
		Fidelity:     d.Fidelity.decode(),
		Responses:    decodeRatings(d.Responses),
		CurrentIndex: d.CurrentIndex,
		Persistence:  domain.PersistenceStatus(d.Persistence),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		ExpiresAt:    d.ExpiresAt,
	}
}
