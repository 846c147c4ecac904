package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/adperception/survey/internal/content"
	domain "github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/middleware"
	"github.com/adperception/survey/internal/platform/httpx"
	"github.com/adperception/survey/internal/platform/observability"
	"github.com/adperception/survey/internal/platform/requestctx"
	"github.com/adperception/survey/internal/services"
)

const (
	pathIntro       = "/"
	pathStart       = "/start"
	pathParticipant = "/participant"
	pathAds         = "/ads"
	pathRate        = "/rate"
	pathComplete    = "/complete"
	pathSessionAPI  = APIPrefix + "/session"

	fieldAdIndex = "ad_index"
)

// SurveyHandlers serves the participant screens.
type SurveyHandlers struct {
	service  services.SurveyService
	cookies  *middleware.SessionCookies
	survey   *content.Survey
	renderer *content.Renderer
	views    *views
	rules    domain.ProfileRules
}

// SurveyHandlersOption customises SurveyHandlers.
type SurveyHandlersOption func(*SurveyHandlers)

// WithProfileRules sets the bounds advertised on the participant form.
func WithProfileRules(rules domain.ProfileRules) SurveyHandlersOption {
	return func(h *SurveyHandlers) {
		h.rules = rules
	}
}

// NewSurveyHandlers wires the survey screens to the service and cookie codec.
func NewSurveyHandlers(service services.SurveyService, cookies *middleware.SessionCookies, survey *content.Survey, opts ...SurveyHandlersOption) (*SurveyHandlers, error) {
	if service == nil {
		return nil, errors.New("survey handlers: service is required")
	}
	if cookies == nil {
		return nil, errors.New("survey handlers: session cookies are required")
	}
	if survey == nil {
		return nil, errors.New("survey handlers: survey content is required")
	}
	v, err := newViews()
	if err != nil {
		return nil, err
	}
	h := &SurveyHandlers{
		service:  service,
		cookies:  cookies,
		survey:   survey,
		renderer: content.NewRenderer(),
		views:    v,
		rules:    domain.DefaultProfileRules(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.rules.MaxFieldLength <= 0 {
		h.rules.MaxFieldLength = domain.DefaultProfileRules().MaxFieldLength
	}
	return h, nil
}

// Routes registers the survey screens and the progress endpoint.
func (h *SurveyHandlers) Routes(r chi.Router) {
	r.Get(pathIntro, h.intro)
	r.Post(pathStart, h.start)
	r.Get(pathParticipant, h.participantForm)
	r.Post(pathParticipant, h.submitParticipant)
	r.Post(pathAds, h.retryAds)
	r.Get(pathRate, h.ratingForm)
	r.Post(pathRate, h.submitRating)
	r.Get(pathComplete, h.complete)
	r.Get(pathSessionAPI, h.sessionStatus)
}

// Middlewares returns the stack the survey group needs, in order.
func (h *SurveyHandlers) Middlewares() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		h.cookies.Middleware,
		middleware.HTMX,
		middleware.CSRF(h.csrfFailed),
	}
}

// NotFound renders the HTML not-found page.
func (h *SurveyHandlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderError(w, r, http.StatusNotFound, "Page not found", "There is nothing at this address.")
}

// PanicPage renders the HTML error page after a recovered panic.
func (h *SurveyHandlers) PanicPage(w http.ResponseWriter, r *http.Request) {
	h.renderError(w, r, http.StatusInternalServerError, "Something went wrong", "Please reload the page to continue.")
}

func (h *SurveyHandlers) intro(w http.ResponseWriter, r *http.Request) {
	if session, ok := h.current(r); ok && session.IntroSeen {
		middleware.Redirect(w, r, stepPath(session))
		return
	}
	h.views.render(w, r, http.StatusOK, pageIntro, h.survey.Title, introPage{Survey: h.survey})
}

func (h *SurveyHandlers) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.current(r)
	if !ok {
		created, err := h.service.StartSession(ctx)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.cookies.Bind(w, r, created.ID)
		session = created
	}
	if session.IntroSeen {
		middleware.Redirect(w, r, stepPath(session))
		return
	}
	session, err := h.service.AcknowledgeIntro(ctx, session.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Redirect(w, r, stepPath(session))
}

func (h *SurveyHandlers) participantForm(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireStep(w, r, domain.SessionStateAwaitingProfile, domain.SessionStateAwaitingAds)
	if !ok {
		return
	}
	values := participantValues{}
	if session.State == domain.SessionStateAwaitingAds {
		values = valuesFromProfile(session.Profile)
	}
	h.renderParticipant(w, r, http.StatusOK, values, nil)
}

func (h *SurveyHandlers) submitParticipant(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireStep(w, r, domain.SessionStateAwaitingProfile, domain.SessionStateAwaitingAds)
	if !ok {
		return
	}
	values := participantValues{
		Name:           r.PostFormValue("name"),
		Location:       r.PostFormValue("location"),
		Age:            strings.TrimSpace(r.PostFormValue("age")),
		Gender:         r.PostFormValue("gender"),
		PurchaseIntent: r.PostFormValue("purchase_intent"),
	}
	age, ageErr := strconv.Atoi(values.Age)

	_, err := h.service.SubmitProfile(r.Context(), services.SubmitProfileCommand{
		SessionID:      session.ID,
		Name:           values.Name,
		Location:       values.Location,
		Age:            age,
		Gender:         values.Gender,
		PurchaseIntent: values.PurchaseIntent,
	})
	switch {
	case err == nil:
		middleware.Redirect(w, r, pathRate)
	case errors.Is(err, domain.ErrValidationFailure):
		fields := domain.FieldErrors(err)
		if fields == nil {
			fields = map[string]string{}
		}
		if ageErr != nil && values.Age != "" {
			fields["age"] = "Age must be a whole number"
		}
		h.renderParticipant(w, r, http.StatusUnprocessableEntity, values, fields)
	default:
		h.fail(w, r, err)
	}
}

func (h *SurveyHandlers) retryAds(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireStep(w, r, domain.SessionStateAwaitingAds)
	if !ok {
		return
	}
	if _, err := h.service.EnsureAds(r.Context(), session.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Redirect(w, r, pathRate)
}

func (h *SurveyHandlers) ratingForm(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireStep(w, r, domain.SessionStateRating)
	if !ok {
		return
	}
	h.renderRating(w, r, http.StatusOK, session, domain.DefaultScores(), nil)
}

func (h *SurveyHandlers) submitRating(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireStep(w, r, domain.SessionStateRating)
	if !ok {
		return
	}
	index, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue(fieldAdIndex)))
	if err != nil {
		index = -1
	}
	scores := parseScores(r)

	updated, err := h.service.SubmitRating(r.Context(), services.SubmitRatingCommand{
		SessionID: session.ID,
		AdIndex:   index,
		Scores:    scores,
	})
	switch {
	case err == nil:
		middleware.Redirect(w, r, stepPath(updated))
	case errors.Is(err, domain.ErrStaleSubmission):
		requestctx.Logger(r.Context()).Info("stale rating ignored",
			zap.Int("submitted", index),
			zap.Int("current", session.CurrentIndex),
		)
		middleware.Redirect(w, r, stepPath(updated))
	case errors.Is(err, domain.ErrValidationFailure):
		h.renderRating(w, r, http.StatusUnprocessableEntity, session, clampScores(scores), domain.FieldErrors(err))
	default:
		h.fail(w, r, err)
	}
}

func (h *SurveyHandlers) complete(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireStep(w, r, domain.SessionStateComplete)
	if !ok {
		return
	}
	h.views.render(w, r, http.StatusOK, pageComplete, h.survey.Title, completePage{
		Survey:            h.survey,
		PersistenceFailed: session.Persistence == domain.PersistenceStatusFailed,
	})
}

type sessionStatusResponse struct {
	State       domain.SessionState      `json:"state"`
	IntroSeen   bool                     `json:"introSeen"`
	Index       int                      `json:"index"`
	Total       int                      `json:"total"`
	Persistence domain.PersistenceStatus `json:"persistence"`
	Next        string                   `json:"next"`
}

func (h *SurveyHandlers) sessionStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := h.current(r)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.FromError(domain.ErrSessionNotFound))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessionStatusResponse{
		State:       session.State,
		IntroSeen:   session.IntroSeen,
		Index:       session.CurrentIndex,
		Total:       len(session.Ads),
		Persistence: session.Persistence,
		Next:        stepPath(session),
	})
}

// current loads the session bound to the cookie, if any.
func (h *SurveyHandlers) current(r *http.Request) (domain.RatingSession, bool) {
	id := middleware.SessionFromContext(r.Context()).SessionID
	if id == "" {
		return domain.RatingSession{}, false
	}
	session, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			requestctx.Logger(r.Context()).Warn("session lookup failed", zap.Error(err))
		}
		return domain.RatingSession{}, false
	}
	return session, true
}

// requireStep loads the session and redirects to the participant's actual step when it is not
// in one of states.
func (h *SurveyHandlers) requireStep(w http.ResponseWriter, r *http.Request, states ...domain.SessionState) (domain.RatingSession, bool) {
	session, ok := h.current(r)
	if !ok || !session.IntroSeen {
		middleware.Redirect(w, r, pathIntro)
		return domain.RatingSession{}, false
	}
	for _, state := range states {
		if session.State == state {
			return session, true
		}
	}
	middleware.Redirect(w, r, stepPath(session))
	return domain.RatingSession{}, false
}

// fail maps an error kind onto a participant-visible page.
func (h *SurveyHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	logger := requestctx.Logger(r.Context())
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		middleware.Redirect(w, r, pathIntro)
	case errors.Is(err, domain.ErrInvalidTransition):
		if session, ok := h.current(r); ok {
			middleware.Redirect(w, r, stepPath(session))
			return
		}
		middleware.Redirect(w, r, pathIntro)
	case errors.Is(err, domain.ErrGenerationFailure),
		errors.Is(err, domain.ErrMalformedBatch),
		errors.Is(err, domain.ErrIncompleteBatch),
		errors.Is(err, domain.ErrEmptyBatch):
		logger.Warn("ad generation unavailable", zap.Error(err))
		h.views.render(w, r, httpx.FromError(err).Status, pageGenerationError, h.survey.Title, generationErrorPage{Survey: h.survey})
	default:
		logger.Error("survey request failed", zap.Error(err))
		h.renderError(w, r, http.StatusInternalServerError, "Something went wrong", "Your progress is kept. Please try again in a moment.")
	}
}

func (h *SurveyHandlers) csrfFailed(w http.ResponseWriter, r *http.Request) {
	requestctx.Logger(r.Context()).Warn("csrf token mismatch", zap.String("path", observability.SanitizeRoute(r.URL.Path)))
	h.renderError(w, r, http.StatusForbidden, "Session expired", "Your form has expired. Please reload the page and try again.")
}

func (h *SurveyHandlers) renderError(w http.ResponseWriter, r *http.Request, status int, heading, message string) {
	h.views.render(w, r, status, pageError, h.survey.Title, errorPage{Heading: heading, Message: message})
}

func (h *SurveyHandlers) renderParticipant(w http.ResponseWriter, r *http.Request, status int, values participantValues, fields map[string]string) {
	genders := make([]genderView, 0, len(h.survey.Genders))
	selected, _ := domain.ParseGender(values.Gender)
	for _, g := range h.survey.Genders {
		genders = append(genders, genderView{Value: string(g.Value), Label: g.Label, Checked: g.Value == selected})
	}
	h.views.render(w, r, status, pageParticipant, h.survey.Title, participantPage{
		Survey:    h.survey,
		Values:    values,
		Errors:    fields,
		Genders:   genders,
		MinAge:    h.rules.MinAge,
		MaxAge:    h.rules.MaxAge,
		MaxLength: h.rules.MaxFieldLength,
	})
}

func (h *SurveyHandlers) renderRating(w http.ResponseWriter, r *http.Request, status int, session domain.RatingSession, scores domain.Scores, fields map[string]string) {
	ad, ok := session.CurrentAd()
	if !ok {
		middleware.Redirect(w, r, stepPath(session))
		return
	}
	scales := make([]scaleView, 0, len(h.survey.Scales))
	for _, scale := range h.survey.Scales {
		scales = append(scales, scaleView{
			Key:      string(scale.Key),
			Question: scale.Question,
			Anchors:  scale.Anchors,
			Value:    scores.Value(scale.Key),
			Error:    fields[string(scale.Key)],
		})
	}
	h.views.render(w, r, status, pageRating, h.survey.Title, ratingPage{
		Survey: h.survey,
		Ad:     h.renderer.AdText(ad.Text),
		Index:  session.CurrentIndex,
		Number: session.CurrentIndex + 1,
		Total:  len(session.Ads),
		IsLast: session.CurrentIndex == len(session.Ads)-1,
		Min:    domain.ScoreMin,
		Max:    domain.ScoreMax,
		Scales: scales,
	})
}

// stepPath is the screen a session belongs on.
func stepPath(session domain.RatingSession) string {
	if !session.IntroSeen {
		return pathIntro
	}
	switch session.State {
	case domain.SessionStateRating:
		return pathRate
	case domain.SessionStateComplete:
		return pathComplete
	default:
		return pathParticipant
	}
}

func parseScores(r *http.Request) domain.Scores {
	value := func(scale domain.Scale) int {
		n, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue(string(scale))))
		if err != nil {
			return 0
		}
		return n
	}
	return domain.Scores{
		Creepiness:        value(domain.ScaleCreepiness),
		PersonalRelevance: value(domain.ScalePersonalRelevance),
		ClickIntention:    value(domain.ScaleClickIntention),
		PurchaseIntention: value(domain.ScalePurchaseIntention),
	}
}

// clampScores keeps re-rendered sliders inside the scale.
func clampScores(s domain.Scores) domain.Scores {
	clamp := func(v int) int {
		switch {
		case v < domain.ScoreMin || v > domain.ScoreMax:
			return domain.ScoreDefault
		default:
			return v
		}
	}
	return domain.Scores{
		Creepiness:        clamp(s.Creepiness),
		PersonalRelevance: clamp(s.PersonalRelevance),
		ClickIntention:    clamp(s.ClickIntention),
		PurchaseIntention: clamp(s.PurchaseIntention),
	}
}

func valuesFromProfile(p domain.ParticipantProfile) participantValues {
	values := participantValues{
		Name:           p.Name,
		Location:       p.Location,
		Gender:         string(p.Gender),
		PurchaseIntent: p.PurchaseIntent,
	}
	if p.Age > 0 {
		values.Age = strconv.Itoa(p.Age)
	}
	return values
}

type introPage struct {
	Survey *content.Survey
}

type participantValues struct {
	Name           string
	Location       string
	Age            string
	Gender         string
	PurchaseIntent string
}

type genderView struct {
	Value   string
	Label   string
	Checked bool
}

type participantPage struct {
	Survey    *content.Survey
	Values    participantValues
	Errors    map[string]string
	Genders   []genderView
	MinAge    int
	MaxAge    int
	MaxLength int
}

type generationErrorPage struct {
	Survey *content.Survey
}

type scaleView struct {
	Key      string
	Question string
	Anchors  []content.Anchor
	Value    int
	Error    string
}

type ratingPage struct {
	Survey *content.Survey
	Ad     template.HTML
	Index  int
	Number int
	Total  int
	IsLast bool
	Min    int
	Max    int
	Scales []scaleView
}

type completePage struct {
	Survey            *content.Survey
	PersistenceFailed bool
}

type errorPage struct {
	Heading string
	Message string
}
