package content

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"os"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"

	domain "github.com/adperception/survey/internal/domain"
)

//go:embed default.yaml
var defaultSurvey []byte

// Survey holds every participant-facing string, already rendered where markdown is allowed.
type Survey struct {
	Title              string
	Intro              template.HTML
	StartLabel         string
	Form               Form
	Genders            []GenderOption
	GeneratingLabel    string
	GenerationError    template.HTML
	RetryLabel         string
	Rating             Rating
	Scales             []Scale
	Products           []string
	Complete           template.HTML
	PersistenceWarning string
}

// Form labels the participant information form.
type Form struct {
	Heading         string
	NameLabel       string
	LocationLabel   string
	AgeLabel        string
	GenderLabel     string
	IntentLabel     string
	SubmitLabel     string
	RequiredMessage string
}

// GenderOption is one radio choice.
type GenderOption struct {
	Value domain.Gender
	Label string
}

// Rating labels the rating screen.
type Rating struct {
	Heading     string
	Prompt      string
	NextLabel   string
	FinishLabel string
}

// Scale is the question and anchor descriptions for one rating dimension.
type Scale struct {
	Key      domain.Scale
	Question string
	Anchors  []Anchor
}

// Anchor describes one point on a scale.
type Anchor struct {
	Value int
	Title string
	Quote string
}

type surveyFile struct {
	Title              string       `yaml:"title"`
	Intro              string       `yaml:"intro"`
	StartLabel         string       `yaml:"start_label"`
	Form               formFile     `yaml:"form"`
	Genders            []genderFile `yaml:"genders"`
	GeneratingLabel    string       `yaml:"generating_label"`
	GenerationError    string       `yaml:"generation_error"`
	RetryLabel         string       `yaml:"retry_label"`
	Rating             ratingFile   `yaml:"rating"`
	Scales             []scaleFile  `yaml:"scales"`
	Products           []string     `yaml:"products"`
	Complete           string       `yaml:"complete"`
	PersistenceWarning string       `yaml:"persistence_warning"`
}

type formFile struct {
	Heading         string `yaml:"heading"`
	NameLabel       string `yaml:"name_label"`
	LocationLabel   string `yaml:"location_label"`
	AgeLabel        string `yaml:"age_label"`
	GenderLabel     string `yaml:"gender_label"`
	IntentLabel     string `yaml:"intent_label"`
	SubmitLabel     string `yaml:"submit_label"`
	RequiredMessage string `yaml:"required_message"`
}

type genderFile struct {
	Value string `yaml:"value"`
	Label string `yaml:"label"`
}

type ratingFile struct {
	Heading     string `yaml:"heading"`
	Prompt      string `yaml:"prompt"`
	NextLabel   string `yaml:"next_label"`
	FinishLabel string `yaml:"finish_label"`
}

type scaleFile struct {
	Key      string       `yaml:"key"`
	Question string       `yaml:"question"`
	Anchors  []anchorFile `yaml:"anchors"`
}

type anchorFile struct {
	Title string `yaml:"title"`
	Quote string `yaml:"quote"`
}

// ErrInvalidContent reports a survey file that cannot drive the survey.
var ErrInvalidContent = errors.New("content: invalid survey content")

// Load reads survey copy from path, or the embedded default when path is empty.
func Load(path string) (*Survey, error) {
	raw := defaultSurvey
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("content: read %s: %w", path, err)
		}
		raw = data
	}
	return Parse(raw, NewRenderer())
}

// MustDefault returns the embedded survey and panics if it does not parse.
func MustDefault() *Survey {
	survey, err := Parse(defaultSurvey, NewRenderer())
	if err != nil {
		panic(err)
	}
	return survey
}

// Parse decodes YAML survey copy and renders its markdown fields.
func Parse(raw []byte, renderer *Renderer) (*Survey, error) {
	if renderer == nil {
		renderer = NewRenderer()
	}
	var file surveyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("content: decode yaml: %w", err)
	}

	intro, err := renderer.Markdown(file.Intro)
	if err != nil {
		return nil, err
	}
	genErr, err := renderer.Markdown(file.GenerationError)
	if err != nil {
		return nil, err
	}
	complete, err := renderer.Markdown(file.Complete)
	if err != nil {
		return nil, err
	}

	survey := &Survey{
		Title:              strings.TrimSpace(file.Title),
		Intro:              intro,
		StartLabel:         strings.TrimSpace(file.StartLabel),
		Form:               Form(file.Form),
		GeneratingLabel:    strings.TrimSpace(file.GeneratingLabel),
		GenerationError:    genErr,
		RetryLabel:         strings.TrimSpace(file.RetryLabel),
		Rating:             Rating(file.Rating),
		Complete:           complete,
		PersistenceWarning: strings.TrimSpace(file.PersistenceWarning),
	}

	for _, g := range file.Genders {
		value, ok := domain.ParseGender(g.Value)
		if !ok {
			return nil, fmt.Errorf("%w: unknown gender %q", ErrInvalidContent, g.Value)
		}
		label := strings.TrimSpace(g.Label)
		if label == "" {
			label = string(value)
		}
		survey.Genders = append(survey.Genders, GenderOption{Value: value, Label: label})
	}
	if len(survey.Genders) == 0 {
		for _, g := range domain.Genders() {
			survey.Genders = append(survey.Genders, GenderOption{Value: g, Label: string(g)})
		}
	}

	byKey := make(map[domain.Scale]scaleFile, len(file.Scales))
	for _, s := range file.Scales {
		byKey[domain.Scale(strings.TrimSpace(s.Key))] = s
	}
	if len(byKey) != len(file.Scales) {
		return nil, fmt.Errorf("%w: duplicated scale", ErrInvalidContent)
	}
	for _, key := range domain.Scales() {
		s, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing scale %s", ErrInvalidContent, key)
		}
		if len(s.Anchors) != domain.ScoreMax-domain.ScoreMin+1 {
			return nil, fmt.Errorf("%w: scale %s needs %d anchors, got %d", ErrInvalidContent, key, domain.ScoreMax-domain.ScoreMin+1, len(s.Anchors))
		}
		scale := Scale{Key: key, Question: strings.TrimSpace(s.Question)}
		for i, a := range s.Anchors {
			scale.Anchors = append(scale.Anchors, Anchor{
				Value: domain.ScoreMin + i,
				Title: strings.TrimSpace(a.Title),
				Quote: strings.TrimSpace(a.Quote),
			})
		}
		survey.Scales = append(survey.Scales, scale)
	}
	if len(byKey) != len(domain.Scales()) {
		return nil, fmt.Errorf("%w: unknown scale", ErrInvalidContent)
	}

	for _, p := range file.Products {
		if p = strings.TrimSpace(p); p != "" {
			survey.Products = append(survey.Products, p)
		}
	}
	if len(survey.Products) == 0 {
		return nil, fmt.Errorf("%w: product catalog is empty", ErrInvalidContent)
	}
	if survey.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidContent)
	}
	return survey, nil
}

// Scale returns the copy for key.
func (s *Survey) Scale(key domain.Scale) (Scale, bool) {
	if s == nil {
		return Scale{}, false
	}
	for _, scale := range s.Scales {
		if scale.Key == key {
			return scale, true
		}
	}
	return Scale{}, false
}

// Renderer converts markdown copy to sanitized HTML. Generated ad text goes through a stricter
// policy that only keeps inline emphasis.
type Renderer struct {
	md         goldmark.Markdown
	copyPolicy *bluemonday.Policy
	adPolicy   *bluemonday.Policy
}

// NewRenderer builds a renderer with the survey policies.
func NewRenderer() *Renderer {
	return &Renderer{
		md:         goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps())),
		copyPolicy: newCopyPolicy(),
		adPolicy:   newAdPolicy(),
	}
}

// Markdown renders trusted survey copy.
func (r *Renderer) Markdown(src string) (template.HTML, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("content: render markdown: %w", err)
	}
	return template.HTML(r.copyPolicy.SanitizeBytes(buf.Bytes())), nil
}

// AdText renders model output for display. Anything beyond emphasis is dropped and the text is
// never interpreted as a link or block.
func (r *Renderer) AdText(text string) template.HTML {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(strings.TrimSpace(r.adPolicy.Sanitize(buf.String())))
}

func newCopyPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("p", "span", "ul", "li")
	policy.RequireNoFollowOnLinks(true)
	return policy
}

func newAdPolicy() *bluemonday.Policy {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("strong", "em", "b", "i", "br")
	return policy
}
