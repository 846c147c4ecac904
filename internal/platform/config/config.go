package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultEnvironment         = "local"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 120 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultReadinessTimeout    = 3 * time.Second
	defaultProbeTimeout        = 1500 * time.Millisecond
	defaultResponsesCollection = "responses"
	defaultSessionsCollection  = "survey_sessions"
	defaultFirestoreDial       = 10 * time.Second
	defaultFirestoreTxTimeout  = 15 * time.Second
	defaultFirestoreTxAttempts = 5
	defaultStoreDriver         = StoreDriverFirestore
	defaultProvider            = ProviderOpenAI
	defaultOpenAIModel         = "gpt-5-mini"
	defaultGeminiModel         = "gemini-2.5-flash"
	defaultOpenAIBaseURL       = "https://api.openai.com/v1"
	defaultGenerationTimeout   = 90 * time.Second
	defaultMinAge              = 18
	defaultMaxAge              = 110
	defaultSessionTTL          = 6 * time.Hour
	defaultCleanupInterval     = 30 * time.Minute
	defaultCookieName          = "survey_session"
	defaultArchivePrefix       = "generations"
)

// Store drivers.
const (
	StoreDriverFirestore = "firestore"
	StoreDriverMemory    = "memory"
)

// Generation providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Firestore   FirestoreConfig
	Generation  GenerationConfig
	Survey      SurveyConfig
	Session     SessionConfig
	Archive     ArchiveConfig
	Events      EventsConfig
}

// IsLocal reports whether the process runs in the local environment.
func (c Config) IsLocal() bool {
	return c.Environment == defaultEnvironment
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// ReadinessTimeout bounds a whole /readyz call and ProbeTimeout each dependency check in it.
	ReadinessTimeout time.Duration
	ProbeTimeout     time.Duration
}

// FirestoreConfig stores database parameters and collection names.
type FirestoreConfig struct {
	ProjectID           string
	EmulatorHost        string
	ResponsesCollection string
	SessionsCollection  string
	// DialTimeout bounds client creation.
	DialTimeout time.Duration
	// TxTimeout and TxAttempts bound each response upsert transaction.
	TxTimeout  time.Duration
	TxAttempts int
}

// GenerationConfig selects and configures the text-generation backend.
type GenerationConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Temperature float64
	MaxRetries  int
}

// SurveyConfig holds participant-facing survey rules.
type SurveyConfig struct {
	MinAge          int
	MaxAge          int
	PersistEachStep bool
	ContentFile     string
	StoreDriver     string
	SessionTTL      time.Duration
	CleanupInterval time.Duration
}

// SessionConfig controls the browser session cookie.
type SessionConfig struct {
	CookieName   string
	SigningKey   string
	SecureCookie bool
}

// ArchiveConfig configures raw generation archival to Cloud Storage. Empty Bucket disables it.
type ArchiveConfig struct {
	Bucket string
	Prefix string
}

// EventsConfig configures completion events. Empty CompletionTopic disables publishing.
type EventsConfig struct {
	ProjectID       string
	CompletionTopic string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing. Only
// redacted names appear in its message.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns stable hashes of the missing secret names.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.names...)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Generation.APIKey") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

func defaultOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the effective environment after applying the same precedence as Load
// (dotenv < OS env < explicit env map), so callers can build the secret fetcher before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions(opts)

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration from defaults, .env overrides, environment variables and
// secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions(opts)
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return strings.TrimSpace(value), ok
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "SURVEY_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:             stringWithDefault(lookup, "SURVEY_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:      durationWithDefault(lookup, "SURVEY_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:     durationWithDefault(lookup, "SURVEY_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:      durationWithDefault(lookup, "SURVEY_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ReadinessTimeout: durationWithDefault(lookup, "SURVEY_READINESS_TIMEOUT", defaultReadinessTimeout),
			ProbeTimeout:     durationWithDefault(lookup, "SURVEY_READINESS_PROBE_TIMEOUT", defaultProbeTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:           stringWithDefault(lookup, "SURVEY_FIRESTORE_PROJECT_ID", stringWithDefault(lookup, "GOOGLE_CLOUD_PROJECT", "")),
			EmulatorHost:        stringWithDefault(lookup, "SURVEY_FIRESTORE_EMULATOR_HOST", ""),
			ResponsesCollection: stringWithDefault(lookup, "SURVEY_FIRESTORE_RESPONSES_COLLECTION", defaultResponsesCollection),
			SessionsCollection:  stringWithDefault(lookup, "SURVEY_FIRESTORE_SESSIONS_COLLECTION", defaultSessionsCollection),
			DialTimeout:         durationWithDefault(lookup, "SURVEY_FIRESTORE_DIAL_TIMEOUT", defaultFirestoreDial),
			TxTimeout:           durationWithDefault(lookup, "SURVEY_FIRESTORE_TX_TIMEOUT", defaultFirestoreTxTimeout),
			TxAttempts:          intWithDefault(lookup, "SURVEY_FIRESTORE_TX_ATTEMPTS", defaultFirestoreTxAttempts),
		},
		Generation: GenerationConfig{
			Provider:    strings.ToLower(stringWithDefault(lookup, "SURVEY_GENERATION_PROVIDER", defaultProvider)),
			Model:       stringWithDefault(lookup, "SURVEY_GENERATION_MODEL", ""),
			APIKey:      stringWithDefault(lookup, "SURVEY_GENERATION_API_KEY", ""),
			BaseURL:     stringWithDefault(lookup, "SURVEY_GENERATION_BASE_URL", ""),
			Timeout:     durationWithDefault(lookup, "SURVEY_GENERATION_TIMEOUT", defaultGenerationTimeout),
			Temperature: floatWithDefault(lookup, "SURVEY_GENERATION_TEMPERATURE", 1),
			MaxRetries:  intWithDefault(lookup, "SURVEY_GENERATION_MAX_RETRIES", 0),
		},
		Survey: SurveyConfig{
			MinAge:          intWithDefault(lookup, "SURVEY_MIN_AGE", defaultMinAge),
			MaxAge:          intWithDefault(lookup, "SURVEY_MAX_AGE", defaultMaxAge),
			PersistEachStep: boolWithDefault(lookup, "SURVEY_PERSIST_EACH_STEP", false),
			ContentFile:     stringWithDefault(lookup, "SURVEY_CONTENT_FILE", ""),
			StoreDriver:     strings.ToLower(stringWithDefault(lookup, "SURVEY_STORE_DRIVER", defaultStoreDriver)),
			SessionTTL:      durationWithDefault(lookup, "SURVEY_SESSION_TTL", defaultSessionTTL),
			CleanupInterval: durationWithDefault(lookup, "SURVEY_SESSION_CLEANUP_INTERVAL", defaultCleanupInterval),
		},
		Session: SessionConfig{
			CookieName:   stringWithDefault(lookup, "SURVEY_SESSION_COOKIE_NAME", defaultCookieName),
			SigningKey:   stringWithDefault(lookup, "SURVEY_SESSION_SIGNING_KEY", ""),
			SecureCookie: boolWithDefault(lookup, "SURVEY_SESSION_SECURE_COOKIE", true),
		},
		Archive: ArchiveConfig{
			Bucket: stringWithDefault(lookup, "SURVEY_ARCHIVE_BUCKET", ""),
			Prefix: stringWithDefault(lookup, "SURVEY_ARCHIVE_PREFIX", defaultArchivePrefix),
		},
		Events: EventsConfig{
			ProjectID:       stringWithDefault(lookup, "SURVEY_EVENTS_PROJECT_ID", ""),
			CompletionTopic: stringWithDefault(lookup, "SURVEY_COMPLETION_TOPIC", ""),
		},
	}

	if cfg.Generation.Model == "" {
		cfg.Generation.Model = defaultModel(cfg.Generation.Provider)
	}
	if cfg.Generation.BaseURL == "" && cfg.Generation.Provider == ProviderOpenAI {
		cfg.Generation.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Generation.APIKey", &cfg.Generation.APIKey},
		{"Session.SigningKey", &cfg.Session.SigningKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = value
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func defaultModel(provider string) string {
	if provider == ProviderGemini {
		return defaultGeminiModel
	}
	return defaultOpenAIModel
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	} else if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port <= 0 || port > 65535 {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Generation.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		invalid = append(invalid, "Generation.Provider")
	}
	if cfg.Generation.APIKey == "" {
		invalid = append(invalid, "Generation.APIKey")
	}
	if cfg.Generation.Timeout <= 0 {
		invalid = append(invalid, "Generation.Timeout")
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		invalid = append(invalid, "Generation.Temperature")
	}
	if cfg.Generation.MaxRetries < 0 {
		invalid = append(invalid, "Generation.MaxRetries")
	}
	if cfg.Survey.MinAge < 1 || cfg.Survey.MaxAge < cfg.Survey.MinAge {
		invalid = append(invalid, "Survey.MinAge", "Survey.MaxAge")
	}
	switch cfg.Survey.StoreDriver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
		if cfg.Firestore.ResponsesCollection == "" {
			invalid = append(invalid, "Firestore.ResponsesCollection")
		}
		if cfg.Firestore.SessionsCollection == "" {
			invalid = append(invalid, "Firestore.SessionsCollection")
		}
		if cfg.Firestore.DialTimeout <= 0 {
			invalid = append(invalid, "Firestore.DialTimeout")
		}
		if cfg.Firestore.TxTimeout <= 0 {
			invalid = append(invalid, "Firestore.TxTimeout")
		}
		if cfg.Firestore.TxAttempts < 1 {
			invalid = append(invalid, "Firestore.TxAttempts")
		}
	case StoreDriverMemory:
	default:
		invalid = append(invalid, "Survey.StoreDriver")
	}
	if cfg.Survey.SessionTTL <= 0 {
		invalid = append(invalid, "Survey.SessionTTL")
	}
	if cfg.Session.CookieName == "" {
		invalid = append(invalid, "Session.CookieName")
	}
	if !cfg.IsLocal() && len(cfg.Session.SigningKey) < 32 {
		invalid = append(invalid, "Session.SigningKey")
	}
	if cfg.Events.CompletionTopic != "" && cfg.Events.ProjectID == "" {
		invalid = append(invalid, "Events.ProjectID")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var missing []string
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if strings.TrimSpace(resolved[trimmed]) == "" {
			missing = append(missing, trimmed)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
