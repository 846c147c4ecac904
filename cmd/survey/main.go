package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/adperception/survey/internal/content"
	domain "github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/handlers"
	surveymw "github.com/adperception/survey/internal/middleware"
	"github.com/adperception/survey/internal/platform/config"
	pfirestore "github.com/adperception/survey/internal/platform/firestore"
	"github.com/adperception/survey/internal/platform/jobs"
	"github.com/adperception/survey/internal/platform/llm"
	"github.com/adperception/survey/internal/platform/observability"
	"github.com/adperception/survey/internal/platform/secrets"
	platformstorage "github.com/adperception/survey/internal/platform/storage"
	"github.com/adperception/survey/internal/repositories"
	firestoreRepo "github.com/adperception/survey/internal/repositories/firestore"
	"github.com/adperception/survey/internal/repositories/memory"
	"github.com/adperception/survey/internal/services"
)

const meterName = "github.com/adperception/survey"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("survey")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	meter := otel.GetMeterProvider().Meter(meterName)

	fetcher, err := newSecretFetcher(ctx, logger, meter, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	survey, err := content.Load(cfg.Survey.ContentFile)
	if err != nil {
		logger.Fatal("failed to load survey content", zap.Error(err))
	}

	backends, err := newStores(ctx, logger, cfg, cloudClientOptions(envValues)...)
	if err != nil {
		logger.Fatal("failed to initialise stores", zap.Error(err))
	}
	defer backends.close()

	generator, err := llm.New(ctx, cfg.Generation, llm.WithLogger(logger.Named("llm")))
	if err != nil {
		logger.Fatal("failed to initialise text generator", zap.String("provider", cfg.Generation.Provider), zap.Error(err))
	}
	defer func() {
		if err := generator.Close(); err != nil {
			logger.Warn("text generator close error", zap.Error(err))
		}
	}()

	var archiver services.BatchArchiver
	if bucket := strings.TrimSpace(cfg.Archive.Bucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		batchArchiver, err := platformstorage.NewBatchArchiver(storageClient, bucket, cfg.Archive.Prefix)
		if err != nil {
			logger.Fatal("failed to initialise batch archiver", zap.Error(err))
		}
		archiver = batchArchiver
	}

	var publisher services.CompletionPublisher
	if topicName := strings.TrimSpace(cfg.Events.CompletionTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicName)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		completionPublisher, err := jobs.NewPubSubCompletionPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise completion publisher", zap.Error(err))
		}
		publisher = completionPublisher
	}

	gateway, err := services.NewResponseGateway(backends.responses, time.Now)
	if err != nil {
		logger.Fatal("failed to initialise response gateway", zap.Error(err))
	}

	rules := domain.DefaultProfileRules()
	rules.MinAge = cfg.Survey.MinAge
	rules.MaxAge = cfg.Survey.MaxAge

	surveyService, err := services.NewSurveyService(services.SurveyServiceDeps{
		Sessions:        backends.sessions,
		Responses:       gateway,
		Generator:       generator,
		Catalog:         survey.Products,
		Rules:           rules,
		SessionTTL:      cfg.Survey.SessionTTL,
		PersistEachStep: cfg.Survey.PersistEachStep,
		Archiver:        archiver,
		Publisher:       publisher,
		Metrics:         observability.NewSurveyMetrics(meter, logger.Named("metrics")),
		Clock:           time.Now,
		Logger:          observability.EventLogger(logger.Named("survey")),
	})
	if err != nil {
		logger.Fatal("failed to initialise survey service", zap.Error(err))
	}

	if cfg.Session.SigningKey == "" {
		logger.Warn("session signing key not configured; sessions will not survive a restart")
	}
	cookies, err := surveymw.NewSessionCookies(cfg.Session.CookieName, cfg.Session.SigningKey, cfg.Session.SecureCookie, cfg.Survey.SessionTTL)
	if err != nil {
		logger.Fatal("failed to initialise session cookies", zap.Error(err))
	}

	surveyHandlers, err := handlers.NewSurveyHandlers(surveyService, cookies, survey, handlers.WithProfileRules(rules))
	if err != nil {
		logger.Fatal("failed to initialise survey handlers", zap.Error(err))
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(backends.checks,
		repositories.WithDependencyTimeout(cfg.Server.ProbeTimeout),
	)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthRepository(healthRepo),
		handlers.WithReadinessTimeout(cfg.Server.ReadinessTimeout),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Survey.CleanupInterval > 0 && cfg.Survey.SessionTTL > 0 {
		cleanupTicker = time.NewTicker(cfg.Survey.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("sessions")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := surveyService.PurgeExpiredSessions(runCtx)
					cancel()
					if err != nil {
						cleanupLogger.Error("session cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("session cleanup removed sessions", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	httpLogger := logger.Named("http")
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(httpLogger),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RequestLoggerMiddleware(),
		observability.RecoveryMiddleware(httpLogger, surveyHandlers.PanicPage),
		middleware.Compress(5),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithNotFoundHandler(surveyHandlers.NotFound),
		handlers.WithSurveyMiddlewares(surveyHandlers.Middlewares()...),
		handlers.WithSurveyRoutes(surveyHandlers.Routes),
	)
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("survey listening",
			zap.String("store", cfg.Survey.StoreDriver),
			zap.String("provider", cfg.Generation.Provider),
			zap.String("model", cfg.Generation.Model),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// stores bundles the session and response repositories with their readiness probes.
type stores struct {
	sessions  repositories.SessionRepository
	responses repositories.ResponseRepository
	checks    []repositories.DependencyCheck
	close     func()
}

func newStores(ctx context.Context, logger *zap.Logger, cfg config.Config, clientOpts ...option.ClientOption) (stores, error) {
	switch cfg.Survey.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory stores; responses are lost on restart")
		return stores{
			sessions:  memory.NewSessionRepository(),
			responses: memory.NewResponseRepository(),
			checks: []repositories.DependencyCheck{
				{Name: "memory", Check: func(context.Context) error { return nil }},
			},
			close: func() {},
		}, nil
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore,
			pfirestore.WithDialTimeout(cfg.Firestore.DialTimeout),
			pfirestore.WithClientOptions(clientOpts...),
		)
		if _, err := provider.Client(ctx); err != nil {
			return stores{}, fmt.Errorf("firestore client: %w", err)
		}
		sessions, err := firestoreRepo.NewSessionRepository(provider, cfg.Firestore.SessionsCollection)
		if err != nil {
			return stores{}, err
		}
		responses, err := firestoreRepo.NewResponseRepository(provider, cfg.Firestore.ResponsesCollection,
			firestoreRepo.WithUpsertTransaction(cfg.Firestore.TxAttempts, cfg.Firestore.TxTimeout),
		)
		if err != nil {
			return stores{}, err
		}
		return stores{
			sessions:  sessions,
			responses: responses,
			checks: []repositories.DependencyCheck{
				{Name: "firestore", Check: provider.Ping},
			},
			close: func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := provider.Close(closeCtx); err != nil {
					logger.Warn("firestore close error", zap.Error(err))
				}
			},
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown store driver %q", cfg.Survey.StoreDriver)
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["SURVEY_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["SURVEY_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, meter metric.Meter, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("SURVEY_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("SURVEY_FIRESTORE_PROJECT_ID")
	}
	if defaultProject == "" {
		defaultProject = lookup("GOOGLE_CLOUD_PROJECT")
	}
	fallbackPath := lookup("SURVEY_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithMeter(meter),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if clientOpts := cloudClientOptions(env); len(clientOpts) > 0 {
		opts = append(opts, secrets.WithClientOptions(clientOpts...))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// cloudClientOptions returns the Google Cloud client options shared by Secret Manager and
// Firestore. A credentials file overrides application default credentials.
func cloudClientOptions(env map[string]string) []option.ClientOption {
	if credentialsFile := strings.TrimSpace(env["SURVEY_CREDENTIALS_FILE"]); credentialsFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
	}
	return nil
}

// requiredSecretNames lists the config fields that must resolve to a value. The session
// signing key is optional locally, where an ephemeral key is acceptable.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Generation.APIKey"}
	environment := strings.ToLower(strings.TrimSpace(env["SURVEY_ENVIRONMENT"]))
	if environment != "" && environment != "local" {
		required = append(required, "Session.SigningKey")
	}
	return required
}
