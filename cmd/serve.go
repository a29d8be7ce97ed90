package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/genai"

	"github.com/knova/knova/internal/api"
	"github.com/knova/knova/internal/audit"
	"github.com/knova/knova/internal/authz"
	"github.com/knova/knova/internal/chat"
	"github.com/knova/knova/internal/config"
	"github.com/knova/knova/internal/database"
	"github.com/knova/knova/internal/inference"
	"github.com/knova/knova/internal/vector"
)

// shutdownTimeout bounds graceful HTTP server shutdown.
const shutdownTimeout = 15 * time.Second

// executeServe wires every component and runs the HTTP server until
// interrupted.
func executeServe() error {
	logger := initLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "To set your API key:")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		return errors.New("GEMINI_API_KEY not set")
	}
	logger.Info("configuration loaded", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(cfg.ConnString(), logger); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	pool, err := database.Connect(ctx, cfg.ConnString(), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("creating generation client: %w", err)
	}

	embedder := vector.NewGoogleEmbedder(genaiClient, cfg.EmbedderModel, cfg.EmbeddingDimension)
	store := vector.NewStore(pool, embedder, logger.With("component", "vector"))

	provider := inference.NewGoogleProvider(genaiClient, inference.GenerationParams{
		Model:       cfg.ModelName,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   int32(cfg.MaxTokens),
	})
	client := inference.New(provider, inference.Config{
		Model:         cfg.ModelName,
		MinSimilarity: cfg.MinSimilarity,
		MaxDocs:       cfg.MaxRetrievalDocs,
		Breaker: inference.CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreakerThreshold,
			Cooldown:         cfg.CircuitBreakerCooldown,
		},
		RequestsPerMinute: cfg.RequestsPerMinute,
		Retry: inference.RetryConfig{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: time.Second,
			MaxInterval:     10 * time.Second,
		},
		CacheSize:      cfg.CacheSize,
		CacheTTL:       cfg.CacheTTL,
		RequestTimeout: cfg.RequestTimeout,
	}, logger.With("component", "inference"))

	resolver := authz.NewResolver(database.NewProjectSource(pool), cfg.SharedIdentityID,
		logger.With("component", "authz"))
	recorder := audit.NewLogRecorder(logger.With("component", "audit"))

	service := chat.NewService(resolver, chat.NewPGStore(pool), store, client, recorder,
		chat.Config{
			MaxDocs:       cfg.MaxRetrievalDocs,
			MinSimilarity: cfg.MinSimilarity,
			HistoryWindow: cfg.HistoryWindow,
		}, logger.With("component", "chat"))

	principals, err := principalsFromEnv(os.Getenv("KNOVA_API_TOKENS"))
	if err != nil {
		return fmt.Errorf("parsing KNOVA_API_TOKENS: %w", err)
	}

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		ChatService: service,
		Principals:  principals,
		Pool:        pool,
		Breaker:     client,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// executeMigrate runs migrations and exits.
func executeMigrate() error {
	logger := initLogger()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	return database.Migrate(cfg.ConnString(), logger)
}
