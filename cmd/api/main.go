package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"siteeditor/api/internal/app"
	"siteeditor/api/internal/archive"
	"siteeditor/api/internal/authpw"
	"siteeditor/api/internal/batch"
	"siteeditor/api/internal/config"
	"siteeditor/api/internal/editflow"
	"siteeditor/api/internal/export"
	"siteeditor/api/internal/gitrepo"
	"siteeditor/api/internal/llm"
	"siteeditor/api/internal/notify"
	"siteeditor/api/internal/ratelimit"
	"siteeditor/api/internal/search"
	"siteeditor/api/internal/session"
	"siteeditor/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	dialect, err := store.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		fatal(logger, "invalid database driver", err)
	}
	db, err := store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "database connection failed", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		fatal(logger, "migrations failed", err)
	}
	dataStore := store.NewSQLStore(db, dialect)

	checks := map[string]func(context.Context) error{}
	var limiter editflow.RateLimiter
	var revocations *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			fatal(logger, "invalid redis url", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			fatal(logger, "redis connection failed", err)
		}
		limiter = ratelimit.NewRedisLimiterWithClient(client)
		revocations = session.NewRedisStoreWithClient(client)
		checks["redis"] = revocations.Ping
	} else {
		logger.Warn("REDIS_URL not set; rate limiting and logout revocation are disabled")
	}

	flushes := batch.NewRegistry()
	defer flushes.Stop()

	var mirrors archive.Mirrors
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		objectMirror, err := archive.NewObjectMirror(ctx, archive.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		}, cfg.ArchiveMaxSnapshots)
		if err != nil {
			fatal(logger, "archive mirror unavailable", err)
		}
		mirrors = append(mirrors, objectMirror)
		logger.Info("mirroring version archive", "endpoint", cfg.MinIOEndpoint, "bucket", cfg.MinIOBucket)
	}
	if dir := strings.TrimSpace(cfg.ArchiveGitDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fatal(logger, "failed to create archive git dir", err)
		}
		mirrors = append(mirrors, gitrepo.New(dir))
		logger.Info("keeping git history of versions", "dir", dir)
	}
	var mirror archive.Mirror
	if len(mirrors) > 0 {
		mirror = mirrors
	}
	versions := archive.New(dataStore, cfg.ArchiveMaxSnapshots, mirror, logger)

	var notifier editflow.Notifier = notify.NewLogNotifier(logger)
	mailer := notify.NewMailer(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		notifier = notify.NewEmailNotifier(mailer, dataStore, cfg.SMTPFromName)
		logger.Info("emailing requester notifications", "smtp_host", cfg.SMTPHost)
	}

	var (
		proposer editflow.Proposer
		tiers    editflow.TierClassifier  = llm.ManualTierClassifier{}
		replies  editflow.ReplyClassifier = llm.KeywordReplyClassifier{}
	)
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		client, err := llm.NewClient(llm.Options{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Logger:  logger,
		})
		if err != nil {
			fatal(logger, "proposal service setup failed", err)
		}
		proposer = llm.NewProposer(client)
		tiers = llm.NewTierClassifier(client)
		replies = llm.NewReplyClassifier(client)
	} else {
		logger.Warn("OPENAI_API_KEY not set; every request goes to an operator")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewSQLFallback(dataStore), logger)

	pdfRenderer := export.NewChromeRenderer(cfg.PDFRenderTimeout)
	if !pdfRenderer.Available() {
		logger.Warn("no chromium binary found; PDF export will answer 503")
	}

	router := editflow.NewRouter(editflow.Config{
		Store:           dataStore,
		Archive:         versions,
		Proposer:        proposer,
		Tiers:           tiers,
		Replies:         replies,
		Notifier:        notifier,
		Limiter:         limiter,
		Scheduler:       flushes,
		Logger:          logger,
		ProposalTimeout: cfg.ProposalTimeout,
	})

	deps := app.Deps{
		Store:   dataStore,
		Router:  router,
		Archive: versions,
		Search:  searchService,
		Export:  export.NewService(dataStore, pdfRenderer),
		Auth:    authpw.NewService(dataStore),
		Checks:  checks,
		Logger:  logger,
	}
	if revocations != nil {
		deps.Revocations = revocations
	}
	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error (will retry on next restart)", "error", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("site editor API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	flushes.Stop()
	router.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
