package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hookbot/hookbot/internal/core"
	"github.com/hookbot/hookbot/internal/credential"
	"github.com/hookbot/hookbot/internal/db"
	gh "github.com/hookbot/hookbot/internal/github"
	httpsvr "github.com/hookbot/hookbot/internal/http"
	"github.com/hookbot/hookbot/internal/labeler"
	"github.com/hookbot/hookbot/internal/media"
	"github.com/hookbot/hookbot/internal/registry"
	"github.com/hookbot/hookbot/internal/respond"
	"github.com/hookbot/hookbot/internal/similar"
)

var (
	version   = ""
	gitCommit = ""
	buildTime = ""
)

func main() {
	rulesPath := pflag.String("config", "", "path to a YAML rules file (topics, keyword labels, templates)")
	listen := pflag.String("listen", "", "HTTP listen address (overrides HOOKBOT_HTTP_LISTEN)")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("hookbot %s (commit %s, built %s)\n", version, gitCommit, buildTime)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	profileName := strings.TrimSpace(os.Getenv("HOOKBOT_PROFILE"))
	profile, err := core.LoadProfile(profileName)
	if err != nil {
		logger.Error("invalid HOOKBOT_PROFILE", "value", profileName, "err", err)
		os.Exit(1)
	}
	logger.Info("profile loaded", "profile", profile.Name)

	rules, err := core.LoadRules(*rulesPath)
	if err != nil {
		logger.Error("rules load failed", "path", *rulesPath, "err", err)
		os.Exit(1)
	}

	appID, err := strconv.ParseInt(requireEnv("GITHUB_APP_ID"), 10, 64)
	if err != nil {
		logger.Error("invalid GITHUB_APP_ID", "err", err)
		os.Exit(1)
	}
	creds, err := credential.LoadManager(appID, requireEnv("GITHUB_PRIVATE_KEY_PATH"), logger)
	if err != nil {
		logger.Error("credential init failed", "err", err)
		os.Exit(1)
	}
	creds.SetCadence(profile.RenewalCadence())
	if err := creds.EnsureFresh(); err != nil {
		logger.Error("initial app assertion failed", "err", err)
		os.Exit(1)
	}
	webhookSecret := requireEnv("GITHUB_WEBHOOK_SECRET")

	ghClient := gh.NewClient(envOrDefault("GITHUB_API_URL", gh.DefaultBaseURL), creds, nil)
	installs := registry.New()

	resolver, closeCache, err := buildResolver(profile, logger)
	if err != nil {
		logger.Error("media init failed", "err", err)
		os.Exit(1)
	}
	defer closeCache()

	keywords, err := labeler.New(rules.Keywords)
	if err != nil {
		logger.Error("keyword rules invalid", "err", err)
		os.Exit(1)
	}

	orchestrator, err := respond.New(respond.Config{
		Topics:      rules.Topics,
		Templates:   rules.Templates,
		ImageWidth:  profile.ImageWidth,
		ImageHeight: profile.ImageHeight,
	}, ghClient, similar.NewFinder(ghClient, profile.SimilarLimit), keywords, resolver, logger)
	if err != nil {
		logger.Error("orchestrator init failed", "err", err)
		os.Exit(1)
	}

	// Audit is optional. Keep the interfaces nil, not a typed nil *db.DB.
	var (
		auditStore core.AuditStore
		apiStore   httpsvr.AuditStore
	)
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		database, err := db.New(databaseURL)
		if err != nil {
			logger.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		defer database.Close()
		auditStore, apiStore = database, database
	}

	dispatcher := core.NewDispatcher(core.DispatcherDeps{
		Registry: installs,
		Repos:    ghClient,
		Tokens:   ghClient,
		Handler:  orchestrator,
		Policy:   core.NewPolicy(os.Getenv("REPO_ALLOWLIST"), os.Getenv("IGNORED_SENDERS")),
		Audit:    core.NewAuditService(auditStore),
		Logger:   logger,
	})

	httpAddr := *listen
	if httpAddr == "" {
		httpAddr = envOrDefault("HOOKBOT_HTTP_LISTEN", "0.0.0.0:8080")
	}

	logger.Info("effective config",
		"profile", profile.Name,
		"listen", httpAddr,
		"dispatch_timeout", profile.DispatchTimeout().String(),
		"renewal_cadence", profile.RenewalCadence().String(),
		"media_content_filter", profile.MediaContentFilter,
		"similar_limit", profile.SimilarLimit,
		"audit", auditStore != nil,
		"rules_file", *rulesPath,
	)

	server := httpsvr.NewServer(httpsvr.Config{
		Addr:            httpAddr,
		WebhookSecret:   []byte(webhookSecret),
		DispatchTimeout: profile.DispatchTimeout(),
		Build: httpsvr.BuildInfo{
			Version:   version,
			GitCommit: gitCommit,
			BuildTime: buildTime,
		},
	}, dispatcher, apiStore, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return creds.Run(gctx)
	})
	g.Go(func() error {
		err := installs.Warm(gctx, ghClient, profile.RebuildRetry(), logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("hookbot stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// buildResolver picks the media resolver and its cache. Without a Tenor key
// comments are posted without media.
func buildResolver(profile *core.ProfileDefaults, logger *slog.Logger) (media.Resolver, func(), error) {
	apiKey := os.Getenv("TENOR_API_KEY")
	if apiKey == "" {
		logger.Warn("TENOR_API_KEY not set, comments will carry no media")
		return media.Disabled{}, func() {}, nil
	}
	tenor := media.NewTenor(envOrDefault("TENOR_API_URL", media.DefaultTenorURL), apiKey, profile.MediaContentFilter, nil)

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return media.NewCached(tenor, media.NewMemoryCache(), profile.MediaCacheTTL(), logger), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cache, err := media.OpenRedisCache(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	return media.NewCached(tenor, cache, profile.MediaCacheTTL(), logger), func() { cache.Close() }, nil
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required env var missing", "key", key)
		os.Exit(1)
	}
	return v
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
