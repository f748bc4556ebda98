package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yelabb/readquest/internal/ai"
	"github.com/yelabb/readquest/internal/api"
	"github.com/yelabb/readquest/internal/platform/cache"
	"github.com/yelabb/readquest/internal/platform/config"
	"github.com/yelabb/readquest/internal/platform/database"
	"github.com/yelabb/readquest/internal/progress"
	"github.com/yelabb/readquest/internal/story"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := database.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	checkers := []api.HealthChecker{db}

	var hotCache story.HotCache
	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			slog.Error("failed to connect to cache", "error", err)
			os.Exit(1)
		}
		defer c.Close()
		hotCache = c
		checkers = append(checkers, c)
	} else {
		slog.Info("hot cache disabled, lookups go straight to the database")
	}

	router := ai.NewRouter()
	if cfg.AI.Anthropic.APIKey != "" {
		provider, err := ai.NewAnthropicProvider(cfg.AI.Anthropic.APIKey)
		if err != nil {
			slog.Error("failed to create anthropic provider", "error", err)
			os.Exit(1)
		}
		router.Register("anthropic", provider)
	}
	if cfg.AI.OpenAI.APIKey != "" {
		router.Register("openai", ai.NewOpenAIProvider(cfg.AI.OpenAI.APIKey))
	}
	router.SetTaskModel(ai.TaskStory, cfg.Generation.CreativeModel)
	router.SetTaskModel(ai.TaskQuestions, cfg.Generation.StructuredModel)

	rubrics := story.DefaultRubricTable()
	if cfg.RubricPath != "" {
		rubrics, err = story.LoadRubricTable(cfg.RubricPath)
		if err != nil {
			slog.Error("failed to load rubric table", "path", cfg.RubricPath, "error", err)
			os.Exit(1)
		}
		slog.Info("rubric table loaded", "path", cfg.RubricPath)
	}

	storyStore, err := story.NewPostgresStore(db.Pool)
	if err != nil {
		slog.Error("failed to create story store", "error", err)
		os.Exit(1)
	}
	progressStore, err := progress.NewPostgresStore(db.Pool)
	if err != nil {
		slog.Error("failed to create progress store", "error", err)
		os.Exit(1)
	}

	generator := story.NewGenerator(router, rubrics, cfg.Generation.Timeout)
	assembler := story.NewAssembler(story.AssemblerConfig{
		Store:        storyStore,
		Generator:    generator,
		Rubrics:      rubrics,
		HotCache:     hotCache,
		HotCacheTTL:  cfg.Cache.StoryTTL,
		NumQuestions: cfg.Generation.NumQuestions,
	})

	server := api.NewServer(assembler, storyStore, progressStore, checkers...)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // generation can take most of its 60s budget
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
