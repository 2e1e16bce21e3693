package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/conditions"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/conversations"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/nodes"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/repo"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/sessions"
	"github.com/Chative-core-poc-v1/stateflow/internal/core"
	transporthttp "github.com/Chative-core-poc-v1/stateflow/internal/transport/http"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
	pkgredis "github.com/Chative-core-poc-v1/stateflow/pkg/redis"
)

// AppConfig defines all configurable parameters of the server,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Engine configs
	Talk       model.TalkModelConfig
	Extraction model.ExtractionModelConfig
	Session    model.SessionConfig
	Graph      model.GraphConfig
	APIRequest model.APIRequestConfig
	HTTP       model.HTTPConfig
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to process environment config: %v\n", err)
		os.Exit(1)
	}

	env := core.ParseEnvironment(cfg.Environment)
	logx.Init(logx.LoggerOpts{Environment: env})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ====================================================
	// Session storage: Redis when configured, in-memory otherwise
	var sessionRepo model.SessionRepository
	if cfg.Redis.Enabled() {
		rdb, err := cfg.Redis.New()
		if err != nil {
			logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
		}
		defer rdb.Close()
		sessionRepo = repo.NewRedisSessionRepository(rdb, cfg.Redis.KeyPrefix)
		logx.Info().Msg("Connected to Redis successfully")
	} else {
		mem := repo.NewMemorySessionRepository()
		go mem.RunSweeper(ctx, cfg.Session.SweepInterval)
		sessionRepo = mem
		logx.Info().Msg("Using in-memory session storage")
	}

	sm := sessions.NewManager(sessionRepo, cfg.Session)
	defer sm.Close()

	// ====================================================
	// Models and node executors
	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Talk:       &cfg.Talk,
		Extraction: &cfg.Extraction,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create chat models")
	}

	mm := conversations.NewMessagesManager(cfg.Extraction)
	extractor, err := nodes.NewChatExtractor(ctx, cms.Extraction, cms.ExtractionModelName, mm)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build extraction graph")
	}

	registry := nodes.Registry{
		model.NodeTalk:       nodes.NewTalkExecutor(cms, extractor, mm),
		model.NodeAPIRequest: nodes.NewAPIRequestExecutor(nodes.NewHTTPTransport(cfg.APIRequest), cfg.APIRequest),
	}

	orchestrator := graph.NewOrchestrator(registry, conditions.NewEvaluator(), cfg.Graph)
	service := graph.NewService(sm, orchestrator)

	// ====================================================
	// HTTP server
	e := transporthttp.NewServer(service)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		logx.Info().Str("addr", addr).Str("environment", env.String()).Msg("Server starting")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Error().Err(err).Msg("Server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logx.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("Server shutdown failed")
	}
	logx.Info().Msg("Server exited")
}
