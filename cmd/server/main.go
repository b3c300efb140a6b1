// Command server is the composition root: it wires config, logging,
// persistence, the LLM and vector store clients, the room manager and
// the HTTP surface together and runs until interrupted. Grounded on
// the teacher's database.Init (gorm.Open + connection pool tuning,
// husainf4l-aqlinks/aq-server/internal/database/connection.go) and on
// its config/logger bootstrap style, generalised from that repo's
// hand-rolled env var reads to the viper-backed internal/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/baro-gochi/counselor-assist-core/internal/agent"
	"github.com/baro-gochi/counselor-assist-core/internal/agent/tool/mcp"
	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/config"
	"github.com/baro-gochi/counselor-assist-core/internal/httpapi"
	"github.com/baro-gochi/counselor-assist-core/internal/llm"
	"github.com/baro-gochi/counselor-assist-core/internal/persistence"
	pgpersist "github.com/baro-gochi/counselor-assist-core/internal/persistence/postgres"
	"github.com/baro-gochi/counselor-assist-core/internal/room"
	"github.com/baro-gochi/counselor-assist-core/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional; env vars always apply)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	logOpts := []commons.Option{}
	if cfg.LogDevelopment {
		logOpts = append(logOpts, commons.WithDevelopment())
	}
	if cfg.LogFilePath != "" {
		logOpts = append(logOpts, commons.WithRotatingFile(cfg.LogFilePath, 100, 5, 28))
	}
	logger := commons.New(logOpts...)

	db, err := openPostgres(cfg, logger)
	if err != nil {
		logger.Errorw("postgres connection failed, persistence writes will fail", "error", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	// persist is left as a nil persistence.Gateway interface (not a
	// typed-nil *pgpersist.Gateway) when Postgres is unreachable, so
	// every downstream `if m.persist != nil` check sees a real nil.
	var persist persistence.Gateway
	if db != nil {
		persist = pgpersist.New(db, redisClient, logger.With("component", "persistence"))
	}

	llmClient, err := llm.New(context.Background(), cfg.LLMProvider, cfg.LLMModel, cfg.OpenAIAPIKey, cfg.AnthropicAPIKey, llm.BedrockOptions{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		EmbeddingModel:  cfg.BedrockEmbeddingModel,
	})
	if err != nil {
		logger.Warnw("llm client unavailable, agent pipeline will run degraded", "error", err)
	}

	var vecStore *vectorstore.Store
	if cfg.OpenSearchURL != "" {
		vecStore, err = vectorstore.New(cfg.OpenSearchURL)
		if err != nil {
			logger.Warnw("vector store unavailable, faq_search and rag_policy will degrade", "error", err)
		}
	}

	var mcpCaller *mcp.Caller
	if cfg.MCPServerURL != "" {
		mcpCaller, err = mcp.Dial(context.Background(), cfg.MCPServerURL)
		if err != nil {
			logger.Warnw("mcp server unavailable, faq_search/rag_policy fallback disabled", "error", err)
		}
	}

	deps := agent.Dependencies{
		LLM:               llmClient,
		VectorStore:       vecStore,
		Persistence:       persist,
		MCP:               mcpCaller,
		CustomerDirectory: agent.NoopCustomerDirectory{},
		FAQCacheThreshold: cfg.SemanticCacheThreshold,
	}
	factory := agent.Factory(deps, logger.With("component", "agent"), cfg.PipelineNodeDeadline())

	manager := room.NewManager(logger.With("component", "room_manager"), factory, persist, redisClient, cfg.MaxConcurrentRooms)

	router := httpapi.NewRouter(httpapi.Deps{
		Cfg:         cfg,
		Logger:      logger,
		Manager:     manager,
		Persistence: persist,
		LLM:         llmClient,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Infow("http server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("http server stopped", "error", err)
		}
	}()

	waitForShutdown(srv, manager, logger)
}

// openPostgres opens the gorm connection and tunes the pool the way
// the teacher's database.Init does, then migrates the persistence
// schema. A nil DSN is tolerated (returns nil, nil) so a dev instance
// can run without Postgres, with persistence writes simply skipped.
func openPostgres(cfg *config.Config, logger commons.Logger) (*gorm.DB, error) {
	if cfg.PostgresDSN == "" {
		return nil, nil
	}

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(pgpersist.AllModels()...); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	logger.Infow("postgres connected")
	return db, nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, then stops accepting new
// HTTP connections and tears down every live room (Manager.Shutdown
// closes each room's agent and ends its persisted session). It does not
// close peers or signal clients itself, and it returns without waiting
// for persistence writes still in flight.
func waitForShutdown(srv *http.Server, manager *room.Manager, logger commons.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infow("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http server shutdown error", "error", err)
	}

	manager.Shutdown(shutdownCtx)

	logger.Infow("shutdown complete")
}
