package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/config"
	"github.com/athenaai/athena/internal/http/handlers"
	"github.com/athenaai/athena/internal/knowledge"
	"github.com/athenaai/athena/internal/llm"
	"github.com/athenaai/athena/internal/repo"
	"github.com/athenaai/athena/internal/services"
)

// app holds the services shared by every command.
type app struct {
	cfg config.Config
	db  *gorm.DB

	resolver     *services.IdentityResolver
	linker       *services.PlatformLinker
	ledger       *services.Ledger
	backfill     *services.Backfill
	centralizer  *services.Centralizer
	knowledge    *knowledge.Cache // nil when KNOWLEDGE_PATH is empty
	conversation *services.Conversation
}

// newApp opens and migrates the store and wires the services.
func newApp(cfg config.Config) (*app, error) {
	db, err := repo.Open(repo.Options{
		Driver:  cfg.DB.Driver,
		Path:    cfg.DB.Path,
		DSN:     cfg.DB.URL,
		Tracing: cfg.OTEL.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	retry := services.RetryPolicy{
		MaxAttempts: uint(cfg.Resolve.MaxAttempts),
		BaseBackoff: cfg.Resolve.BaseBackoff,
		MaxBackoff:  cfg.Resolve.MaxBackoff,
		Budget:      cfg.Resolve.Budget,
	}
	store := services.GormIdentityStore{DB: db}
	cache := services.NewLinkCache(cfg.Resolve.LinkCacheMax, cfg.Resolve.LinkCacheTTL)

	a := &app{cfg: cfg, db: db}
	a.resolver = services.NewIdentityResolver(store, retry, cache)
	a.linker = services.NewPlatformLinker(store, db, retry)
	a.ledger = services.NewLedger(db)
	a.backfill = services.NewBackfill(services.GormBackfillStore{DB: db})
	a.centralizer = services.NewCentralizer(db, a.resolver)

	var ks services.KnowledgeSource
	if p := strings.TrimSpace(cfg.Knowledge.Path); p != "" {
		a.knowledge = knowledge.NewCache(knowledge.FileLoader(p), cfg.Knowledge.TTL)
		ks = a.knowledge
	}

	a.conversation = services.NewConversation(
		services.ConversationConfig{
			BotName:         cfg.Discord.BotName,
			HistoryTurns:    cfg.Conversation.HistoryTurns,
			GenerateTimeout: cfg.Model.Timeout,
			UserRPS:         cfg.Conversation.UserRPS,
			UserBurst:       cfg.Conversation.UserBurst,
		},
		a.resolver,
		a.ledger,
		a.linker,
		services.GormEventStore{DB: db, TTL: cfg.Conversation.EventTTL},
		newGenerator(cfg.Model),
		ks,
	)
	return a, nil
}

// handlers returns the admin API handlers.
func (a *app) handlers() *handlers.Handlers {
	h := handlers.New(a.resolver, a.linker, a.ledger, a.backfill)
	h.DefaultPageSize = a.cfg.Backfill.PageSize
	return h
}

// ping reports whether the store answers.
func (a *app) ping(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (a *app) Close() { closeDB(a.db) }

// newGenerator returns the Gemini client, or a stand-in that always fails
// when no API key is configured so replies fall back.
func newGenerator(mc config.ModelConfig) llm.Generator {
	if strings.TrimSpace(mc.APIKey) == "" {
		log.Warn().Msg("GEMINI_API_KEY not set; replies will use the fallback text")
		return llm.Unavailable{}
	}
	g, err := llm.NewGemini(llm.GeminiConfig{
		BaseURL:         mc.BaseURL,
		APIKey:          mc.APIKey,
		Model:           mc.Model,
		Temperature:     mc.Temperature,
		MaxOutputTokens: mc.MaxOutputTokens,
		Timeout:         mc.Timeout,
	})
	if err != nil {
		log.Warn().Err(err).Msg("gemini client unavailable")
		return llm.Unavailable{}
	}
	return g
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
