package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/0xcro3dile/workmind-go/internal/adapters/embedding"
	"github.com/0xcro3dile/workmind-go/internal/adapters/knowledge"
	"github.com/0xcro3dile/workmind-go/internal/adapters/llm"
	"github.com/0xcro3dile/workmind-go/internal/adapters/store"
	"github.com/0xcro3dile/workmind-go/internal/config"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
	"github.com/0xcro3dile/workmind-go/internal/domain/usecases"
)

// persistence is what both store adapters provide.
type persistence interface {
	ports.ConversationLedger
	ports.EvidenceStore
	ports.ProfileStore
}

func openKnowledge(cfg *config.Config, logger *zap.Logger) (*knowledge.Store, error) {
	kb, err := knowledge.NewStore(usecases.NewContextInjector().Slots(), logger)
	if err != nil {
		return nil, err
	}
	if cfg.Knowledge.CorpusPath != "" {
		if err := kb.LoadFile(cfg.Knowledge.CorpusPath); err != nil {
			return nil, err
		}
	}
	return kb, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (persistence, func() error, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using in-memory storage; conversations are lost on exit")
		return store.NewMemoryStore(), func() error { return nil }, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Storage.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.CompletionBackend, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		return llm.NewGeminiAdapter(ctx, cfg.LLM.APIKey, cfg.LLM.Model, logger)
	case "ollama":
		return llm.NewOllamaLLMAdapter(cfg.LLM.BaseURL, cfg.LLM.Model, logger), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}

// newEmbedder returns nil when relevance ranking is disabled.
func newEmbedder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.EmbeddingService, error) {
	if !cfg.Embedding.Enabled {
		return nil, nil
	}
	switch cfg.Embedding.Provider {
	case "gemini":
		return embedding.NewGeminiAdapter(ctx, cfg.LLM.APIKey, cfg.Embedding.Model, logger)
	case "ollama":
		return embedding.NewOllamaAdapter(cfg.Embedding.BaseURL, cfg.Embedding.Model, logger), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
}

func turnDefaults(cfg *config.Config) usecases.TurnOptions {
	return usecases.TurnOptions{
		MaxEvidenceChars:     cfg.Turn.MaxEvidenceChars,
		MaxHistoryTurns:      cfg.Turn.MaxHistoryTurns,
		MaxEvidenceDocuments: cfg.Turn.MaxEvidenceDocuments,
		Deadline:             cfg.GetTurnDeadline(),
	}
}

// app is the fully wired engine used by serve.
type app struct {
	knowledge *knowledge.Store
	store     persistence
	close     func() error
	chat      *usecases.ChatService
	ingest    *usecases.IngestUseCase
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	kb, err := openKnowledge(cfg, logger)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	turns := usecases.NewTurnUseCase(usecases.TurnDeps{
		Knowledge: kb,
		Ledger:    st,
		Backend:   backend,
		Embedder:  embedder,
		Triggers:  cfg.Escalation.Triggers,
		Defaults:  turnDefaults(cfg),
		Logger:    logger,
	})

	return &app{
		knowledge: kb,
		store:     st,
		close:     closeStore,
		chat:      usecases.NewChatService(turns, st, st, logger),
		ingest:    usecases.NewIngestUseCase(st, cfg.Evidence.MaxUploadBytes, logger),
	}, nil
}
