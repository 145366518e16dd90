package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/budget"
	"github.com/jonathan/bookmark-agent/internal/config"
	"github.com/jonathan/bookmark-agent/internal/cryptoutil"
	"github.com/jonathan/bookmark-agent/internal/jobs"
	"github.com/jonathan/bookmark-agent/internal/llm"
	"github.com/jonathan/bookmark-agent/internal/normalize"
	"github.com/jonathan/bookmark-agent/internal/prompts"
	"github.com/jonathan/bookmark-agent/internal/server"
	"github.com/jonathan/bookmark-agent/internal/store"
	"github.com/jonathan/bookmark-agent/internal/syncer"
	"github.com/jonathan/bookmark-agent/internal/types"
	"github.com/jonathan/bookmark-agent/internal/xapi"
)

// app holds the wired service graph shared by every subcommand.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	db         *store.DB
	kv         *store.RedisKV
	box        *cryptoutil.Box
	summarizer *normalize.Summarizer
	runner     *jobs.Runner
}

// newApp connects the stores and wires the pipeline.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	kv, err := store.NewRedisKV(ctx, store.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	box, err := cryptoutil.NewBox(cfg.CredentialKey)
	if err != nil {
		db.Close()
		_ = kv.Close()
		return nil, err
	}

	tokens := xapi.NewTokenManager(kv, xapi.TokenManagerOptions{
		TokenURL:     cfg.OAuthTokenURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		Logger:       log,
	})
	apiClient := xapi.NewClient(tokens, xapi.ClientOptions{
		BaseURL: cfg.XAPIBaseURL,
		Logger:  log,
	})

	tracker := budget.NewTracker(kv, nil)
	selector := budget.NewSelector(db, tracker)
	factory := func(p types.ProviderConfig) (llm.Client, error) {
		apiKey := ""
		if p.EncryptedCredential != "" {
			apiKey, err = box.Open(p.EncryptedCredential)
			if err != nil {
				return nil, fmt.Errorf("credential for %s: %w", p.Name, err)
			}
		}
		return llm.NewHTTPClient(p.BaseURL, apiKey, nil), nil
	}
	summarizer := normalize.NewSummarizer(selector, tracker, factory, prompts.NewCache(0, nil), nil, log)

	engine := syncer.NewEngine(syncer.EngineOptions{
		API:        apiClient,
		Tokens:     tokens,
		Bookmarks:  db,
		Summaries:  db,
		Digests:    db,
		Normalizer: summarizer,
		PageSize:   cfg.PageSize,
		Logger:     log,
	})
	runner := jobs.NewRunner(jobs.RunnerOptions{
		Pipeline:     engine,
		Runs:         db,
		KV:           kv,
		SyncInterval: cfg.SyncInterval,
		Retention:    cfg.JobRetention,
		Logger:       log,
	})

	return &app{
		cfg:        cfg,
		log:        log,
		db:         db,
		kv:         kv,
		box:        box,
		summarizer: summarizer,
		runner:     runner,
	}, nil
}

func (a *app) server() *server.Server {
	return server.New(server.Options{
		Port:      a.cfg.Port,
		Jobs:      a.runner,
		Vocab:     a.summarizer,
		Providers: a.db,
		Digests:   a.db,
		Box:       a.box,
		JWT:       server.NewJWTService(a.cfg.JWTSecret, 24, nil),
		Logger:    a.log,
	})
}

func (a *app) close() {
	a.db.Close()
	if err := a.kv.Close(); err != nil {
		a.log.Warn("failed to close redis connection", zap.Error(err))
	}
	_ = a.log.Sync()
}

// printJSON renders a result envelope for CLI consumption.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
