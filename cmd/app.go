package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"

	"github.com/creastat/craftbot/assets"
	"github.com/creastat/craftbot/cleanup"
	"github.com/creastat/craftbot/config"
	"github.com/creastat/craftbot/crafts"
	"github.com/creastat/craftbot/engine"
	"github.com/creastat/craftbot/generator"
	"github.com/creastat/craftbot/session"
	"github.com/creastat/craftbot/session/drivers"
	"github.com/creastat/craftbot/supabase"
	"github.com/creastat/craftbot/vectorstore/qdrant"
)

// app holds the components built from a configuration. Every command needs
// the store, the asset store and the lifecycle; only serve builds the engine.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     session.Store
	assets    assets.Store
	local     *assets.LocalStore // nil unless assets.driver is local
	lifecycle *session.Lifecycle
	supabase  *supabase.Client
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if err := a.openAssets(); err != nil {
		a.Close()
		return nil, err
	}

	a.lifecycle = session.NewLifecycle(store,
		session.WithIdleWindow(cfg.Session.IdleWindow),
		session.WithAssetReclaimer(a.assets),
		session.WithLogger(logger),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (session.Store, error) {
	sc := a.cfg.Store
	switch drivers.StoreType(sc.Driver) {
	case drivers.StoreTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", sc.Redis.Addr, err)
		}
		return drivers.NewStore(drivers.StoreTypeRedis,
			drivers.WithRedisClient(client),
			drivers.WithRedisTTL(sc.Redis.TTL),
			drivers.WithRedisKeyPrefix(sc.Redis.KeyPrefix),
		)

	case drivers.StoreTypeSQLite:
		return drivers.NewStore(drivers.StoreTypeSQLite, drivers.WithSQLitePath(sc.SQLitePath))

	case drivers.StoreTypeSupabase:
		client, err := a.supabaseClient()
		if err != nil {
			return nil, err
		}
		return drivers.NewStore(drivers.StoreTypeSupabase, drivers.WithSupabaseClient(client))

	default:
		return drivers.NewStore(drivers.StoreType(sc.Driver))
	}
}

func (a *app) openAssets() error {
	ac := a.cfg.Assets
	switch ac.Driver {
	case "supabase":
		client, err := a.supabaseClient()
		if err != nil {
			return err
		}
		a.assets = assets.NewSupabaseStore(client)
	default:
		local, err := assets.NewLocalStore(ac.Root, ac.PublicPrefix)
		if err != nil {
			return err
		}
		a.local = local
		a.assets = local
	}
	return nil
}

// supabaseClient returns the client shared by the supabase store and asset drivers.
func (a *app) supabaseClient() (*supabase.Client, error) {
	if a.supabase != nil {
		return a.supabase, nil
	}
	sc := a.cfg.Supabase
	client, err := supabase.New(supabase.Config{
		URL:           sc.URL,
		APIKey:        sc.APIKey,
		SessionsTable: sc.SessionsTable,
		AssetsBucket:  sc.Bucket,
	})
	if err != nil {
		return nil, err
	}
	a.supabase = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// newEngine builds the generators and the engine.
func (a *app) newEngine() (*engine.Engine, error) {
	oc := a.cfg.OpenAI
	if oc.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	clientCfg := openai.DefaultConfig(oc.APIKey)
	if oc.BaseURL != "" {
		clientCfg.BaseURL = oc.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	completer := generator.NewOpenAICompleter(client, oc.ChatModel)
	service := generator.NewService(completer, oc.Timeout, a.logger)

	opts := []engine.Option{
		engine.WithImageGenerator(a.newImageGenerator(client)),
		engine.WithAssetStore(a.assets),
		engine.WithMemoryWindow(a.cfg.Session.MemoryWindow),
		engine.WithTokenBudget(a.cfg.Session.MemoryTokenBudget),
		engine.WithMaxMessages(a.cfg.Session.MaxMessages),
		engine.WithMaxPromptLength(a.cfg.Image.MaxPromptLength),
		engine.WithLogger(a.logger),
	}

	var relevance crafts.RelevanceChecker = crafts.NewLLMRelevance(completer)
	if qc := a.cfg.Qdrant; qc.URL != "" {
		vectors, err := qdrant.New(qdrant.Config{
			URL:            qc.URL,
			CollectionName: qc.Collection,
			APIKey:         qc.APIKey,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, vectors.Close)

		embedder := crafts.NewOpenAIEmbedder(client, oc.EmbeddingModel)
		relevance = crafts.AnyRelevance{
			crafts.NewVectorRelevance(embedder, vectors, qc.MinScore),
			relevance,
		}
		opts = append(opts, engine.WithTutorials(
			crafts.NewTutorialIndex(embedder, vectors, qc.LinksPerIdea, qc.MinScore),
		))
	}
	opts = append(opts, engine.WithRelevance(relevance))

	return engine.New(a.lifecycle, service, opts...), nil
}

func (a *app) newImageGenerator(client *openai.Client) generator.ImageGenerator {
	ic := a.cfg.Image
	if ic.Provider == "http" {
		return generator.NewHTTPImageGenerator(ic.Endpoint, ic.APIKey,
			generator.WithImageTimeout(ic.Timeout),
			generator.WithMaxPromptLength(ic.MaxPromptLength),
		)
	}
	return generator.NewOpenAIImageGenerator(client, ic.Model, ic.Timeout)
}

func (a *app) newWorker() *cleanup.Worker {
	return cleanup.NewWorker(a.lifecycle,
		cleanup.WithInterval(a.cfg.Cleanup.Interval),
		cleanup.WithBatchSize(a.cfg.Cleanup.BatchSize),
		cleanup.WithLogger(a.logger),
	)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", slog.Any("error", err))
		}
	}
	a.closers = nil
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
