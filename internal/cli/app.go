package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/civiclens/civiclens/internal/cache"
	"github.com/civiclens/civiclens/internal/engine"
	"github.com/civiclens/civiclens/internal/ingest"
	"github.com/civiclens/civiclens/internal/llm"
	"github.com/civiclens/civiclens/internal/logging"
	"github.com/civiclens/civiclens/internal/model"
	"github.com/civiclens/civiclens/internal/store"
	"github.com/civiclens/civiclens/internal/threads"
	"github.com/civiclens/civiclens/internal/worker"
)

// loadConfig merges defaults, the config file, CIVICLENS_* environment
// variables and flags. Credentials additionally fall back to their
// conventional environment variables.
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.LLM.Provider == "ollama" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if cfg.Threads.AccessToken == "" {
		cfg.Threads.AccessToken = os.Getenv("THREADS_ACCESS_TOKEN")
	}
	if cfg.Threads.UserID == "" {
		cfg.Threads.UserID = os.Getenv("THREADS_USER_ID")
	}

	return cfg, nil
}

// app holds the wired components for one command invocation.
type app struct {
	cfg     *model.Config
	log     zerolog.Logger
	store   *store.SQLiteStore
	limiter *rate.Limiter
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Output)

	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		store:   st,
		limiter: worker.NewLimiter(cfg.RateLimiting),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}

// buildEngine constructs the deduplication engine. Requires a configured
// LLM provider.
func (a *app) buildEngine() (*engine.Engine, error) {
	provider, err := llm.NewProvider(llm.ConfigFromModel(a.cfg.LLM))
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("an LLM provider is required (set llm.provider and its API key)")
	}

	return engine.New(
		a.store,
		engine.RulesFromConfig(a.cfg.Rules),
		llm.NewClusterer(provider, a.log),
		llm.NewClassifier(provider, a.log),
		a.log,
	)
}

// buildSource constructs the Threads fetch client.
func (a *app) buildSource() (*threads.Client, error) {
	opts := threads.Options{Limiter: a.limiter}
	if a.cfg.Cache.Enabled {
		opts.Cache = cache.NewMemoryCache(a.cfg.Cache.TTL, a.cfg.Cache.TTL)
		opts.CacheTTL = a.cfg.Cache.TTL
	}
	return threads.NewClient(a.cfg.Threads, opts, a.log)
}

// buildReplier constructs the reply dispatcher.
func (a *app) buildReplier() (*threads.Replier, error) {
	return threads.NewReplier(a.cfg.Threads, a.cfg.Reply.Template, a.limiter, a.log)
}

// buildCoordinator wires the full ingestion stack. withReplier controls
// whether reply dispatch is available to the run.
func (a *app) buildCoordinator(withReplier bool) (*ingest.Coordinator, error) {
	eng, err := a.buildEngine()
	if err != nil {
		return nil, err
	}
	source, err := a.buildSource()
	if err != nil {
		return nil, err
	}

	var replier ingest.Replier
	if withReplier {
		r, err := a.buildReplier()
		if err != nil {
			return nil, err
		}
		replier = r
	}

	return ingest.New(a.store, source, eng, replier, a.cfg.Concurrency.SyncWorkers, a.log)
}
