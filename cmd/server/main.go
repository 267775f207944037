package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"functionctl/internal/api"
	"functionctl/internal/apperr"
	"functionctl/internal/cache"
	"functionctl/internal/catalog"
	"functionctl/internal/config"
	"functionctl/internal/dispatch"
	"functionctl/internal/monitor"
	"functionctl/internal/registry"
	"functionctl/internal/runtimeclient"
	"functionctl/internal/session"
	"functionctl/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error
	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()
	tracer := monitor.NewTracer()

	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, sessions and catalog will not persist")
		} else {
			defer db.Close()
		}
	}

	var mirror cache.Mirror
	var redisMirror *cache.RedisMirror
	if cfg.Cache.RedisURL != "" {
		redisMirror, err = cache.NewRedisMirror(cfg.Cache.RedisURL, "functionctl:artifact:")
		if err != nil {
			log.Warn().Err(err).Msg("redis cache mirror unavailable, continuing without it")
		} else {
			mirror = redisMirror
			defer redisMirror.Close()
		}
	}
	artifactCache := cache.New(cfg.Cache.TTLSeconds, mirror)

	families := registry.DefaultFamilies()
	requiresCompile := registry.RequiresCompile(families)

	runtimeClient := runtimeclient.New(nil, runtimeclient.RetryPolicy{
		MaxRetries:     cfg.Runtime.MaxRetries,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: cfg.Runtime.TimeoutSeconds,
		OuterTimeout:   cfg.Runtime.TimeoutSeconds + cfg.Runtime.FallbackTimeoutSeconds,
	})

	newBuilder := func(languageTitle, scriptContent string, compileOptions json.RawMessage) session.Builder {
		return func(ctx context.Context) ([]byte, error) {
			baseURL, resolveErr := registryLookup(cfg, languageTitle)
			if resolveErr != nil {
				return nil, resolveErr
			}
			return runtimeClient.Compile(ctx, baseURL, scriptContent, compileOptions)
		}
	}

	reg := buildRegistry(cfg, families)
	if cfg.Runtime.SelectionStrategy == registry.Discovery && cfg.Runtime.DiscoveryURL != "" {
		poller := registry.NewPoller(reg, &registry.HTTPDiscoverer{URL: cfg.Runtime.DiscoveryURL}, cfg.Runtime.DiscoveryInterval)
		go poller.Run(ctx)
	}

	var sessionStore session.Store
	if db != nil {
		sessionStore = db
	} else {
		log.Warn().Msg("no database configured; sessions will not survive a restart")
		sessionStore = newEphemeralStore()
	}

	sessionMgr := session.NewManager(sessionStore, session.WrapArtifactCache(artifactCache), requiresCompile, newBuilder, cfg.Session.ExpirySeconds, cfg.Session.MaxScriptSize, cfg.Runtime.WasmCompileTimeoutSecs)

	go func() {
		ticker := time.NewTicker(cfg.Session.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := sessionMgr.ExpireSweep(ctx); err != nil {
					log.Error().Err(err).Msg("session expiry sweep failed")
				} else if n > 0 {
					log.Debug().Int64("expired", n).Msg("session expiry sweep completed")
				}
			}
		}
	}()

	var cat *catalog.Catalog
	if db != nil {
		cat = catalog.New(db.Pool())
	}

	var executionLogger *storage.ExecutionLogger
	if db != nil {
		executionLogger = storage.NewExecutionLogger(db, 10000)
		executionLogger.Start()
		defer executionLogger.Flush(10 * time.Second)
	}

	engine := dispatch.New(sessionMgr, reg, runtimeClient, cat, executionLogger, metrics, tracer)

	server := api.NewServer(cfg, engine, cat, metrics)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Str("selection_strategy", string(cfg.Runtime.SelectionStrategy)).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}

// buildRegistry seeds a Registry from the per-language URLs in config
// (spec.md §6's NODEJS_RUNTIME_URL/PYTHON_RUNTIME_URL/RUST_RUNTIME_URL).
// Entries are keyed by family name (nodejs, python, rust) whatever
// cfg.Runtime.SelectionStrategy is, so under Exact only a language_title
// equal to a family name resolves.
func buildRegistry(cfg *config.Config, families map[string]registry.Family) *registry.Registry {
	seed := make(map[string]*registry.Endpoint, len(families))
	add := func(name, url string) {
		if url == "" {
			return
		}
		f := families[name]
		seed[name] = &registry.Endpoint{Language: name, BaseURL: url, RequiresCompile: f.RequiresCompile, Health: registry.HealthUnknown}
	}
	add("nodejs", cfg.Runtime.NodejsURL)
	add("python", cfg.Runtime.PythonURL)
	add("rust", cfg.Runtime.RustURL)
	return registry.New(cfg.Runtime.SelectionStrategy, seed)
}

// registryLookup resolves a family's base URL for the artifact builder,
// independent of the live Registry snapshot so a compile can run before
// a session's endpoint is otherwise touched. Only the rust family
// requires compilation (registry.DefaultFamilies), so it is the only
// one wired here.
func registryLookup(cfg *config.Config, languageTitle string) (string, error) {
	switch {
	case len(languageTitle) >= 4 && languageTitle[:4] == "rust":
		if cfg.Runtime.RustURL == "" {
			return "", errors.New("rust runtime url not configured")
		}
		return cfg.Runtime.RustURL, nil
	default:
		return "", errors.New("no compile endpoint configured for " + languageTitle)
	}
}

// ephemeralStore is an in-process session.Store fallback for running
// without a configured database, e.g. local development. It satisfies
// session.Store but never survives a restart.
type ephemeralStore struct {
	mu   sync.Mutex
	rows map[string]*session.Session
}

func newEphemeralStore() *ephemeralStore {
	return &ephemeralStore{rows: make(map[string]*session.Session)}
}

func (s *ephemeralStore) Insert(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.rows[sess.RequestID] = &cp
	return nil
}

func (s *ephemeralStore) Get(ctx context.Context, requestID string, now time.Time) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[requestID]
	if !ok || row.IsExpired(now) {
		return nil, apperr.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *ephemeralStore) Touch(ctx context.Context, requestID string, now, newExpiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[requestID]
	if !ok {
		return apperr.ErrNotFound
	}
	row.ExpiresAt = newExpiry
	return nil
}

func (s *ephemeralStore) RecordExecution(ctx context.Context, requestID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[requestID]
	if !ok {
		return apperr.ErrNotFound
	}
	row.ExecutionCount++
	row.LastExecutedAt = &now
	return nil
}

func (s *ephemeralStore) SetCompileResult(ctx context.Context, requestID string, status session.CompileStatus, artifact []byte, compileErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[requestID]
	if !ok {
		return apperr.ErrNotFound
	}
	row.CompileStatus = status
	row.CompiledArtifact = artifact
	row.CompileError = compileErr
	return nil
}

func (s *ephemeralStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.rows {
		if row.ExpiresAt.Before(now) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}
