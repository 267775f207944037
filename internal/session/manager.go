package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"functionctl/internal/apperr"
)

// Store is the capability interface over the Session Store (C1). Concrete
// implementations (Postgres, in-memory fake) are interchangeable; Manager
// never assumes a particular backend, per the "dynamic dispatch over
// storage backends" re-architecture note in spec.md §9.
type Store interface {
	Insert(ctx context.Context, s *Session) error
	Get(ctx context.Context, requestID string, now time.Time) (*Session, error)
	Touch(ctx context.Context, requestID string, now, newExpiry time.Time) error
	RecordExecution(ctx context.Context, requestID string, now time.Time) error
	SetCompileResult(ctx context.Context, requestID string, status CompileStatus, artifact []byte, compileErr string) error
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Builder produces an artifact for runtimes requiring pre-compilation.
// It is the signature the Artifact Cache's get_or_build accepts.
type Builder func(ctx context.Context) ([]byte, error)

// ArtifactCache is the capability interface over the Artifact Cache (C2),
// kept minimal so Manager depends only on the single operation it needs.
type ArtifactCache interface {
	GetOrBuild(ctx context.Context, key string, build Builder) ([]byte, error)
}

// RequiresCompile reports whether a language family needs a
// pre-invocation artifact build before it can execute (the
// WebAssembly/Rust family, per original_source/controller/src/runtime.rs).
type RequiresCompileFunc func(languageTitle string) bool

// BuilderFactory produces the Builder the Artifact Cache runs for a given
// session's compile request. Dispatch wiring supplies an implementation
// that calls out to the Runtime Client's compile step for the session's
// language family; Manager itself holds no Runtime Client dependency.
type BuilderFactory func(languageTitle, scriptContent string, compileOptions json.RawMessage) Builder

// defaultCompileTimeout is used when a caller passes a non-positive
// compileTimeout, matching spec.md §5's documented "Cache build: 60s"
// suspension-point bound.
const defaultCompileTimeout = 60 * time.Second

// Manager owns Session lifecycle invariants: create, get, record_execution,
// expire_sweep (spec.md §4.5).
type Manager struct {
	store           Store
	cache           ArtifactCache
	requiresCompile RequiresCompileFunc
	newBuilder      BuilderFactory
	defaultTTL      time.Duration
	maxScriptSize   int
	compileTimeout  time.Duration
}

// NewManager constructs a Session Manager. defaultTTL and maxScriptSize
// come from SESSION_EXPIRY_SECONDS and MAX_SCRIPT_SIZE; compileTimeout comes
// from WASM_COMPILE_TIMEOUT_SECONDS (spec.md §6) and bounds every Artifact
// Cache build Manager initiates, background or foreground.
func NewManager(store Store, cache ArtifactCache, requiresCompile RequiresCompileFunc, newBuilder BuilderFactory, defaultTTL time.Duration, maxScriptSize int, compileTimeout time.Duration) *Manager {
	if compileTimeout <= 0 {
		compileTimeout = defaultCompileTimeout
	}
	return &Manager{
		store:           store,
		cache:           cache,
		requiresCompile: requiresCompile,
		newBuilder:      newBuilder,
		defaultTTL:      defaultTTL,
		maxScriptSize:   maxScriptSize,
		compileTimeout:  compileTimeout,
	}
}

// Create assigns request_id, computes script_hash, and writes the new
// session to the Session Store (I1). For runtimes requiring
// pre-compilation it kicks off the Artifact Cache build in the background
// and returns immediately with compile_status=pending; the build's eventual
// outcome is persisted asynchronously via store.SetCompileResult, the way
// the Rust original's create_session defers compilation entirely
// (original_source/controller/src/session.rs).
func (m *Manager) Create(ctx context.Context, languageTitle, userID, scriptContent string, compileOptions, reqContext json.RawMessage) (*Session, error) {
	if len(scriptContent) > m.maxScriptSize {
		return nil, apperr.New(apperr.InvalidRequest, fmt.Sprintf("script_content exceeds max_script_size (%d bytes)", m.maxScriptSize))
	}

	requiresCompile := m.requiresCompile != nil && m.requiresCompile(languageTitle)
	now := time.Now()
	s := New(uuid.NewString(), languageTitle, userID, scriptContent, compileOptions, reqContext, now, m.defaultTTL, requiresCompile)

	if err := m.store.Insert(ctx, s); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, "session store insert failed", err)
	}

	if requiresCompile && m.cache != nil && m.newBuilder != nil {
		key := s.CacheKey()
		build := m.newBuilder(languageTitle, scriptContent, compileOptions)
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.compileTimeout)
		requestID := s.RequestID
		go func() {
			defer cancel()
			artifact, err := m.cache.GetOrBuild(buildCtx, key, build)
			if err != nil {
				if serr := m.store.SetCompileResult(context.WithoutCancel(ctx), requestID, CompileFailed, nil, err.Error()); serr != nil {
					log.Error().Err(serr).Str("component", "session").Msg("failed to persist compile failure")
				}
				return
			}
			if serr := m.store.SetCompileResult(context.WithoutCancel(ctx), requestID, CompileReady, artifact, ""); serr != nil {
				log.Error().Err(serr).Str("component", "session").Msg("failed to persist compile success")
			}
		}()
	}

	return s, nil
}

// EnsureArtifact returns s's compiled artifact, building it through the
// Artifact Cache if it is not already ready. Used by the Dispatch Engine's
// execute path (spec.md §4.7 step 3), where blocking until the build
// resolves (or the compile timeout elapses) is the documented behavior: a
// session created before its background build finished, or whose earlier
// build failed, joins the same single-flight build Create may have already
// started.
func (m *Manager) EnsureArtifact(ctx context.Context, s *Session) ([]byte, error) {
	if s.CompileStatus == CompileReady {
		return s.CompiledArtifact, nil
	}
	if m.cache == nil || m.newBuilder == nil {
		return nil, apperr.New(apperr.CompileFailed, "no artifact builder configured for this runtime")
	}

	ctx, cancel := context.WithTimeout(ctx, m.compileTimeout)
	defer cancel()

	key := s.CacheKey()
	build := m.newBuilder(s.LanguageTitle, s.ScriptContent, s.CompileOptions)
	artifact, err := m.cache.GetOrBuild(ctx, key, build)
	if err != nil {
		s.CompileStatus = CompileFailed
		s.CompileError = err.Error()
		if serr := m.store.SetCompileResult(ctx, s.RequestID, CompileFailed, nil, err.Error()); serr != nil {
			log.Error().Err(serr).Str("component", "session").Msg("failed to persist compile failure")
		}
		return nil, apperr.Wrap(apperr.CompileFailed, "artifact build failed", err)
	}

	s.CompileStatus = CompileReady
	s.CompiledArtifact = artifact
	if serr := m.store.SetCompileResult(ctx, s.RequestID, CompileReady, artifact, ""); serr != nil {
		log.Error().Err(serr).Str("component", "session").Msg("failed to persist compile success")
	}
	return artifact, nil
}

// Get performs a strict I2 read without extending expiry (L2).
func (m *Manager) Get(ctx context.Context, requestID string) (*Session, error) {
	s, err := m.store.Get(ctx, requestID, time.Now())
	if err != nil {
		return nil, apperr.Wrap(apperr.SessionNotFound, "session not found or expired", err)
	}
	return s, nil
}

// RecordExecution bumps last_executed_at and execution_count via a single
// atomic update (P2).
func (m *Manager) RecordExecution(ctx context.Context, requestID string) error {
	if err := m.store.RecordExecution(ctx, requestID, time.Now()); err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, "record_execution failed", err)
	}
	return nil
}

// ExpireSweep runs the periodic background expiry job (L3: idempotent).
func (m *Manager) ExpireSweep(ctx context.Context) (int64, error) {
	n, err := m.store.SweepExpired(ctx, time.Now())
	if err != nil {
		return 0, apperr.Wrap(apperr.UpstreamUnavailable, "expire_sweep failed", err)
	}
	return n, nil
}
