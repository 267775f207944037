// Package storage implements the Session Store (C1) and the Execution
// Logger (C8) against a single Postgres pool, adapted from the teacher's
// internal/storage package: storage.New's pgxpool sizing and
// storage.AuditWriter's buffered retry-queue shape, repointed from a
// single audit-log table onto the sessions/executions/errors schema of
// spec.md §3/§6.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"functionctl/internal/session"
)

// DB wraps a pgxpool.Pool, exactly the teacher's storage.DB shape.
type DB struct {
	pool *pgxpool.Pool
}

// errNotFound is returned by Get/Touch/RecordExecution when the target
// row is absent or fails the I2 active/unexpired filter.
var errNotFound = errors.New("session not found")

// New connects to dsn with the teacher's pool sizing (MaxConns=25,
// MinConns=2, MaxConnLifetime=5m, MaxConnIdleTime=1m) and pings once to
// fail fast on a bad DSN.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

func (db *DB) Close() { db.pool.Close() }

// Pool exposes the underlying connection pool so callers needing a second
// read path against the same database (the Function Catalog) don't open a
// competing pool of their own.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

func (db *DB) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.pool.Ping(ctx) == nil
}

// Insert implements session.Store.Insert, idempotent over the
// request_id primary key (spec.md §4.1).
func (db *DB) Insert(ctx context.Context, s *session.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.pool.Exec(ctx, `
		INSERT INTO sessions (
			request_id, language_title, user_id, created_at, expires_at,
			script_content, script_hash, compile_options, context, metadata,
			status, compile_status, execution_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,0)
		ON CONFLICT (request_id) DO NOTHING
	`, s.RequestID, s.LanguageTitle, nullable(s.UserID), s.CreatedAt, s.ExpiresAt,
		s.ScriptContent, s.ScriptHash, s.CompileOptions, s.Context, s.Metadata,
		s.Status, s.CompileStatus)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Get implements session.Store.Get, enforcing I2 by filtering
// expires_at > now and status = 'active'.
func (db *DB) Get(ctx context.Context, requestID string, now time.Time) (*session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := db.pool.QueryRow(ctx, `
		SELECT request_id, language_title, user_id, created_at, expires_at,
		       script_content, script_hash, compile_options, context, metadata,
		       status, compile_status, compile_error, compiled_artifact,
		       execution_count, last_executed_at
		FROM sessions
		WHERE request_id = $1 AND expires_at > $2 AND status = 'active'
	`, requestID, now)

	var s session.Session
	var userID *string
	var compileErr *string
	var lastExecuted *time.Time
	err := row.Scan(&s.RequestID, &s.LanguageTitle, &userID, &s.CreatedAt, &s.ExpiresAt,
		&s.ScriptContent, &s.ScriptHash, &s.CompileOptions, &s.Context, &s.Metadata,
		&s.Status, &s.CompileStatus, &compileErr, &s.CompiledArtifact,
		&s.ExecutionCount, &lastExecuted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errNotFound
		}
		return nil, fmt.Errorf("querying session %s: %w", requestID, err)
	}
	if userID != nil {
		s.UserID = *userID
	}
	if compileErr != nil {
		s.CompileError = *compileErr
	}
	s.LastExecutedAt = lastExecuted
	return &s, nil
}

// Touch extends a session's expiry atomically.
func (db *DB) Touch(ctx context.Context, requestID string, now, newExpiry time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := db.pool.Exec(ctx, `
		UPDATE sessions SET expires_at = $1
		WHERE request_id = $2 AND expires_at > $3 AND status = 'active'
	`, newExpiry, requestID, now)
	if err != nil {
		return fmt.Errorf("touching session %s: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return errNotFound
	}
	return nil
}

// RecordExecution performs the single atomic UPDATE spec.md §4.7/§5
// requires so concurrent executes never lose a counter increment (P2).
func (db *DB) RecordExecution(ctx context.Context, requestID string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := db.pool.Exec(ctx, `
		UPDATE sessions
		SET execution_count = execution_count + 1, last_executed_at = $1
		WHERE request_id = $2 AND expires_at > $1 AND status = 'active'
	`, now, requestID)
	if err != nil {
		return fmt.Errorf("recording execution for %s: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return errNotFound
	}
	return nil
}

// SetCompileResult persists the async outcome of an Artifact Cache build
// kicked off during session.Manager.Create (I5: ready implies non-empty
// compiled_artifact).
func (db *DB) SetCompileResult(ctx context.Context, requestID string, status session.CompileStatus, artifact []byte, compileErr string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := db.pool.Exec(ctx, `
		UPDATE sessions
		SET compile_status = $1, compiled_artifact = $2, compile_error = $3
		WHERE request_id = $4
	`, status, artifact, nullable(compileErr), requestID)
	if err != nil {
		return fmt.Errorf("setting compile result for %s: %w", requestID, err)
	}
	return nil
}

// SweepExpired deletes rows whose expires_at has passed (L3: idempotent —
// a second run with the same now deletes zero rows).
func (db *DB) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	tag, err := db.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
