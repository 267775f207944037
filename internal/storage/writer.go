package storage

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// logExecution inserts one ExecutionRecord.
func (db *DB) logExecution(ctx context.Context, rec *ExecutionRecord) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO executions (
			request_id, language_title, params_payload, response_payload,
			status_code, duration_ms, runtime_metrics, error_details, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.RequestID, rec.LanguageTitle, rec.ParamsPayload, rec.ResponsePayload,
		rec.StatusCode, rec.DurationMS, rec.RuntimeMetrics, rec.ErrorDetails, rec.CreatedAt)
	return err
}

// logError inserts one ErrorRecord.
func (db *DB) logError(ctx context.Context, rec *ErrorRecord) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO errors (
			request_log_id, error_code, error_message, stack_trace, context, created_at
		) VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.RequestLogID, rec.ErrorCode, rec.ErrorMessage, rec.StackTrace, rec.Context, rec.CreatedAt)
	return err
}

// logEntry bundles an ExecutionRecord with its optional ErrorRecord so
// the queue carries one item per terminal outcome.
type logEntry struct {
	exec *ExecutionRecord
	err  *ErrorRecord
}

// recordWriter is the narrow persistence seam ExecutionLogger needs,
// satisfied by *DB; kept as an interface so tests can substitute a fake
// without a live Postgres connection.
type recordWriter interface {
	logExecution(ctx context.Context, rec *ExecutionRecord) error
	logError(ctx context.Context, rec *ErrorRecord) error
}

// ExecutionLogger is the Execution Logger (C8): append-only, best-effort,
// with a bounded retry queue and drop-with-counter on overflow. Directly
// adapted from the teacher's storage.AuditWriter (buffered channel +
// bounded exponential-backoff retry loop + drop-with-log on full
// buffer), generalized from one Execution audit row to the
// Execution-record/Error-record pair spec.md §3 and §4.8 describe.
type ExecutionLogger struct {
	db      recordWriter
	ch      chan logEntry
	wg      sync.WaitGroup
	done    chan struct{}
	dropped atomic.Int64
}

// NewExecutionLogger constructs a logger with the given bounded queue
// size (default 10000, matching the teacher's AuditWriter).
func NewExecutionLogger(db recordWriter, bufferSize int) *ExecutionLogger {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &ExecutionLogger{
		db:   db,
		ch:   make(chan logEntry, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *ExecutionLogger) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log enqueues a terminal outcome. Never blocks and never fails the
// caller — on a full queue the entry is dropped and Dropped() is
// incremented (spec.md §4.8).
func (w *ExecutionLogger) Log(exec *ExecutionRecord, errRec *ErrorRecord) {
	select {
	case w.ch <- logEntry{exec: exec, err: errRec}:
	default:
		w.dropped.Add(1)
		log.Warn().Str("request_id", exec.RequestID).Msg("execution log buffer full, dropping record")
	}
}

// Dropped returns the cumulative count of records dropped due to a full
// queue.
func (w *ExecutionLogger) Dropped() int64 { return w.dropped.Load() }

func (w *ExecutionLogger) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("execution logger flushed")
	case <-time.After(timeout):
		log.Warn().Msg("execution logger flush timed out")
	}
}

func (w *ExecutionLogger) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case e := <-w.ch:
			w.writeWithRetry(e)
		case <-w.done:
			for {
				select {
				case e := <-w.ch:
					w.writeWithRetry(e)
				default:
					return
				}
			}
		}
	}
}

func (w *ExecutionLogger) writeWithRetry(e logEntry) {
	const maxRetries = 3

	write := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.db.logExecution(ctx, e.exec); err != nil {
			return err
		}
		if e.err != nil {
			return w.db.logError(ctx, e.err)
		}
		return nil
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := write()
		if err == nil {
			return
		}
		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().Err(err).Str("request_id", e.exec.RequestID).Int("attempt", attempt+1).Dur("backoff", backoff).
				Msg("execution log write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().Err(err).Str("request_id", e.exec.RequestID).Msg("execution log write failed permanently after retries")
		}
	}
}
