package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeWriter struct {
	execCalls  atomic.Int64
	failUntil  int64
	execs      chan *ExecutionRecord
}

func newFakeWriter(failFirstN int64) *fakeWriter {
	return &fakeWriter{failUntil: failFirstN, execs: make(chan *ExecutionRecord, 100)}
}

func (f *fakeWriter) logExecution(ctx context.Context, rec *ExecutionRecord) error {
	n := f.execCalls.Add(1)
	if n <= f.failUntil {
		return errors.New("transient failure")
	}
	f.execs <- rec
	return nil
}

func (f *fakeWriter) logError(ctx context.Context, rec *ErrorRecord) error { return nil }

func TestExecutionLogger_WritesAndFlushes(t *testing.T) {
	fw := newFakeWriter(0)
	w := NewExecutionLogger(fw, 10)
	w.Start()

	w.Log(&ExecutionRecord{RequestID: "r1", CreatedAt: time.Now()}, nil)
	w.Flush(time.Second)

	select {
	case rec := <-fw.execs:
		if rec.RequestID != "r1" {
			t.Errorf("RequestID = %q, want r1", rec.RequestID)
		}
	default:
		t.Fatal("expected the execution record to be written before Flush returned")
	}
}

func TestExecutionLogger_RetriesOnFailure(t *testing.T) {
	fw := newFakeWriter(2) // fail twice, succeed on 3rd attempt
	w := NewExecutionLogger(fw, 10)
	w.Start()

	w.Log(&ExecutionRecord{RequestID: "r2", CreatedAt: time.Now()}, nil)
	w.Flush(2 * time.Second)

	select {
	case rec := <-fw.execs:
		if rec.RequestID != "r2" {
			t.Errorf("RequestID = %q, want r2", rec.RequestID)
		}
	default:
		t.Fatal("expected eventual success after retries")
	}
	if fw.execCalls.Load() != 3 {
		t.Errorf("expected 3 attempts (2 failures + 1 success), got %d", fw.execCalls.Load())
	}
}

func TestExecutionLogger_DropsOnFullQueue(t *testing.T) {
	fw := newFakeWriter(0)
	w := NewExecutionLogger(fw, 1)
	// Do not Start() the processing loop so the channel stays full.
	w.Log(&ExecutionRecord{RequestID: "a"}, nil)
	w.Log(&ExecutionRecord{RequestID: "b"}, nil)
	w.Log(&ExecutionRecord{RequestID: "c"}, nil)

	if w.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", w.Dropped())
	}
}
