// Package session defines the Session data model (spec.md §3) and the
// sha256 content-hashing rule (I4) Session Manager and Artifact Cache
// both depend on.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// CompileStatus tracks the artifact build outcome for runtimes that
// require pre-compilation (the WebAssembly/Rust family).
type CompileStatus string

const (
	CompilePending CompileStatus = "pending"
	CompileReady   CompileStatus = "ready"
	CompileFailed  CompileStatus = "failed"
)

// Session is the unit of a user's declared work (spec.md §3). The fields
// from RequestID through Context are set once in New and never rewritten;
// the rest are advanced through Manager methods.
type Session struct {
	RequestID      string          `json:"request_id"`
	LanguageTitle  string          `json:"language_title"`
	UserID         string          `json:"user_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ScriptContent  string          `json:"script_content"`
	ScriptHash     string          `json:"script_hash"`
	CompileOptions json.RawMessage `json:"compile_options,omitempty"`
	Context        json.RawMessage `json:"context,omitempty"`

	// Metadata is an opaque forward-compatible annotation blob, carried
	// over from the original Rust session model's metadata column (not
	// named in spec.md §3 but not interpreted there either).
	Metadata json.RawMessage `json:"metadata,omitempty"`

	ExpiresAt       time.Time     `json:"expires_at"`
	LastExecutedAt  *time.Time    `json:"last_executed_at,omitempty"`
	ExecutionCount  int64         `json:"execution_count"`
	Status          Status        `json:"status"`
	CompileStatus   CompileStatus `json:"compile_status"`
	CompileError    string        `json:"compile_error,omitempty"`
	CompiledArtifact []byte       `json:"compiled_artifact,omitempty"`
}

// HashScript computes the I4 content hash: script_hash = H(script_content).
func HashScript(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// New builds a Session satisfying I1 (expires_at > created_at) and I4.
// requiresCompile marks runtimes needing a pre-invocation artifact build
// (e.g. the WebAssembly/Rust family); such sessions start CompilePending
// instead of CompileReady.
func New(requestID, languageTitle, userID, scriptContent string, compileOptions, context json.RawMessage, now time.Time, ttl time.Duration, requiresCompile bool) *Session {
	s := &Session{
		RequestID:      requestID,
		LanguageTitle:  languageTitle,
		UserID:         userID,
		CreatedAt:      now,
		ScriptContent:  scriptContent,
		ScriptHash:     HashScript(scriptContent),
		CompileOptions: compileOptions,
		Context:        context,
		ExpiresAt:      now.Add(ttl),
		Status:         StatusActive,
		CompileStatus:  CompileReady,
	}
	if requiresCompile {
		s.CompileStatus = CompilePending
	}
	return s
}

// IsExpired reports I2: a session is unusable once its TTL has elapsed or
// it has already been marked expired.
func (s *Session) IsExpired(now time.Time) bool {
	return s.Status == StatusExpired || !now.Before(s.ExpiresAt)
}

// StateView projects the read-only fields returned by the state-query
// operation (spec.md §4.7), without extending expiry.
type StateView struct {
	RequestID      string     `json:"request_id"`
	LanguageTitle  string     `json:"language_title"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ExecutionCount int64      `json:"execution_count"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
	CompileStatus  CompileStatus `json:"compile_status"`
}

// View projects s into its read-only state-query representation.
func (s *Session) View() StateView {
	return StateView{
		RequestID:      s.RequestID,
		LanguageTitle:  s.LanguageTitle,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		ExecutionCount: s.ExecutionCount,
		LastExecutedAt: s.LastExecutedAt,
		CompileStatus:  s.CompileStatus,
	}
}

// CacheKey returns the Artifact Cache key for this session's script,
// resolving the Open Question in spec.md §9 in favor of including
// language_title so two runtimes that interpret identical script text
// differently never collide on the same cache entry.
func (s *Session) CacheKey() string {
	return CacheKey(s.LanguageTitle, s.ScriptHash, s.CompileOptions)
}

// CacheKey builds an Artifact Cache key from its three constituent parts.
func CacheKey(languageTitle, scriptHash string, compileOptions json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(languageTitle))
	h.Write([]byte{0})
	h.Write([]byte(scriptHash))
	h.Write([]byte{0})
	h.Write(compileOptions)
	return hex.EncodeToString(h.Sum(nil))
}
