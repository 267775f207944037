// Package catalog implements the Function Catalog (C6): a read-only
// lookup of pre-registered function metadata backed by the same
// Postgres pool as the Session Store, per spec.md §4.6 and
// SPEC_FULL.md §4.6 ("the original's function.rs keeps catalog rows in
// the same database"). No teacher file has a direct analog — the
// sandbox never had pre-registered functions — so this is grounded on
// original_source/controller/src/api.rs's FunctionListResponse/
// FunctionInfo DTO shapes.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Function is the catalog entry of spec.md §3.
type Function struct {
	ID            string    `json:"id"`
	Language      string    `json:"language"`
	Title         string    `json:"title"`
	LanguageTitle string    `json:"language_title"`
	Description   string    `json:"description,omitempty"`
	Schema        string    `json:"schema,omitempty"`
	Examples      string    `json:"examples,omitempty"`
	Version       string    `json:"version"`
	Tags          []string  `json:"tags,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

var ErrNotFound = errors.New("function not found")

// Catalog is the read-only view over the functions/scripts tables.
type Catalog struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool (the same one the Session Store uses).
func New(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// List returns a page of active functions ordered by language_title.
func (c *Catalog) List(ctx context.Context, page, perPage int) (total int, functions []Function, err error) {
	if perPage <= 0 || perPage > 500 {
		perPage = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * perPage

	if err = c.pool.QueryRow(ctx, `SELECT count(*) FROM functions WHERE is_active`).Scan(&total); err != nil {
		return 0, nil, err
	}

	rows, err := c.pool.Query(ctx, `
		SELECT id, language, title, language_title, description, schema, examples,
		       version, tags, is_active, created_at, updated_at
		FROM functions WHERE is_active
		ORDER BY language_title
		LIMIT $1 OFFSET $2
	`, perPage, offset)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var f Function
		if err := rows.Scan(&f.ID, &f.Language, &f.Title, &f.LanguageTitle, &f.Description,
			&f.Schema, &f.Examples, &f.Version, &f.Tags, &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return 0, nil, err
		}
		functions = append(functions, f)
	}
	return total, functions, rows.Err()
}

// Get looks up one function by its unique language_title.
func (c *Catalog) Get(ctx context.Context, languageTitle string) (*Function, error) {
	var f Function
	err := c.pool.QueryRow(ctx, `
		SELECT id, language, title, language_title, description, schema, examples,
		       version, tags, is_active, created_at, updated_at
		FROM functions WHERE language_title = $1 AND is_active
	`, languageTitle).Scan(&f.ID, &f.Language, &f.Title, &f.LanguageTitle, &f.Description,
		&f.Schema, &f.Examples, &f.Version, &f.Tags, &f.IsActive, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// ScriptContent falls back to the catalog's script record when a request
// does not embed script_content directly (spec.md §3, "Script record").
func (c *Catalog) ScriptContent(ctx context.Context, languageTitle string) (string, error) {
	var content string
	err := c.pool.QueryRow(ctx, `
		SELECT s.content FROM scripts s
		JOIN functions f ON f.id = s.function_id
		WHERE f.language_title = $1
	`, languageTitle).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return content, nil
}
