package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// searchTimeout bounds a single similarity query so a slow index scan cannot
// block a chat turn indefinitely.
const searchTimeout = 10 * time.Second

// columnFor maps filter fields to chunk table columns. Conditions referencing
// anything else are rejected before SQL is built.
var columnFor = map[string]string{
	FieldProjectID:  "project_id",
	FieldUploadedBy: "uploaded_by",
	FieldScope:      "access_scope",
	FieldDocumentID: "document_id",
}

// ErrUnknownField indicates a filter condition referenced a field that is not
// part of the chunk schema.
var ErrUnknownField = errors.New("unknown filter field")

// Store is the PostgreSQL + pgvector chunk store. Safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *slog.Logger
}

// NewStore creates a Store backed by the given pool and embedder.
func NewStore(pool *pgxpool.Pool, embedder Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}
}

// Search embeds the query and runs a filtered top-k cosine similarity search.
// Only chunks matching the filter are scored; results below minScore are
// dropped by the query itself.
func (s *Store) Search(ctx context.Context, query string, f Filter, topK int, minScore float64) ([]Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	embedding, err := s.embedder.Embed(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	where, args, err := buildWhere(f)
	if err != nil {
		return nil, err
	}

	vec := pgvector.NewVector(embedding)
	args = append(args, &vec, minScore, topK)
	n := len(args)

	// Cosine distance: similarity = 1 - (embedding <=> query).
	sql := fmt.Sprintf(`
		SELECT id, document_id, chunk_index, content, token_count,
		       page_number, section_title, filename,
		       project_id, uploaded_by, access_scope,
		       1 - (embedding <=> $%d) AS similarity
		FROM chunks
		%s
		AND 1 - (embedding <=> $%d) >= $%d
		ORDER BY embedding <=> $%d
		LIMIT $%d`, n-2, where, n-2, n-1, n-2, n)

	rows, err := s.pool.Query(queryCtx, sql, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var page *int
		var section, filename *string
		if err := rows.Scan(
			&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Index, &r.Chunk.Content,
			&r.Chunk.TokenCount, &page, &section, &filename,
			&r.Chunk.ProjectID, &r.Chunk.UploadedBy, &r.Chunk.Scope,
			&r.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if page != nil {
			r.Chunk.PageNumber = *page
		}
		if section != nil {
			r.Chunk.SectionTitle = *section
		}
		if filename != nil {
			r.Chunk.Filename = *filename
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}

	s.logger.Debug("filtered search completed",
		"results", len(results), "top_k", topK, "min_score", minScore)
	return results, nil
}

// Upsert embeds and stores chunks. Chunks without an ID get one assigned.
func (s *Store) Upsert(ctx context.Context, chunks []Chunk) error {
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.NewString()
		}
		embedding := chunks[i].Embedding
		if embedding == nil {
			var err error
			embedding, err = s.embedder.Embed(ctx, chunks[i].Content)
			if err != nil {
				return fmt.Errorf("embedding chunk %d of document %d: %w",
					chunks[i].Index, chunks[i].DocumentID, err)
			}
		}

		vec := pgvector.NewVector(embedding)
		_, err := s.pool.Exec(ctx, `
			INSERT INTO chunks (id, document_id, chunk_index, content, token_count,
			                    page_number, section_title, filename,
			                    project_id, uploaded_by, access_scope, embedding)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				token_count = EXCLUDED.token_count,
				embedding = EXCLUDED.embedding`,
			chunks[i].ID, chunks[i].DocumentID, chunks[i].Index, chunks[i].Content,
			chunks[i].TokenCount, chunks[i].PageNumber, chunks[i].SectionTitle,
			chunks[i].Filename, chunks[i].ProjectID, chunks[i].UploadedBy,
			string(chunks[i].Scope), &vec,
		)
		if err != nil {
			return fmt.Errorf("upserting chunk %q: %w", chunks[i].ID, err)
		}
	}

	s.logger.Debug("upserted chunks", "count", len(chunks))
	return nil
}

// DeleteDocument removes all chunks of a document (cascade with document
// deletion).
func (s *Store) DeleteDocument(ctx context.Context, documentID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("deleting chunks of document %d: %w", documentID, err)
	}
	s.logger.Debug("deleted document chunks", "document_id", documentID, "count", tag.RowsAffected())
	return nil
}

// DeleteProject removes all chunks belonging to a project.
func (s *Store) DeleteProject(ctx context.Context, projectID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("deleting chunks of project %d: %w", projectID, err)
	}
	s.logger.Debug("deleted project chunks", "project_id", projectID, "count", tag.RowsAffected())
	return nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// buildWhere renders a Filter into a parameterized WHERE clause. Field names
// pass through a column whitelist; values are always bound parameters, never
// interpolated.
func buildWhere(f Filter) (string, []any, error) {
	var clauses []string
	var args []any

	render := func(c Condition) (string, error) {
		col, ok := columnFor[c.Field]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownField, c.Field)
		}
		if len(c.AnyOf) > 0 {
			args = append(args, c.AnyOf)
			return fmt.Sprintf("%s = ANY($%d)", col, len(args)), nil
		}
		args = append(args, c.Equals)
		return fmt.Sprintf("%s = $%d", col, len(args)), nil
	}

	for _, c := range f.Must {
		clause, err := render(c)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
	}

	if len(f.Should) > 0 {
		var should []string
		for _, c := range f.Should {
			clause, err := render(c)
			if err != nil {
				return "", nil, err
			}
			should = append(should, clause)
		}
		clauses = append(clauses, "("+strings.Join(should, " OR ")+")")
	}

	if len(clauses) == 0 {
		return "WHERE true", args, nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}
