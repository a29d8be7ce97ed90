// Package ingest attaches authorization metadata to extracted chunk records
// and indexes them. Text extraction and chunking happen upstream; this layer
// only consumes their output.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/knova/knova/internal/authz"
	"github.com/knova/knova/internal/log"
	"github.com/knova/knova/internal/vector"
)

// ErrInvalidScope indicates a document carried an unknown access scope.
var ErrInvalidScope = errors.New("invalid access scope")

// ErrNoChunks indicates the extraction pipeline produced nothing to index.
var ErrNoChunks = errors.New("no chunks to index")

// ChunkRecord is one extracted chunk as delivered by the extraction
// pipeline, before authorization metadata is attached.
type ChunkRecord struct {
	Content      string
	Index        int
	TokenCount   int
	PageNumber   int // 0 = unknown
	SectionTitle string
}

// DocumentMeta identifies the document the chunks belong to and carries the
// authorization metadata denormalized onto every chunk.
type DocumentMeta struct {
	DocumentID int64
	Filename   string
	ProjectID  int64
	UploadedBy int64
	Scope      authz.Scope
}

// Indexer is the chunk storage capability the ingester writes to.
type Indexer interface {
	Upsert(ctx context.Context, chunks []vector.Chunk) error
	DeleteDocument(ctx context.Context, documentID int64) error
	DeleteProject(ctx context.Context, projectID int64) error
}

// Ingester stamps chunk records with document metadata and indexes them.
type Ingester struct {
	index  Indexer
	logger log.Logger
}

// New creates an Ingester writing to index.
func New(index Indexer, logger log.Logger) *Ingester {
	return &Ingester{index: index, logger: logger}
}

// IndexDocument attaches doc's metadata to each record and upserts the
// resulting chunks. Records with empty content are skipped.
func (i *Ingester) IndexDocument(ctx context.Context, doc DocumentMeta, records []ChunkRecord) (int, error) {
	if !doc.Scope.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScope, doc.Scope)
	}

	chunks := make([]vector.Chunk, 0, len(records))
	for _, rec := range records {
		if rec.Content == "" {
			continue
		}
		chunks = append(chunks, vector.Chunk{
			DocumentID:   doc.DocumentID,
			Index:        rec.Index,
			Content:      rec.Content,
			TokenCount:   rec.TokenCount,
			PageNumber:   rec.PageNumber,
			SectionTitle: rec.SectionTitle,
			Filename:     doc.Filename,
			ProjectID:    doc.ProjectID,
			UploadedBy:   doc.UploadedBy,
			Scope:        doc.Scope,
		})
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %d: %w", doc.DocumentID, ErrNoChunks)
	}

	if err := i.index.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("indexing document %d: %w", doc.DocumentID, err)
	}

	i.logger.Info("document indexed",
		"document_id", doc.DocumentID,
		"project_id", doc.ProjectID,
		"scope", string(doc.Scope),
		"chunks", len(chunks),
	)
	return len(chunks), nil
}

// RemoveDocument deletes all indexed chunks of a document.
func (i *Ingester) RemoveDocument(ctx context.Context, documentID int64) error {
	if err := i.index.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("removing document %d: %w", documentID, err)
	}
	i.logger.Info("document removed from index", "document_id", documentID)
	return nil
}

// RemoveProject deletes all indexed chunks belonging to a project, used when
// a project is deleted.
func (i *Ingester) RemoveProject(ctx context.Context, projectID int64) error {
	if err := i.index.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("removing project %d: %w", projectID, err)
	}
	i.logger.Info("project removed from index", "project_id", projectID)
	return nil
}
