// Package vector provides the chunk store: filtered top-k similarity search
// over document chunks with denormalized authorization metadata.
//
// Authorization is enforced pre-retrieval: the Filter is part of the query
// itself, so unauthorized chunks never reach similarity ranking. The
// production store runs on PostgreSQL + pgvector; Memory is an in-process
// implementation with identical filter semantics for tests and local
// development.
package vector

import (
	"github.com/knova/knova/internal/authz"
)

// Chunk is the retrieval unit. ProjectID, UploadedBy and Scope are
// denormalized onto every chunk so the retrieval filter evaluates without a
// join back to the document table. Chunks are immutable after ingestion
// except for cascade deletion with their document.
type Chunk struct {
	ID           string // uuid
	DocumentID   int64
	Index        int
	Content      string
	TokenCount   int
	PageNumber   int // 0 = unknown
	SectionTitle string
	Filename     string

	// Authorization metadata.
	ProjectID  int64
	UploadedBy int64
	Scope      authz.Scope

	Embedding []float32
}

// Result is a chunk returned by similarity search.
type Result struct {
	Chunk      Chunk
	Similarity float64
}

// Filter field names. These are the only fields a condition may reference.
const (
	FieldProjectID  = "project_id"
	FieldUploadedBy = "uploaded_by"
	FieldScope      = "access_scope"
	FieldDocumentID = "document_id"
)

// Condition matches one chunk field, either exactly (Equals) or against a
// set (AnyOf). Exactly one of the two is set.
type Condition struct {
	Field  string
	Equals any
	AnyOf  []int64
}

// Filter is a declarative boolean expression over chunk metadata: every Must
// condition is required, and when Should conditions are present at least one
// of them must match. Must narrows by project; Should enumerates admissible
// visibility reasons. The two levels must not be collapsed into a flat
// conjunction.
type Filter struct {
	Must   []Condition
	Should []Condition
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return len(f.Must) == 0 && len(f.Should) == 0
}

// Condition constructors keep field names out of caller code.

// ProjectEquals requires chunk.project_id == id.
func ProjectEquals(id int64) Condition {
	return Condition{Field: FieldProjectID, Equals: id}
}

// ProjectIn requires chunk.project_id to be in ids.
func ProjectIn(ids []int64) Condition {
	return Condition{Field: FieldProjectID, AnyOf: ids}
}

// ScopeEquals requires chunk.access_scope == s.
func ScopeEquals(s authz.Scope) Condition {
	return Condition{Field: FieldScope, Equals: string(s)}
}

// UploaderEquals requires chunk.uploaded_by == id.
func UploaderEquals(id int64) Condition {
	return Condition{Field: FieldUploadedBy, Equals: id}
}

// DocumentIn requires chunk.document_id to be in ids.
func DocumentIn(ids []int64) Condition {
	return Condition{Field: FieldDocumentID, AnyOf: ids}
}

// matches evaluates a single condition against a chunk.
func (c Condition) matches(ch Chunk) bool {
	var field int64
	switch c.Field {
	case FieldProjectID:
		field = ch.ProjectID
	case FieldUploadedBy:
		field = ch.UploadedBy
	case FieldDocumentID:
		field = ch.DocumentID
	case FieldScope:
		s, ok := c.Equals.(string)
		return ok && authz.Scope(s) == ch.Scope
	default:
		return false
	}

	if len(c.AnyOf) > 0 {
		for _, v := range c.AnyOf {
			if v == field {
				return true
			}
		}
		return false
	}
	v, ok := c.Equals.(int64)
	return ok && v == field
}

// Matches evaluates the full filter against a chunk: all Must conditions and,
// if any Should conditions exist, at least one of them.
func (f Filter) Matches(ch Chunk) bool {
	for _, c := range f.Must {
		if !c.matches(ch) {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}
	for _, c := range f.Should {
		if c.matches(ch) {
			return true
		}
	}
	return false
}
