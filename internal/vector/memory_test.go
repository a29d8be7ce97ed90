package vector

import (
	"context"
	"testing"

	"github.com/knova/knova/internal/authz"
	"github.com/knova/knova/internal/testutil"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	return NewMemory(testutil.NewHashEmbedder(16))
}

func seedChunk(id string, docID, projectID, uploadedBy int64, scope authz.Scope, content string) Chunk {
	return Chunk{
		ID:         id,
		DocumentID: docID,
		Content:    content,
		ProjectID:  projectID,
		UploadedBy: uploadedBy,
		Scope:      scope,
	}
}

func TestMemory_SearchRespectsFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemory(t)

	err := mem.Upsert(ctx, []Chunk{
		seedChunk("a", 1, 100, 10, authz.ScopeProject, "vacation policy"),
		seedChunk("b", 2, 200, 20, authz.ScopePersonal, "vacation policy"),
		seedChunk("c", 3, 100, 20, authz.ScopeOrganization, "vacation policy"),
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	filter := Filter{
		Must: []Condition{ProjectIn([]int64{100})},
		Should: []Condition{
			ScopeEquals(authz.ScopeOrganization),
			UploaderEquals(10),
		},
	}
	results, err := mem.Search(ctx, "vacation policy", filter, 10, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	got := make(map[string]bool, len(results))
	for _, r := range results {
		got[r.Chunk.ID] = true
	}
	if len(results) != 2 || !got["a"] || !got["c"] {
		t.Errorf("Search() returned %v, want chunks a and c", got)
	}
}

func TestMemory_SearchIdenticalTextRanksFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemory(t)

	err := mem.Upsert(ctx, []Chunk{
		seedChunk("exact", 1, 0, 0, authz.ScopeOrganization, "remote work policy"),
		seedChunk("other", 2, 0, 0, authz.ScopeOrganization, "completely unrelated text"),
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	results, err := mem.Search(ctx, "remote work policy", Filter{}, 10, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) == 0 || results[0].Chunk.ID != "exact" {
		t.Fatalf("Search() top result = %+v, want chunk exact first", results)
	}
	if results[0].Similarity < 0.999 {
		t.Errorf("identical text similarity = %v, want ~1.0", results[0].Similarity)
	}
}

func TestMemory_SearchAppliesTopKAndMinScore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemory(t)

	chunks := []Chunk{
		seedChunk("q", 1, 0, 0, authz.ScopeOrganization, "expense reports"),
		seedChunk("r", 2, 0, 0, authz.ScopeOrganization, "expense reimbursement"),
		seedChunk("s", 3, 0, 0, authz.ScopeOrganization, "expense approval flow"),
	}
	if err := mem.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	results, err := mem.Search(ctx, "expense reports", Filter{}, 2, -1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Search() topK=2 returned %d results", len(results))
	}

	// An exact-match query with a floor just under 1.0 keeps only the
	// identical chunk.
	results, err = mem.Search(ctx, "expense reports", Filter{}, 10, 0.999)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "q" {
		t.Errorf("Search() minScore=0.999 returned %+v, want only chunk q", results)
	}
}

func TestMemory_UpsertAssignsIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemory(t)

	chunks := []Chunk{seedChunk("", 1, 0, 0, authz.ScopeOrganization, "content")}
	if err := mem.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	n, err := mem.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestMemory_Deletes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemory(t)

	err := mem.Upsert(ctx, []Chunk{
		seedChunk("a", 1, 100, 0, authz.ScopeOrganization, "one"),
		seedChunk("b", 1, 100, 0, authz.ScopeOrganization, "two"),
		seedChunk("c", 2, 100, 0, authz.ScopeOrganization, "three"),
		seedChunk("d", 3, 200, 0, authz.ScopeOrganization, "four"),
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := mem.DeleteDocument(ctx, 1); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if n, _ := mem.Count(ctx); n != 2 {
		t.Errorf("after DeleteDocument Count() = %d, want 2", n)
	}

	if err := mem.DeleteProject(ctx, 100); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if n, _ := mem.Count(ctx); n != 1 {
		t.Errorf("after DeleteProject Count() = %d, want 1", n)
	}
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors similarity = %v, want 1.0", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors similarity = %v, want 0", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("mismatched dimensions similarity = %v, want 0", got)
	}
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("zero vector similarity = %v, want 0", got)
	}
}
