package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/knova/knova/internal/audit"
	"github.com/knova/knova/internal/authz"
	"github.com/knova/knova/internal/inference"
	"github.com/knova/knova/internal/log"
	"github.com/knova/knova/internal/retrieval"
	"github.com/knova/knova/internal/testutil"
	"github.com/knova/knova/internal/vector"
)

type staticProjects struct {
	projects []authz.Project
}

func (s staticProjects) ActiveProjects(context.Context) ([]authz.Project, error) {
	return s.projects, nil
}

type fakeSearcher struct {
	results []vector.Result
	err     error

	mu      sync.Mutex
	filters []vector.Filter
}

func (f *fakeSearcher) Search(_ context.Context, _ string, filter vector.Filter, _ int, _ float64) ([]vector.Result, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) last(t *testing.T) audit.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("no audit events recorded")
	}
	return r.events[len(r.events)-1]
}

var alice = authz.Principal{ID: 10, Role: authz.RoleUser, Active: true}

func chunk(docID int64, filename, content string, similarity float64) vector.Result {
	return vector.Result{
		Chunk: vector.Chunk{
			DocumentID: docID,
			Filename:   filename,
			Content:    content,
			ProjectID:  100,
			UploadedBy: 10,
			Scope:      authz.ScopeProject,
		},
		Similarity: similarity,
	}
}

type fixture struct {
	service  *Service
	store    *MemoryStore
	searcher *fakeSearcher
	provider *testutil.MockProvider
	audit    *recordingAudit
}

func newFixture(t *testing.T, breakerThreshold int) *fixture {
	t.Helper()

	resolver := authz.NewResolver(staticProjects{projects: []authz.Project{
		{ID: 100, CreatedBy: 10, Active: true},
	}}, 1, log.NewNop())

	provider := testutil.NewMockProvider("generated answer")
	client := inference.New(provider, inference.Config{
		Model:   "test-model",
		Breaker: inference.CircuitBreakerConfig{FailureThreshold: breakerThreshold, Cooldown: time.Minute},
		Retry:   inference.RetryConfig{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}, log.NewNop())

	store := NewMemoryStore()
	searcher := &fakeSearcher{}
	rec := &recordingAudit{}
	svc := NewService(resolver, store, searcher, client, rec, Config{}, log.NewNop())

	return &fixture{service: svc, store: store, searcher: searcher, provider: provider, audit: rec}
}

func (f *fixture) conversation(t *testing.T, principal authz.Principal) *Conversation {
	t.Helper()
	conv, err := f.service.StartConversation(context.Background(), principal, nil, "")
	if err != nil {
		t.Fatalf("StartConversation() error = %v", err)
	}
	return conv
}

func TestService_Turn_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	f.searcher.results = []vector.Result{
		chunk(1, "handbook.pdf", "Employees receive 25 vacation days.", 0.9),
		chunk(2, "notes.txt", "barely related text", 0.4),
	}
	conv := f.conversation(t, alice)

	res, err := f.service.Turn(context.Background(), alice, conv.ID, TurnRequest{Content: "how many vacation days?"})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}

	if res.Message.Content != "generated answer" {
		t.Errorf("answer = %q", res.Message.Content)
	}
	if res.Message.Degraded {
		t.Error("successful turn marked degraded")
	}
	// Only the 0.9 chunk clears the citation floor.
	if len(res.Message.Citations) != 1 || res.Message.Citations[0].DocumentID != 1 {
		t.Errorf("citations = %+v, want only document 1", res.Message.Citations)
	}
	if len(res.Sources) != 2 {
		t.Errorf("sources = %d, want 2", len(res.Sources))
	}

	// Both turn halves persisted.
	history, _ := f.store.History(context.Background(), conv.ID, 10)
	if len(history) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(history))
	}
	if history[0].Role != inference.RoleUser || history[1].Role != inference.RoleAssistant {
		t.Errorf("message roles = %s, %s", history[0].Role, history[1].Role)
	}

	ev := f.audit.last(t)
	if !ev.Success || ev.PrincipalID != alice.ID || ev.SourceCount != 2 {
		t.Errorf("audit event = %+v", ev)
	}
}

func TestService_Turn_AutoTitle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	conv := f.conversation(t, alice)
	if conv.Title != DefaultTitle {
		t.Fatalf("initial title = %q", conv.Title)
	}

	long := strings.Repeat("x", 80)
	if _, err := f.service.Turn(context.Background(), alice, conv.ID, TurnRequest{Content: long}); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}

	got, _ := f.store.Conversation(context.Background(), conv.ID)
	if got.Title != strings.Repeat("x", 50)+"..." {
		t.Errorf("title = %q, want 50 chars plus ellipsis", got.Title)
	}

	// A second turn leaves the generated title alone.
	if _, err := f.service.Turn(context.Background(), alice, conv.ID, TurnRequest{Content: "second question"}); err != nil {
		t.Fatalf("second Turn() error = %v", err)
	}
	again, _ := f.store.Conversation(context.Background(), conv.ID)
	if again.Title != got.Title {
		t.Errorf("title changed on second turn: %q", again.Title)
	}
}

func TestService_Turn_OtherUsersConversation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	conv := f.conversation(t, alice)

	bob := authz.Principal{ID: 11, Role: authz.RoleUser, Active: true}
	_, err := f.service.Turn(context.Background(), bob, conv.ID, TurnRequest{Content: "hi"})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("Turn() error = %v, want ErrConversationNotFound", err)
	}
}

func TestService_Turn_InaccessibleProjectDeniedBeforeWrite(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	conv := f.conversation(t, alice)

	outside := int64(999)
	_, err := f.service.Turn(context.Background(), alice, conv.ID, TurnRequest{
		Content:   "question",
		ProjectID: &outside,
	})
	if !errors.Is(err, retrieval.ErrScopeDenied) {
		t.Fatalf("Turn() error = %v, want ErrScopeDenied", err)
	}

	// Denial happens before any message lands.
	history, _ := f.store.History(context.Background(), conv.ID, 10)
	if len(history) != 0 {
		t.Errorf("persisted messages = %d, want 0", len(history))
	}
}

func TestService_Turn_SearchFailurePersistsApology(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	f.searcher.err = errors.New("vector store down")
	conv := f.conversation(t, alice)

	_, err := f.service.Turn(context.Background(), alice, conv.ID, TurnRequest{Content: "question"})
	if err == nil {
		t.Fatal("Turn() error = nil, want failure")
	}

	// The user message stays and a generic reply closes the turn.
	history, _ := f.store.History(context.Background(), conv.ID, 10)
	if len(history) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(history))
	}
	if history[0].Content != "question" {
		t.Errorf("user message = %q", history[0].Content)
	}
	if history[1].Content != genericErrorMessage || !history[1].Degraded {
		t.Errorf("error reply = %+v", history[1])
	}

	ev := f.audit.last(t)
	if ev.Success || !strings.Contains(ev.Error, "vector store down") {
		t.Errorf("audit event = %+v", ev)
	}
}

func TestService_Turn_CircuitOpenDegradesWithExcerpts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	f.searcher.results = []vector.Result{
		chunk(1, "handbook.pdf", "Employees receive 25 vacation days.", 0.9),
	}
	conv := f.conversation(t, alice)

	// Trip the breaker with a non-transient provider failure.
	f.provider.QueueError(errors.New("invalid request"))
	res, err := f.service.Turn(context.Background(), alice, conv.ID, TurnRequest{Content: "first"})
	if err != nil {
		t.Fatalf("tripping Turn() error = %v", err)
	}
	if !res.Message.Degraded {
		t.Fatal("turn after provider failure not degraded")
	}

	// Breaker is now open; the next turn degrades without a provider call.
	before := f.provider.Calls()
	res, err = f.service.Turn(context.Background(), alice, conv.ID, TurnRequest{Content: "how many vacation days?"})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if f.provider.Calls() != before {
		t.Error("provider was called while the circuit was open")
	}
	if !res.Message.Degraded {
		t.Error("turn not marked degraded")
	}
	if res.Message.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", res.Message.Confidence)
	}
	if !strings.Contains(res.Message.Content, "Employees receive 25 vacation days") {
		t.Errorf("degraded answer missing excerpt: %q", res.Message.Content)
	}
	if !strings.Contains(res.Message.Content, "handbook.pdf") {
		t.Errorf("degraded answer missing source name: %q", res.Message.Content)
	}

	ev := f.audit.last(t)
	if !ev.Success || !ev.Degraded {
		t.Errorf("audit event = %+v, want successful degraded turn", ev)
	}
}

func TestService_Turn_HistoryWindowFeedsPrompt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	conv := f.conversation(t, alice)

	f.provider.QueueResponse("25 days per year.")
	if _, err := f.service.Turn(context.Background(), alice, conv.ID, TurnRequest{Content: "what is the leave policy?"}); err != nil {
		t.Fatalf("first Turn() error = %v", err)
	}
	if _, err := f.service.Turn(context.Background(), alice, conv.ID, TurnRequest{Content: "does it carry over?"}); err != nil {
		t.Fatalf("second Turn() error = %v", err)
	}

	prompts := f.provider.Prompts()
	if len(prompts) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(prompts))
	}
	if strings.Contains(prompts[0], "25 days per year.") {
		t.Error("first prompt already contains the assistant reply")
	}
	if !strings.Contains(prompts[1], "what is the leave policy?") ||
		!strings.Contains(prompts[1], "25 days per year.") {
		t.Errorf("second prompt missing prior turn: %q", prompts[1])
	}
}

func TestService_StartConversation_ProjectAccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)

	accessible := int64(100)
	if _, err := f.service.StartConversation(context.Background(), alice, &accessible, "planning"); err != nil {
		t.Fatalf("StartConversation(accessible) error = %v", err)
	}

	outside := int64(999)
	_, err := f.service.StartConversation(context.Background(), alice, &outside, "sneaky")
	if !errors.Is(err, retrieval.ErrScopeDenied) {
		t.Fatalf("StartConversation(outside) error = %v, want ErrScopeDenied", err)
	}
}
