package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knova/knova/internal/audit"
	"github.com/knova/knova/internal/authz"
	"github.com/knova/knova/internal/inference"
	"github.com/knova/knova/internal/log"
	"github.com/knova/knova/internal/retrieval"
	"github.com/knova/knova/internal/vector"
)

// defaultHistoryWindow bounds how many prior messages feed into the prompt.
const defaultHistoryWindow = 10

// genericErrorMessage is persisted as the assistant turn when the pipeline
// fails unexpectedly, so the conversation never ends on a dangling user
// message.
const genericErrorMessage = "I apologize, but I encountered an error processing your question. Please try again."

// Searcher is the filtered similarity search capability.
type Searcher interface {
	Search(ctx context.Context, query string, f vector.Filter, topK int, minScore float64) ([]vector.Result, error)
}

// Answerer produces an answer from query, context chunks and history.
// Satisfied by *inference.Client.
type Answerer interface {
	Answer(ctx context.Context, query string, chunks []vector.Result, history []inference.Message) (*inference.Answer, error)
}

// Config tunes retrieval and the prompt window for the orchestrator.
type Config struct {
	MaxDocs       int
	MinSimilarity float64
	HistoryWindow int
}

// Service sequences one conversational turn end to end.
type Service struct {
	resolver *authz.Resolver
	store    TurnStore
	search   Searcher
	answerer Answerer
	recorder audit.Recorder
	logger   log.Logger

	maxDocs       int
	minSimilarity float64
	historyWindow int
}

// NewService wires the orchestrator. A nil recorder disables audit events.
func NewService(resolver *authz.Resolver, store TurnStore, search Searcher, answerer Answerer, recorder audit.Recorder, cfg Config, logger log.Logger) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if cfg.MaxDocs <= 0 {
		cfg.MaxDocs = 5
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.5
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	return &Service{
		resolver:      resolver,
		store:         store,
		search:        search,
		answerer:      answerer,
		recorder:      recorder,
		logger:        logger,
		maxDocs:       cfg.MaxDocs,
		minSimilarity: cfg.MinSimilarity,
		historyWindow: cfg.HistoryWindow,
	}
}

// TurnRequest is one user message in a conversation.
type TurnRequest struct {
	Content string

	// ProjectID narrows retrieval to one project for this turn, overriding
	// the conversation's pinned project.
	ProjectID *int64

	// DocumentIDs restricts retrieval to explicitly attached documents.
	DocumentIDs []int64
}

// TurnResult is the assistant's persisted reply plus retrieval context.
type TurnResult struct {
	Conversation *Conversation
	Message      *Message
	Sources      []vector.Result
}

// Turn executes one conversational turn. The user message is persisted
// before inference runs and remains even when the rest of the pipeline
// fails; in that case a generic error reply is persisted as the answer and
// a failure audit event is emitted.
func (s *Service) Turn(ctx context.Context, principal authz.Principal, conversationID int64, req TurnRequest) (*TurnResult, error) {
	start := time.Now()

	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != principal.ID {
		return nil, ErrConversationNotFound
	}

	projectID := req.ProjectID
	if projectID == nil {
		projectID = conv.ProjectID
	}

	// Authorization failures surface before any write.
	ac, err := s.resolver.Resolve(ctx, principal, projectID)
	if err != nil {
		return nil, fmt.Errorf("resolving authorization context: %w", err)
	}
	filter, err := retrieval.Compile(ac, retrieval.Request{DocumentIDs: req.DocumentIDs})
	if err != nil {
		return nil, err
	}

	// History is read before the new message lands so it holds prior turns
	// only.
	history, err := s.store.History(ctx, conversationID, s.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	userMsg := &Message{
		ConversationID: conversationID,
		Role:           inference.RoleUser,
		Content:        req.Content,
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	result, err := s.answerTurn(ctx, filter, conv, req, history)
	if err != nil {
		return s.failTurn(ctx, principal, conv, start, err)
	}

	s.maybeRetitle(ctx, conv, req.Content)

	s.recorder.Record(ctx, audit.Event{
		PrincipalID:    principal.ID,
		ConversationID: conv.ID,
		Latency:        time.Since(start),
		SourceCount:    len(result.Sources),
		Confidence:     result.Message.Confidence,
		Cached:         result.answer.Cached,
		Degraded:       result.Message.Degraded,
		Success:        true,
	})
	return &TurnResult{Conversation: conv, Message: result.Message, Sources: result.Sources}, nil
}

type turnOutcome struct {
	Message *Message
	Sources []vector.Result
	answer  *inference.Answer
}

// answerTurn runs retrieval and inference and persists the assistant reply.
// The filter was compiled by the caller; everything here operates on
// authorized content only.
func (s *Service) answerTurn(ctx context.Context, filter vector.Filter, conv *Conversation, req TurnRequest, history []Message) (*turnOutcome, error) {
	sources, err := s.search.Search(ctx, req.Content, filter, s.maxDocs, s.minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	answer, err := s.answerer.Answer(ctx, req.Content, sources, toPromptHistory(history))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	msg := &Message{
		ConversationID: conv.ID,
		Role:           inference.RoleAssistant,
		Content:        answer.Text,
		Citations:      answer.Citations,
		Confidence:     answer.Confidence,
		Model:          answer.Model,
		Latency:        answer.Latency,
		Degraded:       answer.Degraded,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting assistant message: %w", err)
	}

	return &turnOutcome{Message: msg, Sources: sources, answer: answer}, nil
}

// failTurn persists the generic error reply and emits a failure event. The
// user message committed earlier stays in place.
func (s *Service) failTurn(ctx context.Context, principal authz.Principal, conv *Conversation, start time.Time, cause error) (*TurnResult, error) {
	s.logger.Error("chat turn failed", "conversation_id", conv.ID, "error", cause)

	errMsg := &Message{
		ConversationID: conv.ID,
		Role:           inference.RoleAssistant,
		Content:        genericErrorMessage,
		Degraded:       true,
	}
	if err := s.store.AppendMessage(ctx, errMsg); err != nil {
		s.logger.Error("persisting error reply failed", "conversation_id", conv.ID, "error", err)
	}

	s.recorder.Record(ctx, audit.Event{
		PrincipalID:    principal.ID,
		ConversationID: conv.ID,
		Latency:        time.Since(start),
		Success:        false,
		Error:          cause.Error(),
	})
	return nil, cause
}

// maybeRetitle replaces the placeholder title after the first user message.
func (s *Service) maybeRetitle(ctx context.Context, conv *Conversation, content string) {
	if !strings.HasPrefix(conv.Title, DefaultTitle) {
		return
	}
	n, err := s.store.UserMessageCount(ctx, conv.ID)
	if err != nil || n != 1 {
		return
	}
	title := autoTitle(content)
	if err := s.store.SetTitle(ctx, conv.ID, title); err != nil {
		s.logger.Warn("updating conversation title failed", "conversation_id", conv.ID, "error", err)
		return
	}
	conv.Title = title
}

// StartConversation creates a conversation for a principal.
func (s *Service) StartConversation(ctx context.Context, principal authz.Principal, projectID *int64, title string) (*Conversation, error) {
	if title == "" {
		title = DefaultTitle
	}
	if projectID != nil {
		ac, err := s.resolver.Resolve(ctx, principal, projectID)
		if err != nil {
			return nil, fmt.Errorf("resolving authorization context: %w", err)
		}
		if !ac.HasProjectAccess(*projectID) && principal.Role != authz.RoleSuperAdmin {
			return nil, retrieval.ErrScopeDenied
		}
	}
	return s.store.CreateConversation(ctx, principal.ID, projectID, title)
}

// Conversations lists the principal's conversations, newest first.
func (s *Service) Conversations(ctx context.Context, principal authz.Principal, limit int) ([]Conversation, error) {
	return s.store.Conversations(ctx, principal.ID, limit)
}

// Messages returns a conversation's messages, oldest first, after verifying
// ownership.
func (s *Service) Messages(ctx context.Context, principal authz.Principal, conversationID int64, limit int) ([]Message, error) {
	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != principal.ID {
		return nil, ErrConversationNotFound
	}
	return s.store.History(ctx, conversationID, limit)
}

// DeleteConversation removes a conversation the principal owns.
func (s *Service) DeleteConversation(ctx context.Context, principal authz.Principal, conversationID int64) error {
	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.UserID != principal.ID && principal.Role != authz.RoleSuperAdmin {
		return ErrConversationNotFound
	}
	return s.store.DeleteConversation(ctx, conversationID)
}

func toPromptHistory(history []Message) []inference.Message {
	var out []inference.Message
	for _, m := range history {
		out = append(out, inference.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
