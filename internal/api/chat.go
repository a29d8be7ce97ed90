package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/knova/knova/internal/chat"
	"github.com/knova/knova/internal/retrieval"
)

// maxMessageLength bounds a single user message.
const maxMessageLength = 8000

type chatHandler struct {
	service *chat.Service
	logger  *slog.Logger
}

type createConversationRequest struct {
	Title     string `json:"title"`
	ProjectID *int64 `json:"project_id,omitempty"`
}

type conversationResponse struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	ProjectID *int64 `json:"project_id,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type sendMessageRequest struct {
	Content     string  `json:"content"`
	ProjectID   *int64  `json:"project_id,omitempty"`
	DocumentIDs []int64 `json:"document_ids,omitempty"`
}

type citationResponse struct {
	DocumentID   int64   `json:"document_id"`
	Filename     string  `json:"filename,omitempty"`
	PageNumber   int     `json:"page_number,omitempty"`
	SectionTitle string  `json:"section_title,omitempty"`
	Similarity   float64 `json:"similarity"`
}

type messageResponse struct {
	ID         int64              `json:"id"`
	Role       string             `json:"role"`
	Content    string             `json:"content"`
	Citations  []citationResponse `json:"citations,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	Model      string             `json:"model,omitempty"`
	Degraded   bool               `json:"degraded,omitempty"`
	CreatedAt  string             `json:"created_at"`
}

type sendMessageResponse struct {
	Conversation conversationResponse `json:"conversation"`
	Message      messageResponse      `json:"message"`
	SourceCount  int                  `json:"source_count"`
}

func toConversationResponse(c *chat.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		ProjectID: c.ProjectID,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

func toMessageResponse(m *chat.Message) messageResponse {
	resp := messageResponse{
		ID:         m.ID,
		Role:       m.Role,
		Content:    m.Content,
		Confidence: m.Confidence,
		Model:      m.Model,
		Degraded:   m.Degraded,
		CreatedAt:  m.CreatedAt.Format(time.RFC3339),
	}
	for _, c := range m.Citations {
		resp.Citations = append(resp.Citations, citationResponse{
			DocumentID:   c.DocumentID,
			Filename:     c.Filename,
			PageNumber:   c.PageNumber,
			SectionTitle: c.SectionTitle,
			Similarity:   c.Similarity,
		})
	}
	return resp
}

// create handles POST /api/v1/conversations.
func (h *chatHandler) create(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
		return
	}

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	conv, err := h.service.StartConversation(r.Context(), principal, req.ProjectID, req.Title)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

// list handles GET /api/v1/conversations.
func (h *chatHandler) list(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be 1-100")
			return
		}
		limit = n
	}

	conversations, err := h.service.Conversations(r.Context(), principal, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]conversationResponse, 0, len(conversations))
	for i := range conversations {
		out = append(out, toConversationResponse(&conversations[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// messages handles GET /api/v1/conversations/{id}/messages.
func (h *chatHandler) messages(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid conversation id")
		return
	}

	messages, err := h.service.Messages(r.Context(), principal, id, 100)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for i := range messages {
		out = append(out, toMessageResponse(&messages[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// send handles POST /api/v1/conversations/{id}/messages: one chat turn.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid conversation id")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	if len(req.Content) > maxMessageLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "content too long")
		return
	}

	result, err := h.service.Turn(r.Context(), principal, id, chat.TurnRequest{
		Content:     req.Content,
		ProjectID:   req.ProjectID,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{
		Conversation: toConversationResponse(result.Conversation),
		Message:      toMessageResponse(result.Message),
		SourceCount:  len(result.Sources),
	})
}

// remove handles DELETE /api/v1/conversations/{id}.
func (h *chatHandler) remove(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid conversation id")
		return
	}

	if err := h.service.DeleteConversation(r.Context(), principal, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps orchestrator errors onto HTTP statuses.
func (h *chatHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, retrieval.ErrScopeDenied):
		writeError(w, http.StatusForbidden, "forbidden", "no access to this project")
	default:
		h.logger.Error("chat request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
