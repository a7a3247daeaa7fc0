package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/insurechat-vn/orchestrator/internal/agent"
	"github.com/insurechat-vn/orchestrator/internal/conversation"
	"github.com/insurechat-vn/orchestrator/internal/documents"
	"github.com/insurechat-vn/orchestrator/internal/pipeline"
	"github.com/insurechat-vn/orchestrator/internal/render"
	"github.com/insurechat-vn/orchestrator/internal/storage"
)

// Handler serves the conversation and document API.
type Handler struct {
	manager *pipeline.Manager
	store   storage.Store
	docs    *documents.Client
	logger  *slog.Logger
}

// NewHandler creates the API handler. store and docs may be nil, in which
// case archived-conversation reads and the document routes are disabled.
func NewHandler(manager *pipeline.Manager, store storage.Store, docs *documents.Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: manager, store: store, docs: docs, logger: logger}
}

// Routes mounts the API under the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/conversations", h.createConversation)
		r.Get("/conversations", h.listConversations)
		r.Get("/conversations/{id}", h.getConversation)
		r.Post("/conversations/{id}/approve", h.approve)
		r.Post("/conversations/{id}/feedback", h.feedback)

		r.Get("/documents", h.listDocuments)
		r.Post("/documents", h.uploadDocument)
	})
}

type createRequest struct {
	Query     string   `json:"query"`
	SourceIDs []string `json:"source_ids,omitempty"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

// conversationResponse is the API projection of one conversation: the
// transcript, the pipeline status, and a rendered view of the furthest
// stage result. Archived conversations carry no status.
type conversationResponse struct {
	ID       string              `json:"id"`
	Title    string              `json:"title"`
	Status   *pipeline.Status    `json:"status,omitempty"`
	Turns    []conversation.Turn `json:"turns"`
	Rendered string              `json:"rendered,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c := h.manager.Create()
	AddLogField(r.Context(), "conversation_id", c.ID)

	if h.store != nil {
		title := conversation.DeriveTitle(req.Query)
		if err := h.store.CreateConversation(r.Context(), c.ID, title); err != nil {
			h.logger.Error("create conversation record", slog.String("error", err.Error()))
		}
	}

	if err := c.Submit(r.Context(), req.Query, req.SourceIDs); err != nil {
		h.writePipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.projection(c))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	c, ok := h.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	AddLogField(r.Context(), "conversation_id", c.ID)

	if err := c.Approve(r.Context()); err != nil {
		h.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.projection(c))
}

func (h *Handler) feedback(w http.ResponseWriter, r *http.Request) {
	c, ok := h.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	AddLogField(r.Context(), "conversation_id", c.ID)

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := c.Feedback(r.Context(), req.Feedback); err != nil {
		h.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.projection(c))
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if c, ok := h.manager.Get(id); ok {
		writeJSON(w, http.StatusOK, h.projection(c))
		return
	}

	// Not live in this process; fall back to the archive.
	if h.store != nil {
		conv, err := h.store.GetConversation(r.Context(), id)
		if err == nil && conv != nil {
			writeJSON(w, http.StatusOK, conversationResponse{
				ID:    conv.ID,
				Title: conv.Title,
				Turns: conv.Turns,
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "conversation not found")
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, []storage.Conversation{})
		return
	}
	convs, err := h.store.ListConversations(r.Context())
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []storage.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	if h.docs == nil {
		writeError(w, http.StatusNotImplemented, "document store is not configured")
		return
	}
	docs, err := h.docs.List(r.Context())
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusBadGateway, "document store is unavailable")
		return
	}
	if docs == nil {
		docs = []documents.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if h.docs == nil {
		writeError(w, http.StatusNotImplemented, "document store is not configured")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := h.docs.ValidateUpload(header.Filename, contentType, header.Size); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.docs.Upload(r.Context(), header.Filename, contentType, header.Size, file)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusBadGateway, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// projection builds the API view of a live controller.
func (h *Handler) projection(c *pipeline.Controller) conversationResponse {
	status := c.Status()
	resp := conversationResponse{
		ID:     c.ID,
		Title:  c.Title,
		Status: &status,
		Turns:  c.Transcript(),
	}
	if resp.Turns == nil {
		resp.Turns = []conversation.Turn{}
	}
	if res, ok := c.LatestResult(); ok {
		resp.Rendered = render.Markdown(res)
	}
	return resp
}

// writePipelineError maps controller errors to HTTP statuses. Stage
// transport failures surface as a dismissible upstream error; validation
// failures never reached the network.
func (h *Handler) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery), errors.Is(err, pipeline.ErrEmptyFeedback):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrNoPendingApproval):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		var stageErr *agent.StageError
		if errors.As(err, &stageErr) {
			writeError(w, http.StatusBadGateway, "Có lỗi xảy ra khi xử lý yêu cầu. Vui lòng thử lại.")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
