package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ruochenliao/ai-training-course-sub000/internal/fusion"
	"github.com/ruochenliao/ai-training-course-sub000/internal/ingest"
	"github.com/ruochenliao/ai-training-course-sub000/internal/knowledge"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
	"github.com/ruochenliao/ai-training-course-sub000/pkg/message"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ingest.ErrQueueFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, knowledge.ErrBaseNotFound), errors.Is(err, knowledge.ErrFileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, knowledge.ErrDuplicateFile),
		errors.Is(err, knowledge.ErrNotClaimable),
		errors.Is(err, knowledge.ErrBaseHasFiles):
		status = http.StatusConflict
	case errors.Is(err, memory.ErrEmptyContent):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

type queryRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Limit     int    `json:"limit"`
}

type queryResponse struct {
	Items     []fusion.Item `json:"items"`
	Degraded  []memory.Kind `json:"degraded,omitempty"`
	QueryTime string        `json:"query_time"`
}

// handleQuery serves POST /api/query: one fusion query across every
// store in scope.
func (g *Gateway) handleQuery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Text == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
			return
		}

		scope := fusion.Scope{UserID: req.UserID, SessionID: req.SessionID}
		fc, err := g.config.Fusion.Query(r.Context(), scope, req.Text, req.Limit)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, queryResponse{
			Items:     fc.Items,
			Degraded:  fc.Degraded,
			QueryTime: fc.QueryTime.String(),
		})
	}
}

type contextRequest struct {
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id"`
	Strategy  string            `json:"strategy"` // "system_message" (default) or "user_prefix"
	Messages  []message.Message `json:"messages"`
}

// handleUpdateContext serves POST /api/context: rewrites a message
// sequence to carry fused memory context.
func (g *Gateway) handleUpdateContext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contextRequest
		if !decodeBody(w, r, &req) {
			return
		}

		scope := fusion.Scope{UserID: req.UserID, SessionID: req.SessionID}
		out, err := g.config.Fusion.UpdateContext(r.Context(), scope, req.Messages, fusion.InjectStrategy(req.Strategy))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]message.Message{"messages": out})
	}
}

type addMemoryRequest struct {
	Kind      memory.Kind       `json:"kind"` // conversation, private, or public
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
}

// handleAddMemory serves POST /api/memory: a direct write to one store.
func (g *Gateway) handleAddMemory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addMemoryRequest
		if !decodeBody(w, r, &req) {
			return
		}

		store, err := g.resolveStore(req.Kind, req.UserID, req.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}

		id, err := store.Add(r.Context(), req.Content, req.Metadata)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

type clearMemoryRequest struct {
	Kind      memory.Kind `json:"kind"`
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id"`
	OlderThan string      `json:"older_than"` // Go duration, optional
}

// handleClearMemory serves DELETE /api/memory.
func (g *Gateway) handleClearMemory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clearMemoryRequest
		if !decodeBody(w, r, &req) {
			return
		}

		store, err := g.resolveStore(req.Kind, req.UserID, req.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}

		opts := memory.ClearOptions{SessionID: req.SessionID}
		if req.OlderThan != "" {
			d, err := time.ParseDuration(req.OlderThan)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid older_than: " + err.Error()})
				return
			}
			opts.OlderThan = d
		}

		cleared, err := store.Clear(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
	}
}

func (g *Gateway) resolveStore(kind memory.Kind, userID, sessionID string) (memory.Store, error) {
	switch kind {
	case memory.KindConversation:
		return g.config.Registry.Conversation(userID, sessionID)
	case memory.KindPrivate:
		return g.config.Registry.Private(userID)
	case memory.KindPublic:
		return g.config.Registry.Public()
	default:
		return nil, errors.New("gateway: unknown memory kind " + string(kind))
	}
}

type createBaseRequest struct {
	Name           string          `json:"name"`
	OwnerID        string          `json:"owner_id"`
	Scope          knowledge.Scope `json:"scope"`
	ChunkSize      int             `json:"chunk_size"`
	ChunkOverlap   int             `json:"chunk_overlap"`
	EmbeddingModel string          `json:"embedding_model"`
}

// handleCreateBase serves POST /api/bases.
func (g *Gateway) handleCreateBase() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBaseRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
			return
		}

		base, err := g.config.Files.CreateBase(r.Context(), knowledge.Base{
			Name:           req.Name,
			OwnerID:        req.OwnerID,
			Scope:          req.Scope,
			ChunkSize:      req.ChunkSize,
			ChunkOverlap:   req.ChunkOverlap,
			EmbeddingModel: req.EmbeddingModel,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, base)
	}
}

// handleGetBase serves GET /api/bases/{id}.
func (g *Gateway) handleGetBase() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		base, err := g.config.Files.GetBase(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, base)
	}
}

// handleDeleteBase serves DELETE /api/bases/{id}. The default is a
// soft delete; ?purge=true hard-deletes an emptied base and conflicts
// while file records remain.
func (g *Gateway) handleDeleteBase() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		del := g.config.Files.SoftDeleteBase
		if r.URL.Query().Get("purge") == "true" {
			del = g.config.Files.PurgeBase
		}
		if err := del(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDeleteFile serves DELETE /api/files/{id}.
func (g *Gateway) handleDeleteFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.config.Files.DeleteFile(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleListFiles serves GET /api/bases/{id}/files.
func (g *Gateway) handleListFiles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := g.config.Files.ListFiles(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, files)
	}
}

type createFileRequest struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// handleCreateFile serves POST /api/bases/{id}/files: registers an
// uploaded file as pending. Processing starts via /files/{id}/process.
func (g *Gateway) handleCreateFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createFileRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Path == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "path is required"})
			return
		}

		file, err := g.config.Files.CreateFile(r.Context(), knowledge.File{
			KnowledgeBaseID: chi.URLParam(r, "id"),
			Path:            req.Path,
			Size:            req.Size,
			Hash:            req.Hash,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, file)
	}
}

// handleGetFile serves GET /api/files/{id}: status, chunk count, and
// truncated error message for failed files.
func (g *Gateway) handleGetFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, err := g.config.Files.GetFile(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
	}
}

type processFileRequest struct {
	Priority int  `json:"priority"`
	Sync     bool `json:"sync"`
}

// handleProcessFile serves POST /api/files/{id}/process. The default
// path enqueues for background processing and answers 202; a full
// queue surfaces as 429. Sync mode processes inline.
func (g *Gateway) handleProcessFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processFileRequest
		if r.ContentLength > 0 && !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")

		if req.Sync {
			if err := g.config.Pipeline.ProcessNow(r.Context(), id); err != nil {
				writeError(w, err)
				return
			}
			file, err := g.config.Files.GetFile(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, file)
			return
		}

		if err := g.config.Pipeline.Enqueue(id, req.Priority); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

// handleRetryFile serves POST /api/files/{id}/retry: moves a failed
// file back to pending and re-enqueues it.
func (g *Gateway) handleRetryFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := g.config.Files.RetryFile(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		if err := g.config.Pipeline.Enqueue(id, 0); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}
