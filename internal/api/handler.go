// Package api exposes the memory service over HTTP for the chat UI and
// the vaultctl CLI.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/golem-vault/internal/memory"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	memories *memory.Service
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(memories *memory.Service, logger *zap.Logger) *Handler {
	return &Handler{memories: memories, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/session/unlock", h.unlockSession)
		r.Post("/session/lock", h.lockSession)

		r.Post("/memories", h.createMemory)
		r.Get("/memories/{id}", h.getMemory)
		r.Put("/memories/{id}", h.updateMemory)
		r.Delete("/memories/{id}", h.deleteMemory)
		r.Post("/memories/search", h.searchMemories)

		r.Get("/memories/{id}/permissions", h.listPermissions)
		r.Post("/memories/{id}/permissions", h.grantPermission)
		r.Delete("/memories/{id}/permissions/{agentID}", h.revokePermission)

		r.Get("/stats", h.storageStats)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "golem-vault"})
}

type unlockRequest struct {
	Password string `json:"password"`
}

func (h *Handler) unlockSession(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.memories.Unlock(req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (h *Handler) lockSession(w http.ResponseWriter, r *http.Request) {
	h.memories.Lock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

type createMemoryRequest struct {
	Content      string               `json:"content"`
	Type         memory.Type          `json:"type"`
	Category     string               `json:"category"`
	Tags         []string             `json:"tags"`
	AccessPolicy *memory.AccessPolicy `json:"accessPolicy,omitempty"`
	Encrypted    *bool                `json:"encrypted,omitempty"`
}

func (h *Handler) createMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	encrypted := true
	if req.Encrypted != nil {
		encrypted = *req.Encrypted
	}
	rec, err := h.memories.CreateMemory(r.Context(), req.Content, req.Type, req.Category, req.Tags, req.AccessPolicy, encrypted)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.memories.GetMemory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "memory not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) updateMemory(w http.ResponseWriter, r *http.Request) {
	var updates memory.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	rec, err := h.memories.UpdateMemory(r.Context(), chi.URLParam(r, "id"), updates)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "memory not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) deleteMemory(w http.ResponseWriter, r *http.Request) {
	ok, err := h.memories.DeleteMemory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": ok})
}

func (h *Handler) searchMemories(w http.ResponseWriter, r *http.Request) {
	var q memory.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res, err := h.memories.SearchMemories(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.memories.GetMemoryPermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if perms == nil {
		perms = []memory.Permission{}
	}
	writeJSON(w, http.StatusOK, perms)
}

type grantRequest struct {
	AgentID string          `json:"agentId"`
	Actions []memory.Action `json:"actions"`
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	ok, err := h.memories.GrantPermission(r.Context(), chi.URLParam(r, "id"), req.AgentID, req.Actions)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "memory not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": true})
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	ok, err := h.memories.RevokePermission(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": ok})
}

func (h *Handler) storageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.memories.GetStorageStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeError maps the service error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, memory.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, memory.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, memory.ErrEncryptionUnavailable):
		status = http.StatusPreconditionFailed
	case errors.Is(err, memory.ErrStorageFailure):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
