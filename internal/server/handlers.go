// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/protocol"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// probeTimeout bounds health and capability calls to the backend.
const probeTimeout = 5 * time.Second

// ============================================================================
// HEALTH AND METRICS
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	models, store, _, _, _, _ := s.deps()
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Checks:  map[string]string{},
	}
	if models != nil {
		if err := models.CheckRunning(ctx); err != nil {
			resp.Checks["backend"] = err.Error()
			resp.Status = "degraded"
		} else {
			resp.Checks["backend"] = "ok"
		}
	}
	if store != nil {
		if err := store.Ping(ctx); err != nil {
			resp.Checks["store"] = err.Error()
			resp.Status = "degraded"
		} else {
			resp.Checks["store"] = "ok"
		}
	} else {
		resp.Checks["store"] = "disabled"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	_, _, _, _, metrics, _ := s.deps()
	if metrics == nil {
		writeError(w, http.StatusNotFound, protocol.CodeNotFound, "metrics disabled")
		return
	}
	metrics.Handler().ServeHTTP(w, r)
}

// ============================================================================
// CHAT STREAM
// ============================================================================

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.CodeChatError, "chat is not configured")
		return
	}
	s.chat.ServeHTTP(w, r)
}

// ============================================================================
// CHATS
// ============================================================================

// requireStore writes 503 and returns nil when persistence is off.
func (s *Server) requireStore(w http.ResponseWriter) *storage.Store {
	_, store, _, _, _, _ := s.deps()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.CodeChatError, "chat storage is disabled")
	}
	return store
}

// storeError maps a store error onto a response.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrChatNotFound):
		writeError(w, http.StatusNotFound, protocol.CodeNotFound, err.Error())
	case errors.Is(err, storage.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, protocol.CodeNotFound, err.Error())
	case errors.Is(err, storage.ErrChatMismatch):
		writeError(w, http.StatusConflict, protocol.CodeInvalidRequest, err.Error())
	default:
		s.log().Error("store_failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, protocol.CodeChatError, "storage error")
	}
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	store := s.requireStore(w)
	if store == nil {
		return
	}
	limit := storage.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	chats, err := store.ListChats(r.Context(), limit)
	if err != nil {
		s.storeError(w, "list_chats", err)
		return
	}
	if chats == nil {
		chats = []model.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// CreateChatRequest is the body of POST /api/chats. All fields are optional.
type CreateChatRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Model string `json:"model,omitempty"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	store := s.requireStore(w)
	if store == nil {
		return
	}
	var req CreateChatRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	chat := model.NewChat(req.Model)
	if req.ID != "" {
		chat.ID = req.ID
	}
	if t := strings.TrimSpace(req.Title); t != "" {
		chat.Title = model.TitleFromText(t)
	}
	if err := store.CreateChat(r.Context(), chat); err != nil {
		s.storeError(w, "create_chat", err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	store := s.requireStore(w)
	if store == nil {
		return
	}
	chat, err := store.GetChat(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, "get_chat", err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// RenameChatRequest is the body of PATCH /api/chats/{id}.
type RenameChatRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	store := s.requireStore(w)
	if store == nil {
		return
	}
	var req RenameChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "title is required")
		return
	}
	id := mux.Vars(r)["id"]
	if err := store.RenameChat(r.Context(), id, model.TitleFromText(req.Title)); err != nil {
		s.storeError(w, "rename_chat", err)
		return
	}
	chat, err := store.GetChat(r.Context(), id)
	if err != nil {
		s.storeError(w, "get_chat", err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	store := s.requireStore(w)
	if store == nil {
		return
	}
	if err := store.DeleteChat(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.storeError(w, "delete_chat", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportChat(w http.ResponseWriter, r *http.Request) {
	store := s.requireStore(w)
	if store == nil {
		return
	}
	id := mux.Vars(r)["id"]
	chat, err := store.GetChat(r.Context(), id)
	if err != nil {
		s.storeError(w, "get_chat", err)
		return
	}
	msgs, err := store.GetMessages(r.Context(), id)
	if err != nil {
		s.storeError(w, "get_messages", err)
		return
	}
	t := storage.Transcript{Chat: chat, Messages: msgs}

	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(t.ExportMarkdown()))
	case "json":
		data, err := t.ExportJSON()
		if err != nil {
			s.storeError(w, "export_json", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "unknown export format "+strconv.Quote(format))
	}
}

// ============================================================================
// MESSAGES
// ============================================================================

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	store := s.requireStore(w)
	if store == nil {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := store.GetChat(r.Context(), id); err != nil {
		s.storeError(w, "get_chat", err)
		return
	}
	msgs, err := store.GetMessages(r.Context(), id)
	if err != nil {
		s.storeError(w, "get_messages", err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	store := s.requireStore(w)
	if store == nil {
		return
	}
	var msg model.Message
	if !decodeJSON(w, r, &msg) {
		return
	}
	if msg.ID == "" {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "message id is required")
		return
	}
	if !msg.Role.Valid() {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "invalid role "+strconv.Quote(string(msg.Role)))
		return
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.UpdatedAt = time.Now()

	id := mux.Vars(r)["id"]
	if _, err := store.EnsureChat(r.Context(), id, ""); err != nil {
		s.storeError(w, "ensure_chat", err)
		return
	}
	if err := store.UpsertMessage(r.Context(), id, msg); err != nil {
		s.storeError(w, "upsert_message", err)
		return
	}
	msg.ChatID = id
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	store := s.requireStore(w)
	if store == nil {
		return
	}
	from := r.URL.Query().Get("from")
	if from == "" {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "from is required")
		return
	}
	n, err := store.DeleteMessagesFrom(r.Context(), mux.Vars(r)["id"], from)
	if err != nil {
		s.storeError(w, "delete_messages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// ============================================================================
// MODELS, TOOLS, MCP, USAGE
// ============================================================================

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, _, _, _, _, _ := s.deps()
	if models == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.CodeBackendUnavailable, protocol.Message(protocol.CodeBackendUnavailable))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	list, err := models.ListModels(ctx)
	if err != nil {
		s.backendError(w, err)
		return
	}
	if list == nil {
		list = []ollama.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": list})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	models, _, _, _, _, _ := s.deps()
	if models == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.CodeBackendUnavailable, protocol.Message(protocol.CodeBackendUnavailable))
		return
	}
	name := mux.Vars(r)["name"]
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	caps, err := models.Capabilities(ctx, name)
	if err != nil {
		s.backendError(w, err)
		return
	}
	if caps == nil {
		caps = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": name, "capabilities": caps})
}

// backendError maps an Ollama error onto a response.
func (s *Server) backendError(w http.ResponseWriter, err error) {
	switch {
	case ollama.IsNotRunning(err):
		writeError(w, http.StatusServiceUnavailable, protocol.CodeBackendUnavailable, err.Error())
	case ollama.IsModelNotFound(err):
		writeError(w, http.StatusNotFound, protocol.CodeModelNotFound, err.Error())
	case ollama.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, protocol.CodeTimeout, err.Error())
	default:
		s.log().Warn("backend_request_failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, protocol.CodeChatError, err.Error())
	}
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	_, _, provider, _, _, _ := s.deps()
	defs := []ollama.Tool{}
	if provider != nil {
		defs = append(defs, provider.Definitions(r.Context())...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": defs})
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	_, _, _, manager, _, _ := s.deps()
	if manager == nil {
		writeJSON(w, http.StatusOK, map[string]any{"servers": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": manager.Status()})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	_, _, _, _, _, usage := s.deps()
	if usage == nil {
		writeError(w, http.StatusNotFound, protocol.CodeNotFound, "usage tracking disabled")
		return
	}
	writeJSON(w, http.StatusOK, usage.Summary())
}
