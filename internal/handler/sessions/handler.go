package sessions

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/aaroh/backend/internal/model/practice"
)

// Tracker 提供进行中会话的只读视图。
type Tracker interface {
	Snapshot(sessionID string) (practice.SessionInfo, bool)
	Active() int
}

// Handler 会话查询的HTTP处理器
type Handler struct {
	sessions Tracker
}

// New 创建会话查询处理器
func New(sessions Tracker) *Handler {
	return &Handler{
		sessions: sessions,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/practice/sessions", h.handleActive)
	r.Get("/practice/sessions/{sessionID}", h.handleSnapshot)
}

// handleActive 返回内存中的会话数量
func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]int{"active": h.sessions.Active()})
}

// handleSnapshot 返回单个会话的当前阶段；终态会话已释放，返回 404。
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	info, ok := h.sessions.Snapshot(chi.URLParam(r, "sessionID"))
	if !ok {
		h.respondJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	h.respondJSON(w, http.StatusOK, info)
}

// respondJSON 发送JSON响应
func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
