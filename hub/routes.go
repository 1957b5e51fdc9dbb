package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kleeedolinux/chatsocket/api"
	"github.com/kleeedolinux/chatsocket/store"
)

type ctxKey struct{}

// Routes mounts the chat socket, the public chat endpoints and the admin
// endpoints on a new router.
func (h *Hub) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(h.requestLogger)

	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/ws", h.ServeWS)
		r.Get("/messages", h.handleMessages)
		r.Get("/online", h.handleOnline)
		r.Get("/settings", h.handleSettings)
	})

	r.Route("/api/admin/chat", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/messages", h.handleAdminMessages)
		r.Delete("/messages/{id}", h.handleDeleteMessage)
		r.Post("/broadcast", h.handleBroadcast)
		r.Post("/kick", h.handleKick)
		r.Put("/settings", h.handleUpdateSettings)
	})

	return r
}

func (h *Hub) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("took", time.Since(start)))
	})
}

func (h *Hub) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := ParseToken([]byte(h.cfg.JWTSecret), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}

func (h *Hub) handleMessages(w http.ResponseWriter, r *http.Request) {
	h.writeMessages(w, r, 50, false)
}

func (h *Hub) handleAdminMessages(w http.ResponseWriter, r *http.Request) {
	h.writeMessages(w, r, 20, true)
}

func (h *Hub) writeMessages(w http.ResponseWriter, r *http.Request, defaultSize int, includeAnnouncements bool) {
	page := queryInt(r, "page", 1)
	size := queryInt(r, "page_size", defaultSize)
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = defaultSize
	}

	msgs, total, err := h.Messages(r.Context(), page, size, includeAnnouncements)
	if err != nil {
		h.log.Error("list messages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if !includeAnnouncements {
		for i := range msgs {
			msgs[i] = public(msgs[i])
		}
	}

	writeOK(w, api.MessagePage{List: msgs, Total: total, Page: page, PageSize: size})
}

func (h *Hub) handleOnline(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, h.OnlineInfo())
}

func (h *Hub) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, api.SettingsFor(h.Muted()))
}

func (h *Hub) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req api.ChatSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings")
		return
	}
	if req.MuteAll != "0" && req.MuteAll != "1" {
		writeError(w, http.StatusBadRequest, "chat_mute_all must be 0 or 1")
		return
	}

	h.SetMuted(req.Muted())
	writeOK(w, api.SettingsFor(h.Muted()))
}

func (h *Hub) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	if err := h.DeleteMessage(r.Context(), uint(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		h.log.Error("delete message failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	writeOK(w, nil)
}

func (h *Hub) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req api.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid broadcast")
		return
	}

	msg, err := h.BroadcastSystem(r.Context(), req.Content, req.Priority, req.Target)
	switch {
	case errors.Is(err, ErrEmptyContent), errors.Is(err, ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("broadcast failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to send broadcast")
		return
	}
	h.log.Info("broadcast by admin", zap.String("admin", adminName(r)), zap.Uint("id", msg.ID))
	writeOK(w, msg)
}

func (h *Hub) handleKick(w http.ResponseWriter, r *http.Request) {
	var req api.KickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}

	if !h.Kick(req.ClientID, req.Reason) {
		writeError(w, http.StatusNotFound, "client is not online")
		return
	}
	h.log.Info("kick by admin", zap.String("admin", adminName(r)), zap.String("client_id", req.ClientID))
	writeOK(w, nil)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, "success", data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, message, nil)
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data any) {
	env := struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    any    `json:"data,omitempty"`
	}{Code: status, Message: message, Data: data}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func adminName(r *http.Request) string {
	if claims, ok := r.Context().Value(ctxKey{}).(*Claims); ok {
		return claims.Username
	}
	return ""
}
