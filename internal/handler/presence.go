package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/roomchat/internal/middleware"
	"github.com/roomchat/internal/service"
)

type PresenceHandler struct {
	presence *service.PresenceService
}

func NewPresenceHandler(svc *service.Service) *PresenceHandler {
	return &PresenceHandler{presence: svc.Presence}
}

type TypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (h *PresenceHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	var req TypingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.presence.SetTyping(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.IsTyping); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PresenceHandler) ListTyping(w http.ResponseWriter, r *http.Request) {
	rows, err := h.presence.ListTyping(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *PresenceHandler) ListOnline(w http.ResponseWriter, r *http.Request) {
	ids, err := h.presence.ListOnline(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"user_ids": ids})
}
