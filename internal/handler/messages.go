package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/roomchat/internal/middleware"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/service"
)

type MessageHandler struct {
	messages *service.MessageService
}

func NewMessageHandler(svc *service.Service) *MessageHandler {
	return &MessageHandler{messages: svc.Messages}
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type OpenDirectRequest struct {
	UserID string `json:"user_id"`
}

func roomRef(r *http.Request) model.ChannelRef   { return model.RoomChannel(chi.URLParam(r, "id")) }
func directRef(r *http.Request) model.ChannelRef { return model.DirectChannel(chi.URLParam(r, "id")) }

// parseCursor reads ?before=<RFC3339Nano>&before_id=<uuid>. No before means the newest page.
func parseCursor(r *http.Request) (*model.Cursor, bool) {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		return nil, true
	}
	before, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, false
	}
	return &model.Cursor{Before: before, BeforeID: r.URL.Query().Get("before_id")}, true
}

func (h *MessageHandler) list(w http.ResponseWriter, r *http.Request, ch model.ChannelRef) {
	cursor, ok := parseCursor(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
		return
	}
	page, err := h.messages.FetchPage(r.Context(), middleware.GetUserID(r.Context()), ch, cursor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *MessageHandler) send(w http.ResponseWriter, r *http.Request, ch model.ChannelRef) {
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := h.messages.Send(r.Context(), middleware.GetUserID(r.Context()), ch, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) markRead(w http.ResponseWriter, r *http.Request, ch model.ChannelRef) {
	n, err := h.messages.MarkRead(r.Context(), middleware.GetUserID(r.Context()), ch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *MessageHandler) ListRoom(w http.ResponseWriter, r *http.Request)     { h.list(w, r, roomRef(r)) }
func (h *MessageHandler) SendRoom(w http.ResponseWriter, r *http.Request)     { h.send(w, r, roomRef(r)) }
func (h *MessageHandler) MarkRoomRead(w http.ResponseWriter, r *http.Request) { h.markRead(w, r, roomRef(r)) }

func (h *MessageHandler) ListDirect(w http.ResponseWriter, r *http.Request) { h.list(w, r, directRef(r)) }
func (h *MessageHandler) SendDirect(w http.ResponseWriter, r *http.Request) { h.send(w, r, directRef(r)) }
func (h *MessageHandler) MarkDirectRead(w http.ResponseWriter, r *http.Request) {
	h.markRead(w, r, directRef(r))
}

func (h *MessageHandler) OpenDirect(w http.ResponseWriter, r *http.Request) {
	var req OpenDirectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	chat, err := h.messages.OpenDirectChat(r.Context(), middleware.GetUserID(r.Context()), req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req EditMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := h.messages.Edit(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
