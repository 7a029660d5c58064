package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/roomchat/internal/middleware"
	"github.com/roomchat/internal/service"
)

type RoomHandler struct {
	rooms       *service.RoomService
	memberships *service.MembershipService
}

func NewRoomHandler(svc *service.Service) *RoomHandler {
	return &RoomHandler{rooms: svc.Rooms, memberships: svc.Memberships}
}

type CreateRoomRequest struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
}

type UpdateRoomRequest struct {
	Name      *string `json:"name"`
	IsPrivate *bool   `json:"is_private"`
}

func (h *RoomHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.rooms.ListAll(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandler) ListJoined(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.rooms.ListJoined(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit, okLimit := queryInt(r, "limit", 20)
	offset, okOffset := queryInt(r, "offset", 0)
	if !okLimit || !okOffset {
		writeServiceError(w, r, service.ErrInvalidRange)
		return
	}
	page, err := h.rooms.Search(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	room, err := h.rooms.CreateRoom(r.Context(), middleware.GetUserID(r.Context()), req.Name, req.IsPrivate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.GetRoom(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	room, err := h.rooms.UpdateRoom(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Name, req.IsPrivate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	status, err := h.memberships.RequestJoin(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.memberships.Leave(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	pending, err := h.memberships.ListPending(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *RoomHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	err := h.memberships.AcceptJoin(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "userId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	err := h.memberships.RejectJoin(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "userId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Membership returns the caller's participation status in the room.
func (h *RoomHandler) Membership(w http.ResponseWriter, r *http.Request) {
	status, err := h.memberships.Status(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}
