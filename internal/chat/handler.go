package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"campus-chat/internal/httpx"
	"campus-chat/internal/models"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/send", h.Send)
	r.Get("/history/{peerId}", h.History)
	r.Get("/unread", h.Unread)
	r.Post("/messages/{messageId}/read", h.MarkRead)
	r.Delete("/messages/{messageId}", h.Delete)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	msg, err := h.svc.Send(r.Context(), actor, req)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, msg)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	page, size := httpx.Page(r, models.DefaultPageSize)
	msgs, err := h.svc.History(r.Context(), actor, chi.URLParam(r, "peerId"), page, size)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, msgs)
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	n, err := h.svc.UnreadCount(r.Context(), actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	msg, err := h.svc.MarkRead(r.Context(), actor, chi.URLParam(r, "messageId"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, msg)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), actor, chi.URLParam(r, "messageId")); err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
