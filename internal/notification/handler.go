package notification

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"campus-chat/internal/httpx"
	"campus-chat/internal/models"
)

type Handler struct {
	svc *Dispatcher
}

func NewHandler(svc *Dispatcher) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/unread-count", h.UnreadCount)
	r.Post("/read-all", h.MarkAllRead)
	r.Post("/broadcast", h.Broadcast)
	r.Post("/{id}/read", h.MarkRead)
	r.Delete("/{id}", h.Delete)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	page, size := httpx.Page(r, models.DefaultPageSize)
	ns, err := h.svc.List(r.Context(), actor, page, size)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ns)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
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
	n, err := h.svc.MarkRead(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	n, err := h.svc.MarkAllRead(r.Context(), actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type broadcastRequest struct {
	Role string `json:"role"`
	Request
}

func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req broadcastRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	if req.Role == "" {
		req.Role = "STUDENT"
	}
	n, err := h.svc.NotifyAllOfRole(r.Context(), actor, req.Role, req.Request)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int{"recipients": n})
}
