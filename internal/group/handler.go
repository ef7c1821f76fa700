package group

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"campus-chat/internal/httpx"
	"campus-chat/internal/models"
)

type Handler struct {
	svc    *Service
	upload http.HandlerFunc
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// WithUpload mounts fn at POST /{groupId}/upload-media.
func (h *Handler) WithUpload(fn http.HandlerFunc) *Handler {
	h.upload = fn
	return h
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Route("/{groupId}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/members", h.AddMember)
		r.Delete("/members/{email}", h.RemoveMember)
		r.Post("/leave", h.Leave)
		r.Post("/admins", h.AddAdmin)
		r.Delete("/admins/{email}", h.RemoveAdmin)
		r.Post("/messages", h.Send)
		r.Get("/messages", h.Messages)
		r.Post("/messages/{messageId}/read", h.MarkRead)
		r.Get("/unread", h.Unread)
		if h.upload != nil {
			r.Post("/upload-media", h.upload)
		}
	})
}

type userRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func (u userRequest) id() string {
	if u.UserID != "" {
		return u.UserID
	}
	return u.Email
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	g, err := h.svc.Create(r.Context(), actor, req)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	gs, err := h.svc.List(r.Context(), actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gs)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	g, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "groupId"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	g, err := h.svc.Update(r.Context(), actor, chi.URLParam(r, "groupId"), req)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), actor, chi.URLParam(r, "groupId")); err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req userRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	g, err := h.svc.AddMember(r.Context(), actor, chi.URLParam(r, "groupId"), req.id())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	g, err := h.svc.RemoveMember(r.Context(), actor, chi.URLParam(r, "groupId"), chi.URLParam(r, "email"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.Leave(r.Context(), actor, chi.URLParam(r, "groupId")); err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req userRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	g, err := h.svc.AddAdmin(r.Context(), actor, chi.URLParam(r, "groupId"), req.id())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	g, err := h.svc.RemoveAdmin(r.Context(), actor, chi.URLParam(r, "groupId"), chi.URLParam(r, "email"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
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
	msg, err := h.svc.Send(r.Context(), actor, chi.URLParam(r, "groupId"), req)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, msg)
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	page, size := httpx.Page(r, models.DefaultPageSize)
	msgs, err := h.svc.Messages(r.Context(), actor, chi.URLParam(r, "groupId"), page, size)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, msgs)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	err := h.svc.MarkRead(r.Context(), actor, chi.URLParam(r, "groupId"), chi.URLParam(r, "messageId"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	n, err := h.svc.UnreadCount(r.Context(), actor, chi.URLParam(r, "groupId"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"count": n})
}
