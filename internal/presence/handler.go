package presence

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"campus-chat/internal/apperr"
	"campus-chat/internal/httpx"
)

type Handler struct {
	bus *Bus
}

func NewHandler(bus *Bus) *Handler {
	return &Handler{bus: bus}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/online", h.Online)
}

func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	if _, ok := httpx.Actor(w, r); !ok {
		return
	}
	users, err := h.bus.Online(r.Context())
	if err != nil {
		httpx.Error(w, apperr.Internal("list online users", err))
		return
	}
	if users == nil {
		users = []string{}
	}
	sort.Strings(users)
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}
