package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"campus-chat/internal/apperr"
	"campus-chat/internal/identity"
)

type errorBody struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error maps err onto its status code and a stable JSON body.
func Error(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	JSON(w, apperr.HTTPStatus(kind), errorBody{Error: kind, Message: apperr.Message(err)})
}

// Decode reads a JSON body into v, reporting malformed input as a validation error.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

// Page reads ?page and ?size. Clamping happens in the services.
func Page(r *http.Request, defaultSize int) (page, size int) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil {
		page = 0
	}
	size, err = strconv.Atoi(q.Get("size"))
	if err != nil {
		size = defaultSize
	}
	return page, size
}

// Actor returns the authenticated principal, writing a 401 when there is none.
func Actor(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		Error(w, apperr.Authentication("missing authentication token"))
	}
	return p, ok
}
