package myMiddleware

import (
	"net/http"
	"strings"

	"campus-chat/internal/apperr"
	"campus-chat/internal/httpx"
	"campus-chat/internal/identity"
)

type AuthMiddleware struct {
	resolver identity.Resolver
}

func NewAuthMiddleware(r identity.Resolver) *AuthMiddleware {
	return &AuthMiddleware{resolver: r}
}

// BearerToken reads the Authorization header, falling back to ?token=
// for websocket upgrades where browsers cannot set headers.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			httpx.Error(w, apperr.Authentication("missing authentication token"))
			return
		}

		p, err := am.resolver.Resolve(r.Context(), token)
		if err != nil {
			httpx.Error(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
	})
}
