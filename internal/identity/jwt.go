package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campus-chat/internal/apperr"
)

// Claims carries the subject (the user's email) plus display name and roles.
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type JWTResolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (r *JWTResolver) Resolve(_ context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, apperr.Authentication("missing credential")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Principal{}, &apperr.Error{Kind: apperr.KindAuthentication, Message: "invalid or expired credential", Err: err}
	}

	p := Principal{
		SubjectID: claims.Subject,
		Name:      claims.Name,
		Roles:     claims.Roles,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	if !p.Valid(r.now()) {
		return Principal{}, apperr.Authentication("credential does not identify a user")
	}
	return p, nil
}
