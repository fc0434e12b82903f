// Package auth resolves the calling user for HTTP and gRPC requests.
//
// With a JWT secret configured, callers present an HS256 session token either
// as "Authorization: Bearer <token>" or in the "session" cookie; the token
// subject is the user id. Without a secret the service runs behind the
// Gateway and trusts the forwarded x-user-id header.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// HeaderUserID is the Gateway-forwarded user header (also gRPC metadata key).
	HeaderUserID = "x-user-id"
	// CookieSession carries the session token for browser clients.
	CookieSession = "session"
)

// ErrUnauthenticated is returned when no valid user can be resolved.
var ErrUnauthenticated = errors.New("unauthenticated")

type ctxKey struct{}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the user stored by Middleware, or "".
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// Authenticator verifies session tokens or trusts forwarded headers.
type Authenticator struct {
	secret []byte
}

// New returns an Authenticator. An empty secret selects Gateway mode.
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// TrustsHeader reports whether the forwarded x-user-id header is accepted.
func (a *Authenticator) TrustsHeader() bool { return len(a.secret) == 0 }

// Verify validates a session token and returns its subject.
func (a *Authenticator) Verify(token string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("%w: token auth is not configured", ErrUnauthenticated)
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return sub, nil
}

// Resolve extracts credentials from a header lookup and returns the user id.
// bearer is the raw Authorization value, forwarded the x-user-id value.
func (a *Authenticator) Resolve(bearer, cookie, forwarded string) (string, error) {
	if a.TrustsHeader() {
		if forwarded = strings.TrimSpace(forwarded); forwarded == "" {
			return "", fmt.Errorf("%w: missing %s header", ErrUnauthenticated, HeaderUserID)
		}
		return forwarded, nil
	}

	token := ""
	if scheme, rest, ok := strings.Cut(strings.TrimSpace(bearer), " "); ok && strings.EqualFold(scheme, "Bearer") {
		token = strings.TrimSpace(rest)
	}
	if token == "" {
		token = cookie
	}
	if token == "" {
		return "", fmt.Errorf("%w: missing session token", ErrUnauthenticated)
	}
	return a.Verify(token)
}

// Middleware rejects requests without a resolvable user and stores the user
// id in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie := ""
		if c, err := r.Cookie(CookieSession); err == nil {
			cookie = c.Value
		}
		userID, err := a.Resolve(r.Header.Get("Authorization"), cookie, r.Header.Get(HeaderUserID))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
