package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// SessionCookie carries the raw session token
const SessionCookie = "atm_sess"

type contextKey string

const (
	sessionKey contextKey = "session"
	adminKey   contextKey = "admin"
)

// SessionResolver maps a raw bearer token to a live session
type SessionResolver interface {
	ResolveSession(ctx context.Context, rawToken string) (*models.Session, error)
}

// SessionAuth requires a live session from the cookie or an Authorization bearer header.
func SessionAuth(resolver SessionResolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := resolver.ResolveSession(r.Context(), SessionToken(r))
			switch {
			case err == nil:
			case errors.Is(err, models.ErrSessionExpired):
				RespondWithError(w, http.StatusUnauthorized, "Session expired")
				return
			case errors.Is(err, models.ErrUnauthenticated):
				RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
				return
			case errors.Is(err, models.ErrTransient):
				RespondWithError(w, http.StatusServiceUnavailable, "Temporarily unavailable, retry")
				return
			default:
				RespondWithError(w, http.StatusInternalServerError, "Internal error")
				return
			}
			ctx := context.WithValue(r.Context(), sessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionToken extracts the raw token, preferring the cookie.
func SessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// SessionFromContext returns the session placed by SessionAuth.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*models.Session)
	return s, ok && s != nil
}

// AdminClaims are carried by operator tokens
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth requires an HS256 JWT with role=admin.
func AdminAuth(secret []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				RespondWithError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				RespondWithError(w, http.StatusUnauthorized, "Invalid authorization header format")
				return
			}

			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (any, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			if claims.Role != "admin" {
				RespondWithError(w, http.StatusForbidden, "Admin role required")
				return
			}

			ctx := context.WithValue(r.Context(), adminKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFromContext returns the operator subject placed by AdminAuth.
func AdminFromContext(ctx context.Context) string {
	s, _ := ctx.Value(adminKey).(string)
	return s
}

// ClientOrigin returns the caller address. X-Forwarded-For is only read when the
// peer is a trusted proxy; the hops are walked right to left and the first untrusted one wins.
func ClientOrigin(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !isTrusted(host, trusted) {
		return host
	}
	fwd := r.Header.Values("X-Forwarded-For")
	if len(fwd) == 0 {
		return host
	}
	hops := strings.Split(strings.Join(fwd, ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if _, err := netip.ParseAddr(hop); err != nil {
			// garbage in the chain; stop at the last address we can vouch for
			return host
		}
		if !isTrusted(hop, trusted) {
			return hop
		}
		host = hop
	}
	return host
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
