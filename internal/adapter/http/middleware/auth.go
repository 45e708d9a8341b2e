package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/auth"
	"github.com/iho/churchledger/internal/infrastructure/metrics"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Claims, error)
}

// AuthMiddleware creates an authentication middleware. m may be nil.
func AuthMiddleware(verifier TokenVerifier, m *metrics.Metrics) func(http.Handler) http.Handler {
	reject := func(w http.ResponseWriter, reason, message string) {
		if m != nil {
			m.AuthFailures.WithLabelValues(reason).Inc()
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", message)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				reject(w, "missing_header", "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				reject(w, "malformed_header", "invalid authorization header format")
				return
			}

			claims, err := verifier.Verify(parts[1])
			if err != nil {
				if errors.Is(err, domain.ErrExpiredToken) {
					reject(w, "expired", "token has expired")
					return
				}
				reject(w, "invalid", "invalid token")
				return
			}

			ctx := domain.ContextWithUser(r.Context(), claims.User())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated users whose role is not in roles.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := domain.UserFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			if !allowed[user.Role] {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestInfo records client details used by audit logs and transaction
// metadata.
func RequestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := domain.RequestInfo{
			IPAddress:    remoteIP(r.RemoteAddr),
			UserAgent:    r.UserAgent(),
			ForwardedFor: r.Header.Get("X-Forwarded-For"),
			RequestID:    chimw.GetReqID(r.Context()),
		}
		next.ServeHTTP(w, r.WithContext(domain.ContextWithRequestInfo(r.Context(), info)))
	})
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
