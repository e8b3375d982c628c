package handler

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"otp-auth-service/internal/service"
	"otp-auth-service/internal/util"
)

type contextKey string

const accountIDKey contextKey = "account_id"

// Authenticator resolves an access token to an account id.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (string, error)
}

// AccountID returns the id stored by RequireAuth.
func AccountID(ctx context.Context) string {
	id, _ := ctx.Value(accountIDKey).(string)
	return id
}

// RequireAuth rejects requests without a valid access token. The token is
// read from the token cookie, then from an Authorization bearer header.
func RequireAuth(auth Authenticator, rs responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(r.Context(), accessTokenFrom(r))
			if err != nil {
				rs.respondWithError(w, r, err, service.MsgInvalidToken)
				return
			}
			ctx := context.WithValue(r.Context(), accountIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(accessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// requireHTTPS rejects plain-text requests unless a trusted proxy
// terminated TLS.
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			w.Write([]byte(`{"success":false,"error":"HTTPS required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("request_id", requestID(r)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// requestMeta collects caller details for the audit trail. RealIP has
// already rewritten RemoteAddr when a proxy header was present.
func requestMeta(r *http.Request) service.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.RequestMeta{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		RequestID: requestID(r),
	}
}
