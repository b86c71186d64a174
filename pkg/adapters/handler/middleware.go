package handler

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/wadjakorntonsri/shortlink/pkg/logging"
	"github.com/wadjakorntonsri/shortlink/pkg/metrics"
)

type ctxKey string

const userKey ctxKey = "user"

type Middleware struct {
	signer   *tokenSigner
	apiToken string
}

func NewMiddleware(jwtSecret, apiToken string) *Middleware {
	return &Middleware{
		signer:   newTokenSigner(jwtSecret),
		apiToken: apiToken,
	}
}

// AuthMiddleware admits requests carrying the shared API token in the
// Authorization header (bare or as a Bearer token), or an admin session JWT
// from the auth_token cookie or a Bearer header.
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := m.authenticate(r)
		if !ok {
			writeErrorStatus(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticate(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token := header
	if v, ok := strings.CutPrefix(header, "Bearer "); ok {
		token = strings.TrimSpace(v)
	}

	if token != "" && m.apiToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(m.apiToken)) == 1 {
		return "api-token", true
	}
	if token != "" {
		if email, err := m.signer.subject(token, audienceAdmin); err == nil {
			return email, true
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		if email, err := m.signer.subject(c.Value, audienceAdmin); err == nil {
			return email, true
		}
	}
	return "", false
}

// UserFromContext returns who AuthMiddleware admitted.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}

// RequestID reuses an incoming X-Request-ID or mints one, echoes it on the
// response and attaches it to the logging context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logging.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLog writes one log line and the API metrics per request.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.RecordAPIRequest(r.Method, route, strconv.Itoa(status), elapsed)

		logging.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", elapsed).
			Str("remote_ip", clientIP(r)).
			Msg("request")
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
