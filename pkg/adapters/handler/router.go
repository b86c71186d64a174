package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wadjakorntonsri/shortlink/pkg/config"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
	"github.com/wadjakorntonsri/shortlink/pkg/ports"
)

// NewRouter creates and configures the main application router
func NewRouter(cfg *config.Config, service ports.LinkService, gate ports.AccessGate, clicks ports.ClickRecorder) http.Handler {
	h := NewHTTPHandler(service, cfg.Server.BaseURL)
	mw := NewMiddleware(cfg.Auth.JWTSecret, cfg.Auth.APIToken)
	authHandler := NewAuthHandler(cfg)
	rh := NewRedirectHandler(gate, clicks, &gatePasses{
		signer: newTokenSigner(cfg.Auth.JWTSecret),
		ttl:    cfg.Gate.PassTTL,
		secure: cfg.IsProduction(),
	})

	if cfg.Auth.APIToken == "" && !authHandler.Enabled() {
		logging.Warn().Msg("no API_TOKEN or Google sign-in configured, the admin API only accepts signed sessions")
	}
	if authHandler.Enabled() && len(cfg.Auth.AllowedEmails) == 0 {
		logging.Warn().Msg("ALLOWED_EMAILS is empty, any Google account can sign in")
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	if cfg.Server.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(AccessLog)
	r.Use(chimiddleware.Recoverer)

	// Public Routes
	r.Get("/", h.Index)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/logout", authHandler.Logout)
	})

	// Protected Routes
	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           86400,
		}))
		r.Use(httprate.Limit(cfg.Server.RateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(rateLimited),
		))
		r.Use(mw.AuthMiddleware)

		r.Post("/create", h.Create)
		r.Get("/list", h.List)
		r.Get("/stats/{code}", h.Stats)
		r.Patch("/update/{code}", h.Update)
		r.Delete("/delete/{code}", h.Delete)
		r.Delete("/clear", h.Clear)
	})

	r.Get("/{code}", rh.Redirect)
	r.With(httprate.Limit(cfg.Gate.VerifyRateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, keyByCode),
		httprate.WithLimitHandler(rateLimited),
	)).Post("/{code}/verify", rh.Verify)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorStatus(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorStatus(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	return r
}

// keyByCode splits the verify budget per link, so guesses against one code
// do not lock a client out of another.
func keyByCode(r *http.Request) (string, error) {
	return chi.URLParam(r, "code"), nil
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "60")
	writeErrorStatus(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
}
