package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/wadjakorntonsri/shortlink/pkg/app"
	"github.com/wadjakorntonsri/shortlink/pkg/config"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
)

var (
	once    sync.Once
	mux     http.Handler
	initErr error
)

// setup runs once per cold start. On Vercel a local SQLite file is
// ephemeral; point DATABASE_URL at Turso or Postgres to keep data.
func setup() {
	cfg, err := config.Load()
	if err != nil {
		initErr = err
		return
	}
	logging.Init(cfg.LogConfig())

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		initErr = err
		return
	}
	mux = a.Handler()
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(setup)
	if initErr != nil {
		logging.Error().Err(initErr).Msg("startup failed")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"error":"service unavailable","code":"STARTUP_FAILED"}`))
		return
	}
	mux.ServeHTTP(w, r)
}
