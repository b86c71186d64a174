package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/shortlink/pkg/core/services"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
	"github.com/wadjakorntonsri/shortlink/pkg/ports"
)

// Version is reported by the index and health endpoints. Set at build time
// with -ldflags "-X .../handler.Version=...".
var Version = "dev"

const healthTimeout = 2 * time.Second

type HTTPHandler struct {
	service ports.LinkService
	baseURL string
	now     func() time.Time
}

func NewHTTPHandler(service ports.LinkService, baseURL string) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// linkResponse is a link as the API shows it.
type linkResponse struct {
	*domain.Link
	ShortURL    string `json:"short_url"`
	HasPassword bool   `json:"has_password"`
}

type createResponse struct {
	Success bool `json:"success"`
	linkResponse
}

type listResponse struct {
	Success    bool           `json:"success"`
	Links      []linkResponse `json:"links"`
	Pagination pagination     `json:"pagination"`
}

type pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

type statsResponse struct {
	Success bool `json:"success"`
	linkResponse
	RecentClicks []domain.ClickEvent `json:"recent_clicks"`
	Breakdown    domain.Breakdown    `json:"breakdown"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type clearResponse struct {
	Success bool               `json:"success"`
	Deleted domain.ClearResult `json:"deleted"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Backend   string    `json:"backend"`
	Version   string    `json:"version"`
}

func (h *HTTPHandler) view(l *domain.Link) linkResponse {
	return linkResponse{
		Link:        l,
		ShortURL:    h.baseURL + "/" + l.ShortCode,
		HasPassword: l.HasPassword(),
	}
}

// Create Link
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLinkInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	link, err := h.service.Shorten(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("code", link.ShortCode).Msg("link created")
	writeJSON(w, http.StatusCreated, createResponse{Success: true, linkResponse: h.view(link)})
}

// List Links
func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", services.DefaultPageLimit)

	p, err := h.service.ListLinks(r.Context(), page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	links := make([]linkResponse, 0, len(p.Links))
	for i := range p.Links {
		links = append(links, h.view(&p.Links[i]))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Success: true,
		Links:   links,
		Pagination: pagination{
			Page:  p.Page,
			Limit: p.Limit,
			Total: p.Total,
			Pages: p.Pages,
		},
	})
}

// Get Stats for a Link
func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetLinkStats(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	recent := stats.RecentClicks
	if recent == nil {
		recent = []domain.ClickEvent{}
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Success:      true,
		linkResponse: h.view(stats.Link),
		RecentClicks: recent,
		Breakdown:    stats.Breakdown,
	})
}

// Update Link
func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateLinkInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	link, err := h.service.UpdateLink(r.Context(), chi.URLParam(r, "code"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{Success: true, linkResponse: h.view(link)})
}

// Delete Link
func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.service.DeleteLink(r.Context(), code); err != nil {
		writeError(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("code", code).Msg("link deleted")
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Short link deleted"})
}

func (h *HTTPHandler) Clear(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ClearAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Success: true, Deleted: res})
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	res := healthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC(),
		Database:  "ok",
		Backend:   h.service.Backend(),
		Version:   Version,
	}
	status := http.StatusOK
	if err := h.service.Health(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("health check failed")
		res.Status = "degraded"
		res.Database = "error"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func (h *HTTPHandler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "shortlink",
		"version": Version,
		"endpoints": map[string]string{
			"POST /api/create":          "Create short link",
			"GET /api/list":             "List links (page, limit)",
			"GET /api/stats/{code}":     "Link statistics",
			"PATCH /api/update/{code}":  "Update link",
			"DELETE /api/delete/{code}": "Delete short link",
			"DELETE /api/clear":         "Delete all links and clicks",
			"GET /{code}":               "Redirect to original URL",
			"POST /{code}/verify":       "Unlock a password-protected link",
			"GET /health":               "Health check",
			"GET /metrics":              "Prometheus metrics",
		},
		"authentication": "Authorization header with the API token, or an admin session",
	})
}

// queryInt reads an integer query parameter, falling back to def when it
// is missing or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
