package handler

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
	"github.com/wadjakorntonsri/shortlink/pkg/metrics"
	"github.com/wadjakorntonsri/shortlink/pkg/ports"
	"github.com/wadjakorntonsri/shortlink/pkg/validation"
)

// RedirectHandler serves GET /{code} and the password form behind it.
type RedirectHandler struct {
	gate   ports.AccessGate
	clicks ports.ClickRecorder
	passes *gatePasses
}

func NewRedirectHandler(gate ports.AccessGate, clicks ports.ClickRecorder, passes *gatePasses) *RedirectHandler {
	return &RedirectHandler{gate: gate, clicks: clicks, passes: passes}
}

type challengeResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	ShortCode string `json:"short_code"`
	VerifyURL string `json:"verify_url"`
}

type verifyRequest struct {
	Password string `json:"password"`
}

type unlockedResponse struct {
	Success     bool   `json:"success"`
	OriginalURL string `json:"original_url"`
}

var challengePage = template.Must(template.New("challenge").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Password required</title>
</head>
<body>
<main>
<h1>This link is password protected</h1>
{{if .Failed}}<p role="alert">Incorrect password, please try again.</p>{{end}}
<form method="post" action="{{.Action}}">
<label for="password">Password</label>
<input id="password" name="password" type="password" autocomplete="current-password" required autofocus>
<button type="submit">Continue</button>
</form>
</main>
</body>
</html>
`))

// Redirect Link
func (h *RedirectHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !validation.IsShortCode(code) {
		h.finish(w, r, code, domain.Decision{State: domain.GateNotFound})
		return
	}

	d, err := h.gate.Evaluate(r.Context(), code, h.passes.Check(r))
	if err != nil {
		metrics.RecordRedirect("error")
		writeError(w, r, err)
		return
	}
	h.finish(w, r, code, d)
}

// Verify checks the password posted from the challenge. On success it
// issues the gate pass and redirects like an open link.
func (h *RedirectHandler) Verify(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !validation.IsShortCode(code) {
		h.finish(w, r, code, domain.Decision{State: domain.GateNotFound})
		return
	}

	password, err := readPassword(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	d, err := h.gate.Verify(r.Context(), code, password)
	if err != nil {
		metrics.RecordRedirect("error")
		writeError(w, r, err)
		return
	}

	if d.State == domain.GateOpen && d.Link != nil && d.Link.HasPassword() {
		if err := h.passes.Issue(w, d.Link); err != nil {
			writeError(w, r, err)
			return
		}
		if wantsJSON(r) {
			h.record(r, code)
			metrics.RecordRedirect("unlocked")
			writeJSON(w, http.StatusOK, unlockedResponse{Success: true, OriginalURL: d.Link.OriginalURL})
			return
		}
	}
	h.finish(w, r, code, d)
}

func (h *RedirectHandler) finish(w http.ResponseWriter, r *http.Request, code string, d domain.Decision) {
	switch d.State {
	case domain.GateOpen:
		h.record(r, code)
		metrics.RecordRedirect("redirected")
		http.Redirect(w, r, d.Link.OriginalURL, http.StatusFound)
	case domain.GateLocked:
		metrics.RecordRedirect("locked")
		h.challenge(w, r, code, d.Err != nil)
	case domain.GateExpired:
		metrics.RecordRedirect("expired")
		writeError(w, r, domain.ErrExpired)
	case domain.GateDisabled:
		metrics.RecordRedirect("disabled")
		writeError(w, r, domain.ErrDisabled)
	default:
		metrics.RecordRedirect("not_found")
		writeError(w, r, domain.ErrNotFound)
	}
}

func (h *RedirectHandler) record(r *http.Request, code string) {
	h.clicks.Record(r.Context(), domain.ClickInput{
		ShortCode: code,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	})
}

// challenge answers 401 with the password form, or a JSON body for API
// clients. failed marks a rejected attempt.
func (h *RedirectHandler) challenge(w http.ResponseWriter, r *http.Request, code string, failed bool) {
	action := "/" + code + "/verify"
	if !acceptsHTML(r) {
		res := challengeResponse{
			Error:     "password required",
			Code:      "PASSWORD_REQUIRED",
			ShortCode: code,
			VerifyURL: action,
		}
		if failed {
			res.Error = domain.ErrInvalidPassword.Error()
			res.Code = "INVALID_PASSWORD"
		}
		writeJSON(w, http.StatusUnauthorized, res)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusUnauthorized)
	err := challengePage.Execute(w, struct {
		Action string
		Failed bool
	}{action, failed})
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("failed to render password form")
	}
}

func readPassword(w http.ResponseWriter, r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req verifyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return "", err
		}
		return req.Password, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return "", domain.NewValidationError("password", "invalid form body")
	}
	return r.PostFormValue("password"), nil
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// wantsJSON is true for clients that posted JSON and do not ask for HTML.
func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") && !acceptsHTML(r)
}
