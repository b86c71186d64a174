package handler

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/wadjakorntonsri/shortlink/pkg/config"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
)

const (
	stateCookie = "oauthstate"
	userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// AuthHandler signs administrators in with Google and issues the admin
// session cookie accepted by AuthMiddleware.
type AuthHandler struct {
	oauthConfig   *oauth2.Config
	signer        *tokenSigner
	sessionTTL    time.Duration
	frontendURL   string
	allowedEmails []string
	isProduction  bool
	userInfoURL   string
}

type GoogleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	ttl := cfg.Auth.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthHandler{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.Auth.GoogleClientID,
			ClientSecret: cfg.Auth.GoogleClientSecret,
			RedirectURL:  cfg.Auth.GoogleRedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		signer:        newTokenSigner(cfg.Auth.JWTSecret),
		sessionTTL:    ttl,
		frontendURL:   cfg.Auth.FrontendURL,
		allowedEmails: cfg.Auth.AllowedEmails,
		isProduction:  cfg.IsProduction(),
		userInfoURL:   userInfoURL,
	}
}

// Enabled reports whether Google sign-in is configured.
func (h *AuthHandler) Enabled() bool {
	return h.oauthConfig.ClientID != "" && h.oauthConfig.ClientSecret != ""
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.Enabled() {
		writeErrorStatus(w, http.StatusNotFound, "NOT_FOUND", "Google sign-in is not configured")
		return
	}
	state, err := h.generateStateOauthCookie(w)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, h.oauthConfig.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	log := logging.Ctx(r.Context())

	oauthState, err := r.Cookie(stateCookie)
	if err != nil {
		log.Warn().Err(err).Msg("oauth callback without state cookie")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}
	if r.FormValue("state") != oauthState.Value {
		log.Warn().Msg("oauth callback with mismatched state")
		writeErrorStatus(w, http.StatusBadRequest, "INVALID_STATE", "invalid oauth state")
		return
	}

	token, err := h.oauthConfig.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		log.Error().Err(err).Msg("oauth code exchange failed")
		writeErrorStatus(w, http.StatusBadGateway, "OAUTH_EXCHANGE_FAILED", "code exchange failed")
		return
	}

	user, err := h.fetchUser(r, token)
	if err != nil {
		log.Error().Err(err).Msg("failed getting google user info")
		writeErrorStatus(w, http.StatusBadGateway, "OAUTH_USERINFO_FAILED", "failed getting user info")
		return
	}

	if !h.allowed(user.Email) {
		log.Warn().Str("email", user.Email).Msg("sign-in refused, email not in allowlist")
		writeErrorStatus(w, http.StatusForbidden, "FORBIDDEN", "Access denied: your email is not in the allowlist")
		return
	}

	session, exp, err := h.signer.sign(user.Email, audienceAdmin, "", h.sessionTTL)
	if err != nil {
		writeError(w, r, fmt.Errorf("sign session: %w", err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session,
		Expires:  exp,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})

	log.Info().Str("email", user.Email).Msg("admin signed in")
	http.Redirect(w, r, h.frontendURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, strings.TrimRight(h.frontendURL, "/")+"/login", http.StatusTemporaryRedirect)
}

func (h *AuthHandler) fetchUser(r *http.Request, token *oauth2.Token) (*GoogleUser, error) {
	resp, err := h.oauthConfig.Client(r.Context(), token).Get(h.userInfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned %s", resp.Status)
	}

	var user GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if user.Email == "" || !user.VerifiedEmail {
		return nil, fmt.Errorf("google account has no verified email")
	}
	return &user, nil
}

// allowed applies the email allowlist; an empty list admits everyone.
func (h *AuthHandler) allowed(email string) bool {
	if len(h.allowedEmails) == 0 {
		return true
	}
	for _, e := range h.allowedEmails {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}

func (h *AuthHandler) generateStateOauthCookie(w http.ResponseWriter) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Expires:  time.Now().Add(20 * time.Minute),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}
