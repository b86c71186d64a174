package handler

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
)

const (
	sessionCookie  = "auth_token"
	gateCookieName = "gate_pass_"

	audienceAdmin = "admin"
	audienceGate  = "gate"
)

// tokenSigner issues and checks the HS256 tokens behind the admin session
// and the per-code gate passes. The audience keeps one kind from being
// accepted as the other.
type tokenSigner struct {
	secret []byte
	now    func() time.Time
}

func newTokenSigner(secret string) *tokenSigner {
	return &tokenSigner{secret: []byte(secret), now: time.Now}
}

// sign issues a token for subject. id is optional and lands in the jti claim.
func (s *tokenSigner) sign(subject, audience, id string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(ttl)
	claims := &jwt.RegisteredClaims{
		ID:        id,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return token, exp, err
}

// subject returns the token's subject when it is valid for audience.
func (s *tokenSigner) subject(token, audience string) (string, error) {
	claims, err := s.parse(token, audience)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *tokenSigner) parse(token, audience string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// gatePasses hands out code-scoped cookies proving a link's password was
// entered. A pass is bound to the link row and the password hash it was
// issued against, so changing the password or re-creating the code
// invalidates it.
type gatePasses struct {
	signer *tokenSigner
	ttl    time.Duration
	secure bool
}

func gateCookie(code string) string {
	return gateCookieName + code
}

// passVersion fingerprints the secret a pass proved. bcrypt salts every
// hash, so a new password always yields a new version.
func passVersion(link *domain.Link) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(link.ID, 10) + ":" + link.PasswordHash))
	return hex.EncodeToString(sum[:16])
}

func (g *gatePasses) Issue(w http.ResponseWriter, link *domain.Link) error {
	code := link.ShortCode
	token, exp, err := g.signer.sign(code, audienceGate, passVersion(link), g.ttl)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     gateCookie(code),
		Value:    token,
		Path:     "/" + code,
		Expires:  exp,
		MaxAge:   int(g.ttl.Seconds()),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Check returns the pass check for r. It matches a link only when the
// request carries an unexpired pass issued for that link's current
// password.
func (g *gatePasses) Check(r *http.Request) domain.PassCheck {
	return func(link *domain.Link) bool {
		c, err := r.Cookie(gateCookie(link.ShortCode))
		if err != nil {
			return false
		}
		claims, err := g.signer.parse(c.Value, audienceGate)
		if err != nil || claims.Subject != link.ShortCode {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(claims.ID), []byte(passVersion(link))) == 1
	}
}
