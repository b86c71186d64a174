package services

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/shortlink/pkg/metrics"
	"github.com/wadjakorntonsri/shortlink/pkg/ports"
)

const (
	charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	DefaultCodeLength   = 6
	DefaultCodeAttempts = 10
)

// strictCharset drops characters that are easy to misread: 0 O l I.
var strictCharset = strings.Map(func(r rune) rune {
	if strings.ContainsRune("0OlI", r) {
		return -1
	}
	return r
}, charset)

// reservedCodes are first path segments the router serves itself.
var reservedCodes = map[string]bool{
	"api":     true,
	"auth":    true,
	"health":  true,
	"metrics": true,
}

// IsReserved reports whether code would be shadowed by a built-in route.
func IsReserved(code string) bool {
	return reservedCodes[code]
}

type GeneratorConfig struct {
	Length   int
	Strict   bool
	Attempts int
}

// Generator draws random short codes and re-rolls on collision.
type Generator struct {
	repo     ports.LinkRepository
	length   int
	alphabet string
	attempts int
}

func NewGenerator(repo ports.LinkRepository, cfg GeneratorConfig) *Generator {
	g := &Generator{
		repo:     repo,
		length:   cfg.Length,
		alphabet: charset,
		attempts: cfg.Attempts,
	}
	if g.length < 1 {
		g.length = DefaultCodeLength
	}
	if g.attempts < 1 {
		g.attempts = DefaultCodeAttempts
	}
	if cfg.Strict {
		g.alphabet = strictCharset
	}
	return g
}

func (g *Generator) Alphabet() string { return g.alphabet }
func (g *Generator) Length() int      { return g.length }
func (g *Generator) Attempts() int    { return g.attempts }

// Generate returns a code not currently stored. The check and the later
// insert are separate steps; callers must still handle ErrConflict.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < g.attempts; i++ {
		code, err := g.random()
		if err != nil {
			return "", err
		}
		if IsReserved(code) {
			continue
		}
		taken, err := g.repo.Exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		metrics.CodeCollisions.Inc()
	}
	return "", domain.ErrCodeSpaceExhausted
}

func (g *Generator) random() (string, error) {
	b := make([]byte, g.length)
	max := big.NewInt(int64(len(g.alphabet)))
	for i := range b {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = g.alphabet[num.Int64()]
	}
	return string(b), nil
}
