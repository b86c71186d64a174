package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/wadjakorntonsri/shortlink/pkg/app"
	"github.com/wadjakorntonsri/shortlink/pkg/config"
	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/shortlink/pkg/core/services"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
	"github.com/wadjakorntonsri/shortlink/pkg/ports"
	"github.com/wadjakorntonsri/shortlink/pkg/validation"
)

const usage = `usage: shortlink-cli <command> [flags]

commands:
  export [-file out.json]   write every link as JSON (stdout by default)
  import -file in.json      insert links from an export, skipping existing codes
                            and rejecting invalid ones
  clear -yes                delete every link and click
  stats                     print link and click totals`

// record is the export format. Unlike the API view it carries the
// password hash so gated links survive a migration.
type record struct {
	ShortCode    string     `json:"short_code"`
	OriginalURL  string     `json:"original_url"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Owner        string     `json:"owner,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	IsActive     bool       `json:"is_active"`
	PasswordHash string     `json:"password_hash,omitempty"`
	ClickCount   int64      `json:"click_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toRecord(l domain.Link) record {
	return record{
		ShortCode:    l.ShortCode,
		OriginalURL:  l.OriginalURL,
		Title:        l.Title,
		Description:  l.Description,
		Owner:        l.Owner,
		ExpiresAt:    l.ExpiresAt,
		IsActive:     l.IsActive,
		PasswordHash: l.PasswordHash,
		ClickCount:   l.ClickCount,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}

func (r record) link() *domain.Link {
	return &domain.Link{
		ShortCode:    r.ShortCode,
		OriginalURL:  r.OriginalURL,
		Title:        r.Title,
		Description:  r.Description,
		Owner:        r.Owner,
		ExpiresAt:    r.ExpiresAt,
		IsActive:     r.IsActive,
		PasswordHash: r.PasswordHash,
		ClickCount:   r.ClickCount,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	lc := cfg.LogConfig()
	lc.Format = "console"
	logging.Init(lc)

	if err := run(context.Background(), cfg, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		logging.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		_ = logging.Close()
		os.Exit(1)
	}
	_ = logging.Close()
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string, out io.Writer) error {
	exportCmd := flag.NewFlagSet("export", flag.ContinueOnError)
	exportFile := exportCmd.String("file", "", "output file (default stdout)")
	importCmd := flag.NewFlagSet("import", flag.ContinueOnError)
	importFile := importCmd.String("file", "", "JSON file to import")
	clearCmd := flag.NewFlagSet("clear", flag.ContinueOnError)
	confirm := clearCmd.Bool("yes", false, "confirm deleting all data")
	statsCmd := flag.NewFlagSet("stats", flag.ContinueOnError)

	var parse *flag.FlagSet
	switch cmd {
	case "export":
		parse = exportCmd
	case "import":
		parse = importCmd
	case "clear":
		parse = clearCmd
	case "stats":
		parse = statsCmd
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err := parse.Parse(args); err != nil {
		return err
	}
	if cmd == "import" && *importFile == "" {
		return errors.New("import requires -file")
	}
	if cmd == "clear" && !*confirm {
		return errors.New("clear deletes every link and click; re-run with -yes")
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case "export":
		w := out
		if *exportFile != "" {
			f, err := os.Create(*exportFile)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return doExport(ctx, a.Repo, w)
	case "import":
		f, err := os.Open(*importFile)
		if err != nil {
			return err
		}
		defer f.Close()
		return doImport(ctx, a.Repo, f, out)
	case "clear":
		res, err := a.Links.ClearAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %d links and %d clicks\n", res.Links, res.Clicks)
		return nil
	default:
		return doStats(ctx, a.Repo, out)
	}
}

func doExport(ctx context.Context, repo ports.LinkRepository, w io.Writer) error {
	links, err := repo.Dump(ctx)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	records := make([]record, 0, len(links))
	for _, l := range links {
		records = append(records, toRecord(l))
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}

func doImport(ctx context.Context, repo ports.LinkRepository, r io.Reader, out io.Writer) error {
	var records []record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}

	imported, skipped, rejected := 0, 0, 0
	for _, rec := range records {
		l := rec.link()
		l.OriginalURL = services.NormalizeURL(l.OriginalURL)
		if reason := rejectReason(l); reason != "" {
			logging.Warn().Str("code", l.ShortCode).Str("reason", reason).Msg("rejecting link")
			rejected++
			continue
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = time.Now().UTC()
		}
		if l.UpdatedAt.IsZero() {
			l.UpdatedAt = l.CreatedAt
		}

		err := repo.Create(ctx, l)
		switch {
		case errors.Is(err, domain.ErrConflict):
			logging.Info().Str("code", l.ShortCode).Msg("skipping existing code")
			skipped++
		case err != nil:
			logging.Warn().Err(err).Str("code", l.ShortCode).Msg("failed to import link")
		default:
			imported++
		}
	}
	fmt.Fprintf(out, "imported %d links, skipped %d existing, rejected %d invalid\n", imported, skipped, rejected)
	return nil
}

// rejectReason applies the rules the API enforces on create. Imported
// records are refused rather than trusted.
func rejectReason(l *domain.Link) string {
	switch {
	case !validation.IsShortCode(l.ShortCode):
		return "invalid short code"
	case services.IsReserved(l.ShortCode):
		return "reserved short code"
	case !validation.IsHTTPURL(l.OriginalURL):
		return "original_url is not an http(s) URL"
	default:
		return ""
	}
}

type totals interface {
	Backend() string
	Count(ctx context.Context) (int64, error)
	CountClicks(ctx context.Context) (int64, error)
}

func doStats(ctx context.Context, repo totals, out io.Writer) error {
	links, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	clicks, err := repo.CountClicks(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "backend: %s\nlinks:   %d\nclicks:  %d\n", repo.Backend(), links, clicks)
	return nil
}
