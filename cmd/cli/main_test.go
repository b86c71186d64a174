package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wadjakorntonsri/shortlink/pkg/app"
	"github.com/wadjakorntonsri/shortlink/pkg/config"
	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
)

func fileConfig(t *testing.T, path string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.URL = path
	cfg.Database.Fallback = false
	cfg.Database.PoolSize = 2
	cfg.Gate.BcryptCost = 4
	return cfg
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := fileConfig(t, filepath.Join(dir, "src.db"))
	dst := fileConfig(t, filepath.Join(dir, "dst.db"))

	a, err := app.New(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Links.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com/a", Code: "first"}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Links.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com/b", Code: "locked", Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	a.Clicks.Record(ctx, domain.ClickInput{ShortCode: "first"})
	_ = a.Close()

	exportPath := filepath.Join(dir, "links.json")
	if err := run(ctx, src, "export", []string{"-file", exportPath}, &bytes.Buffer{}); err != nil {
		t.Fatalf("export: %v", err)
	}

	var out bytes.Buffer
	if err := run(ctx, dst, "import", []string{"-file", exportPath}, &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out.String(), "imported 2 links, skipped 0") {
		t.Errorf("import output = %q", out.String())
	}

	out.Reset()
	if err := run(ctx, dst, "import", []string{"-file", exportPath}, &out); err != nil {
		t.Fatalf("second import: %v", err)
	}
	if !strings.Contains(out.String(), "imported 0 links, skipped 2") {
		t.Errorf("second import output = %q", out.String())
	}

	b, err := app.New(ctx, dst)
	if err != nil {
		t.Fatal(err)
	}
	first, err := b.Repo.GetByShortCode(ctx, "first")
	if err != nil || first.ClickCount != 1 {
		t.Errorf("first = %+v, %v; want click_count 1", first, err)
	}
	locked, err := b.Repo.GetByShortCode(ctx, "locked")
	if err != nil || !locked.HasPassword() {
		t.Errorf("password hash lost on import: %+v, %v", locked, err)
	}
	_ = b.Close()

	out.Reset()
	if err := run(ctx, dst, "stats", nil, &out); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out.String(), "links:   2") {
		t.Errorf("stats output = %q", out.String())
	}
}

func TestClearRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	cfg := fileConfig(t, filepath.Join(t.TempDir(), "clear.db"))

	if err := run(ctx, cfg, "clear", nil, &bytes.Buffer{}); err == nil {
		t.Fatal("clear without -yes should fail")
	}

	var out bytes.Buffer
	if err := run(ctx, cfg, "clear", []string{"-yes"}, &out); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out.String(), "deleted 0 links and 0 clicks") {
		t.Errorf("clear output = %q", out.String())
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	cfg := fileConfig(t, filepath.Join(t.TempDir(), "bad.db"))
	for _, args := range [][]string{{"unknown"}, {"import"}} {
		if err := run(context.Background(), cfg, args[0], args[1:], &bytes.Buffer{}); err == nil {
			t.Errorf("run %v: expected error", args)
		}
	}
}

func TestImportRejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := fileConfig(t, filepath.Join(dir, "dst.db"))

	in := filepath.Join(dir, "in.json")
	data := `[
		{"short_code":"x","original_url":"https://example.com"},
		{"short_code":"script","original_url":"javascript:alert(1)"},
		{"short_code":"health","original_url":"https://example.com"},
		{"short_code":"ftplink","original_url":"ftp://a"},
		{"short_code":"good","original_url":"https://example.com/ok","is_active":true}
	]`
	if err := os.WriteFile(in, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := run(ctx, cfg, "import", []string{"-file", in}, &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out.String(), "imported 1 links, skipped 0 existing, rejected 4 invalid") {
		t.Errorf("import output = %q", out.String())
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	for _, code := range []string{"x", "script", "health", "ftplink"} {
		if _, err := a.Repo.GetByShortCode(ctx, code); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("%s: err = %v, want not found", code, err)
		}
	}
	if _, err := a.Repo.GetByShortCode(ctx, "good"); err != nil {
		t.Errorf("good: %v", err)
	}
}
