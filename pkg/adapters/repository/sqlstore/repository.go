package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/shortlink/pkg/ports"
)

const linkColumns = `id, short_code, original_url, title, description, owner, password_hash,
	is_active, click_count, expires_at, created_at, updated_at`

type SQLRepository struct {
	store *Store
}

func NewSQLRepository(store *Store) *SQLRepository {
	return &SQLRepository{store: store}
}

func (r *SQLRepository) Backend() string {
	return string(r.store.Dialect())
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return wrap("ping", r.store.Ping(ctx))
}

func (r *SQLRepository) Create(ctx context.Context, link *domain.Link) error {
	query := `INSERT INTO links (short_code, original_url, title, description, owner, password_hash,
			  is_active, click_count, expires_at, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`

	err := r.store.QueryRow(ctx, "create_link", query, []any{
		link.ShortCode, link.OriginalURL, link.Title, link.Description, link.Owner, link.PasswordHash,
		boolInt(link.IsActive), link.ClickCount, nullMicros(link.ExpiresAt),
		micros(link.CreatedAt), micros(link.UpdatedAt),
	}, &link.ID)
	if err == sql.ErrNoRows {
		// Never expected with RETURNING; treat as a storage failure.
		return &domain.StorageError{Op: "create_link", Err: err}
	}
	return wrap("create_link", err)
}

func (r *SQLRepository) GetByShortCode(ctx context.Context, code string) (*domain.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE short_code = ?`

	var (
		link  domain.Link
		sc    linkScan
		dests = sc.dests(&link)
	)
	if err := r.store.QueryRow(ctx, "get_link", query, []any{code}, dests...); err != nil {
		return nil, wrap("get_link", err)
	}
	sc.apply(&link)
	return &link, nil
}

func (r *SQLRepository) Exists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := r.store.QueryRow(ctx, "exists_link", `SELECT COUNT(*) FROM links WHERE short_code = ?`, []any{code}, &n)
	if err != nil {
		return false, wrap("exists_link", err)
	}
	return n > 0, nil
}

// Update writes every mutable column. The click counter is owned by
// RecordClick and is never written here.
func (r *SQLRepository) Update(ctx context.Context, link *domain.Link) error {
	query := `UPDATE links SET original_url = ?, title = ?, description = ?, password_hash = ?,
			  is_active = ?, expires_at = ?, updated_at = ? WHERE short_code = ?`

	res, err := r.store.Exec(ctx, "update_link", query,
		link.OriginalURL, link.Title, link.Description, link.PasswordHash,
		boolInt(link.IsActive), nullMicros(link.ExpiresAt), micros(link.UpdatedAt), link.ShortCode)
	if err != nil {
		return wrap("update_link", err)
	}
	return requireRow("update_link", res)
}

// Delete removes the clicks and then the link in one transaction; the
// cascade is not relied on because remote backends may run without
// foreign key enforcement.
func (r *SQLRepository) Delete(ctx context.Context, code string) error {
	err := r.store.Tx(ctx, "delete_link", func(ctx context.Context, tx Executor) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM clicks WHERE short_code = ?`, code); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM links WHERE short_code = ?`, code)
		if err != nil {
			return err
		}
		return requireRow("delete_link", res)
	})
	return wrap("delete_link", err)
}

func (r *SQLRepository) List(ctx context.Context, limit, offset int) ([]domain.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	links, err := r.queryLinks(ctx, "list_links", query, limit, offset)
	return links, wrap("list_links", err)
}

func (r *SQLRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.store.QueryRow(ctx, "count_links", `SELECT COUNT(*) FROM links`, nil, &count)
	return count, wrap("count_links", err)
}

func (r *SQLRepository) CountClicks(ctx context.Context) (int64, error) {
	var count int64
	err := r.store.QueryRow(ctx, "count_clicks", `SELECT COUNT(*) FROM clicks`, nil, &count)
	return count, wrap("count_clicks", err)
}

func (r *SQLRepository) ClearAll(ctx context.Context) (domain.ClearResult, error) {
	var out domain.ClearResult
	err := r.store.Tx(ctx, "clear_all", func(ctx context.Context, tx Executor) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&out.Links); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM clicks`).Scan(&out.Clicks); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM clicks`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM links`)
		return err
	})
	if err != nil {
		return domain.ClearResult{}, wrap("clear_all", err)
	}
	return out, nil
}

func (r *SQLRepository) Dump(ctx context.Context) ([]domain.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links ORDER BY id ASC`
	links, err := r.queryLinks(ctx, "dump_links", query)
	return links, wrap("dump_links", err)
}

// RecordClick appends the event and bumps the counter atomically.
func (r *SQLRepository) RecordClick(ctx context.Context, click *domain.ClickEvent) error {
	err := r.store.Tx(ctx, "record_click", func(ctx context.Context, tx Executor) error {
		// 1. Bump the counter first so unknown codes fail before the insert.
		res, err := tx.ExecContext(ctx,
			`UPDATE links SET click_count = click_count + 1, updated_at = ? WHERE short_code = ?`,
			micros(click.ClickedAt), click.ShortCode)
		if err != nil {
			return err
		}
		if err := requireRow("record_click", res); err != nil {
			return err
		}

		// 2. Insert the click event
		return tx.QueryRowContext(ctx,
			`INSERT INTO clicks (short_code, ip_address, user_agent, referer, device_type, browser, os, clicked_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			click.ShortCode, click.IPAddress, click.UserAgent, click.Referer,
			click.DeviceType, click.Browser, click.OS, micros(click.ClickedAt),
		).Scan(&click.ID)
	})
	return wrap("record_click", err)
}

func (r *SQLRepository) RecentClicks(ctx context.Context, code string, limit int) ([]domain.ClickEvent, error) {
	query := `SELECT id, short_code, ip_address, user_agent, referer, device_type, browser, os, clicked_at
			  FROM clicks WHERE short_code = ? ORDER BY clicked_at DESC, id DESC LIMIT ?`

	clicks := []domain.ClickEvent{}
	err := r.store.Query(ctx, "recent_clicks", query, []any{code, limit}, func(rows *sql.Rows) error {
		for rows.Next() {
			var c domain.ClickEvent
			var at int64
			if err := rows.Scan(&c.ID, &c.ShortCode, &c.IPAddress, &c.UserAgent, &c.Referer,
				&c.DeviceType, &c.Browser, &c.OS, &at); err != nil {
				return err
			}
			c.ClickedAt = fromMicros(at)
			clicks = append(clicks, c)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("recent_clicks", err)
	}
	return clicks, nil
}

// ClickBreakdown returns the top values per dimension for one link.
func (r *SQLRepository) ClickBreakdown(ctx context.Context, code string, top int) (domain.Breakdown, error) {
	var b domain.Breakdown
	dims := []struct {
		column string
		dest   *[]domain.Bucket
	}{
		{"referer", &b.Referers},
		{"browser", &b.Browsers},
		{"os", &b.OS},
		{"device_type", &b.Devices},
	}

	for _, d := range dims {
		// Column names come from the fixed list above.
		query := `SELECT ` + d.column + `, COUNT(*) AS c FROM clicks WHERE short_code = ?
				  GROUP BY ` + d.column + ` ORDER BY c DESC, ` + d.column + ` ASC LIMIT ?`
		buckets := []domain.Bucket{}
		err := r.store.Query(ctx, "click_breakdown", query, []any{code, top}, func(rows *sql.Rows) error {
			for rows.Next() {
				var bk domain.Bucket
				if err := rows.Scan(&bk.Value, &bk.Count); err != nil {
					return err
				}
				if bk.Value == "" && d.column == "referer" {
					bk.Value = "Direct"
				}
				buckets = append(buckets, bk)
			}
			return nil
		})
		if err != nil {
			return domain.Breakdown{}, wrap("click_breakdown", err)
		}
		*d.dest = buckets
	}
	return b, nil
}

func (r *SQLRepository) queryLinks(ctx context.Context, op, query string, args ...any) ([]domain.Link, error) {
	links := []domain.Link{}
	err := r.store.Query(ctx, op, query, args, func(rows *sql.Rows) error {
		for rows.Next() {
			var l domain.Link
			var sc linkScan
			if err := rows.Scan(sc.dests(&l)...); err != nil {
				return err
			}
			sc.apply(&l)
			links = append(links, l)
		}
		return nil
	})
	return links, err
}

// linkScan holds the columns that need conversion after Scan.
type linkScan struct {
	active    int64
	expiresAt sql.NullInt64
	createdAt int64
	updatedAt int64
}

func (s *linkScan) dests(l *domain.Link) []any {
	return []any{
		&l.ID, &l.ShortCode, &l.OriginalURL, &l.Title, &l.Description, &l.Owner, &l.PasswordHash,
		&s.active, &l.ClickCount, &s.expiresAt, &s.createdAt, &s.updatedAt,
	}
}

func (s *linkScan) apply(l *domain.Link) {
	l.IsActive = s.active != 0
	l.CreatedAt = fromMicros(s.createdAt)
	l.UpdatedAt = fromMicros(s.updatedAt)
	if s.expiresAt.Valid {
		t := fromMicros(s.expiresAt.Int64)
		l.ExpiresAt = &t
	}
}

func requireRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: op, Err: err}
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func micros(t time.Time) int64 {
	return t.UnixMicro()
}

func nullMicros(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure interface compliance
var _ ports.LinkRepository = (*SQLRepository)(nil)
