// Package sqlstore is the relational link store. One Store wraps a
// database/sql handle for a single dialect (sqlite, libsql or postgres) and
// lends pooled connections to the {execute, query, transaction} calls the
// repository is built on.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"                   // Postgres driver ("pgx")
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	_ "modernc.org/sqlite"                               // Local SQLite driver

	"github.com/wadjakorntonsri/shortlink/pkg/adapters/repository/pool"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
	"github.com/wadjakorntonsri/shortlink/pkg/metrics"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectLibSQL   Dialect = "libsql"
	DialectPostgres Dialect = "postgres"
)

// MemoryFallback is the last location probed at startup.
const MemoryFallback = "file:shortlink-fallback?mode=memory&cache=shared"

const defaultFileName = "shortlinks.db"

type Options struct {
	// Driver is auto, sqlite, libsql or postgres.
	Driver string
	// URL is a file path, a file: URI, or a libsql/postgres DSN.
	URL string
	// Fallback enables the temp dir, working dir and memory candidates.
	Fallback     bool
	PoolSize     int
	QueryTimeout time.Duration
}

// Executor is satisfied by *sql.Conn and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db       *sql.DB
	conns    *pool.Pool[*sql.Conn]
	dialect  Dialect
	location string
	timeout  time.Duration

	// Shared-cache memory databases report table locks instead of waiting
	// on them, so access is serialized there.
	memory bool
	memMu  sync.RWMutex
	keep   *sql.Conn
}

type candidate struct {
	dialect Dialect
	dsn     string
	path    string // on-disk file to create the parent dir for
	label   string
}

// DetectDialect picks the dialect for a URL when the driver is "auto".
func DetectDialect(driverName, url string) Dialect {
	switch strings.ToLower(driverName) {
	case "sqlite":
		return DialectSQLite
	case "libsql":
		return DialectLibSQL
	case "postgres", "pgx":
		return DialectPostgres
	}
	switch {
	case strings.HasPrefix(url, "libsql://"), strings.HasPrefix(url, "wss://"):
		return DialectLibSQL
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DialectPostgres
	}
	return DialectSQLite
}

// Open probes the configured location and, when fallback is enabled, the
// temp dir, the working dir and finally an in-memory database. It commits
// to the first candidate that answers SELECT 1, then migrates the schema
// and warms the pool.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.PoolSize < 1 {
		opts.PoolSize = 10
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}

	db, cand, err := connect(ctx, buildCandidates(opts))
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		dialect:  cand.dialect,
		location: cand.label,
		timeout:  opts.QueryTimeout,
		memory:   cand.dialect == DialectSQLite && strings.Contains(cand.dsn, "mode=memory"),
	}
	if s.memory {
		logging.Warn().Str("location", cand.label).Msg("datastore is in-memory, data is lost on exit")
		// The database lives only while a connection is open.
		keep, err := db.Conn(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pin memory database: %w", err)
		}
		s.keep = keep
	}

	db.SetMaxIdleConns(opts.PoolSize)
	s.conns = pool.New(opts.PoolSize,
		func(ctx context.Context) (*sql.Conn, error) { return db.Conn(ctx) },
		func(c *sql.Conn) error { return c.Close() },
	)
	s.conns.OnOverflow = metrics.PoolOverflow.Inc

	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.conns.Warm(ctx, opts.PoolSize); err != nil {
		logging.Warn().Err(err).Msg("pool warm-up incomplete")
	}
	s.publishPoolStats()

	logging.Info().Str("dialect", string(s.dialect)).Str("location", s.location).
		Int("pool_size", opts.PoolSize).Msg("datastore ready")
	return s, nil
}

// connect commits to the first candidate that answers, logging each miss.
func connect(ctx context.Context, candidates []candidate) (*sql.DB, candidate, error) {
	var errs []error
	for i, c := range candidates {
		db, err := probe(ctx, c)
		if err != nil {
			logging.Warn().Err(err).Str("location", c.label).Str("dialect", string(c.dialect)).
				Msg("datastore candidate unavailable")
			errs = append(errs, fmt.Errorf("%s: %w", c.label, err))
			continue
		}
		if i > 0 {
			logging.Warn().Str("location", c.label).Msg("using fallback datastore")
		}
		return db, c, nil
	}
	return nil, candidate{}, fmt.Errorf("no usable datastore: %w", errors.Join(errs...))
}

func buildCandidates(opts Options) []candidate {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		url = defaultFileName
	}

	var out []candidate
	switch d := DetectDialect(opts.Driver, url); d {
	case DialectLibSQL, DialectPostgres:
		out = append(out, candidate{dialect: d, dsn: url, label: redact(url)})
	default:
		out = append(out, sqliteCandidate(url))
	}
	if !opts.Fallback {
		return out
	}
	return append(out,
		sqliteCandidate(filepath.Join(os.TempDir(), defaultFileName)),
		sqliteCandidate(filepath.Join(".", defaultFileName)),
		sqliteCandidate(MemoryFallback),
	)
}

func sqliteCandidate(location string) candidate {
	if location == ":memory:" {
		location = "file:shortlink-memory?mode=memory&cache=shared"
	}
	memory := strings.Contains(location, "mode=memory")

	path := ""
	if !memory {
		path = strings.TrimPrefix(location, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
	}

	dsn := location
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	return candidate{dialect: DialectSQLite, dsn: dsn, path: path, label: location}
}

func probe(ctx context.Context, c candidate) (*sql.DB, error) {
	if c.path != "" {
		if dir := filepath.Dir(c.path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open(driverName(c.dialect), c.dsn)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	var one int
	if err := db.QueryRowContext(pctx, "SELECT 1").Scan(&one); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func driverName(d Dialect) string {
	switch d {
	case DialectLibSQL:
		return "libsql"
	case DialectPostgres:
		return "pgx"
	default:
		return "sqlite"
	}
}

// redact hides credentials in DSNs before they reach the logs.
func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		rest := dsn[i+3:]
		if at := strings.LastIndexByte(rest, '@'); at >= 0 {
			rest = "***@" + rest[at+1:]
		}
		if q := strings.IndexByte(rest, '?'); q >= 0 {
			rest = rest[:q]
		}
		return dsn[:i+3] + rest
	}
	return dsn
}

func (s *Store) Dialect() Dialect { return s.dialect }

// Location is the committed datastore location, credentials redacted.
func (s *Store) Location() string { return s.location }

func (s *Store) PoolStats() pool.Stats { return s.conns.Stats() }

// Exec runs a statement on a pooled connection.
func (s *Store) Exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.withConn(ctx, op, true, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		res, err = s.bind(conn).ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Query runs a query and hands the rows to scan. The rows are closed when
// scan returns.
func (s *Store) Query(ctx context.Context, op, query string, args []any, scan func(*sql.Rows) error) error {
	return s.withConn(ctx, op, false, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := s.bind(conn).QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if err := scan(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// QueryRow scans a single row into dest. sql.ErrNoRows is returned as is.
func (s *Store) QueryRow(ctx context.Context, op, query string, args []any, dest ...any) error {
	return s.withConn(ctx, op, false, func(ctx context.Context, conn *sql.Conn) error {
		return s.bind(conn).QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

// Tx runs fn inside a transaction, committing if fn returns nil.
func (s *Store) Tx(ctx context.Context, op string, fn func(ctx context.Context, tx Executor) error) error {
	return s.withConn(ctx, op, true, func(ctx context.Context, conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(ctx, s.bind(tx)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) bind(ex Executor) Executor {
	if s.dialect != DialectPostgres {
		return ex
	}
	return rebinder{ex: ex}
}

func (s *Store) withConn(ctx context.Context, op string, write bool, fn func(context.Context, *sql.Conn) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery(op, time.Since(start), err) }()

	if s.memory {
		if write {
			s.memMu.Lock()
			defer s.memMu.Unlock()
		} else {
			s.memMu.RLock()
			defer s.memMu.RUnlock()
		}
	}

	conn, err := s.conns.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, conn)
	if errors.Is(err, driver.ErrBadConn) {
		s.conns.Discard(conn)
	} else {
		s.conns.Release(conn)
	}
	s.publishPoolStats()
	return err
}

func (s *Store) publishPoolStats() {
	st := s.conns.Stats()
	metrics.PoolIdle.Set(float64(st.Idle))
}

// Ping checks the datastore answers a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.QueryRow(ctx, "ping", "SELECT 1", nil, &one)
}

// Close releases the pool and the underlying handle.
func (s *Store) Close() error {
	var errs []error
	if s.conns != nil {
		errs = append(errs, s.conns.Close())
	}
	if s.keep != nil {
		errs = append(errs, s.keep.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// rebinder rewrites ? placeholders into $n for postgres.
type rebinder struct {
	ex Executor
}

func (r rebinder) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.ex.ExecContext(ctx, rebind(query), args...)
}

func (r rebinder) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.ex.QueryContext(ctx, rebind(query), args...)
}

func (r rebinder) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return r.ex.QueryRowContext(ctx, rebind(query), args...)
}

func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
