// Package sqlstore implements store.Store on a single SQL table, using
// SQLite (modernc.org/sqlite) for an embedded cache or PostgreSQL
// (github.com/lib/pq) for a cache shared by many processes.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sightserver/querycache/observe"
	"github.com/sightserver/querycache/store"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

const schema = `
CREATE TABLE IF NOT EXISTS query_cache (
	cache_key        TEXT PRIMARY KEY,
	query_text       TEXT NOT NULL,
	context_json     TEXT NOT NULL,
	payload          TEXT NOT NULL,
	created_at       BIGINT NOT NULL,
	last_accessed_at BIGINT NOT NULL,
	hit_count        BIGINT NOT NULL DEFAULT 0,
	size_bytes       BIGINT NOT NULL
)`

const lruIndex = `CREATE INDEX IF NOT EXISTS idx_query_cache_lru ON query_cache (last_accessed_at, created_at)`

const entryColumns = `cache_key, query_text, context_json, payload, created_at, last_accessed_at, hit_count, size_bytes`

const rowColumns = `cache_key, query_text, context_json, created_at, last_accessed_at, size_bytes, hit_count`

// Options configures a SQL Store.
type Options struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	// DSN is the data source name. For sqlite this may be a plain file path.
	DSN string

	Policy store.Policy
	Logger observe.Logger
	Now    func() time.Time
}

// Store is a SQL-backed store.
type Store struct {
	db     *sqlx.DB
	policy store.Policy
	logger observe.Logger
	now    func() time.Time
}

type record struct {
	Key            string `db:"cache_key"`
	QueryText      string `db:"query_text"`
	Context        string `db:"context_json"`
	Payload        string `db:"payload"`
	CreatedAt      int64  `db:"created_at"`
	LastAccessedAt int64  `db:"last_accessed_at"`
	HitCount       int64  `db:"hit_count"`
	SizeBytes      int64  `db:"size_bytes"`
}

func (r record) entry() store.Entry {
	return store.Entry{
		Key:            r.Key,
		QueryText:      r.QueryText,
		Context:        json.RawMessage(r.Context),
		Payload:        json.RawMessage(r.Payload),
		CreatedAt:      fromNanos(r.CreatedAt),
		LastAccessedAt: fromNanos(r.LastAccessedAt),
		HitCount:       r.HitCount,
		SizeBytes:      r.SizeBytes,
	}
}

type indexRecord struct {
	Key            string `db:"cache_key"`
	QueryText      string `db:"query_text"`
	Context        string `db:"context_json"`
	CreatedAt      int64  `db:"created_at"`
	LastAccessedAt int64  `db:"last_accessed_at"`
	SizeBytes      int64  `db:"size_bytes"`
	HitCount       int64  `db:"hit_count"`
}

// Open connects to the database and creates the table if needed.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	driver, dsn := opts.Driver, opts.DSN
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", store.ErrStorage, driver, err)
	}
	if driver == DriverSQLite {
		// One writer at a time; readers share the same connection.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, policy: opts.Policy, logger: opts.Logger, now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = observe.NopLogger()
	}

	for _, stmt := range []string{schema, lruIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: migrate: %w", store.ErrStorage, err)
		}
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" || strings.Contains(dsn, "?") || strings.HasPrefix(dsn, ":memory:") {
		return dsn
	}
	return dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// Get returns the entry and records the access in a single statement.
func (s *Store) Get(ctx context.Context, key string) (store.Entry, bool) {
	now := s.now()
	query := `UPDATE query_cache SET last_accessed_at = ?, hit_count = hit_count + 1 WHERE cache_key = ?`
	args := []any{toNanos(now), key}
	if s.policy.TTL > 0 {
		query += ` AND created_at >= ?`
		args = append(args, toNanos(now.Add(-s.policy.TTL)))
	}
	query += ` RETURNING ` + entryColumns

	var r record
	err := s.db.GetContext(ctx, &r, s.db.Rebind(query), args...)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn(ctx, "sqlstore: lookup failed, treating as miss",
				observe.Field{Key: "key", Value: key},
				observe.Err(err))
		}
		return store.Entry{}, false
	}
	return r.entry(), true
}

// Set upserts the entry, keeping the accumulated hit count.
func (s *Store) Set(ctx context.Context, e store.Entry) error {
	if err := store.ValidateKey(e.Key); err != nil {
		return err
	}
	clock := s.now()
	now := toNanos(clock)
	r := record{
		Key:            e.Key,
		QueryText:      e.QueryText,
		Context:        string(e.Context),
		Payload:        string(e.Payload),
		CreatedAt:      toNanos(store.CreationTime(e.CreatedAt, clock)),
		LastAccessedAt: now,
		SizeBytes:      store.SizeOf(e),
	}
	const upsert = `INSERT INTO query_cache (` + entryColumns + `)
VALUES (:cache_key, :query_text, :context_json, :payload, :created_at, :last_accessed_at, 0, :size_bytes)
ON CONFLICT (cache_key) DO UPDATE SET
	query_text = excluded.query_text,
	context_json = excluded.context_json,
	payload = excluded.payload,
	created_at = excluded.created_at,
	last_accessed_at = excluded.last_accessed_at,
	size_bytes = excluded.size_bytes`
	if _, err := s.db.NamedExecContext(ctx, upsert, r); err != nil {
		return fmt.Errorf("%w: upsert %s: %w", store.ErrStorage, e.Key, err)
	}
	return nil
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM query_cache WHERE cache_key = ?`), key)
	if err != nil {
		return false, fmt.Errorf("%w: delete %s: %w", store.ErrStorage, key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Evict deletes planned rows in one transaction. Each delete is guarded by
// the planned created_at so a concurrent rewrite is kept.
func (s *Store) Evict(ctx context.Context) ([]store.Eviction, error) {
	rows, err := s.Rows(ctx)
	if err != nil {
		return nil, err
	}
	plan := store.PlanEviction(rows, s.policy, s.now())
	if len(plan) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin evict: %w", store.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Rebind(`DELETE FROM query_cache WHERE cache_key = ? AND created_at = ?`)
	var done []store.Eviction
	for _, ev := range plan {
		res, err := tx.ExecContext(ctx, stmt, ev.Key, toNanos(ev.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("%w: evict %s: %w", store.ErrStorage, ev.Key, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			done = append(done, ev)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit evict: %w", store.ErrStorage, err)
	}
	return done, nil
}

// Load removes rows whose stored JSON no longer decodes.
func (s *Store) Load(ctx context.Context) (store.LoadReport, error) {
	var report store.LoadReport

	var recs []record
	if err := s.db.SelectContext(ctx, &recs, `SELECT `+entryColumns+` FROM query_cache`); err != nil {
		return report, fmt.Errorf("%w: scan: %w", store.ErrStorage, err)
	}
	for _, r := range recs {
		if json.Valid([]byte(r.Payload)) && json.Valid([]byte(r.Context)) {
			report.Entries++
			continue
		}
		if _, err := s.Delete(ctx, r.Key); err != nil {
			return report, err
		}
		report.CorruptEntries = append(report.CorruptEntries, r.Key)
	}
	return report, nil
}

// Rows returns a snapshot of the index ordered by key.
func (s *Store) Rows(ctx context.Context) ([]store.IndexRow, error) {
	var recs []indexRecord
	if err := s.db.SelectContext(ctx, &recs, `SELECT `+rowColumns+` FROM query_cache ORDER BY cache_key`); err != nil {
		return nil, fmt.Errorf("%w: list: %w", store.ErrStorage, err)
	}
	rows := make([]store.IndexRow, len(recs))
	for i, r := range recs {
		rows[i] = store.IndexRow{
			Key:            r.Key,
			QueryText:      r.QueryText,
			Context:        json.RawMessage(r.Context),
			CreatedAt:      fromNanos(r.CreatedAt),
			LastAccessedAt: fromNanos(r.LastAccessedAt),
			SizeBytes:      r.SizeBytes,
			HitCount:       r.HitCount,
		}
	}
	return rows, nil
}

// Stats summarizes the table.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	rows, err := s.Rows(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	return store.StatsOf(rows, s.now()), nil
}

// Clear deletes every row.
func (s *Store) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_cache`)
	if err != nil {
		return 0, fmt.Errorf("%w: clear: %w", store.ErrStorage, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// Ensure Store implements store.Store
var _ store.Store = (*Store)(nil)
