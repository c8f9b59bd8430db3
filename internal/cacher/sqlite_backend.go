package cacher

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	log "github.com/sirupsen/logrus"

	"github.com/atlasdatatech/tileserver/internal/errs"
)

// SQLiteBackend is a portable, cgo-free Backend built on
// modernc.org/sqlite (a distinct concern from the kv tile loader's cgo
// mattn/go-sqlite3: here portability matters more than native speed,
// since this path runs on every cache hit/miss). Stores the
// length-delimited record from record.go plus an absolute expiry.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend opens (or creates) the cache database at path.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "open cache sqlite", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		record BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Internal, "create cache table", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Close releases the underlying database handle.
func (b *SQLiteBackend) Close() error { return b.db.Close() }

// SetMaxConns bounds the number of concurrent connections to the cache
// database (spec.md §4.12's `cacher.workers`). A SQLite writer serializes
// regardless, but bounding reader concurrency keeps a slow disk from
// piling up unbounded goroutines under load.
func (b *SQLiteBackend) SetMaxConns(n int) {
	if n <= 0 {
		return
	}
	b.db.SetMaxOpenConns(n)
}

func (b *SQLiteBackend) GetImpl(ctx context.Context, key string, done func(*CachedTile, error)) {
	var record []byte
	var expiresAt int64
	err := b.db.QueryRowContext(ctx, `SELECT record, expires_at FROM cache WHERE key = ?`, key).Scan(&record, &expiresAt)
	if err == sql.ErrNoRows {
		done(nil, errBackendMiss)
		return
	}
	if err != nil {
		done(nil, errs.Wrap(errs.Internal, "cache sqlite get", err))
		return
	}
	if expiresAt > 0 && time.Now().Unix() > expiresAt {
		go b.delete(key)
		done(nil, errBackendMiss)
		return
	}
	tile, err := DecodeRecord(record)
	if err != nil {
		done(nil, err)
		return
	}
	done(tile, nil)
}

func (b *SQLiteBackend) SetImpl(ctx context.Context, key string, tile *CachedTile, expire time.Duration) {
	expiresAt := int64(0)
	if expire > 0 {
		expiresAt = time.Now().Add(expire).Unix()
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO cache (key, record, expires_at) VALUES (?,?,?)
		 ON CONFLICT(key) DO UPDATE SET record = excluded.record, expires_at = excluded.expires_at`,
		key, EncodeRecord(tile), expiresAt)
	if err != nil {
		log.WithError(err).WithField("key", key).Error("cacher: sqlite set failed")
	}
}

func (b *SQLiteBackend) TouchImpl(ctx context.Context, key string, expire time.Duration) {
	expiresAt := int64(0)
	if expire > 0 {
		expiresAt = time.Now().Add(expire).Unix()
	}
	if _, err := b.db.ExecContext(ctx, `UPDATE cache SET expires_at = ? WHERE key = ?`, expiresAt, key); err != nil {
		log.WithError(err).WithField("key", key).Error("cacher: sqlite touch failed")
	}
}

func (b *SQLiteBackend) delete(key string) {
	if _, err := b.db.Exec(`DELETE FROM cache WHERE key = ?`, key); err != nil {
		log.WithError(err).WithField("key", key).Error("cacher: sqlite delete failed")
	}
}
