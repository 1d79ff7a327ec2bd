package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Value encodings stored alongside each row.
const (
	encodingRaw  = 0
	encodingZstd = 1
)

// DefaultCompressThreshold is the value size above which SQLite rows are
// zstd-compressed.
const DefaultCompressThreshold = 4096

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	encoding   INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
) WITHOUT ROWID;
`

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// SQLiteConfig configures a SQLite-backed store.
type SQLiteConfig struct {
	// Path is the database file. It is created if missing.
	Path string

	// PoolSize defaults to 4.
	PoolSize int

	// MaxPages caps the database size in pages via max_page_count. Zero
	// leaves SQLite's default. Writes past the cap report full.
	MaxPages int

	// CompressThreshold is the value size at which rows are compressed.
	// Zero uses DefaultCompressThreshold; negative disables compression.
	CompressThreshold int

	Logger *slog.Logger
}

// SQLiteBackend stores entries in a local SQLite database.
type SQLiteBackend struct {
	pool      *sqlitex.Pool
	threshold int
	logger    *slog.Logger
}

// OpenSQLite opens or creates the database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite cache: path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	threshold := cfg.CompressThreshold
	if threshold == 0 {
		threshold = DefaultCompressThreshold
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConn(conn, cfg.MaxPages)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: open %s: %w", cfg.Path, err)
	}

	logger.Debug("sqlite cache opened", "path", cfg.Path, "pool_size", poolSize)
	return &SQLiteBackend{pool: pool, threshold: threshold, logger: logger}, nil
}

func prepareConn(conn *sqlite.Conn, maxPages int) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	if maxPages > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA max_page_count=%d", maxPages))
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite cache: %s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
}

// Get implements Backend.
func (s *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: take: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		found    bool
		value    []byte
		encoding int64
	)
	err = sqlitex.Execute(conn, "SELECT value, encoding FROM entries WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			encoding = stmt.ColumnInt64(1)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: get %s: %w", key, err)
	}
	if !found {
		return nil, ErrNotFound
	}

	if encoding == encodingZstd {
		decoded, err := zstdDecoder.DecodeAll(value, nil)
		if err != nil {
			return nil, fmt.Errorf("sqlite cache: decompress %s: %w", key, err)
		}
		return decoded, nil
	}
	return value, nil
}

// Put implements Backend. SQLITE_FULL is reported as a full store.
func (s *SQLiteBackend) Put(ctx context.Context, key string, value []byte) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlite cache: take: %w", err)
	}
	defer s.pool.Put(conn)

	encoding := encodingRaw
	if s.threshold > 0 && len(value) >= s.threshold {
		value = zstdEncoder.EncodeAll(value, nil)
		encoding = encodingZstd
	}

	err = sqlitex.Execute(conn, `INSERT INTO entries (key, value, encoding, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			encoding = excluded.encoding,
			updated_at = excluded.updated_at`, &sqlitex.ExecOptions{
		Args: []any{key, value, encoding, time.Now().UnixMilli()},
	})
	if err != nil {
		if sqlite.ErrCode(err).ToPrimary() == sqlite.ResultFull {
			return false, nil
		}
		return false, fmt.Errorf("sqlite cache: put %s: %w", key, err)
	}
	return true, nil
}

// Delete implements Backend.
func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite cache: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM entries WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
	}); err != nil {
		return fmt.Errorf("sqlite cache: delete %s: %w", key, err)
	}
	return nil
}

// Keys implements Backend.
func (s *SQLiteBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: take: %w", err)
	}
	defer s.pool.Put(conn)

	keys := []string{}
	err = sqlitex.Execute(conn, "SELECT key FROM entries WHERE substr(key, 1, ?) = ? ORDER BY key", &sqlitex.ExecOptions{
		Args: []any{len(prefix), prefix},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			keys = append(keys, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: list keys: %w", err)
	}
	return keys, nil
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	return s.pool.Close()
}
