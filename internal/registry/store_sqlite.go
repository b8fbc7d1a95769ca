package registry

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"options_ledger/internal/option"

	_ "github.com/mattn/go-sqlite3"
)

// ErrChecksumMismatch marks a stored record whose bytes no longer match its checksum
var ErrChecksumMismatch = errors.New("checksum verification failed: data corruption detected")

const schema = `
CREATE TABLE IF NOT EXISTS options (
	id         INTEGER PRIMARY KEY,
	data       TEXT    NOT NULL,
	checksum   BLOB    NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	account   TEXT    NOT NULL,
	seq       INTEGER NOT NULL,
	option_id INTEGER NOT NULL REFERENCES options(id),
	PRIMARY KEY (account, seq)
);`

// SQLiteStore persists option records as checksummed JSON rows plus an ordered
// per-account position index
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dbPath, enables WAL and creates the schema if missing
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer connection; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// CommitOption upserts opt and optionally appends a position in one serializable transaction
func (s *SQLiteStore) CommitOption(ctx context.Context, opt *option.Option, positionAccount string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	data, err := json.Marshal(opt)
	if err != nil {
		return fmt.Errorf("failed to marshal option %d: %w", opt.ID, err)
	}
	checksum := sha256.Sum256(data)

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO options (id, data, checksum, updated_at) VALUES (?, ?, ?, ?)`,
		int64(opt.ID), string(data), checksum[:], time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write option %d: %w", opt.ID, err)
	}

	if positionAccount != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO positions (account, seq, option_id)
			 SELECT ?, COALESCE(MAX(seq) + 1, 0), ? FROM positions WHERE account = ?`,
			positionAccount, int64(opt.ID), positionAccount)
		if err != nil {
			return fmt.Errorf("failed to append position for %s: %w", positionAccount, err)
		}
	}

	return tx.Commit()
}

// LoadOptions returns every stored option ordered by id, verifying each checksum
func (s *SQLiteStore) LoadOptions(ctx context.Context) ([]*option.Option, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data, checksum FROM options ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read options: %w", err)
	}
	defer rows.Close()

	var out []*option.Option
	for rows.Next() {
		var (
			id       int64
			data     string
			checksum []byte
		)
		if err := rows.Scan(&id, &data, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan option row: %w", err)
		}

		computed := sha256.Sum256([]byte(data))
		if subtle.ConstantTimeCompare(computed[:], checksum) != 1 {
			return nil, fmt.Errorf("option %d: %w", id, ErrChecksumMismatch)
		}

		var opt option.Option
		if err := json.Unmarshal([]byte(data), &opt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal option %d: %w", id, err)
		}
		if opt.ID != uint64(id) {
			return nil, fmt.Errorf("option row %d holds record for id %d", id, opt.ID)
		}
		out = append(out, &opt)
	}
	return out, rows.Err()
}

// LoadPositions returns the position index in append order
func (s *SQLiteStore) LoadPositions(ctx context.Context) (map[string][]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account, option_id FROM positions ORDER BY account, seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]uint64)
	for rows.Next() {
		var (
			account string
			id      int64
		)
		if err := rows.Scan(&account, &id); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		out[account] = append(out[account], uint64(id))
	}
	return out, rows.Err()
}

// Ping checks the database connection, for health reporting
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
