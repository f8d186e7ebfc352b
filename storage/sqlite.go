package storage

import (
	"database/sql"
	"encoding/json"
	"strings"

	_ "modernc.org/sqlite"

	"trustcore/errkit"
)

// SQLiteDB opens (and schema-migrates) the single ledger.db file backing
// WEB4_BACKEND=native. The write-ahead log is enabled so the governance
// ledger, identity store, and trust engine can each hold their own
// connection-level locking discipline while sharing one file, per
// SPEC_FULL.md §6.2.
func SQLiteDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errkit.Wrap(errkit.CorruptState, "open ledger.db", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_store (
			k TEXT PRIMARY KEY,
			v BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			seed_hash TEXT NOT NULL,
			action_budget INTEGER NOT NULL,
			actions_taken INTEGER NOT NULL DEFAULT 0,
			active_policy_entity_id TEXT,
			last_record_hash TEXT NOT NULL,
			last_timestamp_ms INTEGER NOT NULL DEFAULT 0,
			closed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS session_sequence (
			project TEXT PRIMARY KEY,
			next_number INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS audit_trail (
			session_id TEXT NOT NULL,
			action_index INTEGER NOT NULL,
			record_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			category TEXT NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			provenance_hash TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (session_id, action_index)
		)`,
		`CREATE TABLE IF NOT EXISTS heartbeats (
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			jitter_ms INTEGER NOT NULL,
			PRIMARY KEY (session_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS identities (
			lct_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS work_products (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			action_index INTEGER NOT NULL,
			output_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errkit.Wrap(errkit.CorruptState, "migrate ledger.db", err)
		}
	}
	return nil
}

// SQLiteKV adapts the shared kv_store table to the KV interface, used by
// the identity, trust and ledger components when WEB4_BACKEND=native.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV wraps an already-migrated ledger.db handle.
func NewSQLiteKV(db *sql.DB) *SQLiteKV {
	return &SQLiteKV{db: db}
}

func (s *SQLiteKV) Get(key string, out any) (bool, error) {
	row := s.db.QueryRow(`SELECT v FROM kv_store WHERE k = ?`, key)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, errkit.Wrap(errkit.CorruptState, "read "+key, err)
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errkit.Wrap(errkit.CorruptState, "decode "+key, err)
	}
	return true, nil
}

func (s *SQLiteKV) Put(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errkit.Wrap(errkit.InvalidInput, "encode "+key, err)
	}
	_, err = s.db.Exec(`INSERT INTO kv_store (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, raw)
	if err != nil {
		return errkit.Wrap(errkit.CorruptState, "write "+key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv_store WHERE k = ?`, key); err != nil {
		return errkit.Wrap(errkit.CorruptState, "delete "+key, err)
	}
	return nil
}

func (s *SQLiteKV) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT k FROM kv_store WHERE k LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, errkit.Wrap(errkit.CorruptState, "scan keys", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errkit.Wrap(errkit.CorruptState, "scan key", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// NextSequence implements atomic per-project session numbering against the
// session_sequence table: a single transaction upserts the counter and
// reads back the new value, so concurrent governd instances sharing one
// ledger.db never hand out the same number twice.
func (s *SQLiteKV) NextSequence(scope string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, errkit.Wrap(errkit.CorruptState, "begin sequence tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO session_sequence (project, next_number) VALUES (?, 1)
		ON CONFLICT(project) DO UPDATE SET next_number = next_number + 1`, scope); err != nil {
		return 0, errkit.Wrap(errkit.CorruptState, "advance sequence "+scope, err)
	}
	var next int64
	row := tx.QueryRow(`SELECT next_number FROM session_sequence WHERE project = ?`, scope)
	if err := row.Scan(&next); err != nil {
		return 0, errkit.Wrap(errkit.CorruptState, "read sequence "+scope, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errkit.Wrap(errkit.CorruptState, "commit sequence tx", err)
	}
	return next, nil
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
