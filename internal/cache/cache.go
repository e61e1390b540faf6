// Package cache persists scan results between compiler runs.
//
// The discovery scan of a method only produces a journal of side effects
// (types used, strings interned, globals touched, functions referenced),
// so its outcome can be stored keyed by the content hash of the class file
// and replayed on the next run. The cache is purely an accelerator: a miss,
// a corrupt entry or a failed open never fails the compilation.
package cache

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/wasmlift/wasmlift/internal/compiler"
)

// Store is a sqlite-backed scan cache.
type Store struct {
	db *sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening scan cache: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring scan cache: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS scan_results (
		class_sum TEXT NOT NULL,
		method    TEXT NOT NULL,
		record    BLOB NOT NULL,
		PRIMARY KEY (class_sum, method)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating scan cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get looks up the journaled scan of one method. A decode failure counts as
// a miss; the entry gets overwritten by the Put that follows the rescan.
func (s *Store) Get(classSum, method string) (*compiler.ScanRecord, bool) {
	var blob []byte
	err := s.db.QueryRow(
		"SELECT record FROM scan_results WHERE class_sum = ? AND method = ?",
		classSum, method,
	).Scan(&blob)
	if err != nil {
		// a read failure of any kind is a miss
		return nil, false
	}

	var rec compiler.ScanRecord
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&rec); err != nil {
		return nil, false
	}
	return &rec, true
}

// Put stores the journaled scan of one method.
func (s *Store) Put(classSum, method string, rec *compiler.ScanRecord) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return
	}
	s.db.Exec(
		"INSERT OR REPLACE INTO scan_results (class_sum, method, record) VALUES (?, ?, ?)",
		classSum, method, buf.Bytes(),
	)
}

var _ compiler.ScanCache = (*Store)(nil)
