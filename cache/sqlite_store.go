package cache

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by BlobStore.Read when no blob exists for
// the given (namespace, key).
var ErrNotFound = errors.New("cache: blob not found")

// SQLiteBlobStore backs the message cache's optional persistent
// mirror (spec §6 persistent_storage) with a single table in a
// cgo-free SQLite database, the way daviddao-clockmail opens its
// store with modernc.org/sqlite through database/sql.
type SQLiteBlobStore struct {
	db *sql.DB
}

// OpenSQLiteBlobStore opens (creating if absent) the blob store at
// path and ensures its schema exists.
func OpenSQLiteBlobStore(path string) (*SQLiteBlobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening sqlite blob store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: pinging sqlite blob store: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	namespace TEXT NOT NULL,
	key       BLOB NOT NULL,
	data      BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating blob store schema: %w", err)
	}

	return &SQLiteBlobStore{db: db}, nil
}

func (s *SQLiteBlobStore) Close() error { return s.db.Close() }

func (s *SQLiteBlobStore) Write(namespace string, key []byte, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO blobs (namespace, key, data) VALUES (?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET data = excluded.data`,
		namespace, key, data)
	return err
}

func (s *SQLiteBlobStore) Read(namespace string, key []byte) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM blobs WHERE namespace = ? AND key = ?`, namespace, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *SQLiteBlobStore) Remove(namespace string, key []byte) error {
	_, err := s.db.Exec(`DELETE FROM blobs WHERE namespace = ? AND key = ?`, namespace, key)
	return err
}

func (s *SQLiteBlobStore) Iterate(namespace string, cb func(key, data []byte) error) error {
	rows, err := s.db.Query(`SELECT key, data FROM blobs WHERE namespace = ?`, namespace)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return err
		}
		if err := cb(key, data); err != nil {
			return err
		}
	}
	return rows.Err()
}
