package driver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

const createDocuments = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT    NOT NULL,
	id_type    INTEGER NOT NULL,
	id         BLOB    NOT NULL,
	body       BLOB    NOT NULL,
	PRIMARY KEY (collection, id_type, id)
) WITHOUT ROWID`

const (
	selectDocument = `SELECT body FROM documents WHERE collection = ? AND id_type = ? AND id = ?`
	upsertDocument = `INSERT INTO documents (collection, id_type, id, body) VALUES (?, ?, ?, ?)
ON CONFLICT (collection, id_type, id) DO UPDATE SET body = excluded.body`
	deleteDocument  = `DELETE FROM documents WHERE collection = ? AND id_type = ? AND id = ?`
	countDocuments  = `SELECT COUNT(*) FROM documents WHERE collection = ?`
	listCollections = `SELECT DISTINCT collection FROM documents ORDER BY collection`
)

// SQLiteStore keeps documents in a single SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
}

// OpenSQLite opens or creates the database at path and ensures the
// documents table exists. Use ":memory:" for a private in-memory database.
func OpenSQLite(path string, opts *Options) (*SQLiteStore, error) {
	if opts == nil {
		opts = NewOptions()
	}
	memory := path == ":memory:"

	db, err := sql.Open("sqlite", sqliteDSN(path, memory, opts))
	if err != nil {
		return nil, errors.Wrapf(err, "driver: opening %s", path)
	}
	switch {
	case memory:
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	case opts.maxConns > 0:
		db.SetMaxOpenConns(opts.maxConns)
	}

	if _, err := db.Exec(createDocuments); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "driver: initializing %s", path)
	}

	log := opts.logger.WithField("store", "sqlite")
	log.WithField("path", path).Debug("opened document store")
	return &SQLiteStore{db: db, path: path, log: log}, nil
}

func sqliteDSN(path string, memory bool, opts *Options) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.busyTimeout.Milliseconds()))
	if !memory && opts.journalMode != "" {
		q.Add("_pragma", fmt.Sprintf("journal_mode(%s)", strings.ToUpper(opts.journalMode)))
	}
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

// querier is the subset of *sql.DB and *sql.Tx the document statements use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) acquire() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

func (s *SQLiteStore) Fetch(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	return fetchDocument(ctx, s.db, collection, id)
}

func (s *SQLiteStore) Put(ctx context.Context, collection string, id bson.RawValue, doc bson.Raw) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()
	return putDocument(ctx, s.db, collection, id, doc)
}

func (s *SQLiteStore) Delete(ctx context.Context, collection string, id bson.RawValue) (bool, error) {
	if err := s.acquire(); err != nil {
		return false, err
	}
	defer s.mu.RUnlock()
	return deleteDocumentByID(ctx, s.db, collection, id)
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	if err := s.acquire(); err != nil {
		return 0, err
	}
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRowContext(ctx, countDocuments, collection).Scan(&n); err != nil {
		return 0, storeError("count", collection, err)
	}
	return n, nil
}

// Collections lists the non-empty collections in name order.
func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, listCollections)
	if err != nil {
		return nil, storeError("collections", "", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storeError("collections", "", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("collections", "", err)
	}
	return names, nil
}

// Close closes the database. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return errors.Wrapf(err, "driver: closing %s", s.path)
	}
	s.log.WithField("path", s.path).Debug("closed document store")
	return nil
}

// --- Statements ---

func fetchDocument(ctx context.Context, q querier, collection string, id bson.RawValue) (bson.Raw, error) {
	key, err := keyOf(id)
	if err != nil {
		return nil, storeError("fetch", collection, err)
	}
	var body []byte
	err = q.QueryRowContext(ctx, selectDocument, collection, key.IDType, []byte(key.ID)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("fetch", collection, err)
	}
	return bson.Raw(body), nil
}

func putDocument(ctx context.Context, q querier, collection string, id bson.RawValue, doc bson.Raw) error {
	key, err := keyOf(id)
	if err != nil {
		return storeError("put", collection, err)
	}
	if err := doc.Validate(); err != nil {
		return storeError("put", collection, err)
	}
	if _, err := q.ExecContext(ctx, upsertDocument, collection, key.IDType, []byte(key.ID), []byte(doc)); err != nil {
		return storeError("put", collection, err)
	}
	return nil
}

func deleteDocumentByID(ctx context.Context, q querier, collection string, id bson.RawValue) (bool, error) {
	key, err := keyOf(id)
	if err != nil {
		return false, storeError("delete", collection, err)
	}
	res, err := q.ExecContext(ctx, deleteDocument, collection, key.IDType, []byte(key.ID))
	if err != nil {
		return false, storeError("delete", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeError("delete", collection, err)
	}
	return n > 0, nil
}
