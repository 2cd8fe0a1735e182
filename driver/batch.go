package driver

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Batch groups SQLite writes into one transaction. Reads through a batch
// see its own uncommitted writes. A batch must be finished with Commit or
// Rollback; Close rolls back one that is still open.
type Batch struct {
	store *SQLiteStore
	tx    *sql.Tx
	mu    sync.Mutex
}

// Begin starts a batch.
func (s *SQLiteStore) Begin(ctx context.Context) (*Batch, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeError("begin", "", err)
	}
	return &Batch{store: s, tx: tx}, nil
}

// IsOpen reports whether the batch can still be used.
func (b *Batch) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tx != nil
}

func (b *Batch) Fetch(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx == nil {
		return nil, ErrClosed
	}
	return fetchDocument(ctx, b.tx, collection, id)
}

func (b *Batch) Put(ctx context.Context, collection string, id bson.RawValue, doc bson.Raw) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx == nil {
		return ErrClosed
	}
	return putDocument(ctx, b.tx, collection, id, doc)
}

func (b *Batch) Delete(ctx context.Context, collection string, id bson.RawValue) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx == nil {
		return false, ErrClosed
	}
	return deleteDocumentByID(ctx, b.tx, collection, id)
}

// Commit applies every write in the batch. The batch is closed afterwards
// whether or not the commit succeeds.
func (b *Batch) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx == nil {
		return ErrClosed
	}
	tx := b.tx
	b.tx = nil
	if err := tx.Commit(); err != nil {
		return storeError("commit", "", err)
	}
	return nil
}

// Rollback discards every write in the batch and closes it.
func (b *Batch) Rollback() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx == nil {
		return ErrClosed
	}
	tx := b.tx
	b.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return storeError("rollback", "", err)
	}
	return nil
}

// Close rolls back the batch if it is still open.
func (b *Batch) Close() {
	if err := b.Rollback(); err != nil && !errors.Is(err, ErrClosed) {
		b.store.log.WithError(err).Warn("rolling back unfinished batch")
	}
}
