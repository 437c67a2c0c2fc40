package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by every backend when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// ErrTxnClosed is returned when a transaction is used after Commit or Discard.
var ErrTxnClosed = errors.New("storage: transaction closed")

// Database is a generic interface for a key-value store.
// This allows the engine to use any database backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	// Begin opens a write transaction. Only one transaction may be open at a
	// time; Begin blocks until the previous one commits or is discarded.
	Begin() (Txn, error)
	Close() // A way to gracefully shut down the database connection.
}

// Txn is a unit of work against a Database. Reads observe the transaction's
// own writes; nothing becomes visible to other readers until Commit.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Commit() error
	// Discard drops all buffered writes. It is safe to call after Commit.
	Discard()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Begin opens a buffered transaction over the in-memory map.
func (db *MemDB) Begin() (Txn, error) {
	db.txMu.Lock()
	return &memTxn{db: db, writes: make(map[string][]byte)}, nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

type memTxn struct {
	db     *MemDB
	writes map[string][]byte
	closed bool
}

func (t *memTxn) Get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	if value, ok := t.writes[string(key)]; ok {
		return append([]byte(nil), value...), nil
	}
	return t.db.Get(key)
}

func (t *memTxn) Put(key []byte, value []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	t.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (t *memTxn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}
	t.db.mu.Lock()
	for k, v := range t.writes {
		t.db.data[k] = v
	}
	t.db.mu.Unlock()
	t.release()
	return nil
}

func (t *memTxn) Discard() {
	if t.closed {
		return
	}
	t.release()
}

func (t *memTxn) release() {
	t.closed = true
	t.writes = nil
	t.db.txMu.Unlock()
}

// --- Persistent DB (for production) ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Begin opens a LevelDB transaction. LevelDB allows a single open
// transaction and blocks concurrent writers until it is closed.
func (ldb *LevelDB) Begin() (Txn, error) {
	tx, err := ldb.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &levelTxn{tx: tx}, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}

type levelTxn struct {
	tx     *leveldb.Transaction
	closed bool
}

func (t *levelTxn) Get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	value, err := t.tx.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (t *levelTxn) Put(key []byte, value []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	return t.tx.Put(key, value, nil)
}

func (t *levelTxn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true
	return t.tx.Commit()
}

func (t *levelTxn) Discard() {
	if t.closed {
		return
	}
	t.closed = true
	t.tx.Discard()
}
