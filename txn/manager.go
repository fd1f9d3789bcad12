// Package txn implements ACID transactions over a kvstore.Store, using
// strict two-phase locking (via the lock package) for isolation: every key
// a transaction touches is locked on first access and all locks are
// released together at commit or rollback.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vellumdb/vellum/applog"
	"github.com/vellumdb/vellum/hnsw"
	"github.com/vellumdb/vellum/kvstore"
	"github.com/vellumdb/vellum/lock"
)

// State is a transaction's lifecycle stage.
type State int

const (
	// Active transactions may still read, write, and remove.
	Active State = iota
	// Committed transactions have durably applied their write set.
	Committed
	// Aborted transactions have discarded their write set.
	Aborted
)

// Transaction is the manager's bookkeeping record for one in-flight
// transaction. Writes are buffered here and only reach the store at
// commit time; removes are applied immediately (see Manager.Remove).
type Transaction struct {
	ID         uint64
	State      State
	writeSet   map[string]Value
	writeOrder []string
}

// Manager coordinates transactions against a single kvstore.Store.
type Manager struct {
	mu     sync.Mutex
	store  *kvstore.Store
	locks  *lock.Manager
	txns   map[uint64]*Transaction
	nextID uint64
	logger *slog.Logger
	audit  *applog.AuditLog
}

// New creates a Manager over store. If logger is nil, slog.Default() is used.
func New(store *kvstore.Store, logger *slog.Logger, optFns ...func(*Manager)) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		locks:  lock.New(),
		txns:   make(map[uint64]*Transaction),
		nextID: 1,
		logger: logger.With("component", "txn"),
	}
	for _, fn := range optFns {
		fn(m)
	}
	return m
}

// WithAuditLog attaches a compressed, iterate-only audit trail: every
// successful Commit also appends a KindCommit record to audit, independent
// of and in addition to the store's own primary append log. A failure to
// write the audit record never fails the commit itself — it is a secondary,
// best-effort trail, not part of the durability contract — but it is logged.
func WithAuditLog(audit *applog.AuditLog) func(*Manager) {
	return func(m *Manager) { m.audit = audit }
}

// Begin starts a new ACTIVE transaction and returns its id. Ids increase
// monotonically and are never reused.
func (m *Manager) Begin() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.txns[id] = &Transaction{ID: id, State: Active, writeSet: make(map[string]Value)}
	m.logger.Debug("begin", "txn_id", id)
	return id
}

func (m *Manager) getActive(txnID uint64) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[txnID]
	if !ok {
		return nil, ErrUnknownTransaction
	}
	if t.State != Active {
		return nil, ErrNotActive
	}
	return t, nil
}

// Read returns the current value of key as seen by txnID: its own pending
// write if one exists (read-your-own-writes), otherwise the durable value
// in the store. It acquires a shared lock on key first.
func (m *Manager) Read(ctx context.Context, txnID uint64, key string) (Value, error) {
	t, err := m.getActive(txnID)
	if err != nil {
		return Value{}, err
	}

	if err := m.locks.Acquire(ctx, txnID, key, lock.Shared); err != nil {
		return Value{}, fmt.Errorf("txn: read %q: %w", key, err)
	}

	m.mu.Lock()
	if v, ok := t.writeSet[key]; ok {
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	if b, err := m.store.Get(key); err == nil {
		return StringValue(b), nil
	} else if !errors.Is(err, kvstore.ErrWrongType) {
		return Value{}, err
	}

	v, err := m.store.GetVector(key)
	if err != nil {
		return Value{}, err
	}
	return VectorValue(v), nil
}

// Write acquires an exclusive lock on key and buffers value into the
// transaction's write set; it is not durably applied until Commit.
func (m *Manager) Write(ctx context.Context, txnID uint64, key string, value Value) error {
	t, err := m.getActive(txnID)
	if err != nil {
		return err
	}

	if err := m.locks.Acquire(ctx, txnID, key, lock.Exclusive); err != nil {
		return fmt.Errorf("txn: write %q: %w", key, err)
	}

	m.mu.Lock()
	if _, exists := t.writeSet[key]; !exists {
		t.writeOrder = append(t.writeOrder, key)
	}
	t.writeSet[key] = value
	m.mu.Unlock()

	return nil
}

// Remove acquires an exclusive lock on key and deletes it from the store
// immediately, rather than deferring through the write set the way Write
// does. This mirrors the reference transaction manager's asymmetry: a
// remove must be visible to any other transaction waiting on the same
// exclusive lock queue as soon as this one releases it at commit time, and
// deferring deletion through the (key, Value) write-set entries would need
// a distinct tombstone marker there with no natural representation.
func (m *Manager) Remove(ctx context.Context, txnID uint64, key string) error {
	_, err := m.getActive(txnID)
	if err != nil {
		return err
	}

	if err := m.locks.Acquire(ctx, txnID, key, lock.Exclusive); err != nil {
		return fmt.Errorf("txn: remove %q: %w", key, err)
	}

	m.mu.Lock()
	if t, ok := m.txns[txnID]; ok {
		delete(t.writeSet, key)
	}
	m.mu.Unlock()

	removed, err := m.store.Remove(txnID, key)
	if err != nil {
		return err
	}
	if !removed {
		return kvstore.ErrNotFound
	}
	return nil
}

// Search returns the k nearest vectors to query from the store's live HNSW
// index. It bypasses the lock manager: search reads committed graph state
// directly and is not part of any transaction's isolation scope.
func (m *Manager) Search(query []float32, k int) ([]hnsw.SearchResult, error) {
	return m.store.Search(query, k, 0)
}

// Commit applies the transaction's buffered write set to the store, writes
// a COMMIT boundary record, releases all of its locks, and forgets the
// transaction.
func (m *Manager) Commit(txnID uint64) error {
	t, err := m.getActive(txnID)
	if err != nil {
		return err
	}

	for _, key := range t.writeOrder {
		v := t.writeSet[key]
		var err error
		switch v.Kind {
		case KindVector:
			_, err = m.store.PutVector(txnID, key, v.Vector)
		default:
			_, err = m.store.Put(txnID, key, v.String)
		}
		if err != nil {
			return fmt.Errorf("txn: commit %d: apply %q: %w", txnID, key, err)
		}
	}

	if err := m.store.Commit(txnID); err != nil {
		return fmt.Errorf("txn: commit %d: %w", txnID, err)
	}

	m.mu.Lock()
	t.State = Committed
	delete(m.txns, txnID)
	m.mu.Unlock()

	m.locks.ReleaseAll(txnID)
	m.logger.Info("committed", "txn_id", txnID, "writes", len(t.writeOrder))

	if m.audit != nil {
		rec := applog.Record{Kind: applog.KindCommit, TxnID: txnID, Timestamp: uint64(time.Now().UnixNano())}
		if err := m.audit.Append(rec); err != nil {
			m.logger.Warn("audit log append failed", "txn_id", txnID, "error", err)
		}
	}
	return nil
}

// Rollback discards the transaction's write set, releases all of its
// locks, and forgets the transaction. Removes already applied by Remove
// are not undone — see Manager.Remove's documentation.
func (m *Manager) Rollback(txnID uint64) error {
	m.mu.Lock()
	t, ok := m.txns[txnID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownTransaction
	}
	if t.State != Active {
		m.mu.Unlock()
		return ErrNotActive
	}
	t.State = Aborted
	delete(m.txns, txnID)
	m.mu.Unlock()

	m.locks.ReleaseAll(txnID)
	m.logger.Info("rolled back", "txn_id", txnID)
	return nil
}
