// Package kvstore couples the append log with the HNSW vector index into a
// single durable key-value store: every mutation is appended to the log
// before any in-memory structure is updated, and recovery replays the log
// to rebuild both the key→offset index and the vector graph from scratch.
package kvstore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vellumdb/vellum/applog"
	"github.com/vellumdb/vellum/hnsw"
)

// Options configures a new Store.
type Options struct {
	// Dimension is the fixed vector width for vector values.
	Dimension int
	// Metric selects the HNSW distance function.
	Metric hnsw.Metric
	// M, EFConstruction, Heuristic tune the HNSW index. Zero values fall
	// back to hnsw.DefaultOptions.
	M              int
	EFConstruction int
	EFSearch       int
	Heuristic      bool

	// DurabilityMode controls the append log's fsync policy for
	// non-commit writes.
	DurabilityMode applog.DurabilityMode

	// Registerer, if non-nil, receives the store's Prometheus metrics.
	Registerer prometheus.Registerer

	// Logger receives structured lifecycle/operation events. Defaults to
	// slog.Default() if nil.
	Logger *slog.Logger
}

// Store is a single-process, single-file key-value store with a vector
// index layered on top of the same append log.
type Store struct {
	mu      sync.Mutex
	log     *applog.Log
	index   *hnsw.Index
	offsets map[string]int64 // key -> most recent INSERT offset (string and vector values)

	dimension int
	logger    *slog.Logger
	metrics   *metrics
}

// Open opens (creating if necessary) the log at path and recovers the
// store's in-memory state from it.
func Open(path string, opts Options) (*Store, error) {
	if opts.Dimension <= 0 {
		opts.Dimension = 128
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	log, err := applog.Open(path, func(o *applog.Options) {
		o.DurabilityMode = opts.DurabilityMode
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open log: %w", err)
	}

	idx := hnsw.New(opts.Dimension, func(o *hnsw.Options) {
		o.DistanceMetric = opts.Metric
		if opts.M > 0 {
			o.M = opts.M
		}
		if opts.EFConstruction > 0 {
			o.EFConstruction = opts.EFConstruction
		}
		if opts.EFSearch > 0 {
			o.EFSearch = opts.EFSearch
		}
		o.Heuristic = opts.Heuristic
	})

	s := &Store{
		log:       log,
		index:     idx,
		offsets:   make(map[string]int64),
		dimension: opts.Dimension,
		logger:    opts.Logger.With("component", "kvstore"),
	}
	s.metrics = newMetrics(opts.Registerer, func() int64 { return s.log.Size() })

	if err := s.Recover(); err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("kvstore: recover: %w", err)
	}

	return s, nil
}

// Dimension returns the store's configured vector width.
func (s *Store) Dimension() int { return s.dimension }

// Size returns the number of live vectors in the HNSW index. String-only
// keys are not counted (there is no analogous structure for them to live
// in besides the offsets map).
func (s *Store) Size() int { return s.index.Size() }

func now() uint64 { return uint64(time.Now().UnixNano()) }

// Put durably writes a string value for key under txnID and returns the
// record's log offset.
func (s *Store) Put(txnID uint64, key string, value []byte) (offset int64, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("put", err, time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	offset, err = s.log.Append(applog.Record{
		Kind:      applog.KindInsert,
		TxnID:     txnID,
		Timestamp: now(),
		Key:       []byte(key),
		Value:     value,
	})
	if err != nil {
		return 0, err
	}

	s.offsets[key] = offset
	s.logger.Debug("put", "key", key, "txn_id", txnID, "offset", offset)
	return offset, nil
}

// PutVector durably writes a vector value for key under txnID, indexing it
// in the HNSW graph, and returns the record's log offset.
func (s *Store) PutVector(txnID uint64, key string, vector []float32) (offset int64, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("put_vector", err, time.Since(start).Seconds()) }()

	if len(vector) != s.dimension {
		return 0, &hnsw.ErrDimensionMismatch{Want: s.dimension, Got: len(vector)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	offset, err = s.log.Append(applog.Record{
		Kind:      applog.KindInsert,
		TxnID:     txnID,
		Timestamp: now(),
		IsVector:  true,
		Key:       []byte(key),
		Vector:    vector,
	})
	if err != nil {
		return 0, err
	}

	if err := s.index.Upsert(key, vector, offset); err != nil {
		return 0, err
	}

	s.offsets[key] = offset
	s.logger.Debug("put_vector", "key", key, "txn_id", txnID, "offset", offset)
	return offset, nil
}

// Get returns the string value stored for key.
func (s *Store) Get(key string) (value []byte, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("get", err, time.Since(start).Seconds()) }()

	s.mu.Lock()
	offset, ok := s.offsets[key]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	rec, err := s.log.ReadAt(offset)
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	if rec.IsVector {
		return nil, ErrWrongType
	}
	return rec.Value, nil
}

// GetVector returns the vector stored for key, reading from the in-memory
// HNSW index rather than the log.
func (s *Store) GetVector(key string) (vector []float32, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("get_vector", err, time.Since(start).Seconds()) }()

	vec, _, ok := s.index.Get(key)
	if !ok {
		s.mu.Lock()
		_, isString := s.offsets[key]
		s.mu.Unlock()
		if isString {
			return nil, ErrWrongType
		}
		return nil, ErrNotFound
	}
	return vec, nil
}

// Search returns the k nearest vectors to query.
func (s *Store) Search(query []float32, k int, efSearch int) (results []hnsw.SearchResult, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("search", err, time.Since(start).Seconds()) }()
	return s.index.Search(query, k, efSearch)
}

// Exists reports whether key currently has a live value of either kind.
func (s *Store) Exists(key string) bool {
	s.mu.Lock()
	_, inOffsets := s.offsets[key]
	s.mu.Unlock()
	if inOffsets {
		return true
	}
	_, _, ok := s.index.Get(key)
	return ok
}

// Remove durably tombstones key, whichever kind of value it holds.
func (s *Store) Remove(txnID uint64, key string) (ok bool, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("remove", err, time.Since(start).Seconds()) }()

	if !s.Exists(key) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.log.Append(applog.Record{
		Kind:      applog.KindDelete,
		TxnID:     txnID,
		Timestamp: now(),
		Key:       []byte(key),
	}); err != nil {
		return false, err
	}

	delete(s.offsets, key)
	s.index.Remove(key)

	s.logger.Debug("remove", "key", key, "txn_id", txnID)
	return true, nil
}

// Commit writes a COMMIT boundary record for txnID and forces it to stable
// storage.
func (s *Store) Commit(txnID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.log.Append(applog.Record{
		Kind:      applog.KindCommit,
		TxnID:     txnID,
		Timestamp: now(),
	}); err != nil {
		return fmt.Errorf("kvstore: commit %d: %w", txnID, err)
	}
	if err := s.log.Sync(); err != nil {
		return fmt.Errorf("kvstore: commit %d: sync: %w", txnID, err)
	}

	s.logger.Info("committed", "txn_id", txnID)
	return nil
}

// Recover rebuilds the offsets map and the HNSW index by replaying the log
// from the start. Unlike the reference implementation this replay, it uses
// the true byte offset the log iterator reports for each record, never an
// assumed fixed stride, so offsets recorded during recovery are exactly the
// ones ReadAt needs later.
func (s *Store) Recover() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offsets = make(map[string]int64)

	var replayed int
	err := s.log.Iterate(func(offset int64, rec applog.Record) error {
		key := string(rec.Key)
		switch rec.Kind {
		case applog.KindInsert:
			s.offsets[key] = offset
			if rec.IsVector {
				if err := s.index.Upsert(key, rec.Vector, offset); err != nil {
					return fmt.Errorf("recover: reinsert %q: %w", key, err)
				}
			}
		case applog.KindDelete:
			delete(s.offsets, key)
			s.index.Remove(key)
		case applog.KindCommit, applog.KindCheckpoint:
			// No index state to rebuild for these record kinds.
		}
		replayed++
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("recovered", "records", replayed, "keys", len(s.offsets))
	return nil
}

// Close closes the underlying log.
func (s *Store) Close() error {
	return s.log.Close()
}
