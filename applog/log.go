// Package applog implements the append-only write-ahead log that backs the
// key-value store: a sequence of fixed-layout binary frames, each addressed
// by the stable byte offset of its first byte.
package applog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Log is an append-only binary log. All methods are safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	size   int64
	closed bool

	logger *slog.Logger

	durabilityMode      DurabilityMode
	groupCommitInterval time.Duration
	groupCommitMaxOps   int
	groupCommitPending  int
	groupCommitTicker   *time.Ticker
	groupCommitStopCh   chan struct{}
	groupCommitWg       sync.WaitGroup
	syncCond            *sync.Cond
	persistedSize       int64
}

// Open opens (or creates) the log file at path and positions it for
// appending after whatever records it already contains.
func Open(path string, optFns ...func(*Options)) (*Log, error) {
	opts := DefaultOptions
	opts.Path = path
	for _, fn := range optFns {
		fn(&opts)
	}

	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("applog: open %s: %w", opts.Path, err)
	}

	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("applog: stat %s: %w", opts.Path, err)
	}

	l := &Log{
		file:                file,
		size:                st.Size(),
		persistedSize:       st.Size(),
		logger:              slog.Default().With("component", "applog", "path", opts.Path),
		durabilityMode:      opts.DurabilityMode,
		groupCommitInterval: opts.GroupCommitInterval,
		groupCommitMaxOps:   opts.GroupCommitMaxOps,
	}
	l.writer = bufio.NewWriter(file)
	l.syncCond = sync.NewCond(&l.mu)

	if _, err := file.Seek(st.Size(), io.SeekStart); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("applog: seek %s: %w", opts.Path, err)
	}

	if l.durabilityMode == DurabilityGroupCommit && l.groupCommitInterval > 0 {
		l.groupCommitStopCh = make(chan struct{})
		l.groupCommitTicker = time.NewTicker(l.groupCommitInterval)
		l.groupCommitWg.Add(1)
		go l.groupCommitWorker()
	}

	l.logger.Info("opened log", "size", st.Size())

	return l, nil
}

// Append writes rec to the end of the log and returns the byte offset of its
// first byte. The offset is stable for the lifetime of the file.
func (l *Log) Append(rec Record) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	offset := l.size
	frame := encode(rec)

	if _, err := l.writer.Write(frame); err != nil {
		return 0, fmt.Errorf("applog: append: %w", err)
	}
	l.size += int64(len(frame))

	if err := l.writer.Flush(); err != nil {
		return 0, fmt.Errorf("applog: flush: %w", err)
	}

	if err := l.syncLocked(); err != nil {
		return 0, err
	}

	l.logger.Debug("appended record", "kind", rec.Kind.String(), "offset", offset, "txn_id", rec.TxnID)

	return offset, nil
}

// syncLocked applies the configured durability policy. Caller must hold l.mu.
func (l *Log) syncLocked() error {
	switch l.durabilityMode {
	case DurabilitySync:
		return l.file.Sync()

	case DurabilityGroupCommit:
		l.groupCommitPending++
		target := l.size

		if l.groupCommitPending >= l.groupCommitMaxOps {
			return l.doGroupCommitLocked()
		}
		for l.persistedSize < target {
			l.syncCond.Wait()
		}
		return nil

	default:
		return nil
	}
}

func (l *Log) doGroupCommitLocked() error {
	if l.groupCommitPending == 0 {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	l.groupCommitPending = 0
	l.persistedSize = l.size
	l.syncCond.Broadcast()
	return nil
}

func (l *Log) groupCommitWorker() {
	defer l.groupCommitWg.Done()
	for {
		select {
		case <-l.groupCommitTicker.C:
			l.mu.Lock()
			_ = l.doGroupCommitLocked()
			l.mu.Unlock()
		case <-l.groupCommitStopCh:
			return
		}
	}
}

// ReadAt reads the single frame whose first byte is at offset.
func (l *Log) ReadAt(offset int64) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Record{}, ErrClosed
	}
	if offset < 0 || offset >= l.size {
		return Record{}, ErrInvalidOffset
	}

	sr := io.NewSectionReader(l.file, offset, l.size-offset)
	rec, err := decode(sr)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidOffset, err)
	}
	return rec, nil
}

// Iterate calls fn once for every record in the log, in file order, passing
// each record's true byte offset. A short/partial trailing frame (the result
// of a process crash mid-append) is treated as the logical end of the log,
// not an error. Iterate stops and returns fn's error if fn returns one.
func (l *Log) Iterate(fn func(offset int64, rec Record) error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	size := l.size
	l.mu.Unlock()

	sr := io.NewSectionReader(l.file, 0, size)
	cr := &countingReader{r: sr}
	for {
		offset := cr.n
		rec, err := decode(cr)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Partial frame at EOF: logical end of file, not an error.
			return nil
		}
		if err := fn(offset, rec); err != nil {
			return err
		}
	}
}

// countingReader tracks the true number of bytes consumed so Iterate can
// report each record's real byte offset, instead of an approximated stride.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Sync forces any buffered data to stable storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.doGroupCommitOrSyncLocked()
}

func (l *Log) doGroupCommitOrSyncLocked() error {
	if l.durabilityMode == DurabilityGroupCommit {
		return l.doGroupCommitLocked()
	}
	return l.file.Sync()
}

// Checkpoint flushes the log and advises that records before the current
// end may become eligible for truncation by an out-of-band compaction
// process. It does not itself truncate anything.
func (l *Log) Checkpoint(txnID uint64, timestamp uint64) (int64, error) {
	offset, err := l.Append(Record{Kind: KindCheckpoint, TxnID: txnID, Timestamp: timestamp})
	if err != nil {
		return 0, err
	}
	l.logger.Info("checkpoint", "offset", offset)
	return offset, nil
}

// Size returns the current length of the log in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Close stops any background workers and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.groupCommitStopCh != nil {
		close(l.groupCommitStopCh)
	}
	if l.groupCommitTicker != nil {
		l.groupCommitTicker.Stop()
	}
	err := l.writer.Flush()
	l.mu.Unlock()

	l.groupCommitWg.Wait()

	if err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
