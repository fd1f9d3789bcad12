package applog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// AuditLog is a write-once, iterate-only append log for archival trails —
// e.g. a secondary record of every committed transaction, kept alongside
// the primary Log for long-term retention. Unlike Log, it streams its
// frames through a zstd compressor, which is why it gives up ReadAt's
// random-access offset contract: a compressed stream has no stable byte
// offsets to seek to, so AuditLog only supports sequential replay via
// IterateAuditLog.
type AuditLog struct {
	mu     sync.Mutex
	file   *os.File
	zw     *zstd.Encoder
	closed bool
	logger *slog.Logger
}

// OpenAudit opens (creating if necessary) a compressed audit log at path,
// positioned to append after any records it already holds.
func OpenAudit(path string) (*AuditLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("applog: open audit log %s: %w", path, err)
	}

	zw, err := zstd.NewWriter(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("applog: audit log encoder: %w", err)
	}

	return &AuditLog{
		file:   file,
		zw:     zw,
		logger: slog.Default().With("component", "applog.audit", "path", path),
	}, nil
}

// Append compresses and writes rec to the audit stream. It does not return
// an offset: audit frames are not individually addressable.
func (a *AuditLog) Append(rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if _, err := a.zw.Write(encode(rec)); err != nil {
		return fmt.Errorf("applog: audit append: %w", err)
	}
	// Flush (not Close) after each record so a reader can replay everything
	// written so far even if the process is killed before the next Append.
	return a.zw.Flush()
}

// Close flushes the compressor and closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if err := a.zw.Close(); err != nil {
		_ = a.file.Close()
		return err
	}
	return a.file.Close()
}

// IterateAuditLog decompresses and replays every frame written to the audit
// log at path, in order, calling fn for each. A missing file is treated as
// an empty log rather than an error.
func IterateAuditLog(path string, fn func(rec Record) error) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("applog: open audit log %s: %w", path, err)
	}
	defer file.Close()

	zr, err := zstd.NewReader(bufio.NewReader(file))
	if err != nil {
		return fmt.Errorf("applog: audit log decoder: %w", err)
	}
	defer zr.Close()

	for {
		rec, err := decode(zr)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Partial trailing frame: logical end, same convention as Log.Iterate.
			return nil
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
