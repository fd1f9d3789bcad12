// Package logging builds the process-wide structured logger, adapting the
// slog.Logger wrapper style from the vecgo example to vellum's operations
// (connections, transactions, consensus rounds, recovery).
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with vellum-specific helpers so call sites log
// consistent field names instead of hand-building attrs each time.
type Logger struct {
	*slog.Logger
}

// New builds a Logger for the given format ("json" or "text") and level,
// writing to stdout. Any other format falls back to text.
func New(format string, level slog.Level) *Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Noop returns a Logger that discards everything, for tests that don't
// care about log output.
func Noop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.Level(1000)}))}
}

// LogConnectionOpened logs a new client connection.
func (l *Logger) LogConnectionOpened(ctx context.Context, remote string) {
	l.DebugContext(ctx, "connection opened", "remote", remote)
}

// LogConnectionClosed logs a client connection ending, successfully or not.
func (l *Logger) LogConnectionClosed(ctx context.Context, remote string, err error) {
	if err != nil {
		l.DebugContext(ctx, "connection ended", "remote", remote, "error", err)
		return
	}
	l.DebugContext(ctx, "connection closed", "remote", remote)
}

// LogTransaction logs a transaction boundary (commit or rollback).
func (l *Logger) LogTransaction(ctx context.Context, txnID uint64, outcome string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "transaction "+outcome+" failed", "txn_id", txnID, "error", err)
		return
	}
	l.InfoContext(ctx, "transaction "+outcome, "txn_id", txnID)
}

// LogCasRound logs the outcome of a CAS-Paxos round for key.
func (l *Logger) LogCasRound(ctx context.Context, key string, committed bool, err error) {
	if err != nil {
		l.WarnContext(ctx, "cas round failed", "key", key, "error", err)
		return
	}
	l.DebugContext(ctx, "cas round finished", "key", key, "committed", committed)
}

// LogRecovery logs the result of replaying the append log at startup.
// keysRecovered is the number of live keys present after replay.
func (l *Logger) LogRecovery(ctx context.Context, keysRecovered int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "log recovery failed", "keys_recovered", keysRecovered, "error", err)
		return
	}
	l.InfoContext(ctx, "log recovery completed", "keys_recovered", keysRecovered)
}
