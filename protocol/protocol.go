// Package protocol implements the line-oriented TCP command protocol:
// GET/SET/INSERT/DELETE/SEARCH/BEGIN/COMMIT/ROLLBACK/CAS/QUIT over
// CRLF-terminated ASCII, one transaction per connection.
package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/vellumdb/vellum/paxos"
	"github.com/vellumdb/vellum/txn"
)

// Banner is written once, on connect, before the first command is read.
const Banner = "Vellum v1.0 - Ready"

// Session drives a single client connection: it owns that connection's
// transaction (if any) and translates wire commands into calls against the
// shared transaction manager and, if enabled, the CAS-Paxos engine.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	txns   *txn.Manager
	paxos  *paxos.Engine
	logger *slog.Logger

	currentTxnID  uint64
	inTransaction bool
}

// NewSession wraps conn for command processing. paxosEngine may be nil, in
// which case CAS is rejected.
func NewSession(conn net.Conn, txns *txn.Manager, paxosEngine *paxos.Engine, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		txns:   txns,
		paxos:  paxosEngine,
		logger: logger.With("component", "protocol", "remote", conn.RemoteAddr()),
	}
}

// Serve reads and dispatches commands until the client disconnects, sends
// QUIT, or ctx is cancelled. A transaction left open at exit is rolled
// back.
func (s *Session) Serve(ctx context.Context) error {
	defer s.closeTransaction()
	defer s.conn.Close()

	if err := s.writeLine(Banner); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line, err := s.readLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if line == "" || line == "QUIT" {
			return nil
		}

		response := s.dispatch(ctx, line)
		if err := s.writeLine(response); err != nil {
			return err
		}
	}
}

func (s *Session) closeTransaction() {
	if s.inTransaction {
		_ = s.txns.Rollback(s.currentTxnID)
		s.inTransaction = false
	}
}

// readLine reads up to and including '\n', stripping every '\r' in the
// line (not only a trailing one), matching the original's byte-at-a-time
// reader.
func (s *Session) readLine() (string, error) {
	var b strings.Builder
	for {
		c, err := s.reader.ReadByte()
		if err != nil {
			if err == io.EOF && b.Len() > 0 {
				return b.String(), nil
			}
			return "", err
		}
		if c == '\n' {
			break
		}
		if c != '\r' {
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func (s *Session) writeLine(line string) error {
	_, err := s.conn.Write([]byte(line + "\r\n"))
	return err
}

func (s *Session) dispatch(ctx context.Context, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERROR: Unknown command"
	}
	cmd := strings.ToUpper(fields[0])

	switch cmd {
	case "GET":
		if len(fields) < 2 {
			return "ERROR: GET requires a key"
		}
		return s.handleGet(ctx, fields[1])
	case "SET":
		if len(fields) < 2 {
			return "ERROR: SET requires a key"
		}
		key, value, ok := keyAndRest(line)
		if !ok {
			return "ERROR: SET requires a key"
		}
		return s.handleSet(ctx, key, value)
	case "INSERT":
		if len(fields) != 3 {
			return "ERROR: INSERT requires a key and a vector literal"
		}
		return s.handleInsert(ctx, fields[1], fields[2])
	case "DELETE":
		if len(fields) < 2 {
			return "ERROR: DELETE requires a key"
		}
		return s.handleDelete(ctx, fields[1])
	case "SEARCH":
		return s.handleSearch(fields)
	case "BEGIN":
		return s.handleBegin()
	case "COMMIT":
		return s.handleCommit()
	case "ROLLBACK":
		return s.handleRollback()
	case "CAS":
		if len(fields) != 4 {
			return "ERROR: CAS requires <key> <old>|null <new>"
		}
		return s.handleCas(ctx, fields[1], fields[2], fields[3])
	default:
		return "ERROR: Unknown command"
	}
}

func (s *Session) handleGet(ctx context.Context, key string) string {
	txnID, autoCommit := s.activeTxn()
	value, err := s.txns.Read(ctx, txnID, key)
	if autoCommit {
		// A GET that finds nothing is not a write failure: the
		// auto-commit transaction still commits, matching the original's
		// "begin, read, commit" sequence regardless of hit or miss.
		_ = s.txns.Commit(txnID)
	}
	if err != nil {
		return "NOT_FOUND"
	}
	return "OK " + formatValue(value)
}

func (s *Session) handleSet(ctx context.Context, key, value string) string {
	txnID, autoCommit := s.activeTxn()
	err := s.txns.Write(ctx, txnID, key, txn.StringValue([]byte(value)))
	if autoCommit {
		s.finishAuto(txnID, err)
	}
	if err != nil {
		return "ERROR: Write failed"
	}
	return "OK"
}

func (s *Session) handleInsert(ctx context.Context, key, vectorLiteral string) string {
	vector, err := parseVector(vectorLiteral)
	if err != nil {
		return "ERROR: " + err.Error()
	}

	txnID, autoCommit := s.activeTxn()
	err = s.txns.Write(ctx, txnID, key, txn.VectorValue(vector))
	if autoCommit {
		s.finishAuto(txnID, err)
	}
	if err != nil {
		return "ERROR: Write failed"
	}
	return "OK"
}

func (s *Session) handleDelete(ctx context.Context, key string) string {
	txnID, autoCommit := s.activeTxn()
	err := s.txns.Remove(ctx, txnID, key)
	if autoCommit {
		s.finishAuto(txnID, err)
	}
	if err != nil {
		return "ERROR: Delete failed"
	}
	return "OK"
}

func (s *Session) handleSearch(fields []string) string {
	if len(fields) != 4 || strings.ToUpper(fields[2]) != "TOP" {
		return "ERROR: SEARCH requires [v1,...] TOP <k>"
	}
	vector, err := parseVector(fields[1])
	if err != nil {
		return "ERROR: " + err.Error()
	}
	k, err := strconv.Atoi(fields[3])
	if err != nil || k <= 0 {
		return "ERROR: invalid TOP value"
	}

	results, err := s.txns.Search(vector, k)
	if err != nil {
		return "ERROR: " + err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "OK %d results", len(results))
	for _, r := range results {
		b.WriteString("\r\n")
		fmt.Fprintf(&b, "%s distance=%g", r.Key, r.Distance)
	}
	return b.String()
}

func (s *Session) handleBegin() string {
	if s.inTransaction {
		return "ERROR: Already in transaction"
	}
	s.currentTxnID = s.txns.Begin()
	s.inTransaction = true
	return "OK"
}

func (s *Session) handleCommit() string {
	if !s.inTransaction {
		return "ERROR: Not in transaction"
	}
	err := s.txns.Commit(s.currentTxnID)
	s.inTransaction = false
	s.currentTxnID = 0
	if err != nil {
		return "ERROR: Commit failed"
	}
	return "OK"
}

func (s *Session) handleRollback() string {
	if !s.inTransaction {
		return "ERROR: Not in transaction"
	}
	err := s.txns.Rollback(s.currentTxnID)
	s.inTransaction = false
	s.currentTxnID = 0
	if err != nil {
		return "ERROR: Rollback failed"
	}
	return "OK"
}

func (s *Session) handleCas(ctx context.Context, key, oldLiteral, newLiteral string) string {
	if s.paxos == nil {
		return "ERROR: CAS failed"
	}
	if s.inTransaction {
		return "ERROR: CAS not allowed inside a transaction"
	}

	var oldValue *[]byte
	if oldLiteral != "null" {
		v := []byte(oldLiteral)
		oldValue = &v
	}

	ok, err := s.paxos.Cas(ctx, key, oldValue, []byte(newLiteral))
	if err != nil || !ok {
		return "ERROR: CAS failed"
	}
	return "OK"
}

// activeTxn returns the transaction a single operation should run under: the
// connection's open transaction, or a freshly begun auto-commit one.
func (s *Session) activeTxn() (txnID uint64, autoCommit bool) {
	if s.inTransaction {
		return s.currentTxnID, false
	}
	return s.txns.Begin(), true
}

func (s *Session) finishAuto(txnID uint64, opErr error) {
	if opErr != nil {
		_ = s.txns.Rollback(txnID)
		return
	}
	_ = s.txns.Commit(txnID)
}

func formatValue(v txn.Value) string {
	if v.Kind == txn.KindVector {
		return formatVector(v.Vector)
	}
	return string(v.String)
}

func formatVector(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", f)
	}
	b.WriteByte(']')
	return b.String()
}

// keyAndRest splits "SET <key> <rest of line>" into key and rest, mirroring
// the original's `iss >> cmd; iss >> key; getline(iss, value)`: the key is
// the first whitespace-delimited token after the command, and the value is
// everything after it with a single leading space stripped.
func keyAndRest(line string) (key, rest string, ok bool) {
	trimmed := strings.TrimLeft(line, " \t")
	afterCmd := trimmed[strings.IndexAny(trimmed, " \t")+1:]
	afterCmd = strings.TrimLeft(afterCmd, " \t")
	if afterCmd == "" {
		return "", "", false
	}

	idx := strings.IndexAny(afterCmd, " \t")
	if idx < 0 {
		return afterCmd, "", true
	}
	key = afterCmd[:idx]
	rest = strings.TrimPrefix(afterCmd[idx:], " ")
	rest = strings.TrimLeft(rest, "\t")
	return key, rest, true
}

func parseVector(literal string) ([]float32, error) {
	if len(literal) < 2 || literal[0] != '[' || literal[len(literal)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal")
	}
	inner := literal[1 : len(literal)-1]
	if inner == "" {
		return nil, fmt.Errorf("empty vector")
	}
	parts := strings.Split(inner, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q", p)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
