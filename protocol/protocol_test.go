package protocol

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumdb/vellum/kvstore"
	"github.com/vellumdb/vellum/paxos"
	"github.com/vellumdb/vellum/txn"
)

func newTestManager(t *testing.T) *txn.Manager {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "test.log"), kvstore.Options{Dimension: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return txn.New(store, nil)
}

// session runs a Session against one end of a net.Pipe and returns a
// bufio.Reader over the other end for the test to read responses from.
func session(t *testing.T, mgr *txn.Manager, engine *paxos.Engine) (*bufio.Reader, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	s := NewSession(serverConn, mgr, engine, nil)
	go s.Serve(context.Background())
	return bufio.NewReader(clientConn), clientConn
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line[:len(line)-2] // strip \r\n
}

func send(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	_, err := conn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func TestBannerThenSetAndGet(t *testing.T) {
	mgr := newTestManager(t)
	r, conn := session(t, mgr, nil)
	defer conn.Close()

	assert.Equal(t, Banner, readLine(t, r))

	send(t, conn, "SET foo hello world")
	assert.Equal(t, "OK", readLine(t, r))

	send(t, conn, "GET foo")
	assert.Equal(t, "OK hello world", readLine(t, r))
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	mgr := newTestManager(t)
	r, conn := session(t, mgr, nil)
	defer conn.Close()
	readLine(t, r) // banner

	send(t, conn, "GET missing")
	assert.Equal(t, "NOT_FOUND", readLine(t, r))
}

func TestTransactionLifecycle(t *testing.T) {
	mgr := newTestManager(t)
	r, conn := session(t, mgr, nil)
	defer conn.Close()
	readLine(t, r) // banner

	send(t, conn, "BEGIN")
	assert.Equal(t, "OK", readLine(t, r))

	send(t, conn, "BEGIN")
	assert.Equal(t, "ERROR: Already in transaction", readLine(t, r))

	send(t, conn, "SET a 1")
	assert.Equal(t, "OK", readLine(t, r))

	send(t, conn, "COMMIT")
	assert.Equal(t, "OK", readLine(t, r))

	send(t, conn, "ROLLBACK")
	assert.Equal(t, "ERROR: Not in transaction", readLine(t, r))
}

func TestRollbackDiscardsWrite(t *testing.T) {
	mgr := newTestManager(t)
	r, conn := session(t, mgr, nil)
	defer conn.Close()
	readLine(t, r)

	send(t, conn, "BEGIN")
	readLine(t, r)
	send(t, conn, "SET b 2")
	readLine(t, r)
	send(t, conn, "ROLLBACK")
	assert.Equal(t, "OK", readLine(t, r))

	send(t, conn, "GET b")
	assert.Equal(t, "NOT_FOUND", readLine(t, r))
}

func TestInsertAndSearch(t *testing.T) {
	mgr := newTestManager(t)
	r, conn := session(t, mgr, nil)
	defer conn.Close()
	readLine(t, r)

	send(t, conn, "INSERT v1 [1,0,0]")
	assert.Equal(t, "OK", readLine(t, r))

	send(t, conn, "INSERT v2 [0,1,0]")
	assert.Equal(t, "OK", readLine(t, r))

	send(t, conn, "SEARCH [1,0,0] TOP 1")
	line := readLine(t, r)
	assert.Contains(t, line, "OK 1 results")
}

func TestDeleteTwiceFailsSecondTime(t *testing.T) {
	mgr := newTestManager(t)
	r, conn := session(t, mgr, nil)
	defer conn.Close()
	readLine(t, r)

	send(t, conn, "SET k v")
	readLine(t, r)
	send(t, conn, "DELETE k")
	assert.Equal(t, "OK", readLine(t, r))

	send(t, conn, "DELETE k")
	assert.Equal(t, "ERROR: Delete failed", readLine(t, r))
}

func TestUnknownCommand(t *testing.T) {
	mgr := newTestManager(t)
	r, conn := session(t, mgr, nil)
	defer conn.Close()
	readLine(t, r)

	send(t, conn, "FROBNICATE x")
	assert.Equal(t, "ERROR: Unknown command", readLine(t, r))
}

func TestQuitClosesConnection(t *testing.T) {
	mgr := newTestManager(t)
	r, conn := session(t, mgr, nil)
	defer conn.Close()
	readLine(t, r)

	send(t, conn, "QUIT")
	_, err := r.ReadString('\n')
	assert.Error(t, err)
}

func TestCasWithoutPaxosEngineFails(t *testing.T) {
	mgr := newTestManager(t)
	r, conn := session(t, mgr, nil)
	defer conn.Close()
	readLine(t, r)

	send(t, conn, "CAS k null v1")
	assert.Equal(t, "ERROR: CAS failed", readLine(t, r))
}

func TestCasWithPaxosEngineSucceeds(t *testing.T) {
	mgr := newTestManager(t)
	engine := paxos.NewEngine(1, nil, nil, nil)
	r, conn := session(t, mgr, engine)
	defer conn.Close()
	readLine(t, r)

	send(t, conn, "CAS k null v1")
	assert.Equal(t, "OK", readLine(t, r))

	send(t, conn, "CAS k v1 v2")
	assert.Equal(t, "OK", readLine(t, r))

	send(t, conn, "CAS k wrong v3")
	assert.Equal(t, "ERROR: CAS failed", readLine(t, r))
}

func TestCasRejectedInsideTransaction(t *testing.T) {
	mgr := newTestManager(t)
	engine := paxos.NewEngine(1, nil, nil, nil)
	r, conn := session(t, mgr, engine)
	defer conn.Close()
	readLine(t, r)

	send(t, conn, "BEGIN")
	readLine(t, r)

	send(t, conn, "CAS k null v1")
	assert.Equal(t, "ERROR: CAS not allowed inside a transaction", readLine(t, r))
}

func TestBareLFAndCRLFLineHandling(t *testing.T) {
	mgr := newTestManager(t)
	serverConn, clientConn := net.Pipe()
	s := NewSession(serverConn, mgr, nil, nil)
	go s.Serve(context.Background())
	defer clientConn.Close()

	r := bufio.NewReader(clientConn)
	readLine(t, r) // banner

	_, err := clientConn.Write([]byte("SET k1 v1\n")) // bare LF, no CR
	require.NoError(t, err)
	assert.Equal(t, "OK", readLine(t, r))

	_, err = clientConn.Write([]byte("GET k1\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "OK v1", readLine(t, r))
}

func TestEmptyLineClosesConnection(t *testing.T) {
	mgr := newTestManager(t)
	r, conn := session(t, mgr, nil)
	defer conn.Close()
	readLine(t, r)

	send(t, conn, "")
	_, err := r.ReadString('\n')
	assert.Error(t, err)
}
