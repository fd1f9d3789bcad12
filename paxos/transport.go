package paxos

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vellumdb/vellum/codec"
)

// envelope is the wire frame for peer RPCs: one JSON-encoded envelope per
// line, terminated by '\n'.
type envelope struct {
	Type    string `json:"type"`
	Prepare *PrepareMessage `json:"prepare,omitempty"`
	Commit  *CommitMessage  `json:"commit,omitempty"`
	Promise *PromiseMessage `json:"promise,omitempty"`
	Ack     *AckMessage     `json:"ack,omitempty"`
	Ok      bool            `json:"ok"`
}

// Transport sends PREPARE/COMMIT requests to a single remote replica and
// waits for its response.
type Transport interface {
	SendPrepare(ctx context.Context, peer string, msg PrepareMessage) (PromiseMessage, bool, error)
	SendCommit(ctx context.Context, peer string, msg CommitMessage) (AckMessage, error)
}

// TCPTransport implements Transport over plain TCP connections, one per
// request, framed as a single JSON line in and a single JSON line out.
type TCPTransport struct {
	codec      codec.Codec
	dialTimeout time.Duration
}

// NewTCPTransport creates a TCPTransport using the given codec (typically
// codec.Default) for message framing.
func NewTCPTransport(c codec.Codec) *TCPTransport {
	if c == nil {
		c = codec.Default
	}
	return &TCPTransport{codec: c, dialTimeout: 2 * time.Second}
}

func (t *TCPTransport) roundTrip(ctx context.Context, peer string, req envelope) (envelope, error) {
	var d net.Dialer
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}
	conn, err := d.DialContext(ctx, "tcp", peer)
	if err != nil {
		return envelope{}, fmt.Errorf("paxos: dial %s: %w", peer, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	data, err := t.codec.Marshal(req)
	if err != nil {
		return envelope{}, fmt.Errorf("paxos: marshal request: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return envelope{}, fmt.Errorf("paxos: write to %s: %w", peer, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return envelope{}, fmt.Errorf("paxos: read from %s: %w", peer, err)
	}

	var resp envelope
	if err := t.codec.Unmarshal(line, &resp); err != nil {
		return envelope{}, fmt.Errorf("paxos: unmarshal response from %s: %w", peer, err)
	}
	return resp, nil
}

// SendPrepare sends msg to peer and waits for a PROMISE/REJECT. A transport
// or decode failure is treated as "no response" (ok=false, err!=nil) rather
// than a hard error, so a single unreachable replica cannot block the
// round — the caller simply excludes it from the quorum count.
func (t *TCPTransport) SendPrepare(ctx context.Context, peer string, msg PrepareMessage) (PromiseMessage, bool, error) {
	resp, err := t.roundTrip(ctx, peer, envelope{Type: "prepare", Prepare: &msg})
	if err != nil {
		return PromiseMessage{}, false, err
	}
	if !resp.Ok || resp.Promise == nil {
		return PromiseMessage{}, false, nil
	}
	return *resp.Promise, true, nil
}

// SendCommit sends msg to peer and waits for an ACK.
func (t *TCPTransport) SendCommit(ctx context.Context, peer string, msg CommitMessage) (AckMessage, error) {
	resp, err := t.roundTrip(ctx, peer, envelope{Type: "commit", Commit: &msg})
	if err != nil {
		return AckMessage{}, err
	}
	if resp.Ack == nil {
		return AckMessage{Ballot: msg.Ballot, Key: msg.Key, Success: false}, nil
	}
	return *resp.Ack, nil
}

// PeerServer listens for incoming PREPARE/COMMIT requests from other nodes
// and dispatches them to a local Acceptor.
type PeerServer struct {
	listener net.Listener
	acceptor *Acceptor
	codec    codec.Codec
	logger   *slog.Logger
}

// NewPeerServer starts listening on addr and serving requests against
// acceptor. Call Serve to run the accept loop.
func NewPeerServer(addr string, acceptor *Acceptor, c codec.Codec, logger *slog.Logger) (*PeerServer, error) {
	if c == nil {
		c = codec.Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("paxos: listen %s: %w", addr, err)
	}
	return &PeerServer{listener: ln, acceptor: acceptor, codec: c, logger: logger.With("component", "paxos-peer")}, nil
}

// Addr returns the server's bound address.
func (s *PeerServer) Addr() string { return s.listener.Addr().String() }

// Serve accepts connections until the listener is closed.
func (s *PeerServer) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *PeerServer) Close() error {
	return s.listener.Close()
}

func (s *PeerServer) handle(conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return
	}

	var req envelope
	if err := s.codec.Unmarshal(line, &req); err != nil {
		s.logger.Warn("malformed peer request", "error", err)
		return
	}

	var resp envelope
	switch req.Type {
	case "prepare":
		if req.Prepare == nil {
			return
		}
		promise, ok := s.acceptor.HandlePrepare(*req.Prepare)
		resp = envelope{Type: "promise", Ok: ok}
		if ok {
			resp.Promise = &promise
		}
	case "commit":
		if req.Commit == nil {
			return
		}
		ack := s.acceptor.HandleCommit(*req.Commit)
		resp = envelope{Type: "ack", Ok: true, Ack: &ack}
	default:
		return
	}

	data, err := s.codec.Marshal(resp)
	if err != nil {
		return
	}
	_, _ = conn.Write(append(data, '\n'))
}
