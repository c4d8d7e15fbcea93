// Package channeltest provides an in-memory server peer for exercising
// code built on channel.Conn.
package channeltest

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/user/remoteide/internal/channel"
	"github.com/user/remoteide/internal/protocol"
)

const defaultWait = 2 * time.Second

// Peer plays the server side of a connection.
type Peer struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
}

func NewPeer() *Peer {
	return &Peer{
		toClient:   make(chan []byte, 64),
		fromClient: make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

// Transport returns the client end of the connection.
func (p *Peer) Transport() channel.Transport {
	return &transport{peer: p}
}

// Close drops the connection, as a server crash would.
func (p *Peer) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// Connect serves a new peer on conn and waits until conn reports connected.
func Connect(t testing.TB, conn *channel.Conn) *Peer {
	t.Helper()
	peer := NewPeer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = conn.Serve(ctx, peer.Transport())
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		peer.Close()
		<-done
	})

	deadline := time.Now().Add(defaultWait)
	for !conn.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("connection did not become ready")
		}
		time.Sleep(time.Millisecond)
	}
	return peer
}

// Next returns the next frame sent by the client.
func (p *Peer) Next(t testing.TB) protocol.Envelope {
	t.Helper()
	select {
	case data := <-p.fromClient:
		env, err := protocol.Parse(data)
		if err != nil {
			t.Fatalf("client sent invalid frame %s: %v", data, err)
		}
		return env
	case <-time.After(defaultWait):
		t.Fatal("timed out waiting for a client frame")
		return protocol.Envelope{}
	}
}

// Expect returns the next client frame and fails unless it has type typ.
func (p *Peer) Expect(t testing.TB, typ string) protocol.Envelope {
	t.Helper()
	env := p.Next(t)
	if env.Type != typ {
		t.Fatalf("client sent %s (%s), want %s", env.Type, env.Content, typ)
	}
	return env
}

// ExpectNone fails if the client sends anything within d.
func (p *Peer) ExpectNone(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case data := <-p.fromClient:
		t.Fatalf("unexpected client frame: %s", data)
	case <-time.After(d):
	}
}

// Push sends an unsolicited frame to the client.
func (p *Peer) Push(t testing.TB, typ string, content any) {
	t.Helper()
	p.send(t, "", typ, content)
}

// Reply answers req, echoing its id.
func (p *Peer) Reply(t testing.TB, req protocol.Envelope, typ string, content any) {
	t.Helper()
	p.send(t, req.ID, typ, content)
}

// PushRaw sends data to the client unchanged.
func (p *Peer) PushRaw(data []byte) {
	p.toClient <- data
}

func (p *Peer) send(t testing.TB, id, typ string, content any) {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, content)
	if err != nil {
		t.Fatalf("build %s frame: %v", typ, err)
	}
	env.ID = id
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal %s frame: %v", typ, err)
	}
	p.toClient <- data
}

type transport struct {
	peer *Peer
}

func (t *transport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.peer.toClient:
		return data, nil
	case <-t.peer.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *transport) Write(ctx context.Context, data []byte) error {
	select {
	case <-t.peer.closed:
		return io.ErrClosedPipe
	default:
	}
	buf := append([]byte(nil), data...)
	select {
	case t.peer.fromClient <- buf:
		return nil
	case <-t.peer.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *transport) Close() error {
	t.peer.Close()
	return nil
}
