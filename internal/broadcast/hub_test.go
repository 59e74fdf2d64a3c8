package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tubevox/tubevox/internal/intent"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	pings    int
	closed   bool
	writeErr error
	pingErr  error
}

func (f *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return f.pingErr
	}
	f.pings++
	return nil
}

func (f *fakeConn) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func TestBroadcast_SkipsDeadClient(t *testing.T) {
	t.Parallel()

	hub := NewHub(time.Second)
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{writeErr: errors.New("broken pipe")}
	hub.Register(a)
	hub.Register(b)
	hub.Register(c)

	report, err := hub.Broadcast(context.Background(), intent.Message{Kind: intent.KindPause})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if report.Sent != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v, want Sent=2 Failed=1", report)
	}
	if a.frameCount() != 1 || b.frameCount() != 1 {
		t.Fatalf("healthy clients got %d and %d frames, want 1 each", a.frameCount(), b.frameCount())
	}
	if !c.closed {
		t.Fatal("failing client was not closed")
	}

	stats := hub.Stats()
	if stats.Open != 2 || stats.Closed != 1 {
		t.Fatalf("stats = %+v, want Open=2 Closed=1", stats)
	}
}

func TestBroadcast_SerializesOncePerMessage(t *testing.T) {
	t.Parallel()

	hub := NewHub(time.Second)
	a, b := &fakeConn{}, &fakeConn{}
	hub.Register(a)
	hub.Register(b)

	msg := intent.Message{Kind: intent.KindSetSpeed, Value: 1.5}
	if _, err := hub.Broadcast(context.Background(), msg); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if string(a.frames[0]) != string(b.frames[0]) {
		t.Fatalf("clients received different frames: %q vs %q", a.frames[0], b.frames[0])
	}

	var decoded intent.Message
	if err := json.Unmarshal(a.frames[0], &decoded); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if decoded.Kind != intent.KindSetSpeed || decoded.Value != 1.5 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestBroadcast_RejectsInvalidMessage(t *testing.T) {
	t.Parallel()

	hub := NewHub(time.Second)
	conn := &fakeConn{}
	hub.Register(conn)

	_, err := hub.Broadcast(context.Background(), intent.Message{Kind: intent.KindSetSpeed, Value: 99})
	if !errors.Is(err, intent.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if conn.frameCount() != 0 {
		t.Fatal("invalid message must not reach clients")
	}
}

func TestPingAll_DropsUnresponsive(t *testing.T) {
	t.Parallel()

	hub := NewHub(time.Second)
	ok := &fakeConn{}
	dead := &fakeConn{pingErr: errors.New("timeout")}
	hub.Register(ok)
	hub.Register(dead)

	report := hub.PingAll(context.Background())
	if report.Sent != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v, want Sent=1 Failed=1", report)
	}
	if hub.Stats().Open != 1 {
		t.Fatalf("open = %d, want 1", hub.Stats().Open)
	}
}

func TestUnregister_ClosesConnection(t *testing.T) {
	t.Parallel()

	hub := NewHub(time.Second)
	conn := &fakeConn{}
	client := hub.Register(conn)
	hub.Unregister(client)

	if !conn.closed {
		t.Fatal("connection not closed on unregister")
	}
	if client.Open() {
		t.Fatal("client still marked open")
	}
	if stats := hub.Stats(); stats.Open != 0 || stats.Closed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
