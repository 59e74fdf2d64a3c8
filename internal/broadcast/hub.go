// Package broadcast fans finalised intent messages out to every connected
// browser-extension client over the daemon's control channel.
//
// Delivery is best effort: a dead client is counted, closed, and removed,
// never allowed to abort the loop or fail the broadcast for everyone else.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tubevox/tubevox/internal/intent"
)

// Conn is the subset of *websocket.Conn the hub needs. It exists so tests
// can connect fake clients without a network.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Client is one registered control-channel connection.
type Client struct {
	conn Conn

	mu       sync.Mutex
	open     bool
	joinedAt time.Time
}

// Open reports whether the client connection is still considered usable.
func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

// Report summarises one broadcast pass.
type Report struct {
	// Sent is the number of clients that accepted the frame.
	Sent int

	// Failed is the number of clients whose write failed; those clients
	// have been dropped.
	Failed int
}

// Stats describes the hub's connection population.
type Stats struct {
	Open   int `json:"open"`
	Closed int `json:"closed"`
}

// Hub tracks connected clients and serialises each message exactly once per
// broadcast. The hub is owned by the composition root; components receive a
// reference rather than sharing a package-level instance.
//
// All methods are safe for concurrent use.
type Hub struct {
	mu           sync.Mutex
	clients      map[*Client]struct{}
	closedCount  int
	writeTimeout time.Duration
}

// NewHub creates an empty Hub. writeTimeout bounds each per-client write;
// zero means 5 seconds.
func NewHub(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		clients:      make(map[*Client]struct{}),
		writeTimeout: writeTimeout,
	}
}

// Register adds a connection to the hub and returns its client handle.
func (h *Hub) Register(conn Conn) *Client {
	c := &Client{conn: conn, open: true, joinedAt: time.Now()}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Info("broadcast: client connected", "clients", n)
	return c
}

// Unregister removes a client, closing its connection if still open.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	if present {
		h.closedCount++
	}
	h.mu.Unlock()
	if present && c.Open() {
		c.markClosed()
		_ = c.conn.Close(websocket.StatusNormalClosure, "unregistered")
	}
}

// Broadcast validates msg, serialises it once, and writes the frame to every
// open client. Per-client failures are collected in the report; they are
// never propagated and never stop the loop.
func (h *Hub) Broadcast(ctx context.Context, msg intent.Message) (Report, error) {
	if err := msg.Validate(); err != nil {
		return Report{}, fmt.Errorf("broadcast: %w", err)
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return Report{}, fmt.Errorf("broadcast: marshal: %w", err)
	}

	var report Report
	for _, c := range h.snapshot() {
		if !c.Open() {
			continue
		}
		writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		err := c.conn.Write(writeCtx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			report.Failed++
			slog.Warn("broadcast: client write failed", "err", err)
			h.drop(c)
			continue
		}
		report.Sent++
	}

	slog.Debug("broadcast: delivered",
		"intent", string(msg.Kind),
		"sent", report.Sent,
		"failed", report.Failed,
	)
	return report, nil
}

// PingAll sends a liveness ping to every open client, dropping the ones that
// fail to answer.
func (h *Hub) PingAll(ctx context.Context) Report {
	var report Report
	for _, c := range h.snapshot() {
		if !c.Open() {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		err := c.conn.Ping(pingCtx)
		cancel()
		if err != nil {
			report.Failed++
			h.drop(c)
			continue
		}
		report.Sent++
	}
	return report
}

// Stats returns counts of open and dropped connections.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	open := 0
	for c := range h.clients {
		if c.Open() {
			open++
		}
	}
	return Stats{Open: open, Closed: h.closedCount}
}

// CloseAll disconnects every client. Called on daemon shutdown.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot() {
		h.Unregister(c)
	}
}

// snapshot copies the client set so broadcasting never holds the hub lock
// across a network write.
func (h *Hub) snapshot() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// drop marks a client dead and removes it.
func (h *Hub) drop(c *Client) {
	c.markClosed()
	_ = c.conn.Close(websocket.StatusAbnormalClosure, "write failed")
	h.mu.Lock()
	if _, present := h.clients[c]; present {
		delete(h.clients, c)
		h.closedCount++
	}
	h.mu.Unlock()
}
