// Package sse pushes JSON-RPC notifications to connected Server-Sent Events clients.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/api/jsonrpcx"
	"github.com/danghamo/docidentity/pkg/logger"
)

const (
	heartbeatInterval = 15 * time.Second
	staleAfter        = 60 * time.Second
)

var errClosed = errors.New("client connection closed")

// Client is one connected stream.
type Client struct {
	ID       string
	Subject  string
	writer   http.ResponseWriter
	flusher  http.Flusher
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex // serializes writes
	lastSeen time.Time
}

// NewClient wraps a response writer that supports flushing.
func NewClient(id, subject string, w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	return &Client{
		ID:       id,
		Subject:  subject,
		writer:   w,
		flusher:  flusher,
		done:     make(chan struct{}),
		lastSeen: time.Now(),
	}, nil
}

// Done is closed when the broadcaster drops the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return errClosed
	default:
	}

	if _, err := c.writer.Write(frame); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	c.flusher.Flush()
	c.lastSeen = time.Now()
	return nil
}

func (c *Client) seen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Broadcaster fans notifications out to every connected client.
type Broadcaster struct {
	logger    *logger.Logger
	mu        sync.RWMutex
	clients   map[string]*Client
	broadcast chan []byte
	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewBroadcaster starts the broadcast and heartbeat loops.
func NewBroadcaster(log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.NewNop()
	}
	b := &Broadcaster{
		logger:    log.WithComponent("sse-broadcaster"),
		clients:   make(map[string]*Client),
		broadcast: make(chan []byte, 1000),
		shutdown:  make(chan struct{}),
	}

	go b.broadcastLoop()
	go b.heartbeatLoop()

	return b
}

// AddClient registers a client.
func (b *Broadcaster) AddClient(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c.ID] = c

	b.logger.Debug("SSE client connected", zap.String("clientId", c.ID), zap.String("subject", c.Subject))
}

// RemoveClient drops a client and closes its Done channel.
func (b *Broadcaster) RemoveClient(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()

	if ok {
		c.close()
		b.logger.Debug("SSE client disconnected", zap.String("clientId", id))
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast queues a notification for every client. Messages are dropped
// when the queue is full or the broadcaster is closed.
func (b *Broadcaster) Broadcast(method string, params any) {
	data, err := json.Marshal(jsonrpcx.NewNotification(method, params))
	if err != nil {
		b.logger.Error("Failed to marshal JSON-RPC notification", zap.Error(err))
		return
	}

	select {
	case <-b.shutdown:
	case b.broadcast <- data:
	default:
		b.logger.Warn("Broadcast channel full, dropping message", zap.String("method", method))
	}
}

// Serve streams notifications to w until the request ends or the client is dropped.
func (b *Broadcaster) Serve(w http.ResponseWriter, r *http.Request, subject string) {
	client, err := NewClient(ksuid.New().String(), subject, w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The server write timeout would otherwise cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	client.flusher.Flush()

	b.AddClient(client)
	defer b.RemoveClient(client.ID)

	select {
	case <-r.Context().Done():
	case <-client.Done():
	case <-b.shutdown:
	}
}

func (b *Broadcaster) snapshot() []*Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	return clients
}

func (b *Broadcaster) send(frame []byte) {
	for _, c := range b.snapshot() {
		if err := c.write(frame); err != nil {
			b.logger.Warn("Failed to send to client", zap.String("clientId", c.ID), zap.Error(err))
			b.RemoveClient(c.ID)
		}
	}
}

func (b *Broadcaster) broadcastLoop() {
	for {
		select {
		case <-b.shutdown:
			return
		case data := <-b.broadcast:
			b.send([]byte(fmt.Sprintf("data: %s\n\n", data)))
		}
	}
}

// heartbeatLoop keeps idle streams open and drops clients that stopped accepting writes.
func (b *Broadcaster) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.shutdown:
			return
		case now := <-ticker.C:
			b.send([]byte(": ping\n\n"))
			for _, c := range b.snapshot() {
				if now.Sub(c.seen()) > staleAfter {
					b.logger.Debug("Removing stale SSE client", zap.String("clientId", c.ID))
					b.RemoveClient(c.ID)
				}
			}
		}
	}
}

// Close stops the loops and releases every client.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.shutdown)
		for _, c := range b.snapshot() {
			b.RemoveClient(c.ID)
		}
		b.logger.Debug("SSE broadcaster closed")
	})
}
