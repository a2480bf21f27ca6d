package server

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alimasry/go-docwatch/docstore"
	"github.com/alimasry/go-docwatch/logger"
)

// Hub tracks connected clients and runs their sessions.
type Hub struct {
	registry *docstore.Registry
	debounce time.Duration
	log      logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	join     chan *Client
	leaveReq chan *Client
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type HubOption func(*Hub)

func WithLogger(l logger.Logger) HubOption {
	return func(h *Hub) {
		h.log = l
	}
}

// WithDebounce sets the debounce of the watches opened by clients.
func WithDebounce(d time.Duration) HubOption {
	return func(h *Hub) {
		h.debounce = d
	}
}

func NewHub(r *docstore.Registry, opts ...HubOption) *Hub {
	h := &Hub{
		registry: r,
		debounce: docstore.DefaultDebounce,
		log:      logger.NewNoopLogger(),
		clients:  make(map[string]*Client),
		join:     make(chan *Client, 64),
		leaveReq: make(chan *Client, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.join:
			h.handleJoin(c)
		case c := <-h.leaveReq:
			h.handleLeave(c)
		case <-h.stop:
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			for _, c := range clients {
				h.disconnect(c)
			}
			return
		}
	}
}

// Close disconnects every client and stops the main loop.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

func (h *Hub) register(c *Client) {
	select {
	case h.join <- c:
	case <-h.stop:
		c.close()
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.leaveReq <- c:
	case <-h.stop:
	}
}

func (h *Hub) handleJoin(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()

	go c.session.Run()
	h.log.Info("client connected", zap.String("client", c.ID), zap.Int("clients", n))
}

func (h *Hub) handleLeave(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	n := len(h.clients)
	h.mu.Unlock()

	h.disconnect(c)
	h.log.Info("client disconnected", zap.String("client", c.ID), zap.Int("clients", n))
}

func (h *Hub) disconnect(c *Client) {
	c.session.Close()
	c.close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
