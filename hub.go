package main

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// connects per second allowed from one IP, with a small burst
const (
	ipConnectRate  = rate.Limit(2)
	ipConnectBurst = 5
)

// Hub tracks connected clients and hands them the room registry
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	rooms     *Registry
	auth      *Auth
	db        *DB
	analytics *Analytics
	log       *slog.Logger
	cfg       Config

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	ipLimiters map[string]*rate.Limiter
	totalConns int
}

// NewHub creates a Hub around an existing registry. db and analytics may be nil.
func NewHub(cfg Config, rooms *Registry, auth *Auth, db *DB, analytics *Analytics, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		rooms:      rooms,
		auth:       auth,
		db:         db,
		analytics:  analytics,
		log:        logger,
		cfg:        cfg,
		ipConns:    make(map[string]int),
		ipLimiters: make(map[string]*rate.Limiter),
	}
}

// CanAccept checks the connection caps and the per-IP connect rate
func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= h.cfg.MaxTotalConns {
		return false
	}
	if h.ipConns[ip] >= h.cfg.MaxConnsPerIP {
		return false
	}
	lim, ok := h.ipLimiters[ip]
	if !ok {
		lim = rate.NewLimiter(ipConnectRate, ipConnectBurst)
		h.ipLimiters[ip] = lim
	}
	return lim.Allow()
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
		// a full bucket is the same as a fresh limiter
		if lim, ok := h.ipLimiters[ip]; ok && lim.TokensAt(time.Now()) >= ipConnectBurst {
			delete(h.ipLimiters, ip)
		}
	}
	h.totalConns--
}

// Detach removes c from its room. Called from the read loop before the
// connection is released, so the room never sends to a closed client.
func (h *Hub) Detach(c *Client) {
	h.rooms.Leave(c)
}

// Run processes register/unregister events until stop closes
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case <-stop:
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
