// Package monitoring exposes the HTTP control surface: health, scale
// status, serial configuration, PLU mappings, sale commits and a live
// SSE feed of weight readings.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"scalebridge/config"
	"scalebridge/output"
	"scalebridge/sale"
	"scalebridge/scale"
	"scalebridge/session"
	"scalebridge/store"
)

// SSEClient represents a connected SSE client.
type SSEClient struct {
	send chan sseMessage
	done chan struct{}
}

type sseMessage struct {
	Event string
	Data  string
}

// SSEBroker manages SSE client connections and message broadcasting.
type SSEBroker struct {
	clients    map[*SSEClient]bool
	register   chan *SSEClient
	unregister chan *SSEClient
	broadcast  chan sseMessage
	mu         sync.RWMutex
}

// NewSSEBroker creates a new SSE broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{
		clients:    make(map[*SSEClient]bool),
		register:   make(chan *SSEClient),
		unregister: make(chan *SSEClient),
		broadcast:  make(chan sseMessage, 256),
	}
}

// Run starts the broker's main loop.
func (b *SSEBroker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for client := range b.clients {
				close(client.done)
				delete(b.clients, client)
			}
			b.mu.Unlock()
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				close(client.done)
				delete(b.clients, client)
			}
			b.mu.Unlock()

		case msg := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client.send <- msg:
				default:
					// Client buffer full, skip this message
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Broadcast sends an event to all connected clients.
func (b *SSEBroker) Broadcast(event, data string) {
	select {
	case b.broadcast <- sseMessage{Event: event, Data: data}:
	default:
		// Broadcast buffer full, drop message
	}
}

// ClientCount returns the number of connected clients.
func (b *SSEBroker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ScaleSession is the slice of the session the HTTP surface needs.
type ScaleSession interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() scale.State
	IsConnected() bool
	Current() (scale.WeightData, bool)
	StableWeight() (scale.WeightData, bool)
	LastError() error
	Stats() session.Stats
}

// Server provides the HTTP monitoring and control endpoints.
type Server struct {
	cfg       *config.Config
	cfgPath   string
	session   ScaleSession
	store     *store.Store
	committer *sale.Committer
	txlog     *output.TransactionLog
	onSale    func(rec store.SaleRecord, productName string)
	version   string
	logger    *slog.Logger

	server    *http.Server
	broker    *SSEBroker
	ctx       context.Context
	cancel    context.CancelFunc
	cfgMu     sync.Mutex
	startTime time.Time
}

// ServerConfig contains the monitoring server dependencies.
type ServerConfig struct {
	Config     *config.Config
	ConfigPath string
	Session    ScaleSession
	Store      *store.Store
	Committer  *sale.Committer
	TxLog      *output.TransactionLog

	// OnSale runs after a committed sale so the POS feed can publish
	// it. May be nil.
	OnSale func(rec store.SaleRecord, productName string)

	Version string
	Logger  *slog.Logger
}

// NewServer creates a monitoring server and starts its SSE broker.
func NewServer(cfg *ServerConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	broker := NewSSEBroker()

	s := &Server{
		cfg:       cfg.Config,
		cfgPath:   cfg.ConfigPath,
		session:   cfg.Session,
		store:     cfg.Store,
		committer: cfg.Committer,
		txlog:     cfg.TxLog,
		onSale:    cfg.OnSale,
		version:   cfg.Version,
		logger:    cfg.Logger,
		broker:    broker,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	go broker.Run(ctx)

	return s
}

// Routes returns the API mux. Split out so tests can drive handlers
// without binding a port.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/config/serial", s.handleSerialConfig)
	mux.HandleFunc("/api/connect", s.handleConnect)
	mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/mappings", s.handleMappings)
	mux.HandleFunc("/api/products", s.handleProducts)
	mux.HandleFunc("/api/sales", s.handleSales)
	mux.HandleFunc("/api/stream", s.handleSSE)

	return mux
}

// Start starts the monitoring HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Monitoring.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	s.logger.Info("Starting monitoring server", "port", s.cfg.Monitoring.Port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Monitoring server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the monitoring server.
func (s *Server) Stop(ctx context.Context) error {
	// Cancel the broker first so SSE clients drop and Shutdown does not
	// wait on their open connections.
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		s.logger.Info("Stopping monitoring server")
		return s.server.Shutdown(shutdownCtx)
	}
	return nil
}

// BroadcastReading pushes a live reading to SSE clients.
func (s *Server) BroadcastReading(w scale.WeightData) {
	s.broadcastJSON("reading", w)
}

// BroadcastStable pushes a locked reading to SSE clients.
func (s *Server) BroadcastStable(w scale.WeightData) {
	s.broadcastJSON("stable", w)
}

// BroadcastState pushes a state transition to SSE clients.
func (s *Server) BroadcastState(state scale.State) {
	s.broadcastJSON("state", map[string]string{"state": state.String()})
}

// BroadcastSale pushes a committed sale to SSE clients.
func (s *Server) BroadcastSale(rec store.SaleRecord) {
	s.broadcastJSON("sale", rec)
}

func (s *Server) broadcastJSON(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal SSE payload", "event", event, "error", err)
		return
	}
	s.broker.Broadcast(event, string(data))
}

// handleSSE handles Server-Sent Events connections for the live weight
// feed.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &SSEClient{
		send: make(chan sseMessage, 64),
		done: make(chan struct{}),
	}

	// The broker loop stops when the server context is cancelled; never
	// block on its channels past that point.
	select {
	case s.broker.register <- client:
	case <-s.ctx.Done():
		return
	}
	defer func() {
		select {
		case s.broker.unregister <- client:
		case <-s.ctx.Done():
		}
	}()

	fmt.Fprintf(w, "event: connected\ndata: {\"state\":%q}\n\n", s.session.State())
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-client.done:
			// Server shutting down
			return

		case msg := <-client.send:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}
