// Package gateway serves the bridge to application clients over WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/wearlink/internal/bridge"
	"github.com/chaz8081/wearlink/internal/config"
	"github.com/chaz8081/wearlink/internal/events"
	"github.com/chaz8081/wearlink/internal/protocol"
)

// Server accepts WebSocket clients and routes their calls.
type Server struct {
	cfg        config.GatewayConfig
	version    string
	router     *bridge.Router
	dispatcher *events.Dispatcher
	limiter    *RateLimiter
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[string]*Client
}

func NewServer(cfg config.GatewayConfig, router *bridge.Router, dispatcher *events.Dispatcher, version string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		version:    version,
		router:     router,
		dispatcher: dispatcher,
		limiter:    NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*Client),
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint and a
// health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[GATEWAY] upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := NewClient(conn, s)
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	slog.Info("[GATEWAY] client connected", "client", c.id, "remote", r.RemoteAddr)
	c.Run(s.ctx)
	slog.Info("[GATEWAY] client disconnected", "client", c.id)
}

func (s *Server) remove(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.limiter.Forget(c.id)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleHello(c *Client, req *protocol.RequestFrame) {
	streams := s.dispatcher.Names()
	sort.Strings(streams)
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"protocol": protocol.ProtocolVersion,
		"client":   c.id,
		"methods":  s.router.Methods(),
		"streams":  streams,
		"server": map[string]any{
			"name":    "wearlink",
			"version": s.version,
		},
	}))
}

// ListenAndServe serves on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes every
// client.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("[GATEWAY] listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: serve: %w", err)
	}
	return nil
}

// Close disconnects every client and cancels their in-flight calls.
func (s *Server) Close() {
	s.cancel()

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
