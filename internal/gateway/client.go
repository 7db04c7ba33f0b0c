package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chaz8081/wearlink/internal/bridge"
	"github.com/chaz8081/wearlink/internal/manager"
	"github.com/chaz8081/wearlink/internal/protocol"
)

const (
	// maxWSMessageSize bounds a single inbound frame.
	maxWSMessageSize = 64 * 1024
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
	writeWait        = 10 * time.Second
)

// Client is one WebSocket connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	seq    atomic.Int64

	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]func() // stream name -> unsubscribe
}

func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: server,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		subs:   make(map[string]func()),
	}
}

// Run starts the pumps and blocks until the connection ends. Calls still in
// flight see ctx cancelled.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump()
	c.readPump(ctx)
	c.Close()
}

func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[GATEWAY] read error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(ctx, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error())
		return
	}
	if frameType != protocol.FrameTypeRequest {
		c.sendError("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType)
		return
	}

	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "malformed request: "+err.Error())
		return
	}
	if !c.server.limiter.Allow(c.id) {
		c.sendError(req.ID, protocol.ErrRateLimited, "too many requests")
		return
	}

	switch req.Method {
	case protocol.MethodHello:
		c.server.handleHello(c, &req)
	case protocol.MethodEventsListen:
		c.handleListen(&req)
	case protocol.MethodEventsCancel:
		c.handleCancel(&req)
	default:
		// Device calls may wait on the radio for seconds; keep reading.
		go c.dispatch(ctx, &req)
	}
}

func (c *Client) dispatch(ctx context.Context, req *protocol.RequestFrame) {
	args := map[string]any{}
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &args); err != nil {
			c.sendError(req.ID, protocol.ErrInvalidRequest, "params must be an object")
			return
		}
	}

	result, err := c.server.router.Handle(ctx, &bridge.Call{Method: req.Method, Args: args})
	if err != nil {
		c.SendResponse(errorResponse(req.ID, err))
		return
	}
	c.SendResponse(protocol.NewOKResponse(req.ID, result))
}

func errorResponse(id string, err error) *protocol.ResponseFrame {
	var e *manager.Error
	if errors.As(err, &e) {
		resp := protocol.NewErrorResponse(id, string(e.Code), e.Message)
		resp.Error.Details = e.Details
		return resp
	}
	slog.Error("[GATEWAY] unstructured error", "error", err)
	return protocol.NewErrorResponse(id, protocol.ErrInternal, err.Error())
}

type streamParams struct {
	Stream string `json:"stream"`
}

func (c *Client) handleListen(req *protocol.RequestFrame) {
	var p streamParams
	if req.Params != nil {
		json.Unmarshal(req.Params, &p)
	}
	if p.Stream == "" {
		c.sendError(req.ID, protocol.ErrInvalidArgument, "Missing required argument: stream")
		return
	}
	stream, err := c.server.dispatcher.Stream(p.Stream)
	if err != nil {
		c.sendError(req.ID, protocol.ErrInvalidArgument, err.Error())
		return
	}

	name := p.Stream
	unsubscribe := stream.Subscribe(func(payload any) {
		ev := protocol.NewEvent(name, payload)
		ev.Seq = c.seq.Add(1)
		c.SendEvent(ev)
	})

	c.mu.Lock()
	if prev, ok := c.subs[name]; ok {
		prev()
	}
	c.subs[name] = unsubscribe
	c.mu.Unlock()

	slog.Info("[GATEWAY] client listening", "client", c.id, "stream", name)
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"stream": name}))
}

func (c *Client) handleCancel(req *protocol.RequestFrame) {
	var p streamParams
	if req.Params != nil {
		json.Unmarshal(req.Params, &p)
	}

	c.mu.Lock()
	unsubscribe, ok := c.subs[p.Stream]
	delete(c.subs, p.Stream)
	c.mu.Unlock()

	if ok {
		unsubscribe()
		slog.Info("[GATEWAY] client stopped listening", "client", c.id, "stream", p.Stream)
	}
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"stream": p.Stream, "cancelled": ok}))
}

// SendResponse queues a response frame.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("[GATEWAY] marshal response failed", "error", err)
		return
	}
	c.enqueue(data, "response")
}

// SendEvent queues an event frame.
func (c *Client) SendEvent(event *protocol.EventFrame) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("[GATEWAY] marshal event failed", "event", event.Event, "error", err)
		return
	}
	c.enqueue(data, "event")
}

func (c *Client) enqueue(data []byte, kind string) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("[GATEWAY] send buffer full, dropping "+kind, "client", c.id)
	}
}

func (c *Client) sendError(id, code, message string) {
	c.SendResponse(protocol.NewErrorResponse(id, code, message))
}

// Close releases the client's stream subscriptions and stops the write pump.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		for name, unsubscribe := range c.subs {
			unsubscribe()
			delete(c.subs, name)
		}
		c.mu.Unlock()

		close(c.done)
		c.server.remove(c)
	})
}
