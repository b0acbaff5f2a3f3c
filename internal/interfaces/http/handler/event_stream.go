package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/event"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

// EventStream pushes allocation events to websocket subscribers. It is an
// event bus handler; a slow client loses messages rather than blocking the bus.
type EventStream struct {
	BaseHandler
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	types   map[string]bool // empty = every type
	dropped atomic.Int64
}

// NewEventStream creates a new EventStream. allowedOrigins empty accepts
// same-origin upgrades only; "*" accepts any origin.
func NewEventStream(allowedOrigins []string, logger *zap.Logger) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EventStream{
		logger:  logger.Named("event_stream"),
		clients: make(map[*wsClient]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

// EventTypes returns nil: the stream receives every event and filters per client
func (s *EventStream) EventTypes() []string {
	return nil
}

// Handle implements shared.EventHandler
func (s *EventStream) Handle(_ context.Context, evt shared.DomainEvent) error {
	env, err := event.NewEnvelope(evt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if len(c.types) > 0 && !c.types[env.Type] {
			continue
		}
		select {
		case c.send <- data:
		default:
			c.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe godoc
// @Summary      Stream allocation events over a websocket
// @Description  Optional repeated query parameter "type" limits the stream to those event types.
// @Tags         events
// @Router       /allocation/events/ws [get]
func (s *EventStream) Subscribe(c *gin.Context) {
	types := make(map[string]bool)
	for _, t := range c.QueryArray("type") {
		types[t] = true
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer), types: types}
	if !s.add(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}
	s.logger.Debug("Websocket client connected", zap.Int("clients", s.ClientCount()))

	go s.writePump(client)
	s.readPump(client)
}

func (s *EventStream) add(c *wsClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *EventStream) remove(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
		if n := c.dropped.Load(); n > 0 {
			s.logger.Warn("Websocket client dropped events", zap.Int64("dropped", n))
		}
	}
}

// readPump discards client messages and detects disconnects
func (s *EventStream) readPump(c *wsClient) {
	defer func() {
		s.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of a connection
func (s *EventStream) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ClientCount returns the number of connected subscribers
func (s *EventStream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every subscriber and refuses new ones
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

// RegisterRoutes implements router.RouteRegistrar
func (s *EventStream) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/allocation/events/ws", s.Subscribe)
}

var _ shared.EventHandler = (*EventStream)(nil)
