package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/auth"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/monitor"
	"vn.io.arda/realtime/internal/realtime"
)

// tokenSubprotocol lets browsers, which cannot set headers on a websocket
// handshake, pass the token as "Sec-WebSocket-Protocol: access_token, <jwt>".
const tokenSubprotocol = "access_token"

var (
	errSocketClosed = errors.New("socket closed")
	errSendBuffer   = errors.New("socket send buffer full")
)

// GatewayConfig tunes the streaming endpoint.
type GatewayConfig struct {
	AuthTimeout    time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	AllowedOrigins []string
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8 << 10
	}
	return c
}

// Gateway upgrades HTTP requests to websocket connections registered in the
// realtime registry.
type Gateway struct {
	registry *realtime.Registry
	monitor  *monitor.Monitor
	cfg      GatewayConfig
	upgrader websocket.Upgrader
}

func NewGateway(registry *realtime.Registry, mon *monitor.Monitor, cfg GatewayConfig) *Gateway {
	cfg = cfg.withDefaults()
	g := &Gateway{registry: registry, monitor: mon, cfg: cfg}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{tokenSubprotocol},
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range g.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// credentials collects the token from the handshake subprotocol, the ?token=
// query parameter and the Authorization header.
func credentials(r *http.Request) auth.Credentials {
	var payload string
	protocols := websocket.Subprotocols(r)
	for i, p := range protocols {
		if p == tokenSubprotocol && i+1 < len(protocols) {
			payload = protocols[i+1]
			break
		}
	}
	return auth.Credentials{
		AuthPayload: payload,
		Query:       r.URL.Query().Get("token"),
		Header:      r.Header.Get("Authorization"),
	}
}

// ServeWS GET /ws
func (g *Gateway) ServeWS(c echo.Context) error {
	r := c.Request()
	creds := credentials(r)

	conn, err := g.upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	conn.SetReadLimit(g.cfg.MaxMessageSize)

	connID := uuid.NewString()
	sock := newSocket(conn, g.cfg)

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.AuthTimeout)
	info, err := g.registry.Register(ctx, connID, creds, sock)
	cancel()
	if err != nil {
		g.reject(conn, err)
		return nil
	}

	go sock.writePump()
	_ = sock.Send(message(domain.EventConnected, map[string]any{
		"connectionId": info.ID,
		"userId":       info.UserID,
		"tenantId":     info.TenantID,
		"topics":       info.Topics,
	}))

	g.readLoop(connID, info, sock)
	return nil
}

// reject writes auth_error directly on the connection, the write pump never
// having started, and closes it.
func (g *Gateway) reject(conn *websocket.Conn, err error) {
	reason := domain.AuthInvalidToken
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		reason = authErr.Reason
	}
	log.Info().Str("reason", string(reason)).Err(err).Msg("websocket connection rejected")

	_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
	_ = conn.WriteJSON(message(domain.EventAuthError, map[string]any{
		"message": "authentication failed",
		"reason":  reason,
	}))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(reason)),
		time.Now().Add(time.Second))
	_ = conn.Close()
}

// clientFrame is a client → server message.
type clientFrame struct {
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	Domain  string `json:"domain,omitempty"`
	ScopeID string `json:"scopeId,omitempty"`
}

func (g *Gateway) readLoop(connID string, info domain.ConnectionInfo, sock *socket) {
	defer func() {
		g.registry.Unregister(connID)
		_ = sock.Close()
	}()

	conn := sock.conn
	_ = conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		g.registry.Touch(connID)
		return conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !sock.Closed() {
				log.Debug().Err(err).Str("connection", connID).Msg("websocket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		g.registry.Touch(connID)

		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			_ = sock.Send(message(domain.EventSubscriptionError, map[string]any{"message": "malformed message"}))
			continue
		}
		g.handleFrame(connID, info, sock, f)
	}
}

func (g *Gateway) handleFrame(connID string, info domain.ConnectionInfo, sock *socket, f clientFrame) {
	switch f.Type {
	case "subscribe":
		topic, err := frameTopic(info.TenantID, f)
		if err == nil {
			err = g.registry.Subscribe(connID, topic)
		}
		if err != nil {
			_ = sock.Send(message(domain.EventSubscriptionError, map[string]any{"message": err.Error(), "topic": f.Topic}))
			return
		}
		_ = sock.Send(message(domain.EventSubscriptionSuccess, map[string]any{
			"type":    topic.Domain(),
			"room":    topic,
			"scopeId": topic.Scope(),
		}))

	case "unsubscribe":
		topic, err := frameTopic(info.TenantID, f)
		if err == nil {
			err = g.registry.Unsubscribe(connID, topic)
		}
		if err != nil {
			_ = sock.Send(message(domain.EventSubscriptionError, map[string]any{"message": err.Error(), "topic": f.Topic}))
			return
		}
		_ = sock.Send(message(domain.EventUnsubscribeSuccess, map[string]any{"room": topic}))

	case "ping":
		_ = sock.Send(message(domain.EventPong, nil))

	case "health":
		_ = sock.Send(message(domain.EventHealthStatus, g.monitor.Current()))

	default:
		_ = sock.Send(message(domain.EventSubscriptionError, map[string]any{"message": "unknown message type " + f.Type}))
	}
}

// frameTopic accepts either a full topic or a domain plus optional scope,
// the latter always resolved inside the caller's tenant.
func frameTopic(tenantID string, f clientFrame) (domain.Topic, error) {
	if f.Topic != "" {
		return domain.ParseTopic(f.Topic)
	}
	if f.Domain == "" || strings.Contains(f.Domain, ":") {
		return "", domain.ErrInvalidTopic
	}
	return domain.ParseTopic(string(domain.NewTopic(f.Domain, tenantID, f.ScopeID)))
}

func message(event string, data any) domain.Message {
	return domain.Message{Event: event, Data: data, Timestamp: time.Now().UTC()}
}

// socket adapts a websocket connection to realtime.Socket. All writes go
// through writePump; Send only queues.
type socket struct {
	conn *websocket.Conn
	cfg  GatewayConfig
	send chan []byte
	done chan struct{}

	once   sync.Once
	closed atomic.Bool
}

func newSocket(conn *websocket.Conn, cfg GatewayConfig) *socket {
	return &socket{
		conn: conn,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

func (s *socket) Send(msg domain.Message) error {
	if s.closed.Load() {
		return errSocketClosed
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errSocketClosed
	case s.send <- b:
		return nil
	default:
		return errSendBuffer
	}
}

// Close is safe to call more than once and from any goroutine; gorilla allows
// WriteControl and Close concurrently with the writer.
func (s *socket) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *socket) Closed() bool { return s.closed.Load() }

func (s *socket) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case b := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
