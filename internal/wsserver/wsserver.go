// Package wsserver exposes C8's Broadcaster over a gorilla/websocket
// upgrade endpoint, in the register/ReadPump/WritePump shape the
// teacher's internal/api/websocket package uses
// (vellankikoti-kubilitics-os-emergent/kubilitics-backend), generalized
// from one global hub topic to the named topics spec §6's Broadcast
// API defines and the per-connection join/leave client calls it lists.
package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/broadcast"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// clientRequest is one inbound control message — spec §6's client
// calls (JoinScanUpdates, LeaveSystemMetrics, RequestDashboardData,
// ...) folded into a single {action, topic, scanId?, timeRange?}
// envelope rather than one RPC method per call.
type clientRequest struct {
	Action    string `json:"action"` // "join" | "leave" | "requestDashboardData"
	Topic     string `json:"topic"`
	ScanID    string `json:"scanId,omitempty"`
	TimeRange string `json:"timeRange,omitempty"`
}

var validTimeRanges = map[string]bool{"1h": true, "6h": true, "24h": true, "7d": true, "30d": true}

// Server bridges websocket connections to a Broadcaster.
type Server struct {
	broadcaster *broadcast.Broadcaster
	cfg         config.ServerConfig
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
}

// New builds a Server publishing/subscribing through b.
func New(b *broadcast.Broadcaster, cfg config.ServerConfig, logger *logrus.Logger) *Server {
	return &Server{
		broadcaster: b,
		cfg:         cfg,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// authenticate enforces spec §6's "bearer token passed at connection
// time; anonymous viewers may subscribe to read-only topics" rule.
// Every topic this server exposes is read-only from the client's
// perspective (clients only ever receive), so an unauthenticated
// connection is admitted whenever AllowAnonymousReadOnly is set.
func (s *Server) authenticate(r *http.Request) bool {
	if s.cfg.BearerToken == "" {
		return true
	}
	token := bearerToken(r)
	if token == s.cfg.BearerToken {
		return true
	}
	return s.cfg.AllowAnonymousReadOnly
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return r.URL.Query().Get("token")
}

// ServeWS upgrades the request and runs the connection's read/write
// pumps until it closes or ctx is cancelled.
func (s *Server) ServeWS(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			if s.logger != nil {
				s.logger.WithError(err).Warn("websocket upgrade failed")
			}
			return
		}

		connID := uuid.New().String()
		c := newConn(ctx, s.broadcaster, conn, connID, s.logger)
		go c.writePump()
		go c.readPump()
	}
}

// conn is one upgraded connection: a read pump decoding client
// control messages, a write pump draining subscribed topics into the
// socket, both torn down together on either side closing.
type conn struct {
	ctx    context.Context
	cancel context.CancelFunc

	id          string
	socket      *websocket.Conn
	broadcaster *broadcast.Broadcaster
	logger      *logrus.Logger

	send chan []byte

	mu     sync.Mutex
	stopFn map[string]func()
}

func newConn(parent context.Context, b *broadcast.Broadcaster, socket *websocket.Conn, id string, logger *logrus.Logger) *conn {
	ctx, cancel := context.WithCancel(parent)
	return &conn{
		ctx:         ctx,
		cancel:      cancel,
		id:          id,
		socket:      socket,
		broadcaster: b,
		logger:      logger,
		send:        make(chan []byte, 256),
		stopFn:      make(map[string]func()),
	}
}

func (c *conn) readPump() {
	defer func() {
		c.close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && c.logger != nil {
				c.logger.WithError(err).Debug("websocket read error")
			}
			return
		}

		var req clientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		c.handle(req)
	}
}

func (c *conn) handle(req clientRequest) {
	topic := resolveTopic(req.Topic, req.ScanID)
	if topic == "" && req.Action != "requestDashboardData" {
		return
	}

	switch req.Action {
	case "join":
		c.joinTopic(topic)
	case "leave":
		c.leaveTopic(topic)
	case "requestDashboardData":
		if !validTimeRanges[req.TimeRange] {
			return
		}
		c.deliverLocal(broadcast.Message{
			Topic:     broadcast.TopicDashboardUpdates,
			Timestamp: time.Now().UTC(),
			Payload:   map[string]string{"type": "DashboardDataRequested", "timeRange": req.TimeRange},
		})
	}
}

// resolveTopic maps the wire-level topic name to the Scan_{scanId}
// targeted topic when scanId is present, matching ScanTopic.
func resolveTopic(topic, scanID string) string {
	if topic == "ScanProgressUpdates" && scanID != "" {
		return broadcast.ScanTopic(scanID)
	}
	return topic
}

func (c *conn) joinTopic(topic string) {
	c.mu.Lock()
	if _, already := c.stopFn[topic]; already {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ch := c.broadcaster.Subscribe(c.id+":"+topic, topic)
	stopped := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.deliverLocal(msg)
			case <-stopped:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()

	c.mu.Lock()
	c.stopFn[topic] = func() { close(stopped) }
	c.mu.Unlock()
}

func (c *conn) leaveTopic(topic string) {
	c.mu.Lock()
	stop, ok := c.stopFn[topic]
	delete(c.stopFn, topic)
	c.mu.Unlock()
	if ok {
		stop()
		c.broadcaster.Unsubscribe(c.id+":"+topic, topic)
	}
}

func (c *conn) deliverLocal(msg broadcast.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		if c.logger != nil {
			c.logger.WithField("connection", c.id).Warn("dropping message: client send buffer full")
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) close() {
	c.mu.Lock()
	for topic, stop := range c.stopFn {
		stop()
		c.broadcaster.Unsubscribe(c.id+":"+topic, topic)
	}
	c.stopFn = make(map[string]func())
	c.mu.Unlock()
	c.cancel()
}
