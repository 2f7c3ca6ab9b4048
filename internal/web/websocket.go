package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mtzanidakis/maistro/internal/channel"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errConnClosed = errors.New("websocket connection closed")

// wsConn adapts a gorilla connection to channel.Conn. gorilla allows one
// concurrent writer, so writes are serialized.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func (c *wsConn) Send(m channel.Message) error {
	if c.closed.Load() {
		return errConnClosed
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Open() bool {
	return !c.closed.Load()
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.conn.Close()
	}
}

func (s *Server) handleExecutionSocket(w http.ResponseWriter, r *http.Request) {
	configID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{conn: conn}
	s.channels.Register(configID, c)
	slog.Info("websocket connected", "config", configID)

	defer func() {
		s.channels.Unregister(configID, c)
		c.close()
		slog.Info("websocket disconnected", "config", configID)
	}()

	if err := c.Send(channel.Connection(configID)); err != nil {
		slog.Warn("websocket connection ack failed", "config", configID, "error", err)
		return
	}

	// A client that stops answering pings is dropped.
	readWait := 2 * s.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					c.close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		var msg channel.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("ignoring malformed websocket message", "config", configID, "error", err)
			continue
		}
		if msg.Type == channel.TypeHeartbeat {
			if err := c.Send(channel.HeartbeatAck(time.Now().UnixMilli())); err != nil {
				return
			}
		}
	}
}
