package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/Wyydra/learnloop/internal/core/service"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

type WSClient struct {
	id     domain.ClientID
	user   domain.UserID
	conn   *websocket.Conn
	send   chan domain.Envelope
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	log    zerolog.Logger
}

func newWSClient(conn *websocket.Conn, user domain.UserID, l zerolog.Logger) *WSClient {
	id := domain.NewClientID()
	return &WSClient{
		id:   id,
		user: user,
		conn: conn,
		send: make(chan domain.Envelope, sendBufferSize),
		done: make(chan struct{}),
		log:  l.With().Str("client_id", id.String()).Logger(),
	}
}

func (c *WSClient) ID() domain.ClientID   { return c.id }
func (c *WSClient) UserID() domain.UserID { return c.user }

// Send queues env. A client that cannot keep up is disconnected.
func (c *WSClient) Send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- env:
		return nil
	default:
		c.log.Warn().Msg("Send buffer full, closing connection")
		c.closeLocked()
		return errSendBufferFull
	}
}

func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *WSClient) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// readPump blocks until the connection fails, passing every envelope to
// handle.
func (c *WSClient) readPump(handle func(domain.Envelope)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.replyError("", err)
			continue
		}
		handle(env)
	}
}

func (c *WSClient) replyError(event string, err error) {
	env, _ := domain.NewEnvelope(domain.EventError, "", domain.ErrorPayload{Message: err.Error(), Event: event})
	_ = c.Send(env)
}

// ServeWS upgrades an authenticated request into a signaling connection.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := newWSClient(conn, user, *hlog.FromRequest(r))
	member := service.Member{ClientID: client.ID(), UserID: user}
	client.log.Info().Msg("New client connected")

	h.Hub.Register(client)
	go client.writePump()

	hello, _ := domain.NewEnvelope(domain.EventConnected, "", domain.ConnectedPayload{UserID: user, ClientID: client.ID().String()})
	_ = client.Send(hello)

	ctx := r.Context()
	defer func() {
		client.log.Info().Msg("Client disconnected")
		h.CallService.Disconnect(context.WithoutCancel(ctx), member)
		h.Hub.Unregister(client)
		client.Close()
	}()

	client.readPump(func(env domain.Envelope) {
		if err := h.CallService.HandleEvent(ctx, member, env); err != nil {
			client.log.Warn().Err(err).Str("event", env.Event).Msg("Failed to handle event")
			client.replyError(env.Event, err)
		}
	})
}
