// Package wsclient is the client end of the signaling socket.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	bufferSize = 64
)

var ErrClosed = errors.New("signaling connection closed")

// implements port.SignalingChannel
type Client struct {
	conn *websocket.Conn
	send chan domain.Envelope

	mu     sync.Mutex
	subs   map[int]chan domain.Envelope
	nextID int
	ended  bool

	welcome   chan domain.ConnectedPayload
	done      chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}
}

// WebSocketURL turns a server base URL into its /ws endpoint.
func WebSocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func Dial(ctx context.Context, server, token string) (*Client, error) {
	endpoint, err := WebSocketURL(server)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &Client{
		conn:     conn,
		send:     make(chan domain.Envelope, bufferSize),
		subs:     make(map[int]chan domain.Envelope),
		welcome:  make(chan domain.ConnectedPayload, 1),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Welcome waits for the server's connected envelope.
func (c *Client) Welcome(ctx context.Context) (domain.ConnectedPayload, error) {
	select {
	case p := <-c.welcome:
		return p, nil
	case <-c.readDone:
		return domain.ConnectedPayload{}, ErrClosed
	case <-ctx.Done():
		return domain.ConnectedPayload{}, ctx.Err()
	}
}

func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	env, err := domain.NewEnvelope(event, "", payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	case <-c.readDone:
		return ErrClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.readDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Subscribe() (<-chan domain.Envelope, func()) {
	ch := make(chan domain.Envelope, bufferSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.readDone
	return nil
}

func (c *Client) publish(env domain.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- env:
		default:
			log.Warn().Str("event", env.Event).Msg("Subscriber too slow, dropping signal")
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		c.ended = true
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
		c.mu.Unlock()
		close(c.readDone)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Signaling connection lost")
			}
			return
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("Invalid signaling frame")
			continue
		}
		if env.Event == domain.EventConnected {
			var p domain.ConnectedPayload
			if err := env.Decode(&p); err == nil {
				select {
				case c.welcome <- p:
				default:
				}
			}
		}
		c.publish(env)
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
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				log.Debug().Err(err).Msg("Signaling write failed")
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
		case <-c.readDone:
			return
		}
	}
}
