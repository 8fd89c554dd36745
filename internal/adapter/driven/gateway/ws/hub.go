package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// implements port.RealTimeGateway
type Hub struct {
	mu         sync.RWMutex
	clients    map[domain.ClientID]Client
	register   chan Client
	unregister chan Client
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.ClientID]Client),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) SendToClient(ctx context.Context, clientID domain.ClientID, env domain.Envelope) error {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	return client.Send(env)
}

func (h *Hub) SendToUser(ctx context.Context, userID domain.UserID, env domain.Envelope) (int, error) {
	h.mu.RLock()
	var targets []Client
	for _, c := range h.clients {
		if c.UserID() == userID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var (
		sent int
		errs []error
	)
	for _, c := range targets {
		if err := c.Send(env); err != nil {
			errs = append(errs, fmt.Errorf("client %s: %w", c.ID(), err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Online reports how many connections are registered.
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[domain.ClientID]Client)
			h.mu.Unlock()
			for _, client := range clients {
				client.Close()
			}
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID()] = client
			h.mu.Unlock()
			log.Info().Str("client_id", client.ID().String()).Str("user_id", client.UserID().String()).Msg("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.ID()]
			delete(h.clients, client.ID())
			h.mu.Unlock()
			if ok {
				client.Close()
				log.Info().Str("client_id", client.ID().String()).Msg("Client unregistered")
			}
		}
	}
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.Close()
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
