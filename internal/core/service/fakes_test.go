package service

import (
	"context"
	"sync"

	"github.com/Wyydra/learnloop/internal/core/domain"
)

type delivery struct {
	client domain.ClientID
	user   domain.UserID
	env    domain.Envelope
}

// fakeGateway records deliveries. Users listed in online have one
// connection each for SendToUser.
type fakeGateway struct {
	mu     sync.Mutex
	online map[domain.UserID]domain.ClientID
	sent   []delivery
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{online: make(map[domain.UserID]domain.ClientID)}
}

func (g *fakeGateway) SendToClient(ctx context.Context, clientID domain.ClientID, env domain.Envelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, delivery{client: clientID, env: env})
	return nil
}

func (g *fakeGateway) SendToUser(ctx context.Context, userID domain.UserID, env domain.Envelope) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	clientID, ok := g.online[userID]
	if !ok {
		return 0, nil
	}
	g.sent = append(g.sent, delivery{client: clientID, user: userID, env: env})
	return 1, nil
}

// to returns the events delivered to a client, in order.
func (g *fakeGateway) to(clientID domain.ClientID) []domain.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Envelope
	for _, d := range g.sent {
		if d.client == clientID {
			out = append(out, d.env)
		}
	}
	return out
}

func (g *fakeGateway) reset() {
	g.mu.Lock()
	g.sent = nil
	g.mu.Unlock()
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []domain.IncomingPayload
}

func (n *fakeNotifier) NotifyIncoming(ctx context.Context, calleeID domain.UserID, p domain.IncomingPayload) error {
	n.mu.Lock()
	n.calls = append(n.calls, p)
	n.mu.Unlock()
	return nil
}

func eventsOf(envs []domain.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}
