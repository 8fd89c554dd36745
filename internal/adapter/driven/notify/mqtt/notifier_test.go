package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	got   []published
	token paho.Token
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	p.got = append(p.got, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return p.token
}

func TestNotifyIncoming(t *testing.T) {
	pub := &fakePublisher{token: doneToken(nil)}
	n := New(pub, "learnloop/")

	incoming := domain.IncomingPayload{RoomID: "call-ex-1", ExchangeID: "ex-1", CallerID: "alice", CallID: "c-1"}
	require.NoError(t, n.NotifyIncoming(context.Background(), "bob", incoming))

	require.Len(t, pub.got, 1)
	msg := pub.got[0]
	assert.Equal(t, "learnloop/users/bob/calls", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var env domain.Envelope
	require.NoError(t, json.Unmarshal(msg.payload, &env))
	assert.Equal(t, domain.EventCallIncoming, env.Event)
	var p domain.IncomingPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, incoming, p)
}

func TestNotifyIncomingErrors(t *testing.T) {
	n := New(&fakePublisher{token: doneToken(errors.New("not connected"))}, "learnloop")
	assert.Error(t, n.NotifyIncoming(context.Background(), "bob", domain.IncomingPayload{}))

	pending := &fakeToken{done: make(chan struct{})}
	n = New(&fakePublisher{token: pending}, "learnloop")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.NotifyIncoming(ctx, "bob", domain.IncomingPayload{}), context.Canceled)
}
