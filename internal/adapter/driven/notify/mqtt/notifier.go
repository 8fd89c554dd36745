// Package mqtt pushes incoming-call notices to an MQTT broker for clients
// that are not on the signaling socket.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Wyydra/learnloop/internal/core/domain"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// Publisher is the part of paho.Client the notifier uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
}

// implements port.CallNotifier
type Notifier struct {
	pub    Publisher
	prefix string
}

func New(pub Publisher, prefix string) *Notifier {
	return &Notifier{pub: pub, prefix: strings.Trim(prefix, "/")}
}

// Connect dials the broker. The returned func disconnects.
func Connect(opts Options) (*Notifier, func(), error) {
	o := paho.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	o.SetUsername(opts.Username)
	o.SetPassword(opts.Password)
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectionLostHandler(func(c paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := paho.NewClient(o)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("mqtt connect failed: %w", token.Error())
	}
	log.Info().Str("broker", opts.Broker).Msg("Connected to MQTT broker")
	return New(client, opts.Prefix), func() { client.Disconnect(250) }, nil
}

// Topic is where a user's incoming calls are published.
func (n *Notifier) Topic(userID domain.UserID) string {
	return fmt.Sprintf("%s/users/%s/calls", n.prefix, userID)
}

func (n *Notifier) NotifyIncoming(ctx context.Context, calleeID domain.UserID, p domain.IncomingPayload) error {
	env, err := domain.NewEnvelope(domain.EventCallIncoming, p.CallerID, p)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	token := n.pub.Publish(n.Topic(calleeID), 1, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}
