package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Subscriber is the pub/sub side of the redis client.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, ready func(), handle func([]byte)) error
}

// Redis receives event envelopes published on a redis channel.
type Redis struct {
	client  Subscriber
	channel string
}

func NewRedis(client Subscriber, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Name() string {
	return "redis"
}

func (r *Redis) Session(ctx context.Context, notify func(Status), deliver func([]byte)) error {
	return r.client.Subscribe(ctx, r.channel, func() { notify(StatusConnected) }, deliver)
}

// NATS receives event envelopes on a subject. The NATS client reconnects on
// its own; a session only ends when the connection is closed for good.
type NATS struct {
	url           string
	subject       string
	reconnectWait time.Duration
}

func NewNATS(url, subject string) *NATS {
	return &NATS{url: url, subject: subject, reconnectWait: DefaultPolicy.Base}
}

func (n *NATS) Name() string {
	return "nats"
}

func (n *NATS) Session(ctx context.Context, notify func(Status), deliver func([]byte)) error {
	closed := make(chan struct{})

	opts := []nats.Option{
		nats.Name("clinicforge-console"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(n.reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Str("url", n.url).Msg("NATS disconnected")
			notify(StatusReconnecting)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			notify(StatusConnected)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			close(closed)
		}),
	}

	nc, err := nats.Connect(n.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", n.url, err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(n.subject, func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.subject, err)
	}
	defer sub.Unsubscribe()

	notify(StatusConnected)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return fmt.Errorf("nats connection to %s closed", n.url)
	}
}
