package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adriangmrraa/clinicforge/backoff"
	"github.com/adriangmrraa/clinicforge/events"
	"github.com/adriangmrraa/clinicforge/metrics"
	"github.com/rs/zerolog/log"
)

// DefaultPolicy never gives up and waits at most five seconds between
// attempts.
var DefaultPolicy = backoff.Policy{
	Base:   time.Second,
	Max:    5 * time.Second,
	Jitter: 0.5,
}

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// Transport opens one connection and streams raw event frames into deliver
// until the connection drops or ctx is done. Implementations report status
// changes through notify.
type Transport interface {
	Name() string
	Session(ctx context.Context, notify func(Status), deliver func([]byte)) error
}

type Config struct {
	Transport Transport
	Policy    backoff.Policy
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Channel keeps a transport connected and decodes its frames into events.
type Channel struct {
	transport Transport
	policy    backoff.Policy
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.RWMutex
	status  Status
	changed time.Time
}

func NewChannel(cfg Config) *Channel {
	c := &Channel{
		transport: cfg.Transport,
		policy:    cfg.Policy,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		status:    StatusDisconnected,
	}
	if c.policy == (backoff.Policy{}) {
		c.policy = DefaultPolicy
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.changed = c.now()
	return c
}

// Status returns the connection status and when it last changed.
func (c *Channel) Status() (Status, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.changed
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.changed = c.now()
	c.mu.Unlock()

	c.metrics.RealtimeConnected(s == StatusConnected)
	log.Info().
		Str("transport", c.transport.Name()).
		Str("status", string(s)).
		Msg("Real-time channel status changed")
}

// Run connects and reconnects until ctx is done, sending decoded events to
// out in arrival order. It only returns with ctx's error.
func (c *Channel) Run(ctx context.Context, out chan<- events.Event) error {
	attempt := 0
	for {
		var connected atomic.Bool
		notify := func(s Status) {
			if s == StatusConnected {
				connected.Store(true)
			}
			c.setStatus(s)
		}

		err := c.transport.Session(ctx, notify, func(data []byte) {
			c.deliver(ctx, data, out)
		})

		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		}
		if connected.Load() {
			attempt = 0
		}

		c.setStatus(StatusReconnecting)
		delay := c.policy.Delay(attempt)
		attempt++

		logEvent := log.Warn()
		if err == nil {
			err = errors.New("connection closed")
			logEvent = log.Info()
		}
		logEvent.Err(err).
			Str("transport", c.transport.Name()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Real-time channel lost, reconnecting")
		c.metrics.Reconnect()

		if err := backoff.Sleep(ctx, delay); err != nil {
			c.setStatus(StatusDisconnected)
			return err
		}
	}
}

func (c *Channel) deliver(ctx context.Context, data []byte, out chan<- events.Event) {
	ev, err := events.Decode(data, c.now())
	if err != nil {
		log.Warn().Err(err).Str("transport", c.transport.Name()).Msg("Dropping undecodable event")
		c.metrics.EventDropped("decode")
		return
	}

	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
