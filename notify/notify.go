package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long a toast stays visible before it dismisses itself.
const DefaultTTL = 5 * time.Second

const publishTimeout = 3 * time.Second

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Toast struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher fans notifications out to other consoles.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// SoundPlayer emits the audible new-message alert.
type SoundPlayer interface {
	Play(address string)
}

// LogPlayer is the headless sound player.
type LogPlayer struct{}

func (LogPlayer) Play(address string) {
	log.Info().Str("address", address).Msg("Notification sound")
}

type Config struct {
	TTL       time.Duration
	Player    SoundPlayer
	Publisher Publisher
	Channel   string
	Now       func() time.Time
	NewID     func() string
}

// Center holds the visible toasts and plays notification sounds.
type Center struct {
	ttl       time.Duration
	player    SoundPlayer
	publisher Publisher
	channel   string
	now       func() time.Time
	newID     func() string

	mu     sync.Mutex
	toasts []Toast
	timers map[string]*time.Timer
}

func NewCenter(cfg Config) *Center {
	c := &Center{
		ttl:       cfg.TTL,
		player:    cfg.Player,
		publisher: cfg.Publisher,
		channel:   cfg.Channel,
		now:       cfg.Now,
		newID:     cfg.NewID,
		timers:    make(map[string]*time.Timer),
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.player == nil {
		c.player = LogPlayer{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

func (c *Center) Info(title, message string) {
	c.Show(LevelInfo, title, message)
}

func (c *Center) Success(title, message string) {
	c.Show(LevelSuccess, title, message)
}

func (c *Center) Warning(title, message string) {
	c.Show(LevelWarning, title, message)
}

func (c *Center) Error(title, message string) {
	c.Show(LevelError, title, message)
}

// Show adds a toast that is dismissed automatically after the TTL.
func (c *Center) Show(level Level, title, message string) Toast {
	toast := Toast{
		ID:        c.newID(),
		Level:     level,
		Title:     title,
		Message:   message,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	c.toasts = append(c.toasts, toast)
	c.timers[toast.ID] = time.AfterFunc(c.ttl, func() {
		c.expire(toast.ID)
	})
	c.mu.Unlock()

	log.Info().
		Str("level", string(level)).
		Str("title", title).
		Msg("Toast shown")

	c.publish("toast", toast)
	return toast
}

// List returns the visible toasts, oldest first.
func (c *Center) List() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Toast, len(c.toasts))
	copy(out, c.toasts)
	return out
}

// Dismiss removes a toast before its TTL. It reports whether it existed.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[id]; ok {
		t.Stop()
	}
	return c.remove(id)
}

// Play emits the notification sound for address.
func (c *Center) Play(address string) {
	c.player.Play(address)
	c.publish("sound", map[string]string{"address": address})
}

// Close stops every pending auto-dismiss timer.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

func (c *Center) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(id)
}

// remove must be called with c.mu held.
func (c *Center) remove(id string) bool {
	delete(c.timers, id)
	for i, t := range c.toasts {
		if t.ID == id {
			c.toasts = append(c.toasts[:i], c.toasts[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Center) publish(kind string, data any) {
	if c.publisher == nil || c.channel == "" {
		return
	}

	payload, err := json.Marshal(map[string]any{"kind": kind, "data": data})
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("Failed to encode notification")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.publisher.Publish(ctx, c.channel, payload); err != nil {
			log.Warn().Err(err).Str("channel", c.channel).Msg("Failed to publish notification")
		}
	}()
}
