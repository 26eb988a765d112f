package server

import (
	"context"
	"time"

	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/adriangmrraa/clinicforge/console"
	"github.com/adriangmrraa/clinicforge/conversation"
	"github.com/adriangmrraa/clinicforge/metrics"
	"github.com/adriangmrraa/clinicforge/notify"
	"github.com/adriangmrraa/clinicforge/scroll"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

const (
	// requestTimeout bounds every backend round trip started by a handler.
	requestTimeout = 30 * time.Second

	maxAttachmentSize = 16 << 20
)

// Console is the operator surface the HTTP API drives.
type Console interface {
	Status() console.Status
	Tenants() []chat.Tenant
	SetTenant(ctx context.Context, id int64) error
	SetSoundEnabled(enabled bool)
	SoundEnabled() bool
	Conversations(ctx context.Context, filter, search string) ([]chat.ConversationSummary, error)
	Select(ctx context.Context, key chat.IdentityKey) (conversation.Snapshot, error)
	Active() conversation.Snapshot
	CloseActive()
	LoadOlder(ctx context.Context) error
	SetDraft(text string) error
	AttachFile(name string, data []byte) error
	ClearAttachments()
	Send(ctx context.Context) error
	ToggleOverride(ctx context.Context) error
	RemoveSilence(ctx context.Context) error
	Scroll(scrollTop, scrollHeight, clientHeight float64) (bool, scroll.Action)
	Notifications() []notify.Toast
	DismissNotification(id string) bool
}

type Options struct {
	CORSOrigins []string
	Metrics     *metrics.Metrics
}

type Server struct {
	app     *fiber.App
	console Console
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(c Console, opts Options) *Server {
	app := fiber.New(fiber.Config{
		AppName:   "clinicforge",
		BodyLimit: maxAttachmentSize + 1<<20,
	})

	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		app:     app,
		console: c,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}

	server.setupMiddleware(opts.CORSOrigins)
	server.setupRoutes()

	return server
}

// Start blocks serving on port until Shutdown is called.
func (s *Server) Start(port string) error {
	log.Info().Str("port", port).Msg("Starting console server")

	return s.app.Listen(":"+port, fiber.ListenConfig{
		DisableStartupMessage: true,
	})
}

// Shutdown cancels in-flight handler work and stops the listener.
func (s *Server) Shutdown() error {
	s.cancel()
	return s.app.Shutdown()
}

// requestContext derives the context handlers pass to the console. It ends
// on Shutdown or after requestTimeout.
func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, requestTimeout)
}
