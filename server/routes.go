package server

import (
	"github.com/gofiber/fiber/v3/middleware/adaptor"
)

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthHandler)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	api := s.app.Group("/console")

	api.Get("/status", s.healthHandler)
	api.Get("/tenants", s.tenantsHandler)
	api.Put("/tenant", s.setTenantHandler)
	api.Put("/sound", s.setSoundHandler)

	api.Get("/conversations", s.conversationsHandler)
	api.Post("/conversations/select", s.selectHandler)

	api.Get("/active", s.activeHandler)
	api.Delete("/active", s.closeActiveHandler)
	api.Post("/active/older", s.loadOlderHandler)
	api.Put("/active/draft", s.draftHandler)
	api.Post("/active/attachments", s.attachHandler)
	api.Delete("/active/attachments", s.clearAttachmentsHandler)
	api.Post("/active/send", s.sendHandler)
	api.Post("/active/override", s.overrideHandler)
	api.Post("/active/remove-silence", s.removeSilenceHandler)

	api.Post("/scroll", s.scrollHandler)

	api.Get("/notifications", s.notificationsHandler)
	api.Delete("/notifications/:id", s.dismissHandler)
}
