package server

import (
	"errors"
	"io"
	"strings"

	"github.com/adriangmrraa/clinicforge/backend"
	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/adriangmrraa/clinicforge/console"
	"github.com/adriangmrraa/clinicforge/conversation"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

func (s *Server) healthHandler(c fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "ok", Console: s.console.Status()})
}

func (s *Server) tenantsHandler(c fiber.Ctx) error {
	tenants := s.console.Tenants()
	if tenants == nil {
		tenants = []chat.Tenant{}
	}
	return c.JSON(tenants)
}

func (s *Server) setTenantHandler(c fiber.Ctx) error {
	var req TenantRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.TenantID <= 0 {
		return badRequest(c, "tenant_id is required")
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	if err := s.console.SetTenant(ctx, req.TenantID); err != nil {
		return s.fail(c, err)
	}

	log.Info().Int64("tenant_id", req.TenantID).Msg("Tenant selected")
	return c.JSON(s.console.Status())
}

func (s *Server) setSoundHandler(c fiber.Ctx) error {
	var req SoundRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	s.console.SetSoundEnabled(req.Enabled)
	return c.JSON(SoundResponse{Enabled: s.console.SoundEnabled()})
}

func (s *Server) conversationsHandler(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	list, err := s.console.Conversations(ctx, c.Query("filter"), c.Query("q"))
	if err != nil {
		return s.fail(c, err)
	}
	if list == nil {
		list = []chat.ConversationSummary{}
	}

	return c.JSON(ConversationsResponse{Conversations: list, Count: len(list)})
}

func (s *Server) selectHandler(c fiber.Ctx) error {
	var req SelectRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	key, err := req.identityKey()
	if err != nil {
		return badRequest(c, err.Error())
	}

	log.Info().Str("key", key.String()).Msg("Opening conversation")

	ctx, cancel := s.requestContext()
	defer cancel()

	snap, err := s.console.Select(ctx, key)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(snap)
}

func (r SelectRequest) identityKey() (chat.IdentityKey, error) {
	if r.Key != "" {
		return chat.ParseIdentityKey(r.Key)
	}

	channel := chat.Channel(strings.ToLower(strings.TrimSpace(r.Channel)))
	if !channel.Valid() || strings.TrimSpace(r.Address) == "" {
		return chat.IdentityKey{}, errors.New("key or a valid channel and address are required")
	}
	return chat.KeyFor(channel, r.Address), nil
}

func (s *Server) activeHandler(c fiber.Ctx) error {
	return c.JSON(s.console.Active())
}

func (s *Server) closeActiveHandler(c fiber.Ctx) error {
	s.console.CloseActive()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) loadOlderHandler(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	if err := s.console.LoadOlder(ctx); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.console.Active())
}

func (s *Server) draftHandler(c fiber.Ctx) error {
	var req DraftRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := s.console.SetDraft(req.Text); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.console.Active())
}

func (s *Server) attachHandler(c fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file field is required")
	}
	if header.Size > maxAttachmentSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(ErrorResponse{
			Error: ErrorDetail{
				Code:    "FILE_TOO_LARGE",
				Message: "Attachment exceeds the size limit",
				Details: fiber.Map{"max_bytes": maxAttachmentSize},
			},
		})
	}

	file, err := header.Open()
	if err != nil {
		log.Error().Err(err).Str("file_name", header.Filename).Msg("Error opening uploaded file")
		return internalError(c, "Failed to read attachment")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Error().Err(err).Str("file_name", header.Filename).Msg("Error reading uploaded file")
		return internalError(c, "Failed to read attachment")
	}

	if err := s.console.AttachFile(header.Filename, data); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.console.Active())
}

func (s *Server) clearAttachmentsHandler(c fiber.Ctx) error {
	s.console.ClearAttachments()
	return c.JSON(s.console.Active())
}

func (s *Server) sendHandler(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	if err := s.console.Send(ctx); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.console.Active())
}

func (s *Server) overrideHandler(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	if err := s.console.ToggleOverride(ctx); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.console.Active())
}

func (s *Server) removeSilenceHandler(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	if err := s.console.RemoveSilence(ctx); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.console.Active())
}

func (s *Server) scrollHandler(c fiber.Ctx) error {
	var req ScrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	atBottom, action := s.console.Scroll(req.ScrollTop, req.ScrollHeight, req.ClientHeight)
	return c.JSON(ScrollResponse{AtBottom: atBottom, Action: action})
}

func (s *Server) notificationsHandler(c fiber.Ctx) error {
	return c.JSON(s.console.Notifications())
}

func (s *Server) dismissHandler(c fiber.Ctx) error {
	if !s.console.DismissNotification(c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Notification not found",
			},
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{console.ErrInvalidFilter, fiber.StatusBadRequest, "INVALID_PARAMETER"},
	{console.ErrUnknownTenant, fiber.StatusNotFound, "UNKNOWN_TENANT"},
	{console.ErrConversationNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{conversation.ErrNoActiveConversation, fiber.StatusConflict, "NO_ACTIVE_CONVERSATION"},
	{conversation.ErrWindowClosed, fiber.StatusUnprocessableEntity, "WINDOW_CLOSED"},
	{conversation.ErrEmptyMessage, fiber.StatusBadRequest, "EMPTY_MESSAGE"},
	{conversation.ErrBusy, fiber.StatusConflict, "BUSY"},
	{conversation.ErrNoMoreHistory, fiber.StatusConflict, "NO_MORE_HISTORY"},
	{conversation.ErrAttachmentsUnsupported, fiber.StatusUnprocessableEntity, "UNSUPPORTED"},
	{conversation.ErrUnsupported, fiber.StatusUnprocessableEntity, "UNSUPPORTED"},
	{conversation.ErrNotSilenced, fiber.StatusConflict, "NOT_SILENCED"},
	{conversation.ErrStale, fiber.StatusConflict, "STALE"},
	{backend.ErrUnauthorized, fiber.StatusUnauthorized, "UNAUTHORIZED"},
	{backend.ErrForbidden, fiber.StatusForbidden, "FORBIDDEN"},
	{backend.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{backend.ErrServer, fiber.StatusBadGateway, "UPSTREAM_ERROR"},
}

func (s *Server) fail(c fiber.Ctx, err error) error {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			log.Warn().Err(err).Str("path", c.Path()).Str("code", m.code).Msg("Console request refused")
			return c.Status(m.status).JSON(ErrorResponse{
				Error: ErrorDetail{Code: m.code, Message: err.Error()},
			})
		}
	}

	log.Error().Err(err).Str("path", c.Path()).Msg("Console request failed")
	return internalError(c, err.Error())
}

func badRequest(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_PARAMETER",
			Message: message,
		},
	})
}

func internalError(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    "INTERNAL_ERROR",
			Message: message,
		},
	})
}
