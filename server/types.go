package server

import (
	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/adriangmrraa/clinicforge/console"
	"github.com/adriangmrraa/clinicforge/scroll"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type HealthResponse struct {
	Status  string         `json:"status"`
	Console console.Status `json:"console"`
}

type TenantRequest struct {
	TenantID int64 `json:"tenant_id"`
}

type SoundRequest struct {
	Enabled bool `json:"enabled"`
}

// SelectRequest opens a conversation either by its identity key
// ("whatsapp:+5491100") or by channel and address.
type SelectRequest struct {
	Key     string `json:"key"`
	Channel string `json:"channel"`
	Address string `json:"address"`
}

type DraftRequest struct {
	Text string `json:"text"`
}

type ScrollRequest struct {
	ScrollTop    float64 `json:"scroll_top"`
	ScrollHeight float64 `json:"scroll_height"`
	ClientHeight float64 `json:"client_height"`
}

type ScrollResponse struct {
	AtBottom bool `json:"at_bottom"`
	scroll.Action
}

type ConversationsResponse struct {
	Conversations []chat.ConversationSummary `json:"conversations"`
	Count         int                        `json:"count"`
}

type SoundResponse struct {
	Enabled bool `json:"enabled"`
}
