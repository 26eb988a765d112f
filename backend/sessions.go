package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/adriangmrraa/clinicforge/chat"
)

type humanInterventionRequest struct {
	Address  string `json:"address"`
	TenantID int64  `json:"tenant_id"`
	Activate bool   `json:"activate"`
	Duration int64  `json:"duration"`
}

type removeSilenceRequest struct {
	Address  string `json:"address"`
	TenantID int64  `json:"tenant_id"`
}

type sendDirectRequest struct {
	Address     string            `json:"address"`
	TenantID    int64             `json:"tenant_id"`
	Message     string            `json:"message"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
}

func tenantQuery(tenantID int64) url.Values {
	q := url.Values{}
	q.Set("tenant_id", strconv.FormatInt(tenantID, 10))
	return q
}

func (c *Client) ListSessions(ctx context.Context, tenantID int64) ([]chat.ConversationSummary, error) {
	var wire []chat.DirectSummary
	if err := c.getJSON(ctx, "/sessions", tenantQuery(tenantID), &wire); err != nil {
		return nil, err
	}

	out := make([]chat.ConversationSummary, 0, len(wire))
	for _, s := range wire {
		if s.PhoneNumber == "" {
			continue
		}
		out = append(out, s.Normalize())
	}
	return out, nil
}

// SessionMessages returns a page of direct messages, oldest first.
func (c *Client) SessionMessages(ctx context.Context, address string, tenantID int64, limit, offset int) ([]chat.Message, error) {
	q := tenantQuery(tenantID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var wire []chat.DirectMessage
	if err := c.getJSON(ctx, "/sessions/messages/"+url.PathEscape(address), q, &wire); err != nil {
		return nil, err
	}

	out := make([]chat.Message, len(wire))
	for i, m := range wire {
		out[i] = m.Normalize()
	}
	return out, nil
}

func (c *Client) MarkSessionRead(ctx context.Context, address string, tenantID int64) error {
	return c.doJSON(ctx, request{
		method: http.MethodPut,
		path:   "/sessions/" + url.PathEscape(address) + "/read",
		query:  tenantQuery(tenantID),
	}, nil)
}

// SetHumanIntervention toggles the human override for duration, sent in
// milliseconds.
func (c *Client) SetHumanIntervention(ctx context.Context, address string, tenantID int64, activate bool, duration int64) error {
	return c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   "/sessions/human-intervention",
		body: humanInterventionRequest{
			Address:  address,
			TenantID: tenantID,
			Activate: activate,
			Duration: duration,
		},
	}, nil)
}

func (c *Client) RemoveSilence(ctx context.Context, address string, tenantID int64) error {
	return c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   "/sessions/remove-silence",
		body:   removeSilenceRequest{Address: address, TenantID: tenantID},
	}, nil)
}

func (c *Client) SendDirect(ctx context.Context, address string, tenantID int64, message string, attachments []chat.Attachment) error {
	return c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   "/sessions/send",
		body: sendDirectRequest{
			Address:     address,
			TenantID:    tenantID,
			Message:     message,
			Attachments: attachments,
		},
		noRetry: true,
	}, nil)
}
