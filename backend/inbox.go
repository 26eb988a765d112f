package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/adriangmrraa/clinicforge/chat"
)

type InboxSummaryParams struct {
	Limit         int
	Offset        int
	Channel       string
	HumanOverride *bool
}

type sendInboxRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type humanOverrideRequest struct {
	ConversationID string `json:"conversation_id"`
	Enabled        bool   `json:"enabled"`
}

func (c *Client) InboxSummary(ctx context.Context, params InboxSummaryParams) ([]chat.ConversationSummary, error) {
	q := url.Values{}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.Channel != "" {
		q.Set("channel", params.Channel)
	}
	if params.HumanOverride != nil {
		q.Set("human_override", strconv.FormatBool(*params.HumanOverride))
	}

	var wire []chat.MirrorSummary
	if err := c.getJSON(ctx, "/inbox/summary", q, &wire); err != nil {
		return nil, err
	}

	out := make([]chat.ConversationSummary, 0, len(wire))
	for _, s := range wire {
		if s.ID == "" {
			continue
		}
		out = append(out, s.Normalize())
	}
	return out, nil
}

// InboxMessages returns a page of mirror messages in backend order, newest
// first.
func (c *Client) InboxMessages(ctx context.Context, conversationID string, limit, offset int) ([]chat.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var wire []chat.MirrorMessage
	if err := c.getJSON(ctx, "/inbox/"+url.PathEscape(conversationID)+"/messages", q, &wire); err != nil {
		return nil, err
	}

	out := make([]chat.Message, len(wire))
	for i, m := range wire {
		out[i] = m.Normalize()
	}
	return out, nil
}

// SendInbox posts a free-form reply. A 403 means the reply window closed.
func (c *Client) SendInbox(ctx context.Context, conversationID, message string) error {
	return c.doJSON(ctx, request{
		method:      http.MethodPost,
		path:        "/inbox/send",
		body:        sendInboxRequest{ConversationID: conversationID, Message: message},
		windowGated: true,
		noRetry:     true,
	}, nil)
}

func (c *Client) MarkInboxRead(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, request{
		method: http.MethodPut,
		path:   "/inbox/" + url.PathEscape(conversationID) + "/read",
	}, nil)
}

func (c *Client) SetInboxOverride(ctx context.Context, conversationID string, enabled bool) error {
	return c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   "/inbox/human-override",
		body:   humanOverrideRequest{ConversationID: conversationID, Enabled: enabled},
	}, nil)
}
