package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adriangmrraa/clinicforge/backoff"
	"github.com/rs/zerolog/log"
)

type request struct {
	method      string
	path        string
	query       url.Values
	body        any
	raw         []byte
	contentType string
	// windowGated maps a 403 to ErrWindowClosed instead of ErrForbidden.
	windowGated bool
	// noRetry marks requests that must not be replayed, such as sends.
	noRetry bool
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, request{method: http.MethodGet, path: path, query: query}, out)
}

func (c *Client) doJSON(ctx context.Context, req request, out any) error {
	respBody, err := c.sendRequest(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response from %s: %w", req.path, err)
	}
	return nil
}

func (c *Client) sendRequest(ctx context.Context, req request) ([]byte, error) {
	payload := req.raw
	contentType := req.contentType
	if payload == nil && req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		contentType = "application/json"
	}

	if c.credentials != nil && c.credentials.AccessExpired(c.now()) {
		c.handleUnauthorized()
		return nil, &APIError{
			StatusCode: http.StatusUnauthorized,
			Method:     req.method,
			Path:       req.path,
			Message:    "access token expired",
			kind:       ErrUnauthorized,
		}
	}

	for attempt := 0; ; attempt++ {
		body, err := c.attempt(ctx, req, payload, contentType)
		if err == nil {
			return body, nil
		}

		if req.noRetry || attempt >= c.retry.MaxRetries || !retryable(ctx, err) {
			return nil, err
		}

		delay := c.retry.Delay(attempt)
		log.Warn().
			Err(err).
			Str("path", req.path).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying backend request")

		if sleepErr := backoff.Sleep(ctx, delay); sleepErr != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, req request, payload []byte, contentType string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.buildURL(req.path, req.query), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq, contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(req, resp.StatusCode, responseBody)
	}

	return responseBody, nil
}

func (c *Client) statusError(req request, status int, body []byte) error {
	apiErr := &APIError{
		StatusCode: status,
		Method:     req.method,
		Path:       req.path,
		Message:    errorMessage(body),
		kind:       classify(status),
	}

	switch status {
	case http.StatusUnauthorized:
		c.handleUnauthorized()
	case http.StatusForbidden:
		if req.windowGated {
			apiErr.kind = ErrWindowClosed
			break
		}
		log.Warn().Str("path", req.path).Msg("Backend denied access for tenant")
		if c.hooks.OnForbidden != nil {
			c.hooks.OnForbidden(req.path)
		}
	}

	return apiErr
}

func (c *Client) handleUnauthorized() {
	if c.hooks.CurrentRoute != nil && isPublicRoute(c.hooks.CurrentRoute()) {
		log.Debug().Msg("Backend rejected credentials on a public route")
		return
	}
	if c.credentials != nil {
		c.credentials.Clear()
	}
	log.Warn().Msg("Backend rejected credentials, session cleared")
	if c.hooks.OnUnauthorized != nil {
		c.hooks.OnUnauthorized()
	}
}

func (c *Client) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.credentials == nil {
		return
	}

	admin, access, tenant := c.credentials.snapshot()
	if admin != "" {
		req.Header.Set("X-Admin-Token", admin)
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	if tenant != 0 {
		req.Header.Set("X-Tenant-ID", strconv.FormatInt(tenant, 10))
	}
}

func (c *Client) buildURL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func errorMessage(body []byte) string {
	var payload struct {
		Detail  any    `json:"detail"`
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Detail != nil:
			return fmt.Sprint(payload.Detail)
		case payload.Error != nil:
			return fmt.Sprint(payload.Error)
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
