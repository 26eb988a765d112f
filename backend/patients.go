package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/adriangmrraa/clinicforge/chat"
)

// PatientContext loads the clinical side panel for an address. tenantID is
// sent as an override when non-zero.
func (c *Client) PatientContext(ctx context.Context, address string, tenantID int64) (*chat.PatientContext, error) {
	q := url.Values{}
	if tenantID != 0 {
		q.Set("tenant_id_override", strconv.FormatInt(tenantID, 10))
	}

	var pc chat.PatientContext
	if err := c.getJSON(ctx, "/patients/phone/"+url.PathEscape(address)+"/context", q, &pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

// Tenants lists the clinics the operator can switch between.
func (c *Client) Tenants(ctx context.Context) ([]chat.Tenant, error) {
	var tenants []chat.Tenant
	if err := c.getJSON(ctx, "/chat/tenants", nil, &tenants); err != nil {
		return nil, err
	}
	return tenants, nil
}

// Upload stores a file for a direct send and returns it as an attachment.
func (c *Client) Upload(ctx context.Context, tenantID int64, fileName string, content io.Reader) (chat.Attachment, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("failed to create form file: %w", err)
	}
	size, err := io.Copy(part, content)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := writer.WriteField("tenant_id", strconv.FormatInt(tenantID, 10)); err != nil {
		return chat.Attachment{}, fmt.Errorf("failed to write tenant field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return chat.Attachment{}, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	var uploaded chat.UploadedFile
	err = c.doJSON(ctx, request{
		method:      http.MethodPost,
		path:        "/sessions/upload",
		raw:         buf.Bytes(),
		contentType: writer.FormDataContentType(),
		noRetry:     true,
	}, &uploaded)
	if err != nil {
		return chat.Attachment{}, err
	}

	att := uploaded.Attachment()
	att.SizeBytes = size
	if att.FileName == "" {
		att.FileName = fileName
	}
	return att, nil
}
