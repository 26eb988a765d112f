package aws

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/rs/zerolog/log"
)

// Client stores outgoing attachments in S3 and returns their public URL.
type Client struct {
	bucket   string
	region   string
	uploader s3manageriface.UploaderAPI
	now      func() time.Time
}

func NewClient(region, bucket string) (*Client, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	log.Info().
		Str("bucket", bucket).
		Str("region", region).
		Msg("AWS session created successfully")

	return newClient(region, bucket, s3manager.NewUploader(sess)), nil
}

func newClient(region, bucket string, uploader s3manageriface.UploaderAPI) *Client {
	return &Client{
		bucket:   bucket,
		region:   region,
		uploader: uploader,
		now:      time.Now,
	}
}

// Upload stores content under attachments/<tenant>/ and describes it as a
// chat attachment.
func (c *Client) Upload(ctx context.Context, tenantID int64, fileName string, content io.Reader) (chat.Attachment, error) {
	name := sanitizeFileName(fileName)
	key := fmt.Sprintf("attachments/%d/%d_%s", tenantID, c.now().UnixNano(), name)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	counter := &countingReader{r: content}
	input := &s3manager.UploadInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        counter,
		ContentType: aws.String(contentType),
	}

	if _, err := c.uploader.UploadWithContext(ctx, input); err != nil {
		log.Error().
			Err(err).
			Str("bucket", c.bucket).
			Str("key", key).
			Msg("S3 upload failed")
		return chat.Attachment{}, fmt.Errorf("failed to upload %s to S3: %w", fileName, err)
	}

	publicURL := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.bucket, c.region, key)

	log.Info().
		Str("s3_url", publicURL).
		Int64("size", counter.n).
		Msg("Attachment uploaded to S3 successfully")

	return chat.Attachment{
		Kind:      kindFor(contentType),
		URL:       publicURL,
		FileName:  fileName,
		SizeBytes: counter.n,
	}, nil
}

func kindFor(contentType string) chat.AttachmentKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return chat.AttachmentImage
	case strings.HasPrefix(contentType, "audio/"):
		return chat.AttachmentAudio
	case strings.HasPrefix(contentType, "video/"):
		return chat.AttachmentVideo
	}
	return chat.AttachmentFile
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r == ' ' || r == '/' || r == '?' || r == '#' {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
