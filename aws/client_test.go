package aws

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/adriangmrraa/clinicforge/chat"
	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

type fakeUploader struct {
	input *s3manager.UploadInput
	body  string
	err   error
}

func (f *fakeUploader) Upload(input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), input, opts...)
}

func (f *fakeUploader) UploadWithContext(ctx awssdk.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	f.input = input
	data, _ := io.ReadAll(input.Body)
	f.body = string(data)
	if f.err != nil {
		return nil, f.err
	}
	return &s3manager.UploadOutput{Location: "s3://" + *input.Bucket + "/" + *input.Key}, nil
}

func TestClient_Upload(t *testing.T) {
	fake := &fakeUploader{}
	c := newClient("sa-east-1", "clinic-files", fake)
	c.now = func() time.Time { return time.Unix(0, 42) }

	att, err := c.Upload(context.Background(), 3, "rx scan.png", strings.NewReader("image-bytes"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if *fake.input.Key != "attachments/3/42_rx_scan.png" {
		t.Errorf("Unexpected key %s", *fake.input.Key)
	}
	if *fake.input.ContentType != "image/png" {
		t.Errorf("Expected image/png, got %s", *fake.input.ContentType)
	}
	if fake.body != "image-bytes" {
		t.Errorf("Expected body forwarded, got %q", fake.body)
	}

	expected := chat.Attachment{
		Kind:      chat.AttachmentImage,
		URL:       "https://clinic-files.s3.sa-east-1.amazonaws.com/attachments/3/42_rx_scan.png",
		FileName:  "rx scan.png",
		SizeBytes: int64(len("image-bytes")),
	}
	if att.Kind != expected.Kind || att.URL != expected.URL || att.FileName != expected.FileName || att.SizeBytes != expected.SizeBytes {
		t.Errorf("Expected %+v, got %+v", expected, att)
	}
}

func TestClient_UploadFailure(t *testing.T) {
	c := newClient("us-east-1", "b", &fakeUploader{err: errors.New("denied")})

	if _, err := c.Upload(context.Background(), 1, "a.pdf", strings.NewReader("x")); err == nil {
		t.Error("Expected error")
	}
}

func TestSanitizeFileName(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{input: "report.pdf", expected: "report.pdf"},
		{input: `C:\Users\ana\x ray.jpg`, expected: "x_ray.jpg"},
		{input: "../../etc/passwd", expected: "passwd"},
		{input: "", expected: "file"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := sanitizeFileName(tc.input); got != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
		})
	}
}
