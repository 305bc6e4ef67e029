package video

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

// Transfer moves the bytes of a recording to an issued destination
type Transfer interface {
	Transfer(ctx context.Context, dest, fileName string, body io.Reader, size int64) error
}

// MultipartTransfer posts the recording as a multipart form to an HTTP
// upload URL.
type MultipartTransfer struct {
	client    *http.Client
	fieldName string
}

// NewMultipartTransfer creates an HTTP transfer. A nil client gets a
// 10 minute timeout.
func NewMultipartTransfer(client *http.Client) *MultipartTransfer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &MultipartTransfer{client: client, fieldName: "file"}
}

// Transfer streams body to dest without buffering it in memory
func (t *MultipartTransfer) Transfer(ctx context.Context, dest, fileName string, body io.Reader, size int64) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile(t.fieldName, fileName)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, body); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, pr)
	if err != nil {
		pr.Close()
		return errors.Permanent("invalid upload url", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return &remote.TransportError{Op: "video_transfer", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return remote.NewStatusError("video_transfer", resp.StatusCode, string(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// S3Transfer uploads to s3://bucket/key destinations through the S3 upload
// manager, which switches to multipart uploads for large recordings.
type S3Transfer struct {
	uploader *manager.Uploader
}

// NewS3Transfer creates a transfer over an S3-compatible client
func NewS3Transfer(client manager.UploadAPIClient) *S3Transfer {
	return &S3Transfer{uploader: manager.NewUploader(client)}
}

// Transfer uploads body to the bucket and key named by dest
func (t *S3Transfer) Transfer(ctx context.Context, dest, fileName string, body io.Reader, size int64) error {
	bucket, key, err := ParseS3URL(dest)
	if err != nil {
		return err
	}
	_, err = t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType(fileName)),
	})
	if err != nil {
		return &remote.TransportError{Op: "video_transfer", Err: fmt.Errorf("failed to upload to s3: %w", err)}
	}
	return nil
}

// ParseS3URL splits s3://bucket/key
func ParseS3URL(dest string) (bucket, key string, err error) {
	u, err := url.Parse(dest)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", errors.Permanent(fmt.Sprintf("invalid s3 destination %q", dest), err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", errors.Permanent(fmt.Sprintf("s3 destination %q has no key", dest), nil)
	}
	return u.Host, key, nil
}

func contentType(fileName string) string {
	switch {
	case strings.HasSuffix(fileName, ".webm"):
		return "video/webm"
	case strings.HasSuffix(fileName, ".mp4"):
		return "video/mp4"
	}
	return "application/octet-stream"
}

// S3Config holds credentials for an S3-compatible store such as R2
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether enough is configured to build a client
func (c S3Config) Enabled() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// NewS3Client builds an S3 client with static credentials. A custom
// endpoint switches to path-style addressing.
func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	region := c.Region
	if region == "" {
		region = "auto"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKeyID, c.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
