package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MinPartSize is the smallest multipart part S3 accepts (5 MiB).
const MinPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter.
type Writer struct {
	c *Client
}

// NewWriter creates a Writer backed by the given Client.
func NewWriter(c *Client) *Writer { return &Writer{c: c} }

// Put uploads data to path under the client prefix in a single request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         aws.String(w.c.key(path)),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart uploads data in parts of partSize bytes, raised to
// MinPartSize when smaller.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.c.s3, func(u *manager.Uploader) {
		u.PartSize = max(partSize, MinPartSize)
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         aws.String(w.c.key(path)),
		Body:        data,
		ContentType: aws.String(contentTypeJSON),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}
