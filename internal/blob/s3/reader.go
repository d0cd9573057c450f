package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Reader implements domain.BlobReader.
type Reader struct {
	c *Client
}

// NewReader creates a Reader backed by the given Client.
func NewReader(c *Client) *Reader { return &Reader{c: c} }

// Exists reports whether an object is stored at path.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.c.bucket),
		Key:    aws.String(r.c.key(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
	return true, nil
}

// isNotFound covers NotFound from HeadObject and bare 404 responses from
// S3-compatible providers.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}
