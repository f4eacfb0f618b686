// Package attachments stores the files submitted with an expense and hands
// out signed, time-limited links to them. Callers only ever see keys and
// links, never backend paths.
package attachments

import (
	"context"
	"io"
)

// BlobStore persists opaque bytes under a key. Put must not leave a
// readable object behind when it fails or its context is cancelled.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete is idempotent: removing a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ctxReader stops a copy as soon as ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
