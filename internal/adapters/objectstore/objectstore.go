// Package objectstore implements the object-store adapter contract from
// spec §4.7: Put, Get, GetStream, Delete against opaque keys, with the
// key layout from spec §6 (`csv-files/<YYYY>/<MM>/<DD>/<uuid>_<name>`,
// or `test-<id>/` prefixed in test mode).
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Store is the contract every binding (mock, S3) satisfies.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (key string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// KeyLayout builds the opaque key spec §6 describes. testMode/testID
// implement the "test mode prefixes with test-<id>/" rule.
type KeyLayout struct {
	TestMode bool
	TestID   string
	Now      func() time.Time
}

func (k KeyLayout) now() time.Time {
	if k.Now != nil {
		return k.Now()
	}
	return time.Now().UTC()
}

// Build returns the key a fresh upload of `name` should be stored under.
func (k KeyLayout) Build(name string) string {
	t := k.now()
	base := fmt.Sprintf("csv-files/%04d/%02d/%02d/%s_%s", t.Year(), t.Month(), t.Day(), uuid.NewString(), name)
	if k.TestMode {
		return fmt.Sprintf("test-%s/%s", k.TestID, base)
	}
	return base
}
