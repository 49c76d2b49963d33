package emailpoll

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/adapters/email"
	"github.com/priceleap/enq/internal/adapters/objectstore"
	"github.com/priceleap/enq/internal/domain"
)

// failingObjectStore fails every Put, forcing enqueueAttachments to fail
// without needing a live Job Store.
type failingObjectStore struct {
	objectstore.Store
}

func (failingObjectStore) Put(context.Context, string, []byte) (string, error) {
	return "", errors.New("object store unavailable")
}

func (failingObjectStore) GetStream(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("object store unavailable")
}

// A message with no CSV attachments is marked processed without ever
// touching the Job Store, so this path can be exercised with a nil
// *jobstore.Store.
func TestRun_MessageWithNoCSVAttachmentsIsMarkedProcessedWithoutEnqueue(t *testing.T) {
	transport := email.NewMock()
	transport.Seed(domain.Email{
		ID:   "email-1",
		From: "sender@example.com",
		Attachments: []domain.Attachment{
			{Filename: "readme.txt", Bytes: []byte("hello")},
		},
	})

	h := New(transport, objectstore.NewMock(objectstore.KeyLayout{}), nil, Config{}, zap.NewNop())
	require.NoError(t, h.Run(context.Background(), nil))
	require.True(t, transport.IsProcessed("email-1"))
}

func TestRun_NoMessagesIsNoOp(t *testing.T) {
	transport := email.NewMock()
	h := New(transport, objectstore.NewMock(objectstore.KeyLayout{}), nil, Config{}, zap.NewNop())
	require.NoError(t, h.Run(context.Background(), nil))
}

// An upload failure while enqueuing a CSV attachment must fail the whole
// job (spec §4.4), not be swallowed as a per-message skip, so the Worker
// Runtime's retry/backoff policy actually engages.
func TestRun_AttachmentUploadFailureFailsTheJob(t *testing.T) {
	transport := email.NewMock()
	transport.Seed(domain.Email{
		ID:   "email-1",
		From: "sender@example.com",
		Attachments: []domain.Attachment{
			{Filename: "prices.csv", Bytes: []byte("sku,price\nA1,1\n")},
		},
	})

	h := New(transport, failingObjectStore{}, nil, Config{}, zap.NewNop())
	err := h.Run(context.Background(), nil)
	require.Error(t, err)
	require.False(t, transport.IsProcessed("email-1"))
}
