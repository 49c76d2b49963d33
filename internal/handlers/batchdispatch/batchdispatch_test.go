package batchdispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/adapters/apiclient"
	"github.com/priceleap/enq/internal/adapters/email"
	"github.com/priceleap/enq/internal/handlers/csvsplit"
	"github.com/priceleap/enq/internal/worker"
)

func TestRun_NonLastBatchDoesNotReply(t *testing.T) {
	client := apiclient.NewMock()
	transport := email.NewMock()
	h := New(client, transport, zap.NewNop())

	payload, err := worker.EncodePayload(csvsplit.DispatchPayload{
		EmailID: "email-1", Filename: "prices.csv",
		BatchNumber: 1, TotalBatches: 2,
		Rows: []map[string]any{{"sku": "A1"}},
	})
	require.NoError(t, err)

	require.NoError(t, h.Run(context.Background(), payload))
	require.Len(t, client.Calls(), 1)
	require.False(t, client.Calls()[0].IsLast)
	require.Empty(t, transport.Replies())
}

func TestRun_LastBatchSendsReceiptReply(t *testing.T) {
	client := apiclient.NewMock()
	transport := email.NewMock()
	h := New(client, transport, zap.NewNop())

	payload, err := worker.EncodePayload(csvsplit.DispatchPayload{
		EmailID: "email-1", Filename: "prices.csv", ReceivedAt: time.Now().UTC(),
		BatchNumber: 2, TotalBatches: 2,
		Rows: []map[string]any{{"sku": "B2"}},
	})
	require.NoError(t, err)

	require.NoError(t, h.Run(context.Background(), payload))
	require.True(t, client.Calls()[0].IsLast)

	replies := transport.Replies()
	require.Len(t, replies, 1)
	require.Equal(t, "email-1", replies[0].EmailID)
	require.Contains(t, replies[0].Body, "prices.csv")
}

func TestRun_ReplyFailureDoesNotFailTheJob(t *testing.T) {
	client := apiclient.NewMock()
	transport := &failingReplyTransport{Mock: email.NewMock()}
	h := New(client, transport, zap.NewNop())

	payload, err := worker.EncodePayload(csvsplit.DispatchPayload{
		EmailID: "email-1", Filename: "prices.csv",
		BatchNumber: 1, TotalBatches: 1,
	})
	require.NoError(t, err)

	require.NoError(t, h.Run(context.Background(), payload), "a reply failure must not fail an already-dispatched batch")
}

func TestRun_APIFailurePropagates(t *testing.T) {
	client := apiclient.NewMock()
	client.DefaultErr = errors.New("boom")
	transport := email.NewMock()
	h := New(client, transport, zap.NewNop())

	payload, err := worker.EncodePayload(csvsplit.DispatchPayload{BatchNumber: 1, TotalBatches: 1})
	require.NoError(t, err)

	require.Error(t, h.Run(context.Background(), payload))
}

type failingReplyTransport struct {
	*email.Mock
}

func (f *failingReplyTransport) SendReply(context.Context, string, string) error {
	return errors.New("smtp down")
}
