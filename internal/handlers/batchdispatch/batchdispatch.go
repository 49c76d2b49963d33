// Package batchdispatch implements C6 (spec §4.6): POST one batch to the
// downstream API and, once the last batch of a file has posted
// successfully, reply to the original sender with a completion receipt.
package batchdispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/adapters/apiclient"
	"github.com/priceleap/enq/internal/adapters/email"
	"github.com/priceleap/enq/internal/errkind"
	"github.com/priceleap/enq/internal/handlers/csvsplit"
	"github.com/priceleap/enq/internal/worker"
)

// HandlerRef is the handler_ref registered for this handler.
const HandlerRef = "batch.dispatch"

// ConcurrencyWindow bounds how long a file's dispatch chain holds its
// concurrency key (spec §4.6: "keyed by email_id").
const ConcurrencyWindow = 5 * time.Minute

// Handler wires the outbound API client and e-mail transport into the C6
// operation.
type Handler struct {
	client    apiclient.Client
	transport email.Transport
	logger    *zap.Logger
}

func New(client apiclient.Client, transport email.Transport, logger *zap.Logger) *Handler {
	return &Handler{client: client, transport: transport, logger: logger}
}

// Run is the worker.HandlerFunc body for HandlerRef.
func (h *Handler) Run(ctx context.Context, payload []byte) error {
	var in csvsplit.DispatchPayload
	if err := worker.DecodePayload(payload, &in); err != nil {
		return errkind.Validationf("batchdispatch: decode payload: %v", err)
	}

	req := apiclient.Request{
		FileName:    in.Filename,
		SenderEmail: in.Sender,
		Subject:     in.Subject,
		ReceivedAt:  in.ReceivedAt,
		Data:        in.Rows,
		IsLast:      in.BatchNumber == in.TotalBatches,
	}

	if _, err := h.client.Send(ctx, req); err != nil {
		return err // already an *errkind.Error from the client
	}

	if !req.IsLast {
		return nil
	}

	// A reply failure does not fail the batch job (spec §4.6): the
	// downstream ingest already succeeded, so retrying this job would
	// only resend rows the API already accepted.
	body := receiptBody(in)
	if err := h.transport.SendReply(ctx, in.EmailID, body); err != nil {
		h.logger.Warn("send completion reply failed", zap.String("email_id", in.EmailID), zap.Error(err))
	}
	return nil
}

func receiptBody(in csvsplit.DispatchPayload) string {
	return fmt.Sprintf(
		"%s processed successfully at %s UTC across %d batch(es).",
		in.Filename, time.Now().UTC().Format(time.RFC3339), in.TotalBatches,
	)
}
