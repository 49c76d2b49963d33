// Package emailpoll implements C4 (spec §4.4): poll the bound e-mail
// transport for unprocessed messages, upload each CSV attachment to the
// object store, and enqueue one C5 job per attachment. A message is
// marked processed only once every one of its attachments is durably
// enqueued, so a crash mid-message is retried whole on the next poll.
package emailpoll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/adapters/email"
	"github.com/priceleap/enq/internal/adapters/objectstore"
	"github.com/priceleap/enq/internal/domain"
	"github.com/priceleap/enq/internal/errkind"
	"github.com/priceleap/enq/internal/jobstore"
	"github.com/priceleap/enq/internal/worker"
)

// HandlerRef is the handler_ref registered with the Worker Runtime and
// the one the default recurring schedule fires (spec §6).
const HandlerRef = "email.poll"

// ConcurrencyKey and ConcurrencyWindow implement spec §4.4's rule that a
// second poll started before the first finishes must not run
// concurrently — one poll cycle is one exclusive unit of work.
const ConcurrencyKey = "email-poll"

const ConcurrencyWindow = 5 * time.Minute

// SplitHandlerRef is the C5 handler_ref this poller hands attachments to.
const SplitHandlerRef = "csv.split"

// Config carries the pieces of Handler that vary by deployment.
type Config struct {
	Queue string
}

// Handler wires the e-mail transport, the object store, and the Job
// Store into the C4 operation.
type Handler struct {
	transport email.Transport
	objects   objectstore.Store
	jobs      *jobstore.Store
	cfg       Config
	logger    *zap.Logger
}

func New(transport email.Transport, objects objectstore.Store, jobs *jobstore.Store, cfg Config, logger *zap.Logger) *Handler {
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	return &Handler{transport: transport, objects: objects, jobs: jobs, cfg: cfg, logger: logger}
}

// SplitPayload is the argument C5 decodes from its job payload.
type SplitPayload struct {
	EmailID    string    `json:"emailId"`
	Filename   string    `json:"filename"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
	ObjectKey  string    `json:"objectKey"`
}

// Run is the worker.HandlerFunc body for HandlerRef.
func (h *Handler) Run(ctx context.Context, _ []byte) error {
	messages, err := h.transport.GetNewMessages(ctx)
	if err != nil {
		return errkind.Integrationf(err, "emailpoll: get new messages")
	}

	var failures []error
	for _, msg := range messages {
		attachments := email.FilterCSVAttachments(msg.Attachments)
		if len(attachments) == 0 {
			// Nothing worth enqueuing; still fully "processed" per spec
			// §3 (non-CSV attachments are dropped, not queued).
			if err := h.transport.MarkProcessed(ctx, msg.ID); err != nil {
				h.logger.Warn("mark processed failed for csv-less message", zap.String("email_id", msg.ID), zap.Error(err))
			}
			continue
		}

		if err := h.enqueueAttachments(ctx, msg, attachments); err != nil {
			// Leave this message unmarked; the next poll retries it
			// whole (spec §4.4: partial progress is not visible). The
			// whole handler still fails so the Worker Runtime applies
			// its retry/backoff policy instead of reporting success.
			h.logger.Warn("failed to fully enqueue message, will retry next poll",
				zap.String("email_id", msg.ID), zap.Error(err))
			failures = append(failures, fmt.Errorf("message %s: %w", msg.ID, err))
			continue
		}

		if err := h.transport.MarkProcessed(ctx, msg.ID); err != nil {
			failures = append(failures, fmt.Errorf("mark %s processed: %w", msg.ID, err))
		}
	}
	if len(failures) > 0 {
		return errkind.Integrationf(errors.Join(failures...), "emailpoll: %d of %d messages failed", len(failures), len(messages))
	}
	return nil
}

func (h *Handler) enqueueAttachments(ctx context.Context, msg domain.Email, attachments []domain.Attachment) error {
	for _, att := range attachments {
		key, err := h.objects.Put(ctx, att.Filename, att.Bytes)
		if err != nil {
			return errkind.Integrationf(err, "upload attachment %s", att.Filename)
		}

		payload, err := worker.EncodePayload(SplitPayload{
			EmailID:    msg.ID,
			Filename:   att.Filename,
			Sender:     msg.From,
			Subject:    msg.Subject,
			ReceivedAt: msg.ReceivedAt,
			ObjectKey:  key,
		})
		if err != nil {
			return errkind.Validationf("encode split payload: %v", err)
		}

		if _, err := h.jobs.Enqueue(ctx, domain.Job{
			Queue:          h.cfg.Queue,
			HandlerRef:     SplitHandlerRef,
			Payload:        payload,
			ConcurrencyKey: "csv-split:" + key,
		}); err != nil {
			return errkind.Transientf(err, "enqueue split job for %s", key)
		}
	}
	return nil
}
