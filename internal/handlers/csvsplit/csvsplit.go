// Package csvsplit implements C5 (spec §4.5): stream a CSV object from
// the object store, coerce every cell through the field ladder, and
// chop the rows into fixed-size batches wired together as a linear
// continuation chain so C6 dispatches them to the downstream API in
// order, one at a time.
package csvsplit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/adapters/objectstore"
	"github.com/priceleap/enq/internal/csvcoerce"
	"github.com/priceleap/enq/internal/domain"
	"github.com/priceleap/enq/internal/errkind"
	"github.com/priceleap/enq/internal/handlers/emailpoll"
	"github.com/priceleap/enq/internal/jobstore"
	"github.com/priceleap/enq/internal/worker"
)

// HandlerRef is the handler_ref registered for this handler.
const HandlerRef = "csv.split"

// DispatchHandlerRef is the C6 handler_ref this splitter chains into.
const DispatchHandlerRef = "batch.dispatch"

// ConcurrencyWindow bounds how long the split of a single object holds
// its concurrency key (spec §4.5: "keyed by object_key").
const ConcurrencyWindow = 10 * time.Minute

// DefaultBatchSize is spec §3's row count per outbound batch.
const DefaultBatchSize = 1000

// Config carries the pieces of Handler that vary by deployment.
type Config struct {
	Queue     string
	BatchSize int
}

// Handler wires the object store and the Job Store into the C5
// operation.
type Handler struct {
	objects objectstore.Store
	jobs    *jobstore.Store
	cfg     Config
	logger  *zap.Logger
}

func New(objects objectstore.Store, jobs *jobstore.Store, cfg Config, logger *zap.Logger) *Handler {
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Handler{objects: objects, jobs: jobs, cfg: cfg, logger: logger}
}

// DispatchPayload is the argument C6 decodes from its job payload.
type DispatchPayload struct {
	EmailID      string           `json:"emailId"`
	Filename     string           `json:"filename"`
	Sender       string           `json:"sender"`
	Subject      string           `json:"subject"`
	ReceivedAt   time.Time        `json:"receivedAt"`
	BatchNumber  int              `json:"batchNumber"`
	TotalBatches int              `json:"totalBatches"`
	Rows         []map[string]any `json:"rows"`
}

// Run is the worker.HandlerFunc body for HandlerRef.
func (h *Handler) Run(ctx context.Context, payload []byte) error {
	var in emailpoll.SplitPayload
	if err := worker.DecodePayload(payload, &in); err != nil {
		return errkind.Validationf("csvsplit: decode payload: %v", err)
	}

	stream, err := h.objects.GetStream(ctx, in.ObjectKey)
	if err != nil {
		return errkind.Integrationf(err, "csvsplit: fetch object %s", in.ObjectKey)
	}
	defer stream.Close()

	batches, err := readBatches(stream, h.cfg.BatchSize)
	if err != nil {
		return errkind.Validationf("csvsplit: %s: %v", in.Filename, err)
	}
	if len(batches) == 0 {
		h.logger.Info("csv file had no data rows, nothing to dispatch",
			zap.String("email_id", in.EmailID), zap.String("filename", in.Filename))
		return nil
	}

	return h.chainDispatchJobs(ctx, in, batches)
}

func (h *Handler) chainDispatchJobs(ctx context.Context, in emailpoll.SplitPayload, batches [][]map[string]any) error {
	total := len(batches)
	concurrencyKey := "batch-dispatch:" + in.EmailID

	var parentID string
	for i, rows := range batches {
		batchNumber := i + 1
		payload, err := worker.EncodePayload(DispatchPayload{
			EmailID:      in.EmailID,
			Filename:     in.Filename,
			Sender:       in.Sender,
			Subject:      in.Subject,
			ReceivedAt:   in.ReceivedAt,
			BatchNumber:  batchNumber,
			TotalBatches: total,
			Rows:         rows,
		})
		if err != nil {
			return errkind.Validationf("encode dispatch payload for batch %d: %v", batchNumber, err)
		}

		job := domain.Job{Queue: h.cfg.Queue, HandlerRef: DispatchHandlerRef, Payload: payload, ConcurrencyKey: concurrencyKey}
		if batchNumber == 1 {
			id, err := h.jobs.Enqueue(ctx, job)
			if err != nil {
				return errkind.Transientf(err, "enqueue first dispatch batch")
			}
			parentID = id
			continue
		}

		id, err := h.jobs.Continue(ctx, parentID, job)
		if err != nil {
			return errkind.Transientf(err, "chain dispatch batch %d after %s", batchNumber, parentID)
		}
		parentID = id
	}
	return nil
}

// readBatches parses a CSV stream into row maps keyed by header column
// name, each cell coerced through csvcoerce.Field, and groups them into
// chunks of at most batchSize rows (spec §4.5). FieldsPerRecord is set to
// -1 so rows with fewer trailing fields than the header are tolerated
// (spec §8 scenario 5); LazyQuotes tolerates unescaped/escaped-quote
// edge cases in hand-authored CSVs.
func readBatches(r io.Reader, batchSize int) ([][]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !hasNonEmptyColumn(header) {
		return nil, fmt.Errorf("header row has no non-empty column names")
	}

	var batches [][]map[string]any
	var current []map[string]any
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(record) == 1 && record[0] == "" {
			continue // blank line
		}

		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = csvcoerce.Field(record[i])
			} else {
				row[col] = ""
			}
		}
		current = append(current, row)
		if len(current) == batchSize {
			batches = append(batches, current)
			current = nil
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}

func hasNonEmptyColumn(header []string) bool {
	for _, col := range header {
		if col != "" {
			return true
		}
	}
	return false
}
