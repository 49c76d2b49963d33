// Package domain holds the record types shared by the job store, the
// worker runtime, and every handler: jobs, recurring schedules, and the
// e-mail/CSV/batch descriptors that flow between handlers.
package domain

import "time"

// State is the lifecycle state of a Job record.
type State string

const (
	Enqueued             State = "enqueued"
	Scheduled            State = "scheduled"
	Processing           State = "processing"
	Succeeded            State = "succeeded"
	Failed               State = "failed"
	AwaitingContinuation State = "awaiting_continuation"
)

// Job is the unit of work held in the Job Store. See spec §3 for the
// invariants (I1-I5) every store implementation must uphold.
type Job struct {
	ID             string
	Prefix         string
	Queue          string
	HandlerRef     string
	Payload        []byte
	State          State
	CreatedAt      time.Time
	EnqueuedAt     *time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	Attempts       int
	NextAttemptAt  *time.Time
	ParentID       string
	ConcurrencyKey string
	OwnerToken     string
	LeaseExpiresAt *time.Time
	LastError      string
}

// Schedule is a long-lived recurring job specification, unique by Name.
type Schedule struct {
	Name       string
	Prefix     string
	CronExpr   string
	HandlerRef string
	Payload    []byte
	LastFireAt *time.Time
	NextFireAt time.Time
}

// Attachment is one file carried by an Email.
type Attachment struct {
	Filename    string
	ContentType string
	Bytes       []byte
	Size        int64
}

// Email is a retrieved message, already filtered to the attachments the
// transport decided are worth keeping (see spec §3: only *.csv survive).
type Email struct {
	ID          string
	From        string
	Subject     string
	ReceivedAt  time.Time
	Attachments []Attachment
}

// FileDescriptor is handed from the e-mail poll handler (C4) to the CSV
// split handler (C5): one per kept attachment.
type FileDescriptor struct {
	EmailID    string
	Filename   string
	Sender     string
	Subject    string
	ReceivedAt time.Time
	ObjectKey  string
}

// Batch is handed from the CSV split handler (C5) to the batch dispatch
// handler (C6): the file's identity plus one contiguous slice of rows.
type Batch struct {
	FileDescriptor
	BatchNumber  int
	TotalBatches int
	Rows         []map[string]any
}

// IsLast reports whether this is the terminal batch of its file. It is a
// derived value, never persisted independently, so it can never drift
// from BatchNumber/TotalBatches.
func (b Batch) IsLast() bool {
	return b.BatchNumber == b.TotalBatches
}
