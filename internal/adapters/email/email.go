// Package email implements the e-mail transport adapter contract from
// spec §4.7: GetNewMessages, SendReply, MarkProcessed, plus a mock
// binding with the extra test hooks (Seed, Clear, IsProcessed) the test
// harness needs, and POP3/IMAP bindings for production use.
package email

import (
	"context"
	"strings"

	"github.com/priceleap/enq/internal/domain"
)

// Transport is the contract every binding satisfies.
type Transport interface {
	// GetNewMessages retrieves messages not yet marked processed,
	// already filtered to CSV attachments (spec §3: "Only attachments
	// whose filename ends in .csv (case-insensitive) are kept").
	GetNewMessages(ctx context.Context) ([]domain.Email, error)
	// SendReply sends body back to the original sender of the message
	// identified by id.
	SendReply(ctx context.Context, id, body string) error
	// MarkProcessed records that every attachment of the message has
	// been fully enqueued, so a later poll does not process it again.
	MarkProcessed(ctx context.Context, id string) error
	// Identity names the bound transport for the control-plane's
	// "report the currently bound transport's identity" endpoint
	// (spec §6).
	Identity() string
}

// IsCSVAttachment reports whether an attachment's filename ends in .csv,
// case-insensitively, per spec §3.
func IsCSVAttachment(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".csv")
}

// FilterCSVAttachments returns only the attachments IsCSVAttachment
// keeps, preserving order.
func FilterCSVAttachments(atts []domain.Attachment) []domain.Attachment {
	var out []domain.Attachment
	for _, a := range atts {
		if IsCSVAttachment(a.Filename) {
			out = append(out, a)
		}
	}
	return out
}
