package email

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/priceleap/enq/internal/errkind"
)

const rawTestMessage = "From: sender@example.com\r\n" +
	"Subject: your price list\r\n" +
	"Date: Mon, 1 Jan 2024 10:00:00 +0000\r\n" +
	"Content-Type: multipart/mixed; boundary=BOUND\r\n" +
	"\r\n" +
	"--BOUND\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"see attached\r\n" +
	"--BOUND\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"prices.csv\"\r\n" +
	"\r\n" +
	"sku,price\r\nA1,1\r\n" +
	"--BOUND--\r\n"

func TestParseIMAPMessage_ExtractsSenderSubjectAndCSVAttachment(t *testing.T) {
	msg, err := parseIMAPMessage("5", []byte(rawTestMessage))
	require.NoError(t, err)
	require.Equal(t, "5", msg.ID)
	require.Equal(t, "sender@example.com", msg.From)
	require.Equal(t, "your price list", msg.Subject)
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, "prices.csv", msg.Attachments[0].Filename)
}

func TestIMAP_SendReply_UsesStoredSenderNotTheBareID(t *testing.T) {
	i := NewIMAP(IMAPConfig{SMTPHost: "127.0.0.1", SMTPPort: 1, SMTPFrom: "reports@example.com"})
	i.senders.Store("5", "sender@example.com")

	err := i.SendReply(context.Background(), "5", "done")
	require.Error(t, err)
	// The SMTP dial itself fails (nothing listens on :1), but the address
	// it tried must be the mapped sender, never the bare sequence number.
	require.Contains(t, err.Error(), "sender@example.com")
	require.NotContains(t, err.Error(), "send reply to 5")
}

func TestIMAP_SendReply_UnknownSenderFailsValidation(t *testing.T) {
	i := NewIMAP(IMAPConfig{SMTPHost: "127.0.0.1", SMTPPort: 1})

	err := i.SendReply(context.Background(), "999", "done")
	require.Error(t, err)
	kind, ok := errkind.As(err)
	require.True(t, ok)
	require.Equal(t, errkind.Validation, kind.Kind)
}

