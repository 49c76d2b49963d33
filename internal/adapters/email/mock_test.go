package email

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/priceleap/enq/internal/domain"
)

func TestFilterCSVAttachments_CaseInsensitive(t *testing.T) {
	atts := []domain.Attachment{
		{Filename: "prices.CSV"},
		{Filename: "readme.txt"},
		{Filename: "list.csv"},
		{Filename: "archive.csv.zip"},
	}
	kept := FilterCSVAttachments(atts)
	require.Len(t, kept, 2)
	require.Equal(t, "prices.CSV", kept[0].Filename)
	require.Equal(t, "list.csv", kept[1].Filename)
}

func TestMock_SeedThenGetNewMessages(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	m.Seed(domain.Email{
		ID:         "email-1",
		From:       "vendor@example.com",
		Subject:    "prices",
		ReceivedAt: time.Now(),
		Attachments: []domain.Attachment{
			{Filename: "prices.csv", Bytes: []byte("a,b\n1,2\n")},
			{Filename: "note.txt", Bytes: []byte("ignore me")},
		},
	})

	msgs, err := m.GetNewMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Attachments, 1, "non-csv attachments must be filtered at seed time")
}

func TestMock_ReseedAfterProcessedIsIdempotent(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	email := domain.Email{ID: "email-1", Attachments: []domain.Attachment{{Filename: "a.csv"}}}
	m.Seed(email)
	require.NoError(t, m.MarkProcessed(ctx, "email-1"))
	require.True(t, m.IsProcessed("email-1"))

	// Re-seeding the same id after it was marked processed must not
	// bring it back into GetNewMessages (spec §8 idempotence property).
	m.Seed(email)

	msgs, err := m.GetNewMessages(ctx)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMock_SendReplyIsRecorded(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	require.NoError(t, m.SendReply(ctx, "email-1", "done"))
	require.NoError(t, m.SendReply(ctx, "email-1", "done again"))

	replies := m.Replies()
	require.Len(t, replies, 2)
	require.Equal(t, "email-1", replies[0].EmailID)
}

func TestMock_ClearResetsState(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	m.Seed(domain.Email{ID: "e1", Attachments: []domain.Attachment{{Filename: "a.csv"}}})
	require.NoError(t, m.MarkProcessed(ctx, "e1"))
	m.Clear()

	require.False(t, m.IsProcessed("e1"))
	msgs, err := m.GetNewMessages(ctx)
	require.NoError(t, err)
	require.Empty(t, msgs)
}
