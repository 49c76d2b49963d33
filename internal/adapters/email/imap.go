package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/smtp"
	"sync"

	imap "github.com/emersion/go-imap/v2"
	imapclient "github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/priceleap/enq/internal/domain"
	"github.com/priceleap/enq/internal/errkind"
)

// IMAPConfig configures both halves of the IMAP binding: retrieval over
// IMAP and reply delivery via its "SMTP sibling" (spec §4.7: "IMAP
// implementations send via an SMTP sibling").
type IMAPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	TLS      bool

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
}

// IMAP retrieves messages over IMAP and replies over SMTP.
type IMAP struct {
	cfg IMAPConfig

	// senders maps a message id (its IMAP sequence number, stringified)
	// to the From address parsed out of that message, so SendReply can
	// address its SMTP reply at the original sender rather than at the
	// sequence number itself.
	senders sync.Map
}

func NewIMAP(cfg IMAPConfig) *IMAP {
	return &IMAP{cfg: cfg}
}

func (i *IMAP) dial() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", i.cfg.Host, i.cfg.Port)
	if i.cfg.TLS {
		return imapclient.DialTLS(addr, nil)
	}
	return imapclient.DialInsecure(addr, nil)
}

func (i *IMAP) GetNewMessages(ctx context.Context) ([]domain.Email, error) {
	c, err := i.dial()
	if err != nil {
		return nil, errkind.Transientf(err, "imap: dial %s:%d", i.cfg.Host, i.cfg.Port)
	}
	defer c.Close()

	if err := c.Login(i.cfg.User, i.cfg.Password).Wait(); err != nil {
		return nil, errkind.Integrationf(err, "imap: login as %s", i.cfg.User)
	}

	if _, err := c.Select("INBOX", nil).Wait(); err != nil {
		return nil, errkind.Transientf(err, "imap: select INBOX")
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := c.Search(criteria, nil).Wait()
	if err != nil {
		return nil, errkind.Transientf(err, "imap: search unseen")
	}

	var out []domain.Email
	for _, seqNum := range searchData.AllSeqNums() {
		msg, err := i.fetchMessage(c, seqNum)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (i *IMAP) fetchMessage(c *imapclient.Client, seqNum uint32) (domain.Email, error) {
	seqSet := imap.SeqSet{}
	seqSet.AddNum(seqNum)

	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	}
	cmd := c.Fetch(seqSet, fetchOptions)
	defer cmd.Close()

	msgData := cmd.Next()
	if msgData == nil {
		return domain.Email{}, fmt.Errorf("imap: no data for seq %d", seqNum)
	}

	var raw []byte
	for {
		item := msgData.Next()
		if item == nil {
			break
		}
		if body, ok := item.(imapclient.FetchItemDataBodySection); ok {
			b, err := io.ReadAll(body.Literal)
			if err != nil {
				return domain.Email{}, err
			}
			raw = b
		}
	}

	msg, err := parseIMAPMessage(fmt.Sprintf("%d", seqNum), raw)
	if err != nil {
		return msg, err
	}
	if msg.From != "" {
		i.senders.Store(msg.ID, msg.From)
	}
	return msg, nil
}

func parseIMAPMessage(id string, raw []byte) (domain.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return domain.Email{}, err
	}

	msg := domain.Email{ID: id}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}
	if subj, err := mr.Header.Subject(); err == nil {
		msg.Subject = subj
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.ReceivedAt = date
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, nil
		}
		h, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		filename, err := h.Filename()
		if err != nil || filename == "" || !IsCSVAttachment(filename) {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			Filename: filename,
			Bytes:    data,
			Size:     int64(len(data)),
		})
	}
	return msg, nil
}

// SendReply sends a plain-text reply over the SMTP sibling configured
// alongside this IMAP account (spec §4.7). id is the message id returned
// by GetNewMessages; the original sender's address is recovered from the
// mapping fetchMessage populated, since id itself is only the IMAP
// sequence number and is not a deliverable address.
func (i *IMAP) SendReply(_ context.Context, id, body string) error {
	to, ok := i.senders.Load(id)
	if !ok {
		return errkind.Validationf("imap: no known sender for message id %q", id)
	}

	addr := fmt.Sprintf("%s:%d", i.cfg.SMTPHost, i.cfg.SMTPPort)
	auth := smtp.PlainAuth("", i.cfg.SMTPUser, i.cfg.SMTPPassword, i.cfg.SMTPHost)

	msg := []byte(fmt.Sprintf("From: %s\r\nSubject: Re: your price list\r\n\r\n%s\r\n", i.cfg.SMTPFrom, body))
	if err := smtp.SendMail(addr, auth, i.cfg.SMTPFrom, []string{to.(string)}, msg); err != nil {
		return errkind.Integrationf(err, "smtp: send reply to %s", to)
	}
	return nil
}

func (i *IMAP) MarkProcessed(ctx context.Context, id string) error {
	c, err := i.dial()
	if err != nil {
		return errkind.Transientf(err, "imap: dial for mark-processed")
	}
	defer c.Close()

	if err := c.Login(i.cfg.User, i.cfg.Password).Wait(); err != nil {
		return errkind.Integrationf(err, "imap: login as %s", i.cfg.User)
	}
	if _, err := c.Select("INBOX", nil).Wait(); err != nil {
		return errkind.Transientf(err, "imap: select INBOX")
	}

	seqSet := imap.SeqSet{}
	num, err := parseSeqNum(id)
	if err != nil {
		return errkind.Validationf("imap: mark-processed: bad message id %q", id)
	}
	seqSet.AddNum(num)

	storeFlags := &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagSeen},
	}
	if err := c.Store(seqSet, storeFlags, nil).Close(); err != nil {
		return errkind.Transientf(err, "imap: mark seen %s", id)
	}
	return nil
}

func (i *IMAP) Identity() string { return "imap" }

func parseSeqNum(id string) (uint32, error) {
	var n uint32
	_, err := fmt.Sscanf(id, "%d", &n)
	return n, err
}
