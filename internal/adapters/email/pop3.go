package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/knadh/go-pop3"

	"github.com/priceleap/enq/internal/domain"
	"github.com/priceleap/enq/internal/errkind"
)

// POP3Config configures the POP3 binding (spec §6: `email.provider=pop3`
// host/port/credential triple).
type POP3Config struct {
	Host     string
	Port     int
	User     string
	Password string
	TLS      bool
}

// POP3 retrieves messages over POP3. Per spec §4.7, "POP3 implementations
// may no-op SendReply (with a log warning)" — POP3 has no way to send
// mail, and per §9's open question, MarkProcessed here is only correct
// for the lifetime of one process since POP3 cannot track read flags
// reliably; this binding keeps an in-memory processed set exactly like
// the mock's, to be explicit about that limitation rather than silently
// depending on server-side state that doesn't exist.
type POP3 struct {
	cfg POP3Config
	log func(format string, args ...any)

	mu        sync.Mutex
	processed map[string]bool
}

func NewPOP3(cfg POP3Config, warnf func(format string, args ...any)) *POP3 {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return &POP3{cfg: cfg, log: warnf, processed: make(map[string]bool)}
}

func (p *POP3) client() *pop3.Client {
	return pop3.New(pop3.Opt{
		Host:       p.cfg.Host,
		Port:       p.cfg.Port,
		TLSEnabled: p.cfg.TLS,
	})
}

func (p *POP3) GetNewMessages(ctx context.Context) ([]domain.Email, error) {
	c := p.client()
	conn, err := c.NewConn()
	if err != nil {
		return nil, errkind.Transientf(err, "pop3: connect to %s", p.cfg.Host)
	}
	defer conn.Quit()

	if err := conn.Auth(p.cfg.User, p.cfg.Password); err != nil {
		return nil, errkind.Integrationf(err, "pop3: auth as %s", p.cfg.User)
	}

	msgs, err := conn.List(0)
	if err != nil {
		return nil, errkind.Transientf(err, "pop3: list")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.Email
	for _, m := range msgs {
		msgID := fmt.Sprintf("%d", m.ID)
		if p.processed[msgID] {
			continue
		}
		buf, err := conn.RetrRaw(m.ID)
		if err != nil {
			return nil, errkind.Transientf(err, "pop3: retrieve %d", m.ID)
		}
		msg, err := parseMIMEMessage(msgID, buf.Bytes())
		if err != nil {
			// A malformed message body is a validation problem with
			// that one message, not the poll as a whole; skip it.
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (p *POP3) SendReply(_ context.Context, id, body string) error {
	p.log("pop3: SendReply is a no-op (id=%s); POP3 cannot send mail", id)
	return nil
}

func (p *POP3) MarkProcessed(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed[id] = true
	return nil
}

func (p *POP3) Identity() string { return "pop3" }

// parseMIMEMessage parses a raw RFC 5322 message into a domain.Email,
// keeping only CSV attachments per spec §3.
func parseMIMEMessage(id string, raw []byte) (domain.Email, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return domain.Email{}, err
	}

	receivedAt := time.Now().UTC()
	if d, err := m.Header.Date(); err == nil {
		receivedAt = d
	}

	msg := domain.Email{
		ID:         id,
		From:       m.Header.Get("From"),
		Subject:    m.Header.Get("Subject"),
		ReceivedAt: receivedAt,
	}

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return msg, nil
	}

	mr := multipart.NewReader(m.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, nil
		}
		filename := part.FileName()
		if filename == "" || !IsCSVAttachment(filename) {
			continue
		}
		data, err := io.ReadAll(part)
		if err != nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			Filename:    filename,
			ContentType: part.Header.Get("Content-Type"),
			Bytes:       data,
			Size:        int64(len(data)),
		})
	}
	return msg, nil
}
