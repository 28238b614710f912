package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type email struct {
	addr     string
	host     string
	from     string
	to       []string
	auth     smtp.Auth
	sendMail sendMailFunc
}

func newEmail(s Settings) (Notifier, error) {
	if s.EmailSMTPHost == "" || s.EmailFrom == "" || len(s.EmailTo) == 0 {
		return nil, fmt.Errorf("email notifier requires EMAIL_SMTP_HOST, EMAIL_FROM and EMAIL_TO")
	}
	e := &email{
		addr:     net.JoinHostPort(s.EmailSMTPHost, strconv.Itoa(s.EmailSMTPPort)),
		host:     s.EmailSMTPHost,
		from:     s.EmailFrom,
		to:       s.EmailTo,
		sendMail: smtp.SendMail,
	}
	if s.EmailSMTPUser != "" {
		e.auth = smtp.PlainAuth("", s.EmailSMTPUser, s.EmailSMTPPass, s.EmailSMTPHost)
	}
	return e, nil
}

func (e *email) Name() string { return "email" }

// Send has no context-aware path in net/smtp; it returns early only when ctx
// is already done.
func (e *email) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.sendMail(e.addr, e.auth, e.from, e.to, e.compose(n))
}

func (e *email) compose(n Notification) []byte {
	var b strings.Builder
	b.WriteString("From: " + e.from + "\r\n")
	b.WriteString("To: " + strings.Join(e.to, ", ") + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(n.Title) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(n.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
