package alert

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"pattern-trader/internal/config"
)

// SendFunc has the signature of smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier mails order messages to the order recipients and everything
// else to the error recipients. A kind with no recipients is skipped.
type EmailNotifier struct {
	addr    string
	from    string
	auth    smtp.Auth
	orderTo []string
	errorTo []string
	send    SendFunc
	now     func() time.Time
}

func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	if !cfg.Enabled {
		return nil
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailNotifier{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from:    cfg.From,
		auth:    auth,
		orderTo: cfg.OrderRecipients,
		errorTo: cfg.ErrorRecipients,
		send:    smtp.SendMail,
		now:     time.Now,
	}
}

func (e *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	if e == nil {
		return nil
	}
	to := e.errorTo
	if msg.Kind == KindOrder {
		to = e.orderTo
	}
	if len(to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.send(e.addr, e.auth, e.from, to, e.compose(to, msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", e.addr, err)
	}
	return nil
}

func (e *EmailNotifier) compose(to []string, msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
