// Package mail sends operator notifications over SMTP.
package mail

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/config"
)

// Notifier delivers a fire-and-forget operator notification. Send failures
// are logged by the implementation, never escalated: a broken mail relay
// must not take a collection job down with it.
type Notifier interface {
	Send(subject, body string)
}

// SMTPNotifier sends plain text mail through a single SMTP relay.
type SMTPNotifier struct {
	addr      string
	auth      smtp.Auth
	sender    string
	recipient string
	logger    *zap.Logger
}

// NewSMTP builds an SMTPNotifier from the mail section of the bootstrap
// config.
func NewSMTP(cfg config.SMTPConfig, logger *zap.Logger) *SMTPNotifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPNotifier{
		addr:      fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth:      auth,
		sender:    cfg.Sender,
		recipient: cfg.Recipient,
		logger:    logger,
	}
}

// Send delivers one message. Errors are logged and swallowed.
func (n *SMTPNotifier) Send(subject, body string) {
	msg := BuildMessage(n.sender, n.recipient, subject, body)
	if err := smtp.SendMail(n.addr, n.auth, n.sender, []string{n.recipient}, msg); err != nil {
		n.logger.Error("failed to send notification mail",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}
	n.logger.Debug("notification mail sent", zap.String("subject", subject))
}

// BuildMessage assembles an RFC 5322 plain text message.
func BuildMessage(sender, recipient, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", sender)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Nop is the Notifier used when SMTP is disabled.
type Nop struct{}

// Send discards the message.
func (Nop) Send(_, _ string) {}
