package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"outreachmail/internal/config"
	"outreachmail/pkg/models"

	mail "github.com/go-mail/mail"
	"github.com/google/uuid"
)

// SMTPProvider implements the Provider interface over a direct mailbox
// submission relay. It is the secondary path; template sends cannot be
// rendered here and are rejected before dialing.
type SMTPProvider struct {
	config *config.SMTPConfig
}

func NewSMTPProvider(cfg *config.SMTPConfig) (*SMTPProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("SMTP config cannot be nil")
	}

	if !cfg.Configured() {
		return nil, fmt.Errorf("SMTP relay credentials are not configured")
	}

	return &SMTPProvider{config: cfg}, nil
}

func (p *SMTPProvider) Name() string {
	return "smtp"
}

// Send implements Provider.Send.
func (p *SMTPProvider) Send(ctx context.Context, msg *models.Message) (*SendResult, error) {
	if msg.TemplateID != "" && msg.HTML == "" && msg.Text == "" {
		return nil, &RejectedError{
			Provider: p.Name(),
			Message:  "template sends are not supported by the SMTP relay",
		}
	}

	from := msg.From
	if from == "" {
		from = p.config.FromEmail
	}
	if from == "" {
		from = p.config.User
	}

	m := mail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To...)
	if len(msg.CC) > 0 {
		m.SetHeader("Cc", msg.CC...)
	}
	if len(msg.BCC) > 0 {
		m.SetHeader("Bcc", msg.BCC...)
	}
	m.SetHeader("Subject", msg.Subject)
	for key, value := range msg.Headers {
		m.SetHeader(key, value)
	}

	// Prefer multipart/alternative when both bodies are present.
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		if msg.HTML != "" {
			m.AddAlternative("text/html", msg.HTML)
		}
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	d := mail.NewDialer(p.config.Host, p.config.Port, p.config.User, p.config.Password)
	d.Timeout = p.config.Timeout
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	d.TLSConfig = &tls.Config{ServerName: p.config.Host}

	switch p.config.TLSMode {
	case "ssl":
		d.SSL = true
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	default: // "auto"
		d.StartTLSPolicy = mail.OpportunisticStartTLS
	}

	// go-mail has no context support; honor cancellation before dialing
	// and rely on the dialer timeout for the rest.
	if err := ctx.Err(); err != nil {
		return nil, &UnavailableError{Provider: p.Name(), Cause: err}
	}

	startTime := time.Now()
	err := d.DialAndSend(m)
	sendDuration := time.Since(startTime)

	if err != nil {
		log.Printf("SMTP send failed via %s:%d (took %v): %v",
			p.config.Host, p.config.Port, sendDuration, err)
		return nil, &UnavailableError{Provider: p.Name(), Cause: err}
	}

	// The relay gives no structured response; mint a local id so the
	// caller still gets a message reference.
	messageID := fmt.Sprintf("smtp-%s", uuid.New().String())

	log.Printf("SMTP send successful to %v via %s:%d (took %v)",
		msg.To, p.config.Host, p.config.Port, sendDuration)

	return &SendResult{
		MessageID: messageID,
		Duration:  sendDuration,
	}, nil
}
