package relay

import (
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/jordan-wright/email"

	"github.com/Startup-Consulting-Inc/newsletter/internal/dkim"
	addr "github.com/Startup-Consulting-Inc/newsletter/internal/email"
)

// Sender is the From identity of outgoing newsletters
type Sender struct {
	Address string
	Name    string
	ReplyTo string
}

// Content is the personalized body of one message
type Content struct {
	NewsletterID   string
	RecipientID    string
	To             string
	Subject        string
	HTML           string
	Text           string
	UnsubscribeURL string
}

// Builder turns composed content into signed MIME messages
type Builder struct {
	sender Sender
	signer *dkim.Signer
	logger *slog.Logger
}

// NewBuilder creates a message builder. signer may be nil.
func NewBuilder(sender Sender, signer *dkim.Signer, logger *slog.Logger) (*Builder, error) {
	if !addr.Valid(sender.Address) {
		return nil, fmt.Errorf("invalid sender address %q", sender.Address)
	}
	if sender.ReplyTo != "" && !addr.Valid(sender.ReplyTo) {
		return nil, fmt.Errorf("invalid reply-to address %q", sender.ReplyTo)
	}
	return &Builder{sender: sender, signer: signer, logger: logger}, nil
}

// Build creates a multipart/alternative message for c
func (b *Builder) Build(c Content) (*Message, error) {
	e := email.NewEmail()
	from := mail.Address{Name: b.sender.Name, Address: b.sender.Address}
	e.From = from.String()
	e.To = []string{c.To}
	e.Subject = c.Subject
	e.HTML = []byte(c.HTML)
	e.Text = []byte(c.Text)
	if b.sender.ReplyTo != "" {
		e.ReplyTo = []string{b.sender.ReplyTo}
	}

	if c.UnsubscribeURL != "" {
		e.Headers.Set("List-Unsubscribe", "<"+c.UnsubscribeURL+">")
		e.Headers.Set("List-Unsubscribe-Post", "List-Unsubscribe=One-Click")
	}
	e.Headers.Set("X-Newsletter-ID", c.NewsletterID)

	data, err := e.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	if b.signer != nil {
		signed, err := b.signer.Sign(data)
		if err != nil {
			b.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", b.signer.Domain(),
				"newsletter_id", c.NewsletterID,
				"error", err,
			)
		} else {
			data = signed
		}
	}

	return &Message{
		NewsletterID: c.NewsletterID,
		RecipientID:  c.RecipientID,
		From:         b.sender.Address,
		To:           c.To,
		Subject:      c.Subject,
		Data:         data,
	}, nil
}
