// Package relay delivers built newsletter messages through an outbound mail service.
package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/emersion/go-smtp"
)

// Message is a single fully built email addressed to one recipient
type Message struct {
	NewsletterID string
	RecipientID  string
	From         string // envelope sender
	To           string
	Subject      string
	Data         []byte // RFC 5322 message
}

// Limits describes the capacity a relay accepts
type Limits struct {
	MaxConnections           int
	MaxMessagesPerConnection int
}

// Relay is an outbound mail service
type Relay interface {
	// Name identifies the relay in logs and metrics
	Name() string
	// Validate checks static configuration without touching the network
	Validate() error
	// Verify checks the relay is reachable and accepts our credentials
	Verify(ctx context.Context) error
	// Send delivers one message. Errors are *DeliveryError when the relay answered.
	Send(ctx context.Context, msg *Message) error
	Limits() Limits
	Close() error
}

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsTemporaryError checks if the error is temporary. Unknown errors are treated as temporary.
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorizeError classifies a relay failure: 5xx replies are permanent,
// 4xx replies and everything else temporary
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return &DeliveryError{Temporary: se.Code < 500, Message: msg}
	}

	if m := smtpCodePattern.FindStringSubmatch(err.Error()); len(m) > 1 {
		return &DeliveryError{Temporary: !strings.HasPrefix(m[1], "5"), Message: msg}
	}

	return &DeliveryError{Temporary: true, Message: msg}
}
