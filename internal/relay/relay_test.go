package relay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/emersion/go-smtp"
)

func TestIsTemporaryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"temporary delivery error", &DeliveryError{Temporary: true, Message: "temp"}, true},
		{"permanent delivery error", &DeliveryError{Temporary: false, Message: "perm"}, false},
		{"wrapped permanent", fmt.Errorf("send: %w", &DeliveryError{Message: "perm"}), false},
		{"unknown error", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporaryError(tt.err); got != tt.want {
				t.Errorf("IsTemporaryError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTemporary bool
	}{
		{"smtp 550", &smtp.SMTPError{Code: 550, Message: "No such user"}, false},
		{"smtp 421", &smtp.SMTPError{Code: 421, Message: "Closing"}, true},
		{"text 554", errors.New("554 5.7.1 Message rejected"), false},
		{"text 451", errors.New("451 try again later"), true},
		{"no code", errors.New("connection reset by peer"), true},
		{"code inside word ignored", errors.New("id5500x failed"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := categorizeError(tt.err, "RCPT TO")
			if de.Temporary != tt.wantTemporary {
				t.Errorf("Temporary = %v, want %v", de.Temporary, tt.wantTemporary)
			}
			if de.Error() == "" {
				t.Error("empty message")
			}
		})
	}
}
