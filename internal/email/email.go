// Package email provides address helpers shared by recipient import,
// resolution and message building.
package email

import (
	"net/mail"
	"strings"
)

// Normalize returns the canonical comparison form of an address:
// surrounding whitespace removed and lower-cased.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Valid reports whether address is a bare, parseable mailbox address.
func Valid(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" || len(address) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(address)
	if err != nil {
		return false
	}
	// Reject display-name forms such as "Name <user@example.com>"
	if addr.Address != address {
		return false
	}
	return ExtractDomain(address) != ""
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(address string) string {
	parsed, err := mail.ParseAddress(address)
	if err == nil {
		address = parsed.Address
	}
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
