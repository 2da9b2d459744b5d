// Package dkim signs outgoing newsletters and manages DKIM keys.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"fmt"

	"github.com/emersion/go-msgauth/dkim"
)

// signedHeaders are covered by the signature. List-Unsubscribe-Post must be
// signed for one-click unsubscribe to be honoured by mailbox providers.
var signedHeaders = []string{
	"From",
	"To",
	"Subject",
	"Date",
	"Message-Id",
	"Reply-To",
	"Mime-Version",
	"Content-Type",
	"List-Unsubscribe",
	"List-Unsubscribe-Post",
	"X-Newsletter-Id",
}

// Signer adds DKIM-Signature headers to messages of one signing domain
type Signer struct {
	key      *rsa.PrivateKey
	domain   string
	selector string
}

// NewSigner creates a signer for domain/selector
func NewSigner(key *rsa.PrivateKey, domain, selector string) *Signer {
	return &Signer{key: key, domain: domain, selector: selector}
}

// LoadSigner reads a PEM key from keyFile and creates a signer
func LoadSigner(keyFile, domain, selector string) (*Signer, error) {
	key, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(key, domain, selector), nil
}

// Sign returns message with a DKIM-Signature header prepended
func (s *Signer) Sign(message []byte) ([]byte, error) {
	opts := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		HeaderKeys:             presentHeaders(message),
	}

	var out bytes.Buffer
	if err := dkim.Sign(&out, bytes.NewReader(message), opts); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return out.Bytes(), nil
}

// Domain returns the signing domain
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the DNS selector
func (s *Signer) Selector() string {
	return s.selector
}

// presentHeaders filters signedHeaders to those the message carries. From is
// always kept since DKIM requires it.
func presentHeaders(message []byte) []string {
	header := message
	if i := bytes.Index(message, []byte("\r\n\r\n")); i >= 0 {
		header = message[:i]
	} else if i := bytes.Index(message, []byte("\n\n")); i >= 0 {
		header = message[:i]
	}

	var keys []string
	for _, name := range signedHeaders {
		if name == "From" || hasHeader(header, name) {
			keys = append(keys, name)
		}
	}
	return keys
}

func hasHeader(header []byte, name string) bool {
	prefix := []byte(name + ":")
	for _, line := range bytes.Split(header, []byte("\n")) {
		if len(line) >= len(prefix) && bytes.EqualFold(line[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}
