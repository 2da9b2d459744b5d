package dkim

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-msgauth/dkim"
)

const newsletterMessage = "From: News <news@example.com>\r\n" +
	"To: reader@example.org\r\n" +
	"Subject: Monthly update\r\n" +
	"Date: Mon, 1 Jun 2026 12:00:00 +0000\r\n" +
	"List-Unsubscribe: <https://t.example.com/unsubscribe?rid=r1>\r\n" +
	"List-Unsubscribe-Post: List-Unsubscribe=One-Click\r\n" +
	"X-Newsletter-Id: n1\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello reader.\r\n"

func testKeyPair(t testing.TB) *KeyPair {
	t.Helper()
	kp, err := GenerateKey("example.com", "news", 1024)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return kp
}

func TestSignVerifies(t *testing.T) {
	kp := testKeyPair(t)
	record, err := kp.DNSRecord()
	if err != nil {
		t.Fatal(err)
	}

	signed, err := kp.Signer().Sign([]byte(newsletterMessage))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			if domain != kp.DNSName() {
				t.Errorf("lookup for %q, want %q", domain, kp.DNSName())
			}
			return []string{record}, nil
		},
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(verifications) != 1 {
		t.Fatalf("got %d verifications, want 1", len(verifications))
	}
	v := verifications[0]
	if v.Err != nil {
		t.Fatalf("signature invalid: %v", v.Err)
	}
	if v.Domain != "example.com" {
		t.Errorf("Domain = %q, want example.com", v.Domain)
	}

	headers := strings.Join(v.HeaderKeys, ",")
	for _, want := range []string{"List-Unsubscribe", "List-Unsubscribe-Post", "X-Newsletter-Id"} {
		if !strings.Contains(headers, want) {
			t.Errorf("signed headers %q missing %s", headers, want)
		}
	}
}

func TestSignSkipsAbsentHeaders(t *testing.T) {
	kp := testKeyPair(t)
	message := []byte("From: a@example.com\nTo: b@example.org\nSubject: Short\n\nbody\n")

	signed, err := kp.Signer().Sign(message)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !bytes.HasPrefix(signed, []byte("DKIM-Signature:")) {
		t.Error("signed message should start with DKIM-Signature")
	}
	if bytes.Contains(signed, []byte("List-Unsubscribe")) {
		t.Error("absent header listed in signature")
	}
}

func TestPresentHeaders(t *testing.T) {
	got := presentHeaders([]byte("to: x@example.org\r\nSUBJECT: hi\r\n\r\nFrom: body line\r\n"))
	want := []string{"From", "To", "Subject"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("presentHeaders() = %v, want %v", got, want)
	}
}

func TestLoadSigner(t *testing.T) {
	kp := testKeyPair(t)
	keyPath := filepath.Join(t.TempDir(), "keys", "news.key")
	if err := kp.SavePrivateKey(keyPath); err != nil {
		t.Fatalf("SavePrivateKey() error = %v", err)
	}

	signer, err := LoadSigner(keyPath, "example.com", "news")
	if err != nil {
		t.Fatalf("LoadSigner() error = %v", err)
	}
	if signer.Domain() != "example.com" || signer.Selector() != "news" {
		t.Errorf("signer = %s/%s", signer.Domain(), signer.Selector())
	}

	if _, err := LoadSigner("/nonexistent/key.pem", "example.com", "news"); err == nil {
		t.Error("expected error for missing key file")
	}
}
