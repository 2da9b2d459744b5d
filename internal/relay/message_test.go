package relay

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"

	"github.com/Startup-Consulting-Inc/newsletter/internal/dkim"
)

func TestNewBuilderValidatesSender(t *testing.T) {
	if _, err := NewBuilder(Sender{Address: "not-an-address"}, nil, testLogger()); err == nil {
		t.Error("expected error for invalid sender")
	}
	if _, err := NewBuilder(Sender{Address: "news@example.com", ReplyTo: "bad"}, nil, testLogger()); err == nil {
		t.Error("expected error for invalid reply-to")
	}
}

func TestBuild(t *testing.T) {
	b, err := NewBuilder(Sender{Address: "news@example.com", Name: "Example News", ReplyTo: "editor@example.com"}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}

	msg, err := b.Build(Content{
		NewsletterID:   "n1",
		RecipientID:    "r1",
		To:             "reader@example.org",
		Subject:        "June issue",
		HTML:           "<p>Hello</p>",
		Text:           "Hello",
		UnsubscribeURL: "https://t.example.com/unsubscribe?rid=r1",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if msg.From != "news@example.com" || msg.To != "reader@example.org" {
		t.Errorf("envelope = %s -> %s", msg.From, msg.To)
	}

	parsed, err := mail.ReadMessage(bytes.NewReader(msg.Data))
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	headers := map[string]string{
		"List-Unsubscribe":      "<https://t.example.com/unsubscribe?rid=r1>",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		"X-Newsletter-Id":       "n1",
		"Subject":               "June issue",
	}
	for k, want := range headers {
		if got := parsed.Header.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}

	from, err := parsed.Header.AddressList("From")
	if err != nil || len(from) != 1 || from[0].Name != "Example News" {
		t.Errorf("From = %v, %v", from, err)
	}
	if parsed.Header.Get("Message-Id") == "" {
		t.Error("Message-Id header missing")
	}

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		t.Fatalf("Content-Type = %s, want multipart", mediaType)
	}

	var types []string
	mr := multipart.NewReader(parsed.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		ct, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		types = append(types, ct)
	}
	if strings.Join(types, ",") != "text/plain,text/html" {
		t.Errorf("parts = %v, want text/plain,text/html", types)
	}
}

func TestBuildSignsWithDKIM(t *testing.T) {
	kp, err := dkim.GenerateKey("example.com", "news", 1024)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBuilder(Sender{Address: "news@example.com"}, kp.Signer(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	msg, err := b.Build(Content{NewsletterID: "n1", To: "reader@example.org", Subject: "Hi", HTML: "<p>x</p>", Text: "x"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !bytes.HasPrefix(msg.Data, []byte("DKIM-Signature:")) {
		t.Error("message is not DKIM signed")
	}
}
