package compose

import (
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"

	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
)

const testBase = "https://news.example.com"

func newTestCompositor(inline bool) *Compositor {
	return New(Config{
		BaseURL:      testBase + "/",
		ContactEmail: "hello@example.com",
		InlineCSS:    inline,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testRecipient() models.Recipient {
	return models.Recipient{
		ID:        "r1",
		GroupID:   "g1",
		Email:     "ada@example.org",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}
}

func TestSubstitute(t *testing.T) {
	c := newTestCompositor(false)

	tests := []struct {
		name      string
		recipient models.Recipient
		subject   string
		want      string
	}{
		{"all tokens", testRecipient(), "{{firstName}} {{lastName}} <{{email}}>", "Ada Lovelace <ada@example.org>"},
		{"spaces in token", testRecipient(), "Hi {{ firstName }}", "Hi Ada"},
		{"full name", testRecipient(), "Dear {{fullName}}", "Dear Ada Lovelace"},
		{"full name falls back to email", models.Recipient{Email: "x@example.org"}, "Dear {{fullName}}", "Dear x@example.org"},
		{"first name only", models.Recipient{Email: "x@example.org", FirstName: "Grace"}, "{{fullName}}", "Grace"},
		{"unknown token kept", testRecipient(), "{{company}} news", "{{company}} news"},
		{"empty", testRecipient(), "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ComposeSubject(tt.subject, tt.recipient)
			if got != tt.want {
				t.Errorf("ComposeSubject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestComposeEscapesValues(t *testing.T) {
	c := newTestCompositor(false)
	r := testRecipient()
	r.FirstName = `<script>alert("x")</script>`

	out, err := c.Compose("<p>Hi {{firstName}}</p>", "n1", r)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if strings.Contains(out.HTML, "<script>") {
		t.Errorf("HTML contains unescaped value: %s", out.HTML)
	}
	if !strings.Contains(out.HTML, "&lt;script&gt;") {
		t.Errorf("HTML missing escaped value: %s", out.HTML)
	}
	if !strings.Contains(out.Text, `<script>alert("x")</script>`) {
		t.Errorf("Text = %q, want the literal value", out.Text)
	}
}

func TestComposeRewritesLinks(t *testing.T) {
	c := newTestCompositor(false)
	body := `<html><body>` +
		`<a href="https://example.com/post?a=1&amp;b=2">Read</a>` +
		`<a href='http://example.com/plain'>Plain</a>` +
		`<a href="mailto:someone@example.com">Mail</a>` +
		`<a href="/relative">Relative</a>` +
		`<a href="` + testBase + `/unsubscribe?rid=r1">Unsub</a>` +
		`<link href="https://fonts.example.com/css" rel="stylesheet">` +
		`</body></html>`

	out, err := c.Compose(body, "n1", testRecipient())
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	wantClick := c.ClickURL("n1", "r1", "https://example.com/post?a=1&b=2")
	if !strings.Contains(out.HTML, `href="`+strings.ReplaceAll(wantClick, "&", "&amp;")+`"`) {
		t.Errorf("missing rewritten link %s in %s", wantClick, out.HTML)
	}
	if !strings.Contains(out.HTML, `href='`+strings.ReplaceAll(c.ClickURL("n1", "r1", "http://example.com/plain"), "&", "&amp;")+`'`) {
		t.Errorf("single-quoted link not rewritten: %s", out.HTML)
	}

	for _, dest := range []string{"mailto:someone@example.com", "/relative"} {
		tracked := `href="` + strings.ReplaceAll(c.ClickURL("n1", "r1", dest), "&", "&amp;") + `"`
		if !strings.Contains(out.HTML, tracked) {
			t.Errorf("link %s not rewritten: %s", dest, out.HTML)
		}
	}

	for _, untouched := range []string{
		`href="` + testBase + `/unsubscribe?rid=r1"`,
		`<link href="https://fonts.example.com/css"`,
	} {
		if !strings.Contains(out.HTML, untouched) {
			t.Errorf("expected %s to be left alone in %s", untouched, out.HTML)
		}
	}

	// the explicit unsubscribe link suppresses the footer
	if n := strings.Count(out.HTML, "/unsubscribe?rid="); n != 1 {
		t.Errorf("unsubscribe links = %d, want 1", n)
	}
}

func TestClickURLEncodesDestination(t *testing.T) {
	c := newTestCompositor(false)
	got := c.ClickURL("n 1", "r1", "https://example.com/a?b=c&d=e#frag")

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if u.Path != PathClick {
		t.Errorf("path = %q, want %q", u.Path, PathClick)
	}
	q := u.Query()
	if q.Get("nid") != "n 1" || q.Get("rid") != "r1" {
		t.Errorf("query = %v", q)
	}
	if q.Get("url") != "https://example.com/a?b=c&d=e#frag" {
		t.Errorf("url = %q", q.Get("url"))
	}
}

func TestComposeBeaconAndFooter(t *testing.T) {
	c := newTestCompositor(false)

	t.Run("before closing body", func(t *testing.T) {
		out, err := c.Compose("<html><BODY><p>Hello</p></BODY></html>", "n1", testRecipient())
		if err != nil {
			t.Fatalf("Compose() error = %v", err)
		}
		beacon := strings.Index(out.HTML, testBase+"/trackOpen?nid=n1&amp;rid=r1")
		footer := strings.Index(out.HTML, testBase+"/unsubscribe?rid=r1")
		end := strings.Index(out.HTML, "</BODY>")
		if beacon < 0 || footer < 0 {
			t.Fatalf("beacon=%d footer=%d in %s", beacon, footer, out.HTML)
		}
		if !(beacon < footer && footer < end) {
			t.Errorf("want beacon < footer < </body>, got %d %d %d", beacon, footer, end)
		}
		if !strings.Contains(out.HTML, `width="1" height="1"`) {
			t.Errorf("beacon is not a 1x1 image: %s", out.HTML)
		}
		if !strings.Contains(out.HTML, "Contact us at hello@example.com") {
			t.Errorf("footer missing contact address: %s", out.HTML)
		}
		if out.UnsubscribeURL != testBase+"/unsubscribe?rid=r1" {
			t.Errorf("UnsubscribeURL = %q", out.UnsubscribeURL)
		}
	})

	t.Run("fragment", func(t *testing.T) {
		out, err := c.Compose("<p>Hello</p>", "n1", testRecipient())
		if err != nil {
			t.Fatalf("Compose() error = %v", err)
		}
		if !strings.HasPrefix(out.HTML, "<p>Hello</p><img ") {
			t.Errorf("trailer not appended: %s", out.HTML)
		}
	})
}

func TestComposeIsIdempotent(t *testing.T) {
	c := newTestCompositor(false)
	body := `<html><body><p>Hi {{firstName}}</p><a href="https://example.com/x">X</a></body></html>`

	first, err := c.Compose(body, "n1", testRecipient())
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	second, err := c.Compose(first.HTML, "n1", testRecipient())
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	if first.HTML != second.HTML {
		t.Errorf("second compose changed markup:\nfirst:  %s\nsecond: %s", first.HTML, second.HTML)
	}
	for _, marker := range []string{"/trackOpen?", "/trackClick?", "/unsubscribe?"} {
		if n := strings.Count(second.HTML, marker); n != 1 {
			t.Errorf("%s occurs %d times, want 1", marker, n)
		}
	}
}

func TestComposePlainText(t *testing.T) {
	c := newTestCompositor(false)
	body := `<html><body><h1>Welcome {{firstName}}</h1>` +
		`<img src="https://example.com/logo.png" alt="">` +
		`<p>See <a href="https://example.com/post">the post</a></p></body></html>`

	out, err := c.Compose(body, "n1", testRecipient())
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	if !strings.Contains(out.Text, "Ada") {
		t.Errorf("Text missing personalization: %q", out.Text)
	}
	if !strings.Contains(out.Text, "https://example.com/post") {
		t.Errorf("Text missing link target: %q", out.Text)
	}
	for _, unwanted := range []string{"trackClick", "trackOpen", "<p>"} {
		if strings.Contains(out.Text, unwanted) {
			t.Errorf("Text contains %q: %q", unwanted, out.Text)
		}
	}
}

func TestComposeInlinesCSS(t *testing.T) {
	body := `<html><head><style>p { color: red; }</style></head><body><p>Hi</p></body></html>`

	out, err := newTestCompositor(true).Compose(body, "n1", testRecipient())
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if !strings.Contains(out.HTML, "<p style=") {
		t.Errorf("styles not inlined: %s", out.HTML)
	}
	if !strings.Contains(out.HTML, "/trackOpen?") {
		t.Errorf("instrumentation lost during inlining: %s", out.HTML)
	}

	plain, err := newTestCompositor(false).Compose(body, "n1", testRecipient())
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if strings.Contains(plain.HTML, "<p style=") {
		t.Errorf("inlining ran while disabled: %s", plain.HTML)
	}
}
