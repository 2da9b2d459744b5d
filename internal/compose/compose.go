// Package compose personalizes newsletter bodies and instruments them for open
// and click tracking.
package compose

import (
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"
	"github.com/vanng822/go-premailer/premailer"

	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
)

// Tracking endpoint paths relative to the tracking base URL
const (
	PathOpen        = "/trackOpen"
	PathClick       = "/trackClick"
	PathUnsubscribe = "/unsubscribe"
)

var (
	varPattern  = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	anchorHref  = regexp.MustCompile(`(?is)(<a\b[^>]*?\bhref\s*=\s*)(["'])(.*?)(["'])`)
	closingBody = regexp.MustCompile(`(?i)</body\s*>`)
	styleTag    = regexp.MustCompile(`(?i)<style\b`)
)

// Config configures the compositor
type Config struct {
	// BaseURL is the public origin serving the tracking endpoints
	BaseURL string
	// ContactEmail is shown in the footer of every message
	ContactEmail string
	// InlineCSS moves <style> rules into style attributes
	InlineCSS bool
}

// Composed is the personalized output for one recipient
type Composed struct {
	HTML           string
	Text           string
	UnsubscribeURL string
}

// Compositor renders per-recipient message bodies
type Compositor struct {
	base    string
	contact string
	inline  bool
	logger  *slog.Logger
}

// New creates a compositor
func New(cfg Config, logger *slog.Logger) *Compositor {
	return &Compositor{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		contact: cfg.ContactEmail,
		inline:  cfg.InlineCSS,
		logger:  logger,
	}
}

// Compose personalizes body for r and adds click rewriting, the open beacon
// and the unsubscribe footer. Composing already composed markup leaves the
// instrumentation unchanged.
func (c *Compositor) Compose(body, newsletterID string, r models.Recipient) (*Composed, error) {
	substituted := substitute(body, tokens(r), html.EscapeString)

	text, err := html2text.FromString(substituted, html2text.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to render plain text: %w", err)
	}

	unsubscribe := c.UnsubscribeURL(r.ID)

	doc := c.rewriteLinks(substituted, newsletterID, r.ID)
	doc = c.appendTrailer(doc, newsletterID, r.ID, unsubscribe)

	if c.inline && styleTag.MatchString(doc) {
		doc = c.inlineCSS(doc, newsletterID)
	}

	return &Composed{HTML: doc, Text: text, UnsubscribeURL: unsubscribe}, nil
}

// ComposeSubject applies the personalization tokens to a subject line
func (c *Compositor) ComposeSubject(subject string, r models.Recipient) string {
	return substitute(subject, tokens(r), nil)
}

// UnsubscribeURL returns the unsubscribe link of a recipient
func (c *Compositor) UnsubscribeURL(recipientID string) string {
	return c.base + PathUnsubscribe + "?rid=" + url.QueryEscape(recipientID)
}

// OpenURL returns the open beacon URL
func (c *Compositor) OpenURL(newsletterID, recipientID string) string {
	q := url.Values{}
	q.Set("nid", newsletterID)
	q.Set("rid", recipientID)
	return c.base + PathOpen + "?" + q.Encode()
}

// ClickURL returns the redirect URL recording a click on dest
func (c *Compositor) ClickURL(newsletterID, recipientID, dest string) string {
	q := url.Values{}
	q.Set("nid", newsletterID)
	q.Set("rid", recipientID)
	q.Set("url", dest)
	return c.base + PathClick + "?" + q.Encode()
}

// tokens returns the personalization values of a recipient
func tokens(r models.Recipient) map[string]string {
	full := strings.TrimSpace(r.FirstName + " " + r.LastName)
	if full == "" {
		full = r.Email
	}
	return map[string]string{
		"firstName": r.FirstName,
		"lastName":  r.LastName,
		"email":     r.Email,
		"fullName":  full,
	}
}

// substitute replaces {{name}} tokens. Unknown tokens are kept as written.
func substitute(s string, vars map[string]string, escape func(string) string) string {
	if s == "" {
		return s
	}
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := vars[name]
		if !ok {
			return match
		}
		if escape != nil {
			return escape(value)
		}
		return value
	})
}

// isTrackingURL reports whether u already points at one of our endpoints
func (c *Compositor) isTrackingURL(u string) bool {
	for _, p := range []string{PathClick, PathOpen, PathUnsubscribe} {
		if strings.HasPrefix(u, c.base+p) {
			return true
		}
	}
	return false
}

// rewriteLinks points every anchor that is not already one of our endpoints
// at the click endpoint
func (c *Compositor) rewriteLinks(doc, newsletterID, recipientID string) string {
	return anchorHref.ReplaceAllStringFunc(doc, func(match string) string {
		m := anchorHref.FindStringSubmatch(match)
		if len(m) < 5 || m[2] != m[4] {
			return match
		}
		dest := strings.TrimSpace(html.UnescapeString(m[3]))
		if dest == "" || c.isTrackingURL(dest) {
			return match
		}
		tracked := c.ClickURL(newsletterID, recipientID, dest)
		return m[1] + m[2] + html.EscapeString(tracked) + m[4]
	})
}

// appendTrailer adds the open beacon followed by the unsubscribe footer,
// before </body> when present
func (c *Compositor) appendTrailer(doc, newsletterID, recipientID, unsubscribe string) string {
	var trailer strings.Builder

	if !strings.Contains(doc, c.base+PathOpen+"?") {
		fmt.Fprintf(&trailer,
			`<img src="%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px;border:0" />`,
			html.EscapeString(c.OpenURL(newsletterID, recipientID)))
	}

	if !strings.Contains(doc, c.base+PathUnsubscribe+"?") {
		trailer.WriteString(`<div style="margin-top:24px;font-size:12px;color:#888888;text-align:center">`)
		fmt.Fprintf(&trailer,
			`<p>You are receiving this email because you subscribed to our newsletter. <a href="%s">Unsubscribe</a></p>`,
			html.EscapeString(unsubscribe))
		if c.contact != "" {
			fmt.Fprintf(&trailer, `<p>Questions? Contact us at %s</p>`, html.EscapeString(c.contact))
		}
		trailer.WriteString(`</div>`)
	}

	if trailer.Len() == 0 {
		return doc
	}

	locs := closingBody.FindAllStringIndex(doc, -1)
	if len(locs) == 0 {
		return doc + trailer.String()
	}
	at := locs[len(locs)-1][0]
	return doc[:at] + trailer.String() + doc[at:]
}

// inlineCSS runs premailer over doc. Failures fall back to the original markup.
func (c *Compositor) inlineCSS(doc, newsletterID string) string {
	p, err := premailer.NewPremailerFromString(doc, premailer.NewOptions())
	if err != nil {
		c.logger.Warn("css inlining failed", "newsletter_id", newsletterID, "error", err)
		return doc
	}
	out, err := p.Transform()
	if err != nil {
		c.logger.Warn("css inlining failed", "newsletter_id", newsletterID, "error", err)
		return doc
	}
	return out
}
