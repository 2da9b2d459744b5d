// Package dnscheck verifies the DNS records that authenticate newsletter mail
// sent from a domain.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ErrInvalidDomain is returned for malformed domain names
var ErrInvalidDomain = errors.New("invalid domain name")

var (
	domainRegex   = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
	selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// Check statuses
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// TXTResolver looks up TXT records. *net.Resolver satisfies it.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// CheckResult represents a single DNS check result
type CheckResult struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report contains all check results for a sender domain
type Report struct {
	Domain  string        `json:"domain"`
	Results []CheckResult `json:"results"`
}

// OK reports whether no check ended in error or not_found
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if res.Status == StatusError || res.Status == StatusNotFound {
			return false
		}
	}
	return true
}

// Options selects the DKIM record to verify. An empty Selector skips the
// DKIM check; a non-empty PublicKey must match the published p= value.
type Options struct {
	Selector  string
	PublicKey string
}

// Checker runs sender domain checks
type Checker struct {
	resolver TXTResolver
}

// New creates a checker. A nil resolver uses net.DefaultResolver.
func New(resolver TXTResolver) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{resolver: resolver}
}

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// Check runs the SPF, DKIM and DMARC checks for domain
func (c *Checker) Check(ctx context.Context, domain string, opts Options) (*Report, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}
	if opts.Selector != "" && (len(opts.Selector) > 63 || !selectorRegex.MatchString(opts.Selector)) {
		return nil, fmt.Errorf("invalid DKIM selector %q", opts.Selector)
	}

	report := &Report{Domain: domain}
	report.Results = append(report.Results, c.checkSPF(ctx, domain))
	if opts.Selector != "" {
		report.Results = append(report.Results, c.checkDKIM(ctx, domain, opts))
	}
	report.Results = append(report.Results, c.checkDMARC(ctx, domain))
	return report, nil
}

func (c *Checker) checkSPF(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "SPF"}

	records, res, ok := c.lookup(ctx, domain, result)
	if !ok {
		return res
	}

	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		result.Status = StatusOK
		result.Value = txt
		switch {
		case strings.Contains(txt, "+all"):
			result.Status = StatusWarning
			result.Message = "SPF allows any sender (+all)"
		case strings.Contains(txt, "-all"):
			result.Message = "strict policy (-all)"
		case strings.Contains(txt, "~all"):
			result.Message = "soft fail (~all)"
		}
		return result
	}

	result.Status = StatusNotFound
	result.Message = "no SPF record, relays may be rejected"
	return result
}

func (c *Checker) checkDKIM(ctx context.Context, domain string, opts Options) CheckResult {
	name := opts.Selector + "._domainkey." + domain
	result := CheckResult{Type: "DKIM (" + name + ")"}

	records, res, ok := c.lookup(ctx, name, result)
	if !ok {
		return res
	}

	full := strings.Join(records, "")
	if !strings.Contains(full, "v=DKIM1") {
		result.Status = StatusNotFound
		result.Message = "TXT record is not a DKIM key"
		return result
	}

	published := tagValue(full, "p")
	result.Value = truncate(full, 100)
	switch {
	case published == "":
		result.Status = StatusError
		result.Message = "DKIM key is revoked or missing (empty p=)"
	case opts.PublicKey != "" && published != opts.PublicKey:
		result.Status = StatusError
		result.Message = "published key does not match the configured signing key"
	default:
		result.Status = StatusOK
		if opts.PublicKey != "" {
			result.Message = "published key matches the signing key"
		}
	}
	return result
}

func (c *Checker) checkDMARC(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "DMARC"}

	records, res, ok := c.lookup(ctx, "_dmarc."+domain, result)
	if !ok {
		return res
	}

	full := strings.Join(records, "")
	if !strings.HasPrefix(full, "v=DMARC1") {
		result.Status = StatusNotFound
		result.Message = "TXT record is not a DMARC policy"
		return result
	}

	result.Status = StatusOK
	result.Value = full
	switch tagValue(full, "p") {
	case "reject", "quarantine":
		result.Message = "policy " + tagValue(full, "p")
	case "none":
		result.Status = StatusWarning
		result.Message = "monitoring only (p=none)"
	default:
		result.Status = StatusWarning
		result.Message = "policy tag missing"
	}
	return result
}

// lookup resolves TXT records, filling result on failure
func (c *Checker) lookup(ctx context.Context, name string, result CheckResult) ([]string, CheckResult, bool) {
	records, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			result.Status = StatusNotFound
			result.Message = "no record for " + name
			return nil, result, false
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("lookup failed: %v", err)
		return nil, result, false
	}
	return records, result, true
}

// tagValue returns the value of tag in a "k=v; k=v" record
func tagValue(record, tag string) string {
	for _, part := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.TrimSpace(k) == tag {
			return strings.Join(strings.Fields(v), "")
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
