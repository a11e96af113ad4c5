// Package validator rejects checkout URLs before any browser resource is
// allocated. It is the service's SSRF guard: only allow-listed payment
// provider hosts reach the renderer.
package validator

import (
	"net"
	"net/url"
	"strings"

	"github.com/JakeFAU/payparse/internal/payment"
)

// DefaultMaxURLLength bounds the accepted URL size.
const DefaultMaxURLLength = 2048

// Rejection reasons.
const (
	ReasonMalformed         = "malformed url"
	ReasonScheme            = "unsupported scheme"
	ReasonDomainNotAllowed  = "domain not allowed"
	ReasonLocalAddress      = "local addresses not allowed"
	ReasonTooLong           = "url too long"
	ReasonSuspiciousContent = "suspicious characters"
)

// DefaultAllowedDomains lists the providers the extractor is tuned for.
var DefaultAllowedDomains = []string{
	"pay.openai.com",
	"checkout.stripe.com",
	"buy.stripe.com",
	"invoice.stripe.com",
}

var suspiciousTokens = []string{
	"<", ">", "\"", "'", "`", "{", "}",
	"javascript:", "data:", "file:",
	"\x00", "\r", "\n",
}

// Config controls the validator.
type Config struct {
	AllowedDomains []string
	MaxURLLength   int
}

// Validator implements payment.URLValidator.
type Validator struct {
	allow     *domainAllowlist
	maxLength int
}

// New builds a Validator. A nil AllowedDomains falls back to DefaultAllowedDomains.
func New(cfg Config) *Validator {
	domains := cfg.AllowedDomains
	if domains == nil {
		domains = DefaultAllowedDomains
	}
	maxLength := cfg.MaxURLLength
	if maxLength <= 0 {
		maxLength = DefaultMaxURLLength
	}
	return &Validator{
		allow:     newDomainAllowlist(domains),
		maxLength: maxLength,
	}
}

// AllowedDomainCount reports how many allow-list entries are configured.
func (v *Validator) AllowedDomainCount() int {
	return v.allow.size()
}

// Validate applies the rules in order and stops at the first failure.
func (v *Validator) Validate(rawURL string) payment.ValidationVerdict {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return payment.Rejected(ReasonMalformed)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return payment.Rejected(ReasonScheme)
	}
	host := u.Hostname()
	if !v.allow.Allows(host) {
		return payment.Rejected(ReasonDomainNotAllowed)
	}
	if IsPrivateHost(host) {
		return payment.Rejected(ReasonLocalAddress)
	}
	if len(rawURL) > v.maxLength {
		return payment.Rejected(ReasonTooLong)
	}
	if containsSuspicious(rawURL) {
		return payment.Rejected(ReasonSuspiciousContent)
	}
	return payment.Allowed()
}

// IsPrivateHost reports whether host is localhost or a loopback, private,
// link-local, or unspecified IP literal. Names are not resolved.
func IsPrivateHost(host string) bool {
	h := strings.Trim(strings.ToLower(strings.TrimSpace(host)), "[]")
	h = strings.TrimSuffix(h, ".")
	if h == "" {
		return true
	}
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsInterfaceLocalMulticast() ||
		(ip.To4() != nil && ip.To4()[0] == 0)
}

// IsPrivateURL applies IsPrivateHost to the host of rawURL. Unparseable URLs
// count as private.
func IsPrivateURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return IsPrivateHost(u.Hostname())
}

func containsSuspicious(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, token := range suspiciousTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
