// Package validation provides input validation for the control plane API.
package validation

import (
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

var (
	// realmSlugRegex validates tenant realm slugs: 3-64 chars, lowercase
	// alphanumeric and hyphens, must start and end alphanumeric.
	realmSlugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

	// couponCodeRegex validates coupon codes after uppercasing.
	couponCodeRegex = regexp.MustCompile(`^[A-Z0-9]{2,32}$`)

	// emailRegex is a pragmatic email shape check, not RFC 5322.
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	// disposableEmailDomains are throwaway mail providers tenants can
	// opt to block at user creation.
	disposableEmailDomains = map[string]struct{}{
		"mailinator.com":         {},
		"tempmail.com":           {},
		"throwaway.email":        {},
		"guerrillamail.com":      {},
		"sharklasers.com":        {},
		"guerrillamailblock.com": {},
		"grr.la":                 {},
		"yopmail.com":            {},
		"10minutemail.com":       {},
		"trashmail.com":          {},
		"fakeinbox.com":          {},
		"maildrop.cc":            {},
	}
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidRealmSlug checks a tenant realm slug.
func IsValidRealmSlug(slug string) bool {
	return realmSlugRegex.MatchString(slug)
}

// NormalizeCouponCode uppercases and trims a coupon code.
// Codes are case-insensitive at every input boundary.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCouponCode checks an already-normalized coupon code.
func IsValidCouponCode(code string) bool {
	return couponCodeRegex.MatchString(code)
}

// IsValidEmail checks the basic shape of an email address.
func IsValidEmail(email string) bool {
	return len(email) <= 254 && emailRegex.MatchString(email)
}

// IsDisposableEmail reports whether the address uses a known throwaway
// mail domain. Comparison is case-insensitive on the domain part.
func IsDisposableEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, blocked := disposableEmailDomains[strings.ToLower(email[at+1:])]
	return blocked
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// LookupIP resolves hostnames during URL validation; tests swap it out.
var LookupIP = net.LookupIP

// ValidateWebhookURL checks a webhook target URL: http(s) only, host present,
// and not pointing at loopback/link-local ranges (basic SSRF guard).
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	host := u.Hostname()
	if host == "" {
		return ErrInvalidURL
	}

	ips, err := LookupIP(host)
	if err != nil {
		// Unresolvable now may resolve at delivery time; reject outright
		// only when the host is a literal bad IP.
		if ip := net.ParseIP(host); ip != nil {
			return checkIP(ip)
		}
		return nil
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return ErrForbiddenURL
	}
	return nil
}
