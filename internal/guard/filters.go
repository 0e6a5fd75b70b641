package guard

import (
	"net/netip"
	"regexp"
	"strings"
)

// Filter names, in evaluation order.
const (
	FilterAPIKeys        = "api_keys"
	FilterPrivateKeys    = "private_keys"
	FilterJWTTokens      = "jwt_tokens"
	FilterCredentialURLs = "credential_urls"
	FilterSecrets        = "secrets"
	FilterCreditCards    = "credit_cards"
	FilterSSN            = "ssn"
	FilterEmails         = "emails"
	FilterIPAddresses    = "ip_addresses"
	FilterPhoneNumbers   = "phone_numbers"
)

// rule is one pattern of a filter. group selects the submatch that is
// replaced; the rest of the match (e.g. "Bearer " or "password=") is kept.
// valid, when set, rejects matches that only look sensitive.
type rule struct {
	re    *regexp.Regexp
	group int
	valid func(string) bool
}

type filter struct {
	name  string
	rules []rule
}

// filters is the closed filter set in evaluation order. Earlier filters
// redact first, so a later filter never counts text an earlier one took.
var filters = []filter{
	{FilterAPIKeys, []rule{
		{re: regexp.MustCompile(`\bsk-(?:proj-|ant-)?[A-Za-z0-9_-]{20,}`)},
		{re: regexp.MustCompile(`\b(?:sk|pk|rk)_(?:live|test)_[0-9A-Za-z]{16,}`)},
		{re: regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
		{re: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}`)},
		{re: regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,}`)},
		{re: regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}`)},
		{re: regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9-]{10,}`)},
		{re: regexp.MustCompile(`(?i)\b(api[_-]?key["']?\s*[:=]\s*["']?)([A-Za-z0-9_\-]{16,})`), group: 2},
	}},
	{FilterPrivateKeys, []rule{
		{re: regexp.MustCompile(`-----BEGIN (?:[A-Z0-9]+ )*PRIVATE KEY-----[\s\S]*?-----END (?:[A-Z0-9]+ )*PRIVATE KEY-----`)},
	}},
	{FilterJWTTokens, []rule{
		{re: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{4,}\.eyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}`)},
	}},
	{FilterCredentialURLs, []rule{
		{re: regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9+.-]*://([^\s:/@]+:[^\s/@]+)@`), group: 1},
	}},
	{FilterSecrets, []rule{
		{re: regexp.MustCompile(`(?i)((?:password|passwd|pwd|secret|client_secret|api_secret|access_token|auth_token|refresh_token|private_key)["']?\s*[:=]\s*["']?)([^\s"',;]{4,})`), group: 2},
		{re: regexp.MustCompile(`(?i)\b(bearer\s+)([A-Za-z0-9\-._~+/]{16,}=*)`), group: 2},
	}},
	{FilterCreditCards, []rule{
		{re: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), valid: luhn},
	}},
	{FilterSSN, []rule{
		{re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), valid: validSSN},
	}},
	{FilterEmails, []rule{
		{re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	}},
	{FilterIPAddresses, []rule{
		{re: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), valid: validIP},
		// A whole colon-bearing token, so "std::fs" is one candidate that
		// fails to parse rather than a "::f" match.
		{re: regexp.MustCompile(`(?:^|[^\w:.])([\w.]*:[\w:.]*[\w:])`), group: 1, valid: validIPv6},
	}},
	{FilterPhoneNumbers, []rule{
		{re: regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?(?:\(\d{3}\)|\b\d{3})[ .-]?\d{3}[ .-]\d{4}\b`)},
	}},
}

var filterIndex = func() map[string]*filter {
	m := make(map[string]*filter, len(filters))
	for i := range filters {
		m[filters[i].name] = &filters[i]
	}
	return m
}()

// AvailableFilters returns the filter names in evaluation order.
func AvailableFilters() []string {
	names := make([]string, len(filters))
	for i, f := range filters {
		names[i] = f.name
	}
	return names
}

// IsFilter reports whether name is a known filter.
func IsFilter(name string) bool {
	_, ok := filterIndex[name]
	return ok
}

// apply replaces every match of f in s and returns the new text and the
// number of replacements.
func (f *filter) apply(s, replacement string) (string, int) {
	count := 0
	for _, r := range f.rules {
		locs := r.re.FindAllStringSubmatchIndex(s, -1)
		if len(locs) == 0 {
			continue
		}
		var b strings.Builder
		last := 0
		for _, loc := range locs {
			start, end := loc[2*r.group], loc[2*r.group+1]
			if start < 0 {
				continue
			}
			if r.valid != nil && !r.valid(s[start:end]) {
				continue
			}
			b.WriteString(s[last:start])
			b.WriteString(replacement)
			last = end
			count++
		}
		b.WriteString(s[last:])
		s = b.String()
	}
	return s, count
}

// luhn validates a card number that may contain spaces or dashes.
func luhn(s string) bool {
	var digits []int
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits = append(digits, int(c-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// validSSN rejects area, group and serial values never issued.
func validSSN(s string) bool {
	area, group, serial := s[0:3], s[4:6], s[7:11]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

func validIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// validIPv6 accepts full and compressed IPv6 forms. The bare "::" is too
// common as a scope operator to count.
func validIPv6(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is6() && !addr.IsUnspecified()
}
