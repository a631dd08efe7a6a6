// Package hostname normalises client-supplied host names (option 12) before
// policies match them, the journal records them or scripts receive them.
// Clients send garbage in option 12: spaces, control characters, shell
// metacharacters and placeholder names like "localhost".
package hostname

import (
	"regexp"
	"strings"
)

// MaxLength is the DNS label limit.
const MaxLength = 63

var placeholders = regexp.MustCompile(`(?i)^(` + strings.Join([]string{
	`localhost`,
	`localhost\.localdomain`,
	`android-[a-f0-9]{12,}`,
	`galaxy-[a-f0-9]+`,
	`iphone`,
	`ipad`,
	`host`,
	`dhcp`,
	`unknown`,
	`none`,
	`null`,
	`default`,
	`changeme`,
}, "|") + `)$`)

// Clean reduces name to lowercase DNS label characters, trims and collapses
// separators, and enforces MaxLength. Placeholder names clean to "".
func Clean(name string) string {
	name = strings.ToLower(stripInvalidDNS(name))
	name = collapseRepeated(strings.Trim(name, ".-"))
	if len(name) > MaxLength {
		name = strings.TrimRight(name[:MaxLength], ".-")
	}
	if IsPlaceholder(name) {
		return ""
	}
	return name
}

// IsPlaceholder reports whether name is a well-known meaningless host name.
func IsPlaceholder(name string) bool {
	return placeholders.MatchString(name)
}

// stripInvalidDNS keeps only characters valid in DNS labels (RFC 952,
// RFC 1123).
func stripInvalidDNS(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range []byte(s) {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// collapseRepeated collapses runs of dots or hyphens into one.
func collapseRepeated(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c == '.' || c == '-') && c == prev {
			continue
		}
		b.WriteByte(c)
		prev = c
	}
	return b.String()
}
