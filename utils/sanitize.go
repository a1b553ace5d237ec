package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	signaturePolicy = newSignaturePolicy()
	strictPolicy    = bluemonday.StrictPolicy()
)

func newSignaturePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "u", "s", "br", "em", "strong")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireNoFollowOnLinks(true)
	return p
}

// SanitizeSignature keeps simple inline formatting and links in member signatures.
func SanitizeSignature(s string) string {
	return strings.TrimSpace(signaturePolicy.Sanitize(s))
}

// StripTags removes all markup, for free text such as report comments and
// warning reasons. The result is plain text; templates escape it on output.
func StripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}
