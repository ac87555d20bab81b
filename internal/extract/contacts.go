package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/groveline/prospector/internal/model"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// US phone formats: (503) 555-1234, 503-555-1234, 503.555.1234,
	// +1 503 555 1234.
	phoneRe = regexp.MustCompile(`(?:\+?1[\s.\-]?)?\(?([2-9]\d{2})\)?[\s.\-]?(\d{3})[\s.\-]?(\d{4})`)

	// "Owner: Jane Smith", "Contact Jane Smith", "Founded by Jane Smith".
	// The keyword match ignores case; the name match must not, or the
	// capitalization heuristic would swallow ordinary trailing words.
	nameRe = regexp.MustCompile(`(?i:owner|founde[rd]|proprietor|manager|contact)[: \t]+(?:(?i:by)[ \t]+)?([A-Z][a-z]+(?:[ \t][A-Z][a-z]+){1,2})`)

	hexLocalRe = regexp.MustCompile(`^[0-9a-f]{16,}$`)

	titleCaser = cases.Title(language.English)
)

// junkDomains are email hosts that show up in page markup but never
// belong to the business itself.
var junkDomains = []string{
	"example.com",
	"example.org",
	"sentry.io",
	"sentry.wixpress.com",
	"wixpress.com",
	"godaddy.com",
	"domain.com",
	"email.com",
	"yourdomain.com",
	"sentry-next.wixpress.com",
}

var junkSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".css", ".js"}

// findEmails returns deduplicated, normalized addresses from page
// content, filtering out asset filenames and third-party noise. When
// leadDomain is non-empty, addresses on that domain sort ahead of
// off-domain ones.
func findEmails(content, leadDomain string) []string {
	matches := emailRe.FindAllString(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var onDomain, offDomain []string
	for _, m := range matches {
		addr := model.NormalizeAddress(m)
		if seen[addr] || isJunkEmail(addr) {
			continue
		}
		seen[addr] = true

		_, host, _ := strings.Cut(addr, "@")
		if leadDomain != "" && (host == leadDomain || strings.HasSuffix(host, "."+leadDomain)) {
			onDomain = append(onDomain, addr)
		} else {
			offDomain = append(offDomain, addr)
		}
	}
	return append(onDomain, offDomain...)
}

func isJunkEmail(addr string) bool {
	local, host, ok := strings.Cut(addr, "@")
	if !ok {
		return true
	}
	for _, suffix := range junkSuffixes {
		if strings.HasSuffix(addr, suffix) {
			return true
		}
	}
	// Retina asset names like logo@2x and tracking IDs.
	if strings.HasSuffix(local, "2x") || strings.HasSuffix(local, "3x") {
		return true
	}
	if hexLocalRe.MatchString(local) {
		return true
	}
	for _, jd := range junkDomains {
		if host == jd || strings.HasSuffix(host, "."+jd) {
			return true
		}
	}
	return false
}

// findPhone returns the first plausible US phone number in E.164 form,
// or empty when none is found.
func findPhone(content string) string {
	m := phoneRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return "+1" + m[1] + m[2] + m[3]
}

// findContactName looks for an owner or manager name near a role label.
func findContactName(content string) string {
	m := nameRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return titleCaser.String(strings.ToLower(m[1]))
}
