package insight

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// The capability writes a loose markdown-like prose. Only a constrained
// subset is honored: headings, bold/emphasis, dash lists and plain links.
// Everything else is stripped by the allowlist policy.
var (
	citationRe = regexp.MustCompile(`【.*?】`)
	linkRe     = regexp.MustCompile(`\[([^\]\n]+)\]\((https?://[^)\s]+)\)`)
	boldRe     = regexp.MustCompile(`\*\*(.*?)\*\*`)
	emRe       = regexp.MustCompile(`\*([^*\n]+)\*`)
	h3Re       = regexp.MustCompile(`###(.*?)###`)
	h2Re       = regexp.MustCompile(`##(.*?)##`)

	displayPolicy = func() *bluemonday.Policy {
		p := bluemonday.NewPolicy()
		p.AllowElements("strong", "em", "h2", "h3", "br")
		p.AllowStandardURLs()
		p.AllowAttrs("href").OnElements("a")
		return p
	}()
)

// Sanitize converts the constrained markdown subset into safe display markup
// and strips anything outside the allowlist. Idempotent: applying it to its
// own output yields the same string.
func Sanitize(text string) string {
	return displayPolicy.Sanitize(renderSubset(text))
}

func renderSubset(text string) string {
	text = citationRe.ReplaceAllString(text, "")
	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = boldRe.ReplaceAllString(text, "<strong>$1</strong>")
	text = h3Re.ReplaceAllString(text, "<h3>$1</h3>")
	text = h2Re.ReplaceAllString(text, "<h2>$1</h2>")
	text = emRe.ReplaceAllString(text, "<em>$1</em>")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		switch {
		case strings.HasPrefix(trimmed, "### "):
			lines[i] = "<h3>" + strings.TrimPrefix(trimmed, "### ") + "</h3>"
		case strings.HasPrefix(trimmed, "## "):
			lines[i] = "<h2>" + strings.TrimPrefix(trimmed, "## ") + "</h2>"
		case strings.HasPrefix(trimmed, "- "):
			lines[i] = "• " + trimmed[2:]
		}
	}
	return strings.Join(lines, "<br>")
}
