package report

import (
	"regexp"
	"strings"
)

// Section is one numbered block of the report capability's output.
type Section struct {
	Heading string
	Body    string
}

// Result kinds for capability output, so each consumer handles only the
// cases it cares about.
const (
	KindStructured  = "structured"
	KindEmpty       = "sentinel-empty"
	KindUnparseable = "unparseable"
)

type CapabilityResult struct {
	Kind     string
	Sections []Section
	Raw      string
}

var sectionHeadRe = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)

// ParseNumberedSections splits capability text on numbered-heading
// boundaries. Text with no numbered headings is tagged unparseable; blank
// text is tagged sentinel-empty.
func ParseNumberedSections(text string) CapabilityResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return CapabilityResult{Kind: KindEmpty}
	}

	marks := sectionHeadRe.FindAllStringIndex(trimmed, -1)
	if len(marks) == 0 {
		return CapabilityResult{Kind: KindUnparseable, Raw: trimmed}
	}

	var sections []Section
	for i, m := range marks {
		end := len(trimmed)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		block := trimmed[m[1]:end]

		heading := block
		body := ""
		if nl := strings.IndexByte(block, '\n'); nl >= 0 {
			heading = block[:nl]
			body = strings.TrimSpace(block[nl+1:])
		}
		heading = cleanHeading(heading)
		if heading == "" && body == "" {
			continue
		}
		sections = append(sections, Section{Heading: heading, Body: body})
	}
	if len(sections) == 0 {
		return CapabilityResult{Kind: KindUnparseable, Raw: trimmed}
	}
	return CapabilityResult{Kind: KindStructured, Sections: sections, Raw: trimmed}
}

func cleanHeading(h string) string {
	h = strings.TrimSpace(h)
	h = strings.Trim(h, "*")
	h = strings.TrimSuffix(h, ":")
	return strings.TrimSpace(h)
}
