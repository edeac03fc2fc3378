package insight

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeConvertsConstrainedSubset(t *testing.T) {
	in := "## Energy ##\nNoise is a trigger.\n- deep pressure helps\n**strong preference** for routine\nsee [this overview](https://example.org/spoons)"
	out := Sanitize(in)

	assert.Contains(t, out, "<h2>Energy</h2>")
	assert.Contains(t, out, "• deep pressure helps")
	assert.Contains(t, out, "<strong>strong preference</strong>")
	assert.Contains(t, out, `<a href="https://example.org/spoons"`)
	assert.Contains(t, out, "<br>")
	assert.NotContains(t, out, "**")
	assert.NotContains(t, out, "##")
}

func TestSanitizeStripsDangerousMarkup(t *testing.T) {
	out := Sanitize(`before <script>alert("x")</script> after`)
	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, "alert")
	assert.Contains(t, out, "before")
	assert.Contains(t, out, "after")
}

func TestSanitizeStripsCitationArtifacts(t *testing.T) {
	out := Sanitize("noted 【source 4:2】 here")
	assert.Equal(t, "noted  here", out)
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"## Heading ##\n- a list item\n**bold** and *em* text",
		"plain prose, nothing fancy",
		"a & b < c",
		"### Deep dive\nlink: [docs](https://example.org/a?b=1&c=2)",
		"",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		assert.Equal(t, once, twice, "input %q", in)
	}
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences(`{"a":1}`))
}
