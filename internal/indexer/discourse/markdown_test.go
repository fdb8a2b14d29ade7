package discourse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractMarkdownInlineDeleteAndInsert(t *testing.T) {
	content := `<table class="markdown"><tr><td class="diff-del">This is <del>a simple </del>paragraph.</td><td class="diff-ins">This is <ins>an inline addition what to this </ins>paragraph.</td></tr></table>`

	assert.Equal(t, "This is a simple paragraph.", extractBeforeMarkdown(content))
	assert.Equal(t, "This is an inline addition what to this paragraph.", extractAfterMarkdown(content))
}

func TestExtractMarkdownDeleteInMiddle(t *testing.T) {
	content := `<table class="markdown"><tr><td class="diff-del">This is an inline addition <del>what </del>to this paragraph.</td><td class="diff-ins">This is an inline addition to this paragraph.</td></tr></table>`

	assert.Equal(t, "This is an inline addition what to this paragraph.", extractBeforeMarkdown(content))
	assert.Equal(t, "This is an inline addition to this paragraph.", extractAfterMarkdown(content))
}

// TestExtractMarkdownEntitiesResolved exercises a row whose content
// carries an HTML entity. Unlike a regex-only tag strip, a real parser
// resolves &#39; to an apostrophe as it builds the text node, so the
// extracted markdown comes back with the character itself rather than
// the escaped form.
func TestExtractMarkdownEntitiesResolved(t *testing.T) {
	content := `<table class="markdown"><tr><td class="diff-del">I just don&#39;t have funds.</td><td class="diff-ins">I just don&#39;t have funds.<ins> Extra context.</ins></td></tr></table>`

	assert.Equal(t, "I just don't have funds.", extractBeforeMarkdown(content))
	assert.Equal(t, "I just don't have funds. Extra context.", extractAfterMarkdown(content))
}

func TestExtractMarkdownUnchangedRow(t *testing.T) {
	content := `<table class="markdown"><tr><td># Heading\n---\n</td><td># Heading\n---\n</td></tr></table>`

	want := "# Heading\n---"
	assert.Equal(t, want, extractBeforeMarkdown(content))
	assert.Equal(t, want, extractAfterMarkdown(content))
}

func TestExtractMarkdownMultipleRows(t *testing.T) {
	content := `<table class="markdown">` +
		`<tr><td># Heading\n---\n</td><td># Heading\n---\n</td></tr>` +
		`<tr><td class="diff-del">Our team **<del>Cp0x</del>** voted FOR this proposal.\n</td><td class="diff-ins">Our team **<ins>cp0x</ins>** voted FOR this proposal.\n</td></tr>` +
		`<tr><td>We support the grant.</td><td>We support the grant.</td></tr>` +
		`</table>`

	wantBefore := "# Heading\n---\nOur team **Cp0x** voted FOR this proposal.\nWe support the grant."
	wantAfter := "# Heading\n---\nOur team **cp0x** voted FOR this proposal.\nWe support the grant."

	assert.Equal(t, wantBefore, extractBeforeMarkdown(content))
	assert.Equal(t, wantAfter, extractAfterMarkdown(content))
}
