package discourse

import (
	"strings"

	"golang.org/x/net/html"
)

// extractBeforeMarkdown and extractAfterMarkdown pull the two sides of
// a Discourse revision diff table apart, grounded on
// models/revisions/markdown_changes.rs. Each <tr> either carries a
// diff-del/diff-ins column pair (an edited line) or two identical plain
// <td> columns (an unchanged line); the two sides are concatenated
// across every row, tags stripped, and blank lines dropped.
func extractBeforeMarkdown(diffHTML string) string {
	return normalizeDiffText(diffRowsText(diffHTML, true))
}

func extractAfterMarkdown(diffHTML string) string {
	return normalizeDiffText(diffRowsText(diffHTML, false))
}

func diffRowsText(diffHTML string, before bool) string {
	doc, err := html.Parse(strings.NewReader(diffHTML))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			b.WriteString(rowSideText(n, before))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

func rowSideText(tr *html.Node, before bool) string {
	var cells []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			cells = append(cells, c)
		}
	}

	wantClass := "diff-ins"
	if before {
		wantClass = "diff-del"
	}
	for _, td := range cells {
		if hasClass(td, wantClass) {
			return textContent(td)
		}
	}

	switch {
	case before && len(cells) > 0:
		return textContent(cells[0])
	case !before && len(cells) > 1:
		return textContent(cells[1])
	case !before && len(cells) == 1:
		return textContent(cells[0])
	default:
		return ""
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" && a.Val == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func normalizeDiffText(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
