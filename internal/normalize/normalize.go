// CLAUDE:SUMMARY HTML-to-text normalizer with sanitize pre-pass and naive fallback mode.
// Package normalize turns consolidated-text HTML into canonical plain text.
//
// The structured path sanitizes the markup (dropping scripts, styles and
// embedded images) and converts what remains to markdown-flavoured text:
// tables become pipe-delimited rows, ordered lists become "1." items,
// unordered lists become "-" items, and block elements are separated by
// blank lines. When conversion fails or yields nothing, a naive tag-strip
// fallback runs instead. Normalization never fails: the result is tagged
// with the mode that produced it so callers can log degraded output.
package normalize

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// Mode records which path produced the normalized text.
type Mode string

const (
	// ModeStructured is the sanitize-and-convert path.
	ModeStructured Mode = "structured"
	// ModeFallback is the naive tag-strip path, used when conversion fails.
	ModeFallback Mode = "fallback"
)

// Result is normalized text plus the mode that produced it.
type Result struct {
	Text string
	Mode Mode
}

// Normalizer converts raw HTML to canonical text. Safe for concurrent use.
type Normalizer struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{
		policy: textPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// textPolicy allows only the structural elements the markdown converter
// needs. Everything else loses its tags but keeps its text, except
// script/style (content dropped) and img (no text, so data URIs vanish).
func textPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"article", "section", "div", "p", "blockquote", "br",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"table", "caption", "thead", "tbody", "tfoot", "tr", "th", "td",
		"ol", "ul", "li", "dl", "dt", "dd",
		"strong", "em", "b", "i", "u", "sub", "sup",
	)
	return p
}

// HTML normalizes raw HTML. Empty input yields an empty structured result.
func (n *Normalizer) HTML(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{Text: "", Mode: ModeStructured}
	}

	clean := n.policy.Sanitize(raw)
	md, err := n.conv.ConvertString(clean)
	if err != nil || strings.TrimSpace(md) == "" {
		return Result{Text: naiveText(raw), Mode: ModeFallback}
	}
	return Result{Text: tidy(md), Mode: ModeStructured}
}

// tidy trims trailing whitespace per line and collapses runs of blank
// lines down to a single blank line.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

// naiveText is the last-resort extraction: parse leniently, collect text
// nodes outside script/style/noscript, collapse all whitespace to single
// spaces. Structure is lost but content survives.
func naiveText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return strings.Join(strings.Fields(stripTags(raw)), " ")
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode {
			switch nd.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if nd.Type == html.TextNode {
			b.WriteString(nd.Data)
			b.WriteByte(' ')
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(b.String()), " ")
}

// stripTags removes everything between < and > without parsing.
func stripTags(raw string) string {
	var b strings.Builder
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
