// CLAUDE:SUMMARY Article-aware text segmenter with sentence-boundary size splitting and overlap.
// Package segment cuts normalized legal text into retrieval-sized spans.
//
// Splitting is structure-first: text is divided at article headings
// ("Artículo N. Título" preceded by a blank line) and each article keeps its
// heading as a label. Sections that still exceed 1.5x the target size are
// re-split by size with a fixed overlap, scanning backwards up to 200
// characters for a sentence boundary so cuts land after punctuation when
// possible. Every sub-span of an article inherits the article's label.
//
// Sizes are counted in runes, with 4 characters approximating one token.
// Spans shorter than MinChars are dropped as stubs, except size-split
// pieces, which are kept whenever non-empty.
package segment

import (
	"regexp"
	"strings"
)

const (
	// DefaultTargetTokens is the intended span size.
	DefaultTargetTokens = 600
	// DefaultOverlapTokens is carried from the end of one size-split piece
	// into the start of the next.
	DefaultOverlapTokens = 50
	// DefaultMinChars is the stub threshold.
	DefaultMinChars = 100

	charsPerToken  = 4
	boundaryWindow = 200
)

// Options tunes the segmenter. Zero values take the defaults.
type Options struct {
	TargetTokens  int
	OverlapTokens int
	MinChars      int
}

// Span is one emitted segment. Ordinals are dense and zero-based across
// the whole input.
type Span struct {
	Ordinal int
	Label   string // article heading, empty for preamble or unheaded text
	Text    string
}

var articleRE = regexp.MustCompile(`(?i)\n\n(artículo\s+\d+[a-z]?\.?\s+[^\n]+)`)

// Split segments text into spans. Empty or whitespace-only input yields nil.
// The output is deterministic for a given input and options.
func Split(text string, opts Options) []Span {
	target := opts.TargetTokens
	if target <= 0 {
		target = DefaultTargetTokens
	}
	overlap := opts.OverlapTokens
	if overlap <= 0 {
		overlap = DefaultOverlapTokens
	}
	minChars := opts.MinChars
	if minChars <= 0 {
		minChars = DefaultMinChars
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}

	targetChars := target * charsPerToken
	overlapChars := overlap * charsPerToken
	oversize := targetChars + targetChars/2

	var spans []Span
	ordinal := 0
	for _, sec := range splitByArticle(text) {
		runes := []rune(sec.text)
		if len(runes) > oversize {
			for _, piece := range splitBySize(runes, targetChars, overlapChars) {
				spans = append(spans, Span{Ordinal: ordinal, Label: sec.label, Text: piece})
				ordinal++
			}
			continue
		}
		trimmed := strings.TrimSpace(sec.text)
		if len([]rune(trimmed)) > minChars {
			spans = append(spans, Span{Ordinal: ordinal, Label: sec.label, Text: trimmed})
			ordinal++
		}
	}
	return spans
}

type section struct {
	label string
	text  string
}

// splitByArticle divides text at article headings. The heading pattern
// requires a preceding blank line, so the input is padded with one to let
// a heading at position zero match. Each section runs from its heading to
// the blank line before the next heading; text before the first heading
// becomes an unlabeled preamble section.
func splitByArticle(text string) []section {
	padded := "\n\n" + text
	locs := articleRE.FindAllStringSubmatchIndex(padded, -1)
	if len(locs) == 0 {
		return []section{{text: text}}
	}

	var out []section
	if pre := padded[:locs[0][0]]; strings.TrimSpace(pre) != "" {
		out = append(out, section{text: pre})
	}
	for i, m := range locs {
		start := m[2] // heading start, separator excluded
		end := len(padded)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out = append(out, section{
			label: strings.TrimSpace(padded[m[2]:m[3]]),
			text:  padded[start:end],
		})
	}
	return out
}

// splitBySize cuts runes into pieces of roughly targetChars, scanning
// backwards within boundaryWindow for a sentence end so pieces close on
// punctuation when one is near. Consecutive pieces share overlapChars.
// The next start is derived from the unclamped end, which guarantees
// forward progress and loop termination.
func splitBySize(runes []rune, targetChars, overlapChars int) []string {
	n := len(runes)
	var out []string

	start := 0
	for start < n {
		end := start + targetChars
		if end < n {
			if b := sentenceBoundary(runes, start, end, n); b > 0 {
				end = b
			}
		}

		sliceEnd := end
		if sliceEnd > n {
			sliceEnd = n
		}
		if piece := strings.TrimSpace(string(runes[start:sliceEnd])); piece != "" {
			out = append(out, piece)
		}

		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// sentenceBoundary scans i from end down to max(start, end-boundaryWindow)
// exclusive, returning the index just past a two-rune sentence end, or -1.
func sentenceBoundary(runes []rune, start, end, n int) int {
	low := end - boundaryWindow
	if low < start {
		low = start
	}
	for i := end; i > low; i-- {
		if i+2 <= n && isSentenceEnd(runes[i], runes[i+1]) {
			return i + 2
		}
	}
	return -1
}

func isSentenceEnd(a, b rune) bool {
	switch a {
	case '.':
		return b == ' ' || b == '\n' || b == '\t'
	case '?':
		return b == ' '
	case '!':
		return b == ' ' || b == '\n'
	}
	return false
}
