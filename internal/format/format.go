// Package format turns the lightweight markup produced by the assistant into
// display blocks.
//
// The markup is line oriented: every line of input yields exactly one block.
// Recognised forms, checked in this order:
//
//	### Heading
//	$$formula$$
//	* list item   (or "- list item")
//	<empty line>
//	paragraph
//
// Inside list items and paragraphs, **text** marks an emphasized span.
// Nested or overlapping emphasis is not supported. Markers that do not close
// a pair, including a lone "**" or "***", stay in the text as typed; only a
// matched "****" yields an empty emphasized span.
package format

import (
	"regexp"
	"strings"
)

// Block is one display node. The concrete types are Heading, Formula,
// ListItem, Paragraph and Blank.
type Block interface {
	block()
}

// Heading is a "###" title line.
type Heading struct {
	Text string
}

// Formula is a "$$...$$" line; Text excludes the delimiters.
type Formula struct {
	Text string
}

// ListItem is a "* " or "- " bullet line.
type ListItem struct {
	Spans []Span
}

// Paragraph is any other non-empty line.
type Paragraph struct {
	Spans []Span
}

// Blank is an empty (or whitespace only) line.
type Blank struct{}

func (Heading) block()   {}
func (Formula) block()   {}
func (ListItem) block()  {}
func (Paragraph) block() {}
func (Blank) block()     {}

// Span is a run of inline text.
type Span struct {
	Text       string
	Emphasized bool
}

const (
	headingMarker = "###"
	formulaMarker = "$$"
	boldMarker    = "**"
)

var (
	headingPrefix = regexp.MustCompile(`^###\s*`)
	boldPattern   = regexp.MustCompile(`\*\*.*?\*\*`)
)

// Format splits content on newlines and returns one block per line.
func Format(content string) []Block {
	lines := strings.Split(content, "\n")
	blocks := make([]Block, 0, len(lines))
	for _, line := range lines {
		blocks = append(blocks, Line(line))
	}
	return blocks
}

// Line formats a single line. It never returns nil.
func Line(line string) Block {
	trimmed := strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(trimmed, headingMarker):
		return Heading{Text: headingPrefix.ReplaceAllString(trimmed, "")}

	// Both delimiters must fit without sharing characters.
	case len(trimmed) >= 2*len(formulaMarker) &&
		strings.HasPrefix(trimmed, formulaMarker) &&
		strings.HasSuffix(trimmed, formulaMarker):
		return Formula{Text: trimmed[len(formulaMarker) : len(trimmed)-len(formulaMarker)]}

	case strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "- "):
		return ListItem{Spans: Inline(trimmed[2:])}

	case trimmed == "":
		return Blank{}
	}

	return Paragraph{Spans: Inline(trimmed)}
}

// Inline splits text around **bold** runs. Text outside the runs is kept
// verbatim, including empty segments before, between and after them, so
// the result has 2n+1 spans for n bold runs. Stray markers that do not form
// a complete pair stay in the plain text.
func Inline(text string) []Span {
	matches := boldPattern.FindAllStringIndex(text, -1)
	spans := make([]Span, 0, 2*len(matches)+1)

	prev := 0
	for _, m := range matches {
		spans = append(spans,
			Span{Text: text[prev:m[0]]},
			Span{Text: text[m[0]+len(boldMarker) : m[1]-len(boldMarker)], Emphasized: true},
		)
		prev = m[1]
	}
	return append(spans, Span{Text: text[prev:]})
}

// PlainText concatenates the spans, dropping emphasis.
func PlainText(spans []Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.Text)
	}
	return b.String()
}
