package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"cee-expert/internal/expert"
	"cee-expert/internal/format"
)

var (
	headingColor  = color.New(color.FgCyan, color.Bold)
	headingMarker = color.New(color.FgYellow)
	formulaColor  = color.New(color.FgBlue, color.Italic)
	bulletColor   = color.New(color.FgBlue)
	plainColor    = color.New(color.FgWhite)
	boldColor     = color.New(color.FgHiWhite, color.Bold)
	sourceColor   = color.New(color.FgHiBlue)
	mutedColor    = color.New(color.FgHiBlack)
	userColor     = color.New(color.FgGreen)
	botColor      = color.New(color.FgMagenta, color.Bold)
)

// defaultWidth is used when stdout is not a terminal.
const defaultWidth = 60

// TerminalWidth returns the width of stdout, capped at defaultWidth.
func TerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || w > defaultWidth {
		return defaultWidth
	}
	return w
}

// RenderBlock writes one block as exactly one line.
func RenderBlock(w io.Writer, b format.Block) {
	switch v := b.(type) {
	case format.Heading:
		headingMarker.Fprint(w, "● ")
		headingColor.Fprint(w, v.Text)
	case format.Formula:
		fmt.Fprint(w, "    ")
		formulaColor.Fprint(w, v.Text)
	case format.ListItem:
		bulletColor.Fprint(w, "  • ")
		renderSpans(w, v.Spans)
	case format.Paragraph:
		renderSpans(w, v.Spans)
	case format.Blank:
	}
	fmt.Fprintln(w)
}

// RenderBlocks writes blocks in order, one line each.
func RenderBlocks(w io.Writer, blocks []format.Block) {
	for _, b := range blocks {
		RenderBlock(w, b)
	}
}

func renderSpans(w io.Writer, spans []format.Span) {
	for _, s := range spans {
		if s.Text == "" {
			continue
		}
		if s.Emphasized {
			boldColor.Fprint(w, s.Text)
		} else {
			plainColor.Fprint(w, s.Text)
		}
	}
}

// RenderSources writes the cited pages under a rule. Nothing is written
// when there are none.
func RenderSources(w io.Writer, sources []expert.Source, width int) {
	if len(sources) == 0 {
		return
	}
	mutedColor.Fprintln(w, strings.Repeat("─", width))
	mutedColor.Fprintln(w, "Documentation de Référence :")
	for _, src := range sources {
		sourceColor.Fprintf(w, "  📄 %s", src.Title)
		mutedColor.Fprintf(w, " <%s>\n", src.URL)
	}
}

// RenderMessage writes a full message: role label with time, formatted
// body, then sources for assistant messages.
func RenderMessage(w io.Writer, msg Message, width int) {
	label := messageLabel(msg)
	if msg.Role == RoleUser {
		userColor.Fprintln(w, label)
		plainColor.Fprintln(w, msg.Content)
		return
	}
	botColor.Fprintln(w, label)
	RenderBlocks(w, format.Format(msg.Content))
	RenderSources(w, msg.Sources, width)
}

func messageLabel(msg Message) string {
	name := "Expert"
	if msg.Role == RoleUser {
		name = "Vous"
	}
	return fmt.Sprintf("%s (%s):", name, msg.Timestamp.Format("15:04"))
}

// BlockWriter formats streamed text line by line. Each completed line is
// rendered as soon as its newline arrives; Flush renders the remainder.
// Since every line maps to one block on its own, the output matches
// rendering the whole text at once.
type BlockWriter struct {
	out     io.Writer
	pending strings.Builder
}

// NewBlockWriter renders to out.
func NewBlockWriter(out io.Writer) *BlockWriter {
	return &BlockWriter{out: out}
}

// WriteString consumes a text fragment.
func (bw *BlockWriter) WriteString(s string) {
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			bw.pending.WriteString(s)
			return
		}
		bw.pending.WriteString(s[:i])
		RenderBlock(bw.out, format.Line(bw.pending.String()))
		bw.pending.Reset()
		s = s[i+1:]
	}
}

// Flush renders the final, unterminated line.
func (bw *BlockWriter) Flush() {
	RenderBlock(bw.out, format.Line(bw.pending.String()))
	bw.pending.Reset()
}
