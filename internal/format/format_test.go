package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat_OneBlockPerLine(t *testing.T) {
	inputs := []string{
		"",
		"\n",
		"### Titre\nParagraphe\n\n* a\n- b\n$$x=1$$",
		"a\r\nb\r\n",
		strings.Repeat("ligne\n", 50),
	}
	for _, in := range inputs {
		blocks := Format(in)
		assert.Len(t, blocks, strings.Count(in, "\n")+1, "input %q", in)
	}
}

func TestFormat_Heading(t *testing.T) {
	assert.Equal(t, []Block{Heading{Text: "Title"}}, Format("### Title"))
	assert.Equal(t, []Block{Heading{Text: "Title"}}, Format("   ###   Title  "))
	assert.Equal(t, []Block{Heading{Text: ""}}, Format("###"))
	assert.Equal(t, []Block{Heading{Text: "#Deep"}}, Format("####Deep"))
}

func TestFormat_HeadingWinsOverList(t *testing.T) {
	assert.Equal(t, []Block{Heading{Text: "* text"}}, Format("### * text"))
}

func TestFormat_Formula(t *testing.T) {
	assert.Equal(t, []Block{Formula{Text: "E=mc^2"}}, Format("$$E=mc^2$$"))
	assert.Equal(t, []Block{Formula{Text: ""}}, Format("$$$$"))
	assert.Equal(t, []Block{Formula{Text: " a "}}, Format("  $$ a $$  "))
}

func TestFormat_FormulaLengthGuard(t *testing.T) {
	assert.Equal(t, []Block{Paragraph{Spans: []Span{{Text: "$$"}}}}, Format("$$"))
	assert.Equal(t, []Block{Paragraph{Spans: []Span{{Text: "$$$"}}}}, Format("$$$"))
}

func TestFormat_UnmatchedFormula(t *testing.T) {
	assert.Equal(t, []Block{Paragraph{Spans: []Span{{Text: "$$x = 1"}}}}, Format("$$x = 1"))
}

func TestFormat_ListItem(t *testing.T) {
	blocks := Format("* item **bold** text")
	require.Len(t, blocks, 1)
	assert.Equal(t, ListItem{Spans: []Span{
		{Text: "item "},
		{Text: "bold", Emphasized: true},
		{Text: " text"},
	}}, blocks[0])

	assert.Equal(t, []Block{ListItem{Spans: []Span{{Text: "dash"}}}}, Format("- dash"))
}

func TestFormat_ListNeedsSpaceAfterMarker(t *testing.T) {
	assert.Equal(t, []Block{Paragraph{Spans: []Span{{Text: "*item"}}}}, Format("*item"))
	assert.Equal(t, []Block{Paragraph{Spans: []Span{{Text: "-"}}}}, Format("- "))
}

func TestFormat_Blank(t *testing.T) {
	assert.Equal(t, []Block{Blank{}}, Format(""))
	assert.Equal(t, []Block{Blank{}}, Format(" \t "))
}

func TestFormat_MixedMessage(t *testing.T) {
	msg := "### BAR-TH-164\n\nLa fiche exige un **ETAS ≥ 111%**.\n* COP selon NF EN 14511\n$$E = P \\times t$$"
	blocks := Format(msg)

	require.Len(t, blocks, 5)
	assert.Equal(t, Heading{Text: "BAR-TH-164"}, blocks[0])
	assert.Equal(t, Blank{}, blocks[1])
	assert.Equal(t, Paragraph{Spans: []Span{
		{Text: "La fiche exige un "},
		{Text: "ETAS ≥ 111%", Emphasized: true},
		{Text: "."},
	}}, blocks[2])
	assert.Equal(t, ListItem{Spans: []Span{{Text: "COP selon NF EN 14511"}}}, blocks[3])
	assert.Equal(t, Formula{Text: "E = P \\times t"}, blocks[4])
}

func TestInline_TwoBoldRuns(t *testing.T) {
	spans := Inline("a **b** c **d** e")
	assert.Equal(t, []Span{
		{Text: "a "},
		{Text: "b", Emphasized: true},
		{Text: " c "},
		{Text: "d", Emphasized: true},
		{Text: " e"},
	}, spans)
}

func TestInline_KeepsEmptySegments(t *testing.T) {
	assert.Equal(t, []Span{
		{Text: ""},
		{Text: "b", Emphasized: true},
		{Text: ""},
	}, Inline("**b**"))

	assert.Equal(t, []Span{
		{Text: ""},
		{Text: "a", Emphasized: true},
		{Text: ""},
		{Text: "b", Emphasized: true},
		{Text: ""},
	}, Inline("**a****b**"))
}

func TestInline_ShortestPair(t *testing.T) {
	spans := Inline("**a** et **b**")
	require.Len(t, spans, 5)
	assert.Equal(t, Span{Text: "a", Emphasized: true}, spans[1])
	assert.Equal(t, Span{Text: " et "}, spans[2])
}

func TestInline_StrayMarkersStayPlain(t *testing.T) {
	assert.Equal(t, []Span{{Text: "a ** b"}}, Inline("a ** b"))
	assert.Equal(t, []Span{{Text: "**"}}, Inline("**"))
	assert.Equal(t, []Span{{Text: "***"}}, Inline("***"))
	assert.Equal(t, Paragraph{Spans: []Span{{Text: "***"}}}, Line("***"))
	assert.Equal(t, []Span{
		{Text: "x "},
		{Text: "y", Emphasized: true},
		{Text: " **z"},
	}, Inline("x **y** **z"))
}

func TestInline_EmptyBold(t *testing.T) {
	assert.Equal(t, []Span{
		{Text: "a"},
		{Text: "", Emphasized: true},
		{Text: "b"},
	}, Inline("a****b"))
}

func TestInline_Empty(t *testing.T) {
	assert.Equal(t, []Span{{Text: ""}}, Inline(""))
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "a b c", PlainText(Inline("a **b** c")))
}
