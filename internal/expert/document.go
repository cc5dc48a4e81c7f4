package expert

import "fmt"

// Kind tags a context document.
type Kind string

const (
	KindPolicy Kind = "POLITIQUE"
	KindFiche  Kind = "FICHE"
)

// Document is background text injected into the system prompt. The
// concrete types are PolicyDoc and Fiche.
type Document interface {
	Kind() Kind
	// Version is the date, YYYY-MM-DD, from which the document applies.
	Version() string
	// Line renders the document for the system prompt.
	Line() string
}

// PolicyDoc is a general policy or programme document.
type PolicyDoc struct {
	ID          string
	Title       string
	Content     string
	URL         string
	VersionDate string
}

// Fiche is a coded standardised operation sheet, e.g. BAR-TH-164.
type Fiche struct {
	ID          string
	Code        string
	Title       string
	Sector      string
	VersionDate string
	URL         string
	Content     string
}

func (PolicyDoc) Kind() Kind        { return KindPolicy }
func (d PolicyDoc) Version() string { return d.VersionDate }

func (d PolicyDoc) Line() string {
	return fmt.Sprintf("[DOC] %s: %s (Source: %s)", d.Title, d.Content, d.URL)
}

func (Fiche) Kind() Kind        { return KindFiche }
func (f Fiche) Version() string { return f.VersionDate }

func (f Fiche) Line() string {
	return fmt.Sprintf("[FICHE] %s: %s. Date: %s. Contenu: %s", f.Code, f.Title, f.VersionDate, f.Content)
}

// Source is a web page cited by a grounded answer.
type Source struct {
	Title string
	URL   string
}
