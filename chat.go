package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"cee-expert/internal/expert"
	"cee-expert/internal/llm"
)

// Role identifies who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const welcomeMessage = "Bienvenue sur l'Expertise CEE. Scannez le portail pour charger les fiches BAR/BAT/IND."

// Message is one turn of the conversation.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
	Sources   []expert.Source
}

// ChatBot answers questions grounded on the corpus, keeping the
// conversation in memory only.
type ChatBot struct {
	service *expert.Service
	corpus  Corpus

	refDate             time.Time
	conversationHistory []Message

	in  io.Reader
	out io.Writer
	now func() time.Time
}

// NewChatBot creates a new ChatBot reading commands from in and writing to
// out. The reference date starts at config.ReferenceDate, or today.
func NewChatBot(service *expert.Service, corpus Corpus, config *Config, in io.Reader, out io.Writer) *ChatBot {
	cb := &ChatBot{
		service: service,
		corpus:  corpus,
		in:      in,
		out:     out,
		now:     time.Now,
	}
	cb.refDate = truncateDay(cb.now())
	if config.ReferenceDate != "" {
		if d, err := parseDate(config.ReferenceDate); err == nil {
			cb.refDate = d
		}
	}
	cb.AddToHistory(RoleAssistant, welcomeMessage, nil)
	return cb
}

// AddToHistory adds a message to the conversation history
func (cb *ChatBot) AddToHistory(role Role, content string, sources []expert.Source) Message {
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: cb.now(),
		Sources:   sources,
	}
	cb.conversationHistory = append(cb.conversationHistory, msg)
	return msg
}

// History returns a copy of the conversation so far.
func (cb *ChatBot) History() []Message {
	return append([]Message(nil), cb.conversationHistory...)
}

// ReferenceDate is the regulatory date answers are given for.
func (cb *ChatBot) ReferenceDate() time.Time {
	return cb.refDate
}

// Ask streams an answer to question, rendering each line as it completes,
// then prints the cited sources. Errors from the provider end the answer
// and nothing is added to the history for it.
func (cb *ChatBot) Ask(ctx context.Context, question string) (Message, error) {
	cb.AddToHistory(RoleUser, question, nil)

	docs, err := cb.corpus.Effective(ctx, cb.refDate, question)
	if err != nil {
		return Message{}, fmt.Errorf("failed to load context: %w", err)
	}

	botColor.Fprintf(cb.out, "Expert (%s):\n", GetTimeString(cb.now()))

	blocks := NewBlockWriter(cb.out)
	var full strings.Builder
	var last *llm.Chunk
	for chunk, err := range cb.service.StreamAnswer(ctx, question, docs, cb.refDate.Format(dateLayout)) {
		if err != nil {
			blocks.Flush()
			return Message{}, fmt.Errorf("failed to stream answer: %w", err)
		}
		if text := chunk.Text(); text != "" {
			full.WriteString(text)
			blocks.WriteString(text)
		}
		last = chunk
	}
	blocks.Flush()

	sources := []expert.Source{}
	if last != nil {
		sources = expert.ExtractSources(last)
	}
	RenderSources(cb.out, sources, TerminalWidth())

	return cb.AddToHistory(RoleAssistant, full.String(), sources), nil
}

// GetTimeString returns t formatted as hours and minutes.
func GetTimeString(t time.Time) string {
	return t.Format("15:04")
}

func (cb *ChatBot) printBanner() {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintln(cb.out, "╔═══════════════════════════════╗")
	cyan.Fprintln(cb.out, "║  Expertise Réglementaire CEE  ║")
	cyan.Fprintln(cb.out, "╚═══════════════════════════════╝")
	mutedColor.Fprintf(cb.out, "Mode RAG actif • Analyse basée sur la réglementation au %s\n",
		cb.refDate.Format("02/01/2006"))
}

func (cb *ChatBot) printHelp() {
	yellow := color.New(color.FgYellow)
	yellow.Fprintln(cb.out, "Commandes : 'scan' charge le portail CEE, 'load <fichier.json>' charge des documents,")
	yellow.Fprintln(cb.out, "'corpus' liste le corpus actif, 'date AAAA-MM-JJ' change la date de référence,")
	yellow.Fprintln(cb.out, "'history' affiche la conversation, 'clear' efface l'écran, 'exit' pour quitter.")
}

// handleCommand runs a chat command. It reports whether input was one, and
// whether the session should end.
func (cb *ChatBot) handleCommand(ctx context.Context, input string) (handled, quit bool) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "exit", "quit":
		if len(fields) > 1 {
			return false, false
		}
		color.New(color.FgCyan).Fprintln(cb.out, "\nAu revoir !")
		return true, true

	case "help":
		if len(fields) > 1 {
			return false, false
		}
		cb.printHelp()

	case "history":
		if len(fields) > 1 {
			return false, false
		}
		color.New(color.FgYellow).Fprintf(cb.out, "\nHistorique (%d messages) :\n\n", len(cb.conversationHistory))
		for _, msg := range cb.conversationHistory {
			RenderMessage(cb.out, msg, TerminalWidth())
			fmt.Fprintln(cb.out)
		}

	case "clear":
		if len(fields) > 1 {
			return false, false
		}
		fmt.Fprint(cb.out, "\033[H\033[2J")
		cb.printBanner()

	case "scan":
		if len(fields) > 1 {
			return false, false
		}
		docs := SamplePortal()
		if err := cb.corpus.Load(ctx, docs); err != nil {
			red.Fprintf(cb.out, "Échec du scan : %v\n", err)
			return true, false
		}
		green.Fprintf(cb.out, "%d fiches indexées.\n", len(docs))

	case "load":
		if len(fields) != 2 {
			return false, false
		}
		docs, err := LoadDocumentsFile(fields[1])
		if err == nil {
			err = cb.corpus.Load(ctx, docs)
		}
		if err != nil {
			red.Fprintf(cb.out, "Échec du chargement : %v\n", err)
			return true, false
		}
		green.Fprintf(cb.out, "%d documents chargés.\n", len(docs))

	case "corpus":
		if len(fields) > 1 {
			return false, false
		}
		docs, err := cb.corpus.Applicable(ctx, cb.refDate)
		if err != nil {
			red.Fprintf(cb.out, "Erreur : %v\n", err)
			return true, false
		}
		color.New(color.Bold).Fprintf(cb.out, "Corpus actif : %d documents\n", len(docs))
		for _, d := range docs {
			code := "DOC"
			if f, ok := d.(expert.Fiche); ok {
				code = f.Code
			}
			fmt.Fprintf(cb.out, "  %s - %s ", code, documentTitle(d))
			mutedColor.Fprintf(cb.out, "(applicable le : %s)\n", d.Version())
		}

	case "date":
		if len(fields) != 2 {
			return false, false
		}
		d, err := parseDate(fields[1])
		if err != nil {
			red.Fprintf(cb.out, "Date invalide %q, format attendu AAAA-MM-JJ\n", fields[1])
			return true, false
		}
		cb.refDate = d
		green.Fprintf(cb.out, "Date de référence réglementaire : %s\n", d.Format("02/01/2006"))

	default:
		return false, false
	}
	return true, false
}

func documentTitle(d expert.Document) string {
	switch v := d.(type) {
	case expert.Fiche:
		return v.Title
	case expert.PolicyDoc:
		return v.Title
	}
	return ""
}

// readLines sends each line of r on the returned channel, which is closed at
// EOF or on a read error. The goroutine stops early once done is closed.
// The returned func reports the read error once the channel is closed.
func readLines(r io.Reader, done <-chan struct{}) (<-chan string, func() error) {
	lines := make(chan string)
	var readErr error
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr = scanner.Err()
	}()
	return lines, func() error { return readErr }
}

// RunInteractive starts an interactive chat session. It returns ctx.Err()
// as soon as ctx is cancelled, even while waiting for input.
func (cb *ChatBot) RunInteractive(ctx context.Context) error {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	cb.printBanner()
	cb.printHelp()
	fmt.Fprintln(cb.out)
	RenderMessage(cb.out, cb.conversationHistory[0], TerminalWidth())

	done := make(chan struct{})
	defer close(done)
	inputChan, readErr := readLines(cb.in, done)

	for {
		green.Fprintf(cb.out, "\nVous (%s): ", GetTimeString(cb.now()))

		var input string
		select {
		case <-ctx.Done():
			fmt.Fprintln(cb.out)
			return ctx.Err()
		case line, ok := <-inputChan:
			if !ok {
				if err := readErr(); err != nil {
					return fmt.Errorf("error reading input: %w", err)
				}
				return nil
			}
			input = strings.TrimSpace(line)
		}

		// Handle empty input
		if input == "" {
			continue
		}

		handled, quit := cb.handleCommand(ctx, input)
		if quit {
			return nil
		}
		if handled {
			continue
		}

		fmt.Fprintln(cb.out)
		if _, err := cb.Ask(ctx, input); err != nil {
			red.Fprintf(cb.out, "\nUne erreur est survenue : %v\n", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}
