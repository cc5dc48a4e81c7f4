// Package expert asks the model questions about the CEE scheme (certificats
// d'économies d'énergie), grounding it on caller-supplied documents and web
// search.
package expert

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"net/http"
	"os"
	"strings"

	"cee-expert/internal/llm"
)

// DefaultModel is the Gemini model used unless WithModel overrides it.
const DefaultModel = "gemini-3-flash-preview"

// Temperature is kept low so answers stay close to the supplied context.
const Temperature = 0.1

// APIKeyEnv names the environment variable holding the credential.
const APIKeyEnv = "API_KEY"

// FallbackSourceTitle labels a cited page that has no title.
const FallbackSourceTitle = "Lien Web"

// ErrMissingAPIKey is reported when no credential is configured.
var ErrMissingAPIKey = errors.New("API_KEY is not set")

// ConfigError reports an unusable service configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "expert configuration: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// Service builds grounded prompts and streams answers. It holds no mutable
// state, so one Service may serve concurrent calls.
type Service struct {
	streamer llm.Streamer
	model    string
}

type options struct {
	model      string
	baseURL    string
	httpClient *http.Client
	streamer   llm.Streamer
}

// Option configures a Service.
type Option func(*options)

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithBaseURL points the Gemini client at another endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient sets the HTTP client used by the Gemini client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithStreamer replaces the Gemini client entirely.
func WithStreamer(s llm.Streamer) Option {
	return func(o *options) { o.streamer = s }
}

// New creates a Service. An empty apiKey fails with a *ConfigError wrapping
// ErrMissingAPIKey; no request is made.
func New(apiKey string, opts ...Option) (*Service, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigError{Err: ErrMissingAPIKey}
	}

	o := options{model: DefaultModel}
	for _, opt := range opts {
		opt(&o)
	}
	if o.model == "" {
		o.model = DefaultModel
	}
	if o.streamer == nil {
		o.streamer = llm.NewGeminiClient(apiKey, o.baseURL, o.httpClient)
	}

	return &Service{streamer: o.streamer, model: o.model}, nil
}

// NewFromEnv reads the credential from the API_KEY environment variable.
func NewFromEnv(opts ...Option) (*Service, error) {
	return New(os.Getenv(APIKeyEnv), opts...)
}

// Model returns the model identifier requests are sent to.
func (s *Service) Model() string { return s.model }

// SystemInstruction builds the system prompt: the reference date, the fixed
// instructions, then every non-fiche document followed by every fiche, each
// group in its original order.
func SystemInstruction(docs []Document, refDate string) string {
	var policies, fiches []string
	for _, d := range docs {
		if d == nil {
			continue
		}
		if d.Kind() == KindFiche {
			fiches = append(fiches, d.Line())
		} else {
			policies = append(policies, d.Line())
		}
	}

	return fmt.Sprintf(`Tu es un expert du dispositif CEE pour le Ministère de la Transition Écologique.
Date de référence réglementaire : %s.

INSTRUCTIONS :
1. Utilise le contexte local fourni prioritairement pour tes réponses.
2. Si le contexte local ne suffit pas, utilise tes connaissances et Google Search pour compléter.
3. Cite TOUJOURS les codes des fiches (ex: BAR-TH-164) quand tu les mentionnes.

CONTEXTE LOCAL :
%s
%s`, refDate, strings.Join(policies, "\n"), strings.Join(fiches, "\n"))
}

// BuildRequest assembles the single streaming request for query.
func (s *Service) BuildRequest(query string, docs []Document, refDate string) *llm.Request {
	return &llm.Request{
		Model:             s.model,
		SystemInstruction: &llm.Content{Parts: []llm.Part{{Text: SystemInstruction(docs, refDate)}}},
		Contents:          []llm.Content{llm.UserText(query)},
		GenerationConfig:  llm.GenerationConfig{Temperature: Temperature},
		Tools:             []llm.Tool{{GoogleSearch: &llm.GoogleSearch{}}},
	}
}

// StreamAnswer issues one streaming request and returns the provider's
// chunks unmodified. The caller accumulates text and keeps the last chunk
// for ExtractSources. Provider errors are yielded as they are.
func (s *Service) StreamAnswer(ctx context.Context, query string, docs []Document, refDate string) iter.Seq2[*llm.Chunk, error] {
	return s.streamer.Stream(ctx, s.BuildRequest(query, docs, refDate))
}

// ExtractSources lists the web pages cited in the grounding metadata of a
// final response. Missing metadata yields no sources; an unexpected shape
// is logged and whatever was collected before it is returned.
func ExtractSources(final *llm.Chunk) []Source {
	sources := []Source{}
	if final == nil || len(final.Candidates) == 0 {
		return sources
	}
	metadata := final.Candidates[0].GroundingMetadata
	if metadata == nil {
		return sources
	}
	if metadata.DecodeErr != nil {
		log.Printf("Failed to extract sources: %v", metadata.DecodeErr)
	}

	for _, chunk := range metadata.GroundingChunks {
		if chunk.Web == nil {
			continue
		}
		title := chunk.Web.Title
		if title == "" {
			title = FallbackSourceTitle
		}
		sources = append(sources, Source{Title: title, URL: chunk.Web.URI})
	}
	return sources
}
