// Package llm provides a streaming client for the Gemini generateContent API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
)

// Streamer is the narrow interface the rest of the application depends on.
// Each call issues exactly one request; the returned sequence can be ranged
// over once. Breaking out of the loop releases the underlying connection.
type Streamer interface {
	Stream(ctx context.Context, req *Request) iter.Seq2[*Chunk, error]
}

// Part is a piece of message content.
type Part struct {
	Text string `json:"text,omitempty"`
}

// Content is a single turn of the conversation.
type Content struct {
	Role  string `json:"role,omitempty"` // "user" or "model"
	Parts []Part `json:"parts"`
}

// GoogleSearch enables search grounding. It carries no options.
type GoogleSearch struct{}

// Tool is a capability offered to the model.
type Tool struct {
	GoogleSearch *GoogleSearch `json:"googleSearch,omitempty"`
}

// GenerationConfig holds sampling parameters.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// Request is the payload for streamGenerateContent. Model is part of the
// URL, not the body.
type Request struct {
	Model             string           `json:"-"`
	Contents          []Content        `json:"contents"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`
	Tools             []Tool           `json:"tools,omitempty"`
}

// UserText builds a single user turn.
func UserText(text string) Content {
	return Content{Role: "user", Parts: []Part{{Text: text}}}
}

// Chunk is one streamed GenerateContentResponse.
type Chunk struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
}

// Candidate is one generated alternative. Only the first is used.
type Candidate struct {
	Content           *Content           `json:"content,omitempty"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

// GroundingMetadata links the answer to the web pages that grounded it.
//
// Decoding never fails: the provider's metadata shape is not part of the
// answer, so a mismatch is recorded in DecodeErr and GroundingChunks keeps
// the entries decoded before it.
type GroundingMetadata struct {
	WebSearchQueries []string         `json:"webSearchQueries,omitempty"`
	GroundingChunks  []GroundingChunk `json:"groundingChunks,omitempty"`
	DecodeErr        error            `json:"-"`
}

func (m *GroundingMetadata) UnmarshalJSON(data []byte) error {
	*m = GroundingMetadata{}

	var raw struct {
		WebSearchQueries json.RawMessage `json:"webSearchQueries"`
		GroundingChunks  json.RawMessage `json:"groundingChunks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		m.DecodeErr = fmt.Errorf("grounding metadata: %w", err)
		return nil
	}
	if len(raw.WebSearchQueries) > 0 {
		if err := json.Unmarshal(raw.WebSearchQueries, &m.WebSearchQueries); err != nil {
			m.WebSearchQueries = nil
			m.DecodeErr = fmt.Errorf("web search queries: %w", err)
			return nil
		}
	}
	if len(raw.GroundingChunks) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw.GroundingChunks, &items); err != nil {
		m.DecodeErr = fmt.Errorf("grounding chunks: %w", err)
		return nil
	}
	for i, item := range items {
		var c GroundingChunk
		if err := json.Unmarshal(item, &c); err != nil {
			m.DecodeErr = fmt.Errorf("grounding chunk %d: %w", i, err)
			return nil
		}
		m.GroundingChunks = append(m.GroundingChunks, c)
	}
	return nil
}

// GroundingChunk is one cited resource.
type GroundingChunk struct {
	Web *WebChunk `json:"web,omitempty"`
}

// WebChunk is a cited web page.
type WebChunk struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// UsageMetadata reports token counts, usually on the last chunk.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Text returns the concatenated text parts of the first candidate.
func (c *Chunk) Text() string {
	if c == nil || len(c.Candidates) == 0 || c.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// APIError is returned when the provider answers with a non-200 status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Gemini API error %d: %s", e.StatusCode, e.Body)
}
