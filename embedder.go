package main

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"
	"unicode"

	"cee-expert/internal/expert"
)

// Embedder turns text into fixed-size vectors for relevance ranking.
type Embedder struct {
	config *Config
}

// NewEmbedder creates a new Embedder instance
func NewEmbedder(config *Config) *Embedder {
	return &Embedder{
		config: config,
	}
}

// Dim returns the vector size.
func (e *Embedder) Dim() int {
	return e.config.EmbeddingDim
}

// GetEmbedding hashes lower-cased word tokens into a unit vector. It needs
// no external model; documents that share vocabulary land close together.
func (e *Embedder) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embedding := make([]float32, e.Dim())

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % uint32(len(embedding)))
		// The high bit picks the sign so collisions tend to cancel out.
		if sum&(1<<31) != 0 {
			embedding[idx]--
		} else {
			embedding[idx]++
		}
	}

	// Normalize
	var norm float64
	for _, val := range embedding {
		norm += float64(val) * float64(val)
	}
	if norm == 0 {
		return embedding, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range embedding {
		embedding[i] *= inv
	}
	return embedding, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is the zero vector or their sizes differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// DocumentText is the text a document is embedded from.
func DocumentText(d expert.Document) string {
	switch v := d.(type) {
	case expert.Fiche:
		return strings.Join([]string{v.Code, v.Title, v.Sector, v.Content}, " ")
	case expert.PolicyDoc:
		return v.Title + " " + v.Content
	}
	return d.Line()
}

// portalItem is the JSON form of a portal document.
type portalItem struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Code        string `json:"code,omitempty"`
	Title       string `json:"title"`
	Sector      string `json:"sector,omitempty"`
	VersionDate string `json:"versionDate"`
	URL         string `json:"url"`
	Content     string `json:"content"`
}

func (p portalItem) document() expert.Document {
	if expert.Kind(p.Type) == expert.KindFiche {
		return expert.Fiche{
			ID: p.ID, Code: p.Code, Title: p.Title, Sector: p.Sector,
			VersionDate: p.VersionDate, URL: p.URL, Content: p.Content,
		}
	}
	return expert.PolicyDoc{
		ID: p.ID, Title: p.Title, VersionDate: p.VersionDate, URL: p.URL, Content: p.Content,
	}
}

// ParseDocuments decodes a JSON array of portal items.
func ParseDocuments(data []byte) ([]expert.Document, error) {
	var items []portalItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	docs := make([]expert.Document, 0, len(items))
	for i, item := range items {
		if _, err := parseDate(item.VersionDate); err != nil {
			return nil, fmt.Errorf("document %d (%s): invalid versionDate %q", i, item.ID, item.VersionDate)
		}
		if expert.Kind(item.Type) == expert.KindFiche && item.Code == "" {
			return nil, fmt.Errorf("document %d (%s): fiche without code", i, item.ID)
		}
		docs = append(docs, item.document())
	}
	return docs, nil
}

// LoadDocumentsFile reads portal documents from a JSON file.
func LoadDocumentsFile(path string) ([]expert.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	docs, err := ParseDocuments(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return docs, nil
}
