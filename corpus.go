package main

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"cee-expert/internal/expert"
)

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// Corpus holds the regulatory documents the assistant can cite.
type Corpus interface {
	// Load adds documents to the corpus. A document whose ID is already
	// stored replaces it.
	Load(ctx context.Context, docs []expert.Document) error
	// Effective returns the documents applicable at ref. When a limit is
	// configured, the ones closest to query are kept.
	Effective(ctx context.Context, ref time.Time, query string) ([]expert.Document, error)
	// Applicable returns every document applicable at ref, ignoring the limit.
	Applicable(ctx context.Context, ref time.Time) ([]expert.Document, error)
	// Count returns the number of stored documents, all versions included.
	Count(ctx context.Context) (int, error)
}

// EffectiveKnowledge keeps, for each fiche code, the latest version
// applicable at ref, followed by every other document applicable at ref.
// Fiche codes appear in first-seen order. Documents with an unparsable date
// are skipped.
func EffectiveKnowledge(all []expert.Document, ref time.Time) []expert.Document {
	ref = truncateDay(ref)

	applicable := func(d expert.Document) bool {
		v, err := parseDate(d.Version())
		if err != nil {
			log.Printf("Skipping document with invalid date %q: %v", d.Version(), err)
			return false
		}
		return !v.After(ref)
	}

	var codes []string
	seen := map[string]bool{}
	latest := map[string]expert.Fiche{}
	var others []expert.Document

	for _, d := range all {
		f, ok := d.(expert.Fiche)
		if !ok {
			if applicable(d) {
				others = append(others, d)
			}
			continue
		}
		if !seen[f.Code] {
			seen[f.Code] = true
			codes = append(codes, f.Code)
		}
		if !applicable(f) {
			continue
		}
		// YYYY-MM-DD compares lexically; ties keep the earlier entry.
		if cur, ok := latest[f.Code]; !ok || f.VersionDate > cur.VersionDate {
			latest[f.Code] = f
		}
	}

	results := make([]expert.Document, 0, len(codes)+len(others))
	for _, code := range codes {
		if f, ok := latest[code]; ok {
			results = append(results, f)
		}
	}
	return append(results, others...)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SamplePortal returns the documents published on the CEE portal that the
// assistant ships with.
func SamplePortal() []expert.Document {
	return []expert.Document{
		expert.PolicyDoc{
			ID:          "pol-5eme-periode",
			Title:       "Modalités de la 5ème période des CEE",
			VersionDate: "2022-01-01",
			URL:         "https://www.ecologie.gouv.fr/dispositif-des-certificats-deconomies-denergie",
			Content:     "La 5ème période (2022-2025) fixe un objectif de 2500 TWh cumac. Elle renforce les contrôles.",
		},
		expert.Fiche{
			ID:          "BAR-TH-164-v3",
			Code:        "BAR-TH-164",
			Title:       "Pompe à chaleur de type air/eau",
			Sector:      "Résidentiel",
			VersionDate: "2024-01-01",
			URL:         "https://www.ecologie.gouv.fr/sites/default/files/fiches/BAR-TH-164.pdf",
			Content:     "ETAS ≥ 111% pour basse température. COP mesuré selon NF EN 14511.",
		},
		expert.Fiche{
			ID:          "BAR-TH-164-v2",
			Code:        "BAR-TH-164",
			Title:       "Pompe à chaleur de type air/eau (Ancienne)",
			Sector:      "Résidentiel",
			VersionDate: "2021-04-01",
			URL:         "https://www.ecologie.gouv.fr/sites/default/files/fiches/BAR-TH-164-v2.pdf",
			Content:     "ETAS ≥ 102%. Applicable avant le 1er Janvier 2024.",
		},
		expert.Fiche{
			ID:          "BAR-EN-101",
			Code:        "BAR-EN-101",
			Title:       "Isolation de combles ou de toitures",
			Sector:      "Résidentiel",
			VersionDate: "2023-05-01",
			URL:         "https://www.ecologie.gouv.fr/sites/default/files/fiches/BAR-EN-101.pdf",
			Content:     "Résistance thermique R ≥ 7 m².K/W en combles perdus. ACERMI obligatoire.",
		},
	}
}

var _ Corpus = (*MemoryCorpus)(nil)

// MemoryCorpus keeps documents in process memory, in insertion order.
type MemoryCorpus struct {
	mu       sync.RWMutex
	docs     []expert.Document
	index    map[string]int
	embedder *Embedder
	limit    int
}

// NewMemoryCorpus creates an empty in-memory corpus. limit > 0 keeps only
// the limit effective documents closest to the query.
func NewMemoryCorpus(embedder *Embedder, limit int) *MemoryCorpus {
	return &MemoryCorpus{embedder: embedder, limit: limit, index: map[string]int{}}
}

// Load replaces documents with a known ID in place and appends the rest.
// Documents without an ID are always appended.
func (mc *MemoryCorpus) Load(_ context.Context, docs []expert.Document) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, d := range docs {
		id := documentID(d)
		if id == "" {
			mc.docs = append(mc.docs, d)
			continue
		}
		if i, ok := mc.index[id]; ok {
			mc.docs[i] = d
			continue
		}
		mc.index[id] = len(mc.docs)
		mc.docs = append(mc.docs, d)
	}
	return nil
}

func (mc *MemoryCorpus) Applicable(_ context.Context, ref time.Time) ([]expert.Document, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return EffectiveKnowledge(mc.docs, ref), nil
}

func (mc *MemoryCorpus) Effective(ctx context.Context, ref time.Time, query string) ([]expert.Document, error) {
	docs, err := mc.Applicable(ctx, ref)
	if err != nil {
		return nil, err
	}
	if mc.limit <= 0 || len(docs) <= mc.limit {
		return docs, nil
	}

	q, err := mc.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	scores := make(map[expert.Document]float64, len(docs))
	for _, d := range docs {
		e, err := mc.embedder.GetEmbedding(ctx, DocumentText(d))
		if err != nil {
			return nil, err
		}
		scores[d] = CosineSimilarity(q, e)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return scores[docs[i]] > scores[docs[j]]
	})
	return docs[:mc.limit], nil
}

func (mc *MemoryCorpus) Count(_ context.Context) (int, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.docs), nil
}

func documentID(d expert.Document) string {
	switch v := d.(type) {
	case expert.Fiche:
		return v.ID
	case expert.PolicyDoc:
		return v.ID
	}
	return ""
}
