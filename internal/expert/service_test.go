package expert

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cee-expert/internal/llm"
)

// recordingStreamer captures requests and replays canned chunks.
type recordingStreamer struct {
	requests []*llm.Request
	chunks   []*llm.Chunk
	err      error
}

func (r *recordingStreamer) Stream(_ context.Context, req *llm.Request) iter.Seq2[*llm.Chunk, error] {
	r.requests = append(r.requests, req)
	return func(yield func(*llm.Chunk, error) bool) {
		for _, c := range r.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if r.err != nil {
			yield(nil, r.err)
		}
	}
}

func textChunk(s string) *llm.Chunk {
	return &llm.Chunk{Candidates: []llm.Candidate{{Content: &llm.Content{Parts: []llm.Part{{Text: s}}}}}}
}

var mixedDocs = []Document{
	Fiche{Code: "BAR-TH-164", Title: "Pompe à chaleur de type air/eau", VersionDate: "2024-01-01", Content: "ETAS ≥ 111%"},
	PolicyDoc{Title: "5ème période", Content: "2500 TWh cumac", URL: "https://a.example"},
	Fiche{Code: "BAR-EN-101", Title: "Isolation de combles", VersionDate: "2023-05-01", Content: "R ≥ 7"},
	PolicyDoc{Title: "Contrôles", Content: "Renforcés", URL: "https://b.example"},
}

func TestNew_MissingAPIKey(t *testing.T) {
	for _, key := range []string{"", "   "} {
		svc, err := New(key)
		require.Error(t, err)
		assert.Nil(t, svc)
		assert.ErrorIs(t, err, ErrMissingAPIKey)

		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr))
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	_, err := NewFromEnv()
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv(APIKeyEnv, "k")
	svc, err := NewFromEnv(WithModel("other-model"))
	require.NoError(t, err)
	assert.Equal(t, "other-model", svc.Model())
}

func TestNew_MissingKeyMakesNoRequest(t *testing.T) {
	rec := &recordingStreamer{}
	_, err := New("", WithStreamer(rec))
	require.Error(t, err)
	assert.Empty(t, rec.requests)
}

func TestNew_DefaultModel(t *testing.T) {
	svc, err := New("k", WithModel(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, svc.Model())
}

func TestDocumentLines(t *testing.T) {
	assert.Equal(t, "[DOC] T: C (Source: https://u)",
		PolicyDoc{Title: "T", Content: "C", URL: "https://u"}.Line())
	assert.Equal(t, "[FICHE] BAR-TH-164: PAC. Date: 2024-01-01. Contenu: ETAS",
		Fiche{Code: "BAR-TH-164", Title: "PAC", VersionDate: "2024-01-01", Content: "ETAS"}.Line())
}

func TestSystemInstruction_PartitionsDocuments(t *testing.T) {
	prompt := SystemInstruction(mixedDocs, "2024-06-01")

	assert.Contains(t, prompt, "Date de référence réglementaire : 2024-06-01.")
	assert.Contains(t, prompt, "Google Search")
	assert.Contains(t, prompt, "Cite TOUJOURS les codes des fiches")

	order := []string{
		"[DOC] 5ème période",
		"[DOC] Contrôles",
		"[FICHE] BAR-TH-164",
		"[FICHE] BAR-EN-101",
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(prompt, marker)
		require.NotEqual(t, -1, idx, "missing %q", marker)
		assert.Greater(t, idx, last, "%q out of order", marker)
		last = idx
	}

	assert.True(t, strings.HasSuffix(prompt,
		"[DOC] Contrôles: Renforcés (Source: https://b.example)\n"+
			"[FICHE] BAR-TH-164: Pompe à chaleur de type air/eau. Date: 2024-01-01. Contenu: ETAS ≥ 111%\n"+
			"[FICHE] BAR-EN-101: Isolation de combles. Date: 2023-05-01. Contenu: R ≥ 7"))
}

func TestSystemInstruction_NoDocuments(t *testing.T) {
	prompt := SystemInstruction(nil, "2024-06-01")
	assert.True(t, strings.HasSuffix(prompt, "CONTEXTE LOCAL :\n\n"))
}

func TestStreamAnswer_SendsOneRequest(t *testing.T) {
	rec := &recordingStreamer{chunks: []*llm.Chunk{textChunk("Bon"), textChunk("jour")}}
	svc, err := New("k", WithStreamer(rec))
	require.NoError(t, err)

	var text strings.Builder
	for chunk, err := range svc.StreamAnswer(context.Background(), "Quelles exigences ?", mixedDocs, "2024-06-01") {
		require.NoError(t, err)
		text.WriteString(chunk.Text())
	}
	assert.Equal(t, "Bonjour", text.String())

	require.Len(t, rec.requests, 1)
	req := rec.requests[0]
	assert.Equal(t, DefaultModel, req.Model)
	require.Len(t, req.Contents, 1)
	assert.Equal(t, []llm.Part{{Text: "Quelles exigences ?"}}, req.Contents[0].Parts)
	assert.InDelta(t, Temperature, req.GenerationConfig.Temperature, 1e-9)
	require.Len(t, req.Tools, 1)
	assert.NotNil(t, req.Tools[0].GoogleSearch)
	require.NotNil(t, req.SystemInstruction)
	assert.Equal(t, SystemInstruction(mixedDocs, "2024-06-01"), req.SystemInstruction.Parts[0].Text)
}

func TestStreamAnswer_PassesChunksThrough(t *testing.T) {
	grounded := &llm.Chunk{Candidates: []llm.Candidate{{
		GroundingMetadata: &llm.GroundingMetadata{GroundingChunks: []llm.GroundingChunk{{Web: &llm.WebChunk{URI: "u"}}}},
	}}}
	rec := &recordingStreamer{chunks: []*llm.Chunk{textChunk("a"), grounded}}
	svc, err := New("k", WithStreamer(rec))
	require.NoError(t, err)

	var got []*llm.Chunk
	for chunk, err := range svc.StreamAnswer(context.Background(), "q", nil, "d") {
		require.NoError(t, err)
		got = append(got, chunk)
	}
	require.Len(t, got, 2)
	assert.Same(t, grounded, got[1])
}

func TestStreamAnswer_PropagatesProviderError(t *testing.T) {
	boom := fmt.Errorf("provider down")
	rec := &recordingStreamer{chunks: []*llm.Chunk{textChunk("partial")}, err: boom}
	svc, err := New("k", WithStreamer(rec))
	require.NoError(t, err)

	var got error
	for _, err := range svc.StreamAnswer(context.Background(), "q", nil, "d") {
		if err != nil {
			got = err
		}
	}
	assert.Same(t, boom, got)
}

func TestStreamAnswer_OverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/"+DefaultModel+":streamGenerateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Goog-Api-Key"))
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]}}]}\n\n")
	}))
	defer server.Close()

	svc, err := New("secret", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	require.NoError(t, err)

	var text string
	for chunk, err := range svc.StreamAnswer(context.Background(), "q", mixedDocs, "2024-06-01") {
		require.NoError(t, err)
		text += chunk.Text()
	}
	assert.Equal(t, "ok", text)
}

func TestExtractSources_NoCandidates(t *testing.T) {
	assert.Empty(t, ExtractSources(nil))
	assert.Empty(t, ExtractSources(&llm.Chunk{}))
	assert.Empty(t, ExtractSources(&llm.Chunk{Candidates: []llm.Candidate{{}}}))
	assert.Empty(t, ExtractSources(&llm.Chunk{Candidates: []llm.Candidate{{
		GroundingMetadata: &llm.GroundingMetadata{},
	}}}))
	assert.NotNil(t, ExtractSources(nil))
}

func TestExtractSources_FallbackTitle(t *testing.T) {
	final := &llm.Chunk{Candidates: []llm.Candidate{{
		GroundingMetadata: &llm.GroundingMetadata{GroundingChunks: []llm.GroundingChunk{
			{Web: &llm.WebChunk{URI: "https://vertexaisearch.example/1"}},
		}},
	}}}
	assert.Equal(t, []Source{{Title: FallbackSourceTitle, URL: "https://vertexaisearch.example/1"}}, ExtractSources(final))
}

func TestExtractSources_KeepsOrderAndSkipsNonWeb(t *testing.T) {
	final := &llm.Chunk{Candidates: []llm.Candidate{
		{GroundingMetadata: &llm.GroundingMetadata{GroundingChunks: []llm.GroundingChunk{
			{Web: &llm.WebChunk{URI: "u1", Title: "ecologie.gouv.fr"}},
			{},
			{Web: &llm.WebChunk{URI: "u2", Title: "legifrance.gouv.fr"}},
		}}},
		{GroundingMetadata: &llm.GroundingMetadata{GroundingChunks: []llm.GroundingChunk{
			{Web: &llm.WebChunk{URI: "ignored"}},
		}}},
	}}
	assert.Equal(t, []Source{
		{Title: "ecologie.gouv.fr", URL: "u1"},
		{Title: "legifrance.gouv.fr", URL: "u2"},
	}, ExtractSources(final))
}

func TestExtractSources_MalformedMetadataKeepsCollected(t *testing.T) {
	final := &llm.Chunk{Candidates: []llm.Candidate{{
		GroundingMetadata: &llm.GroundingMetadata{
			GroundingChunks: []llm.GroundingChunk{{Web: &llm.WebChunk{URI: "u1", Title: "ecologie.gouv.fr"}}},
			DecodeErr:       errors.New("grounding chunk 1: unexpected shape"),
		},
	}}}
	assert.Equal(t, []Source{{Title: "ecologie.gouv.fr", URL: "u1"}}, ExtractSources(final))
}

func TestStreamAnswer_MalformedGroundingOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Réponse\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\" finale\"}]},"+
			"\"groundingMetadata\":{\"groundingChunks\":[{\"web\":{\"uri\":\"https://a.example\",\"title\":\"A\"}},{\"web\":\"x\"}]}}]}\n\n")
	}))
	defer server.Close()

	svc, err := New("secret", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	require.NoError(t, err)

	var text string
	var last *llm.Chunk
	for chunk, err := range svc.StreamAnswer(context.Background(), "q", mixedDocs, "2024-06-01") {
		require.NoError(t, err)
		text += chunk.Text()
		last = chunk
	}
	assert.Equal(t, "Réponse finale", text)
	assert.Equal(t, []Source{{Title: "A", URL: "https://a.example"}}, ExtractSources(last))
}
