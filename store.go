package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"cee-expert/internal/expert"
)

// VectorStore keeps the corpus in PostgreSQL with pgvector embeddings.
type VectorStore struct {
	db       *sql.DB
	config   *Config
	embedder *Embedder
}

var _ Corpus = (*VectorStore)(nil)

// NewVectorStore creates a new vector store instance
func NewVectorStore(config *Config, embedder *Embedder) (*VectorStore, error) {
	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &VectorStore{
		db:       db,
		config:   config,
		embedder: embedder,
	}

	// Initialize database schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the necessary tables and extensions
func (vs *VectorStore) initSchema() error {
	queries := []string{
		// Enable pgvector extension
		`CREATE EXTENSION IF NOT EXISTS vector;`,

		// seq records insertion order, which fixes the order of fiche codes.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS cee_documents (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			kind TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			sector TEXT NOT NULL DEFAULT '',
			version_date DATE NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`, vs.embedder.Dim()),

		`CREATE INDEX IF NOT EXISTS cee_documents_code_idx ON cee_documents (kind, code, version_date DESC);`,
	}

	for _, query := range queries {
		if _, err := vs.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// StoreDocument upserts a document with its embedding. Documents without an
// ID get a random one.
func (vs *VectorStore) StoreDocument(ctx context.Context, doc expert.Document, embedding []float32) error {
	var id, code, title, sector, url, content string
	switch d := doc.(type) {
	case expert.Fiche:
		id, code, title, sector, url, content = d.ID, d.Code, d.Title, d.Sector, d.URL, d.Content
	case expert.PolicyDoc:
		id, title, url, content = d.ID, d.Title, d.URL, d.Content
	default:
		return fmt.Errorf("unsupported document type %T", doc)
	}
	if id == "" {
		id = uuid.New().String()
	}

	// Convert float32 slice to pgvector.Vector
	vec := pgvector.NewVector(embedding)

	query := `
		INSERT INTO cee_documents (id, kind, code, title, sector, version_date, url, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			code = EXCLUDED.code,
			title = EXCLUDED.title,
			sector = EXCLUDED.sector,
			version_date = EXCLUDED.version_date,
			url = EXCLUDED.url,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding
	`

	_, err := vs.db.ExecContext(ctx, query, id, string(doc.Kind()), code, title, sector, doc.Version(), url, content, vec)
	if err != nil {
		return fmt.Errorf("failed to store document %s: %w", id, err)
	}

	return nil
}

// Load embeds and stores every document.
func (vs *VectorStore) Load(ctx context.Context, docs []expert.Document) error {
	for _, doc := range docs {
		embedding, err := vs.embedder.GetEmbedding(ctx, DocumentText(doc))
		if err != nil {
			return fmt.Errorf("failed to embed document: %w", err)
		}
		if err := vs.StoreDocument(ctx, doc, embedding); err != nil {
			return err
		}
	}
	return nil
}

// effectiveQuery selects the latest applicable version of each fiche and
// every applicable other document. ord is the first insertion of the fiche
// code, or the document's own insertion.
const effectiveQuery = `
	WITH fiches AS (
		SELECT DISTINCT ON (code) id, kind, code, title, sector, version_date, url, content, embedding, ord
		FROM (
			SELECT *, min(seq) OVER (PARTITION BY code) AS ord
			FROM cee_documents
			WHERE kind = 'FICHE'
		) f
		WHERE version_date <= $1
		ORDER BY code, version_date DESC, seq
	), others AS (
		SELECT id, kind, code, title, sector, version_date, url, content, embedding, seq AS ord
		FROM cee_documents
		WHERE kind <> 'FICHE' AND version_date <= $1
	), effective AS (
		SELECT * FROM fiches
		UNION ALL
		SELECT * FROM others
	)
	SELECT id, kind, code, title, sector, to_char(version_date, 'YYYY-MM-DD'), url, content
	FROM effective
`

// Effective returns the documents applicable at ref. With a context limit,
// only the limit documents nearest to the query embedding are returned.
func (vs *VectorStore) Effective(ctx context.Context, ref time.Time, query string) ([]expert.Document, error) {
	limit := vs.config.ContextLimit
	if limit <= 0 {
		return vs.Applicable(ctx, ref)
	}

	embedding, err := vs.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	rows, err := vs.db.QueryContext(ctx,
		effectiveQuery+` ORDER BY embedding <=> $2 LIMIT $3`,
		ref.Format(dateLayout), pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return scanDocuments(rows)
}

// Applicable returns every document applicable at ref, fiches first in
// insertion order of their code.
func (vs *VectorStore) Applicable(ctx context.Context, ref time.Time) ([]expert.Document, error) {
	rows, err := vs.db.QueryContext(ctx,
		effectiveQuery+` ORDER BY kind = 'FICHE' DESC, ord`,
		ref.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]expert.Document, error) {
	defer rows.Close()

	docs := []expert.Document{}
	for rows.Next() {
		var id, kind, code, title, sector, version, url, content string
		if err := rows.Scan(&id, &kind, &code, &title, &sector, &version, &url, &content); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if expert.Kind(kind) == expert.KindFiche {
			docs = append(docs, expert.Fiche{
				ID: id, Code: code, Title: title, Sector: sector,
				VersionDate: version, URL: url, Content: content,
			})
		} else {
			docs = append(docs, expert.PolicyDoc{
				ID: id, Title: title, VersionDate: version, URL: url, Content: content,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}

	return docs, nil
}

// Clear removes all documents from the store
func (vs *VectorStore) Clear(ctx context.Context) error {
	_, err := vs.db.ExecContext(ctx, "DELETE FROM cee_documents")
	return err
}

// Count returns the number of documents in the store
func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	var count int
	err := vs.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cee_documents").Scan(&count)
	return count, err
}

// Close closes the database connection
func (vs *VectorStore) Close() error {
	return vs.db.Close()
}
