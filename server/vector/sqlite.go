package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"
	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	engerrors "github.com/valtricai/consulting-engine/internal/errors"
)

// SQLiteSource is a brute-force cosine search over a sqlite corpus, used
// for local development and tests. Embeddings are stored as little-endian
// float32 blobs.
type SQLiteSource struct {
	db  *sql.DB
	tag SourceTag
}

// NewSQLiteSource creates a source over db bound to one corpus.
func NewSQLiteSource(db *sql.DB, tag SourceTag) *SQLiteSource {
	return &SQLiteSource{db: db, tag: tag}
}

// OpenSQLite opens a sqlite-backed source from a DSN, creating the chunk
// table when absent.
func OpenSQLite(dsn string, tag SourceTag) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite source")
	}
	s := &SQLiteSource{db: db, tag: tag}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSource) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT PRIMARY KEY,
			scope_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			embedding BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_scope ON chunks (scope_id);
	`)
	return errors.Wrap(err, "failed to migrate chunk table")
}

// Name implements Source.
func (s *SQLiteSource) Name() string {
	return string(s.tag)
}

// Upsert stores a chunk with its embedding. Ingestion is a dev/test
// convenience; production corpora are maintained externally.
func (s *SQLiteSource) Upsert(ctx context.Context, chunkID, scope, content, documentID string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (chunk_id, scope_id, content, document_id, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chunk_id) DO UPDATE SET
			scope_id = excluded.scope_id,
			content = excluded.content,
			document_id = excluded.document_id,
			embedding = excluded.embedding
	`, chunkID, scope, content, documentID, encodeVector(embedding))
	return errors.Wrap(err, "failed to upsert chunk")
}

// Search implements Source.
func (s *SQLiteSource) Search(ctx context.Context, vec []float32, scope string, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.tag == SourceTenant && scope == "" {
		return nil, engerrors.Validation("scope id is required for tenant search")
	}

	var rows *sql.Rows
	var err error
	if s.tag == SourceGlobal {
		rows, err = s.db.QueryContext(ctx,
			`SELECT chunk_id, content, document_id, embedding FROM chunks`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT chunk_id, content, document_id, embedding FROM chunks WHERE scope_id = ?`, scope)
	}
	if err != nil {
		return nil, engerrors.SourceUnavailable(s.Name(), errors.Wrap(err, "chunk query failed"))
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var chunkID, content, documentID string
		var blob []byte
		if err := rows.Scan(&chunkID, &content, &documentID, &blob); err != nil {
			return nil, engerrors.SourceUnavailable(s.Name(), errors.Wrap(err, "failed to scan chunk"))
		}
		embedding := decodeVector(blob)
		candidates = append(candidates, Candidate{
			ID:     QualifyID(s.tag, chunkID),
			Text:   content,
			Score:  clampScore(cosineSimilarity(vec, embedding)),
			Source: s.tag,
			Metadata: map[string]string{
				"document_id": documentID,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, engerrors.SourceUnavailable(s.Name(), errors.Wrap(err, "chunk iteration failed"))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Close releases the underlying connection.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
