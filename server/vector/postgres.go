package vector

import (
	"context"
	"database/sql"

	// Registers the "postgres" driver.
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	engerrors "github.com/valtricai/consulting-engine/internal/errors"
)

// PostgresSource searches one pgvector-backed corpus. The global corpus
// lives in a shared `framework_chunks` table; the tenant corpus lives in
// `client_chunks` and every query is scoped by project id so one tenant's
// rows are never visible to another's query.
type PostgresSource struct {
	db  *sql.DB
	tag SourceTag
}

// NewPostgresSource creates a source over db bound to one corpus.
func NewPostgresSource(db *sql.DB, tag SourceTag) *PostgresSource {
	return &PostgresSource{db: db, tag: tag}
}

// OpenPostgres opens a pgvector-backed source from a DSN.
func OpenPostgres(dsn string, tag SourceTag) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres source")
	}
	return NewPostgresSource(db, tag), nil
}

// Name implements Source.
func (s *PostgresSource) Name() string {
	return string(s.tag)
}

// Search implements Source.
func (s *PostgresSource) Search(ctx context.Context, vec []float32, scope string, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.tag == SourceTenant && scope == "" {
		return nil, engerrors.Validation("scope id is required for tenant search")
	}

	qv := pgvector.NewVector(vec)

	var rows *sql.Rows
	var err error
	if s.tag == SourceGlobal {
		rows, err = s.db.QueryContext(ctx, `
			SELECT chunk_id, content, 1 - (embedding <=> $1) AS similarity, document_id
			FROM framework_chunks
			ORDER BY embedding <=> $1
			LIMIT $2
		`, qv, k)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT chunk_id, content, 1 - (embedding <=> $1) AS similarity, document_id
			FROM client_chunks
			WHERE project_id = $2
			ORDER BY embedding <=> $1
			LIMIT $3
		`, qv, scope, k)
	}
	if err != nil {
		return nil, engerrors.SourceUnavailable(s.Name(), errors.Wrap(err, "similarity query failed"))
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var chunkID, content, documentID string
		var similarity float64
		if err := rows.Scan(&chunkID, &content, &similarity, &documentID); err != nil {
			return nil, engerrors.SourceUnavailable(s.Name(), errors.Wrap(err, "failed to scan candidate"))
		}
		candidates = append(candidates, Candidate{
			ID:     QualifyID(s.tag, chunkID),
			Text:   content,
			Score:  clampScore(similarity),
			Source: s.tag,
			Metadata: map[string]string{
				"document_id": documentID,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, engerrors.SourceUnavailable(s.Name(), errors.Wrap(err, "candidate iteration failed"))
	}

	return candidates, nil
}

// Close releases the underlying connection pool.
func (s *PostgresSource) Close() error {
	return s.db.Close()
}
