package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries uploaded_files via plainto_tsquery and ts_rank, using
// ts_headline over the extracted metadata for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "f.fts @@ " + tsQuery
	if q.FilterState != "" {
		where += fmt.Sprintf(" AND f.state = $%d", argN)
		args = append(args, q.FilterState)
		argN++
	}
	if q.FilterDepartment != "" {
		where += fmt.Sprintf(" AND f.department = $%d", argN)
		args = append(args, q.FilterDepartment)
		argN++
	}
	if q.FilterYear != "" {
		where += fmt.Sprintf(" AND f.year = $%d", argN)
		args = append(args, q.FilterYear)
		argN++
	}
	if q.ValidatedOnly {
		where += " AND f.validated = TRUE"
	}

	ctx := context.Background()

	countSQL := fmt.Sprintf("SELECT count(*) FROM uploaded_files f WHERE %s", where)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT f.id, f.file_name,
			ts_headline('english', coalesce(f.extracted_json->>'metadata', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			f.state, f.department, f.year, f.validated
		FROM uploaded_files f
		WHERE %s
		ORDER BY ts_rank(f.fts, %s) DESC
		LIMIT %d OFFSET %d`,
		tsQuery, where, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.FileName, &r.Snippet, &r.State, &r.Department, &r.Year, &r.Validated); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable file records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]FileRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, file_name, state, department, year, status, validated,
			coalesce(extracted_json->>'metadata', '')
		FROM uploaded_files
	`)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	defer rows.Close()

	files := make([]FileRecord, 0)
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.ID, &f.FileName, &f.State, &f.Department, &f.Year, &f.Status, &f.Validated, &f.MetadataText); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}

	return files, nil
}
