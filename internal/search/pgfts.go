package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"studyhub/api/internal/engagement"
)

// PgFTS searches the generated tsvector columns of the content tables.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

type ftsSource struct {
	kind    engagement.Kind
	table   string
	title   string
	snippet string
}

var ftsSources = []ftsSource{
	{kind: engagement.KindNews, table: "news_posts", title: "x.title", snippet: "x.description"},
	{kind: engagement.KindTopic, table: "topics", title: "x.title", snippet: "x.memo"},
	{kind: engagement.KindEvidence, table: "evidences", title: "''", snippet: "coalesce(x.description, '')"},
}

// buildQuery returns the UNION ALL body shared by the count and data
// queries, and its arguments.
func buildQuery(q Query) (string, []any) {
	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}

	sessionFilter := ""
	if q.SessionID > 0 {
		args = append(args, q.SessionID)
		sessionFilter = fmt.Sprintf(" AND x.session_id = $%d", len(args))
	}

	var subQueries []string
	for _, src := range ftsSources {
		if q.Kind != "" && q.Kind != src.kind {
			continue
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT '%s'::text AS kind, x.id, x.session_id, %s AS title,
				ts_headline('simple', %s, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(x.fts, %s) AS rank, x.created_at
			FROM %s x
			WHERE x.fts @@ %s%s`,
			src.kind, src.title, src.snippet, tsQuery, tsQuery, src.table, tsQuery, sessionFilter))
	}
	return strings.Join(subQueries, " UNION ALL "), args
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	union, args := buildQuery(q)
	if union == "" {
		return nil, 0, nil
	}

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT kind, id, session_id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC, created_at DESC
		LIMIT %d OFFSET %d`, union, normalizeLimit(q.Limit), offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var kind string
		if err := rows.Scan(&kind, &r.ID, &r.SessionID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Kind = engagement.Kind(kind)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every content row for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT 'news', id, session_id, title, description || ' ' || url, created_at FROM news_posts
		UNION ALL
		SELECT 'topic', id, session_id, title, memo, created_at FROM topics
		UNION ALL
		SELECT 'evidence', id, session_id, '', coalesce(description, ''), created_at FROM evidences
	`)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var kind string
		var id, sessionID int64
		var title, body string
		var createdAt sql.NullTime
		if err := rows.Scan(&kind, &id, &sessionID, &title, &body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		ref, err := engagement.ParseRef(kind, id)
		if err != nil {
			return nil, err
		}
		records = append(records, NewRecord(ref, sessionID, title, body, createdAt.Time))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
