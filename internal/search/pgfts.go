package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const questionVector = "to_tsvector('simple', q.code || ' ' || q.text)"

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

// Search matches question code and text with plainto_tsquery and ranks with
// ts_rank, using ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := normalizeLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	where := questionVector + " @@ " + tsQuery
	if q.SurveyID != "" {
		where += " AND q.survey_id = $2"
		args = append(args, q.SurveyID)
	}

	countSQL := "SELECT count(*) FROM questions q WHERE " + where
	dataSQL := fmt.Sprintf(`
		SELECT q.id, q.survey_id, q.code, q.question_type, q.text,
			ts_headline('simple', q.text, %s, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM questions q
		WHERE %s
		ORDER BY ts_rank(%s, %s) DESC, q.survey_id, q.position
		LIMIT %d OFFSET %d`,
		tsQuery, where, questionVector, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.SurveyID, &r.Code, &r.Type, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every question with its option labels for full
// reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]QuestionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT q.id, q.survey_id, q.code, q.question_type, q.text,
			COALESCE(array_to_string(array_agg(o.label ORDER BY o.sort_order) FILTER (WHERE o.id IS NOT NULL), E'\n'), '')
		FROM questions q
		LEFT JOIN options o ON o.question_id = q.id
		GROUP BY q.id
		ORDER BY q.survey_id, q.position
	`)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	records := make([]QuestionRecord, 0)
	for rows.Next() {
		var r QuestionRecord
		var labels string
		if err := rows.Scan(&r.ID, &r.SurveyID, &r.Code, &r.Type, &r.Text, &labels); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		r.Options = splitLabels(labels)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return records, nil
}

func splitLabels(joined string) []string {
	labels := make([]string, 0)
	for _, label := range strings.Split(joined, "\n") {
		if label = strings.TrimSpace(label); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}
