package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// WithinTx runs fn inside a single transaction. The transaction commits when
// fn returns nil and rolls back on error or panic.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func (s *PostgresStore) ListSurveys(ctx context.Context) ([]Survey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, active, created_at, updated_at
		FROM surveys
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()

	items := make([]Survey, 0)
	for rows.Next() {
		var item Survey
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.Active, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate surveys: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSurvey(ctx context.Context, surveyID string) (Survey, error) {
	return getSurvey(ctx, s.db, surveyID, "")
}

func (s *PostgresStore) InsertSurvey(ctx context.Context, item Survey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO surveys (id, title, description, active)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Title, item.Description, item.Active)
	if err != nil {
		return fmt.Errorf("insert survey: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) UpdateSurvey(ctx context.Context, surveyID string, patch SurveyPatch) (Survey, error) {
	var item Survey
	err := s.db.QueryRowContext(ctx, `
		UPDATE surveys
		SET title=COALESCE($2, title),
			description=COALESCE($3, description),
			active=COALESCE($4, active),
			updated_at=NOW()
		WHERE id=$1
		RETURNING id, title, description, active, created_at, updated_at
	`, surveyID, nullString(patch.Title), nullString(patch.Description), nullBool(patch.Active)).Scan(
		&item.ID, &item.Title, &item.Description, &item.Active, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Survey{}, fmt.Errorf("update survey: %w", mapError(err))
	}
	return item, nil
}

// DeleteSurvey removes a survey; questions, options, responses and answers
// follow through ON DELETE CASCADE.
func (s *PostgresStore) DeleteSurvey(ctx context.Context, surveyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM surveys WHERE id=$1`, surveyID)
	if err != nil {
		return fmt.Errorf("delete survey: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LoadStructure(ctx context.Context, surveyID string) (Structure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.survey_id, q.code, q.question_type, q.text, q.position, n.code
		FROM questions q
		LEFT JOIN questions n ON n.id = q.default_next_id
		WHERE q.survey_id=$1
		ORDER BY q.position ASC
	`, surveyID)
	if err != nil {
		return Structure{}, fmt.Errorf("load questions: %w", err)
	}
	questions, err := scanQuestions(rows)
	if err != nil {
		return Structure{}, err
	}

	optionRows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.question_id, q.code, o.value, o.label, o.sort_order, o.is_other, o.jump_question_id, j.code
		FROM options o
		JOIN questions q ON q.id = o.question_id
		LEFT JOIN questions j ON j.id = o.jump_question_id
		WHERE q.survey_id=$1
		ORDER BY q.position ASC, o.sort_order ASC, o.value ASC
	`, surveyID)
	if err != nil {
		return Structure{}, fmt.Errorf("load options: %w", err)
	}
	options, err := scanOptions(optionRows)
	if err != nil {
		return Structure{}, err
	}

	return Structure{Questions: questions, Options: options}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// getSurvey reads one survey; lock is an optional row-locking clause.
func getSurvey(ctx context.Context, q querier, surveyID, lock string) (Survey, error) {
	var item Survey
	err := q.QueryRowContext(ctx, `
		SELECT id, title, description, active, created_at, updated_at
		FROM surveys
		WHERE id=$1
	`+lock, surveyID).Scan(&item.ID, &item.Title, &item.Description, &item.Active, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Survey{}, mapError(err)
	}
	return item, nil
}

func scanQuestions(rows *sql.Rows) ([]Question, error) {
	defer rows.Close()
	items := make([]Question, 0)
	for rows.Next() {
		var item Question
		var next sql.NullString
		if err := rows.Scan(&item.ID, &item.SurveyID, &item.Code, &item.Type, &item.Text, &item.Position, &next); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		item.DefaultNextCode = stringPtr(next)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func scanOptions(rows *sql.Rows) ([]Option, error) {
	defer rows.Close()
	items := make([]Option, 0)
	for rows.Next() {
		var item Option
		var jumpID, jumpCode sql.NullString
		if err := rows.Scan(&item.ID, &item.QuestionID, &item.QuestionCode, &item.Value, &item.Label, &item.Order, &item.IsOther, &jumpID, &jumpCode); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		item.JumpQuestionID = stringPtr(jumpID)
		item.JumpToCode = stringPtr(jumpCode)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return items, nil
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullBool(value *bool) sql.NullBool {
	if value == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *value, Valid: true}
}

// placeholders renders "($1,$2,...),($n+1,...)" for a multi-row insert.
func placeholders(rows, columns int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := 0; c < columns; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteString(")")
	}
	return b.String()
}
