package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
)

type pgTx struct {
	q querier
}

func (t *pgTx) GetSurvey(ctx context.Context, surveyID string) (Survey, error) {
	return getSurvey(ctx, t.q, surveyID, "FOR SHARE")
}

func (t *pgTx) LockSurvey(ctx context.Context, surveyID string) (Survey, error) {
	return getSurvey(ctx, t.q, surveyID, "FOR UPDATE")
}

func (t *pgTx) DeleteSurveyAnswers(ctx context.Context, surveyID string) (int64, error) {
	return t.execCount(ctx, "delete answers", `
		DELETE FROM answers
		WHERE response_id IN (SELECT id FROM responses WHERE survey_id=$1)
	`, surveyID)
}

func (t *pgTx) DeleteSurveyResponses(ctx context.Context, surveyID string) (int64, error) {
	return t.execCount(ctx, "delete responses", `DELETE FROM responses WHERE survey_id=$1`, surveyID)
}

func (t *pgTx) DeleteSurveyOptions(ctx context.Context, surveyID string) (int64, error) {
	return t.execCount(ctx, "delete options", `
		DELETE FROM options
		WHERE question_id IN (SELECT id FROM questions WHERE survey_id=$1)
	`, surveyID)
}

func (t *pgTx) DeleteSurveyQuestions(ctx context.Context, surveyID string) ([]string, error) {
	rows, err := t.q.QueryContext(ctx, `DELETE FROM questions WHERE survey_id=$1 RETURNING id`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("delete questions: %w", mapError(err))
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("delete questions: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete questions: %w", mapError(err))
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *pgTx) InsertQuestion(ctx context.Context, question Question) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO questions (id, survey_id, code, question_type, text, position)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, question.ID, question.SurveyID, question.Code, question.Type, question.Text, question.Position)
	if err != nil {
		return fmt.Errorf("insert question %s: %w", question.Code, mapError(err))
	}
	return nil
}

func (t *pgTx) SetQuestionNext(ctx context.Context, questionID string, nextQuestionID *string) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE questions SET default_next_id=$2 WHERE id=$1
	`, questionID, nullString(nextQuestionID))
	if err != nil {
		return fmt.Errorf("set question next: %w", mapError(err))
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertOptions writes all options with a single multi-row statement.
func (t *pgTx) InsertOptions(ctx context.Context, options []Option) error {
	if len(options) == 0 {
		return nil
	}
	const columns = 7
	args := make([]any, 0, len(options)*columns)
	for _, o := range options {
		args = append(args, o.ID, o.QuestionID, o.Value, o.Label, o.Order, o.IsOther, nullString(o.JumpQuestionID))
	}
	query := `INSERT INTO options (id, question_id, value, label, sort_order, is_other, jump_question_id) VALUES ` +
		placeholders(len(options), columns)
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert options: %w", mapError(err))
	}
	return nil
}

func (t *pgTx) GetQuestion(ctx context.Context, questionID string) (Question, error) {
	return t.getQuestion(ctx, `WHERE q.id=$1`, questionID)
}

func (t *pgTx) GetQuestionByCode(ctx context.Context, surveyID, code string) (Question, error) {
	return t.getQuestion(ctx, `WHERE q.survey_id=$1 AND q.code=$2`, surveyID, code)
}

func (t *pgTx) getQuestion(ctx context.Context, where string, args ...any) (Question, error) {
	var item Question
	var next sql.NullString
	err := t.q.QueryRowContext(ctx, `
		SELECT q.id, q.survey_id, q.code, q.question_type, q.text, q.position, n.code
		FROM questions q
		LEFT JOIN questions n ON n.id = q.default_next_id
		`+where, args...).Scan(&item.ID, &item.SurveyID, &item.Code, &item.Type, &item.Text, &item.Position, &next)
	if err != nil {
		return Question{}, mapError(err)
	}
	item.DefaultNextCode = stringPtr(next)
	return item, nil
}

func (t *pgTx) ListQuestionOptions(ctx context.Context, questionID string) ([]Option, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT o.id, o.question_id, q.code, o.value, o.label, o.sort_order, o.is_other, o.jump_question_id, j.code
		FROM options o
		JOIN questions q ON q.id = o.question_id
		LEFT JOIN questions j ON j.id = o.jump_question_id
		WHERE o.question_id=$1
		ORDER BY o.sort_order ASC, o.value ASC
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list question options: %w", err)
	}
	return scanOptions(rows)
}

func (t *pgTx) FindResponseByToken(ctx context.Context, resumeToken string) (Response, error) {
	var item Response
	var sessionID, respondentID sql.NullString
	var completedAt sql.NullTime
	err := t.q.QueryRowContext(ctx, `
		SELECT id, survey_id, resume_token, session_id, respondent_id, status, created_at, updated_at, completed_at
		FROM responses
		WHERE resume_token=$1
	`, resumeToken).Scan(
		&item.ID, &item.SurveyID, &item.ResumeToken, &sessionID, &respondentID,
		&item.Status, &item.CreatedAt, &item.UpdatedAt, &completedAt,
	)
	if err != nil {
		return Response{}, mapError(err)
	}
	item.SessionID = stringPtr(sessionID)
	item.RespondentID = stringPtr(respondentID)
	item.CompletedAt = timePtr(completedAt)
	return item, nil
}

// InsertResponse waits for a concurrent insert of the same token and
// reports ErrTokenTaken instead of aborting the transaction.
func (t *pgTx) InsertResponse(ctx context.Context, response Response) error {
	result, err := t.q.ExecContext(ctx, `
		INSERT INTO responses (id, survey_id, resume_token, session_id, respondent_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (resume_token) DO NOTHING
	`, response.ID, response.SurveyID, response.ResumeToken,
		nullString(response.SessionID), nullString(response.RespondentID), response.Status)
	if err != nil {
		return fmt.Errorf("insert response: %w", mapError(err))
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrTokenTaken
	}
	return nil
}

// TouchResponse refreshes updated_at and fills in identifiers without
// overwriting existing ones with nulls.
func (t *pgTx) TouchResponse(ctx context.Context, responseID string, sessionID, respondentID *string) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE responses
		SET session_id=COALESCE($2, session_id),
			respondent_id=COALESCE($3, respondent_id),
			updated_at=NOW()
		WHERE id=$1
	`, responseID, nullString(sessionID), nullString(respondentID))
	if err != nil {
		return fmt.Errorf("touch response: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SetResponseStatus(ctx context.Context, responseID, status string) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE responses
		SET status=$2,
			completed_at=CASE WHEN $2='COMPLETED' THEN COALESCE(completed_at, NOW()) ELSE NULL END,
			updated_at=NOW()
		WHERE id=$1
	`, responseID, status)
	if err != nil {
		return fmt.Errorf("set response status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertAnswer keeps one answer per (response, question). A re-answer
// replaces the stored values and moves the answer to the end of the history.
func (t *pgTx) UpsertAnswer(ctx context.Context, answer Answer) error {
	var values any
	if answer.OptionValues != nil {
		encoded, err := json.Marshal(answer.OptionValues)
		if err != nil {
			return fmt.Errorf("encode option values: %w", err)
		}
		values = string(encoded)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO answers (id, response_id, question_id, option_value, option_values, other_text)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		ON CONFLICT (response_id, question_id) DO UPDATE SET
			option_value=EXCLUDED.option_value,
			option_values=EXCLUDED.option_values,
			other_text=EXCLUDED.other_text,
			answered_at=NOW(),
			seq=nextval('answer_seq')
	`, answer.ID, answer.ResponseID, answer.QuestionID,
		nullString(answer.OptionValue), values, nullString(answer.OtherText))
	if err != nil {
		return fmt.Errorf("upsert answer: %w", mapError(err))
	}
	return nil
}

func (t *pgTx) ListAnswers(ctx context.Context, responseID string) ([]Answer, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT a.id, a.response_id, a.question_id, q.code, a.option_value, a.option_values, a.other_text, a.answered_at, a.seq
		FROM answers a
		JOIN questions q ON q.id = a.question_id
		WHERE a.response_id=$1
		ORDER BY a.seq ASC
	`, responseID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	items := make([]Answer, 0)
	for rows.Next() {
		var item Answer
		var optionValue, otherText sql.NullString
		var values []byte
		if err := rows.Scan(&item.ID, &item.ResponseID, &item.QuestionID, &item.QuestionCode,
			&optionValue, &values, &otherText, &item.AnsweredAt, &item.Seq); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		item.OptionValue = stringPtr(optionValue)
		item.OtherText = stringPtr(otherText)
		if len(values) > 0 {
			if err := json.Unmarshal(values, &item.OptionValues); err != nil {
				return nil, fmt.Errorf("decode option values: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return items, nil
}

func (t *pgTx) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return affected, nil
}
