package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SURVEYGRAPH_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SURVEYGRAPH_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"), nil); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db, ctx
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db, ctx := openTestDB(t)
	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	if err := RollbackMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir, nil); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestPostgresStoreStructureAndAnswers(t *testing.T) {
	db, ctx := openTestDB(t)
	s := NewPostgresStore(db)

	if err := s.InsertSurvey(ctx, Survey{ID: "s1", Title: "Drivers", Active: true}); err != nil {
		t.Fatalf("insert survey: %v", err)
	}

	err := s.WithinTx(ctx, func(tx Tx) error {
		for i, code := range []string{"Q1", "Q2", "Q3"} {
			if err := tx.InsertQuestion(ctx, Question{ID: "q" + code, SurveyID: "s1", Code: code, Type: "SINGLE", Position: i}); err != nil {
				return err
			}
		}
		next := "qQ3"
		if err := tx.SetQuestionNext(ctx, "qQ2", &next); err != nil {
			return err
		}
		return tx.InsertOptions(ctx, []Option{
			{ID: "o1", QuestionID: "qQ1", Value: "yes", Label: "Yes", JumpQuestionID: &next},
			{ID: "o2", QuestionID: "qQ1", Value: "no", Label: "No", Order: 1},
		})
	})
	if err != nil {
		t.Fatalf("write structure: %v", err)
	}

	structure, err := s.LoadStructure(ctx, "s1")
	if err != nil {
		t.Fatalf("load structure: %v", err)
	}
	if len(structure.Questions) != 3 || len(structure.Options) != 2 {
		t.Fatalf("unexpected structure %+v", structure)
	}
	if jump := structure.Options[0].JumpToCode; jump == nil || *jump != "Q3" {
		t.Fatalf("expected yes -> Q3, got %v", jump)
	}

	err = s.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertQuestion(ctx, Question{ID: "dup", SurveyID: "s1", Code: "Q1", Type: "SINGLE"})
	})
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	value := func(v string) *string { return &v }
	err = s.WithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertResponse(ctx, Response{ID: "r1", SurveyID: "s1", ResumeToken: "tok", Status: StatusInProgress}); err != nil {
			return err
		}
		if err := tx.UpsertAnswer(ctx, Answer{ID: "a1", ResponseID: "r1", QuestionID: "qQ1", OptionValue: value("yes")}); err != nil {
			return err
		}
		if err := tx.UpsertAnswer(ctx, Answer{ID: "a2", ResponseID: "r1", QuestionID: "qQ3", OptionValues: []string{"a", "b"}}); err != nil {
			return err
		}
		return tx.UpsertAnswer(ctx, Answer{ID: "a3", ResponseID: "r1", QuestionID: "qQ1", OptionValue: value("no")})
	})
	if err != nil {
		t.Fatalf("write answers: %v", err)
	}

	var answers []Answer
	err = s.WithinTx(ctx, func(tx Tx) error {
		var err error
		answers, err = tx.ListAnswers(ctx, "r1")
		return err
	})
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	if len(answers) != 2 || answers[0].QuestionCode != "Q3" || answers[1].QuestionCode != "Q1" {
		t.Fatalf("unexpected history %+v", answers)
	}
	if len(answers[0].OptionValues) != 2 {
		t.Fatalf("expected multi values to round trip, got %v", answers[0].OptionValues)
	}

	if err := s.DeleteSurvey(ctx, "s1"); err != nil {
		t.Fatalf("delete survey: %v", err)
	}
	var remaining int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answers`).Scan(&remaining); err != nil {
		t.Fatalf("count answers: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected cascade to remove answers, %d left", remaining)
	}
}

func TestPostgresStoreAcceptsOtherQuestionTypes(t *testing.T) {
	db, ctx := openTestDB(t)
	s := NewPostgresStore(db)
	if err := s.InsertSurvey(ctx, Survey{ID: "s1", Title: "Variants", Active: true}); err != nil {
		t.Fatalf("insert survey: %v", err)
	}

	err := s.WithinTx(ctx, func(tx Tx) error {
		for i, questionType := range []string{"DROPDOWN", "OTHER", "TEXTAREA"} {
			if err := tx.InsertQuestion(ctx, Question{ID: fmt.Sprintf("q%d", i), SurveyID: "s1", Code: questionType, Type: questionType, Position: i}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert questions: %v", err)
	}
	structure, err := s.LoadStructure(ctx, "s1")
	if err != nil {
		t.Fatalf("load structure: %v", err)
	}
	if len(structure.Questions) != 3 || structure.Questions[0].Type != "DROPDOWN" {
		t.Fatalf("unexpected questions %+v", structure.Questions)
	}
}

func replaceQuestions(ctx context.Context, s *PostgresStore, surveyID string, generation int) ([]string, error) {
	var stale []string
	err := s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.LockSurvey(ctx, surveyID); err != nil {
			return err
		}
		if _, err := tx.DeleteSurveyAnswers(ctx, surveyID); err != nil {
			return err
		}
		if _, err := tx.DeleteSurveyResponses(ctx, surveyID); err != nil {
			return err
		}
		if _, err := tx.DeleteSurveyOptions(ctx, surveyID); err != nil {
			return err
		}
		var err error
		if stale, err = tx.DeleteSurveyQuestions(ctx, surveyID); err != nil {
			return err
		}
		for i, code := range []string{"Q1", "Q2"} {
			id := fmt.Sprintf("g%02d-%s", generation, code)
			if err := tx.InsertQuestion(ctx, Question{ID: id, SurveyID: surveyID, Code: code, Type: "SINGLE", Position: i}); err != nil {
				return err
			}
		}
		return nil
	})
	return stale, err
}

func submitQ1(ctx context.Context, s *PostgresStore, surveyID, token, id, value string) error {
	return s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.GetSurvey(ctx, surveyID); err != nil {
			return err
		}
		response, err := tx.FindResponseByToken(ctx, token)
		if errors.Is(err, ErrNotFound) {
			response = Response{ID: "r-" + id, SurveyID: surveyID, ResumeToken: token, Status: StatusInProgress}
			err = tx.InsertResponse(ctx, response)
			if errors.Is(err, ErrTokenTaken) {
				response, err = tx.FindResponseByToken(ctx, token)
			}
		}
		if err != nil {
			return err
		}
		question, err := tx.GetQuestionByCode(ctx, surveyID, "Q1")
		if err != nil {
			return err
		}
		return tx.UpsertAnswer(ctx, Answer{ID: "a-" + id, ResponseID: response.ID, QuestionID: question.ID, OptionValue: &value})
	})
}

func TestPostgresConcurrentReplaceAndSubmit(t *testing.T) {
	db, ctx := openTestDB(t)
	s := NewPostgresStore(db)
	if err := s.InsertSurvey(ctx, Survey{ID: "s1", Title: "Race", Active: true}); err != nil {
		t.Fatalf("insert survey: %v", err)
	}
	if _, err := replaceQuestions(ctx, s, "s1", 0); err != nil {
		t.Fatalf("seed questions: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	retired := map[string]int{}
	for i := 1; i <= workers; i++ {
		wg.Add(2)
		go func(generation int) {
			defer wg.Done()
			stale, err := replaceQuestions(ctx, s, "s1", generation)
			if err != nil {
				t.Errorf("replace %d: %v", generation, err)
				return
			}
			mu.Lock()
			for _, id := range stale {
				retired[id]++
			}
			mu.Unlock()
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				if err := submitQ1(ctx, s, "s1", fmt.Sprintf("tok-%d", i), fmt.Sprintf("%d-%d", i, j), "yes"); err != nil {
					t.Errorf("submit %d/%d: %v", i, j, err)
				}
			}
		}(i)
	}
	wg.Wait()

	var orphans int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM answers a
		JOIN responses r ON r.id = a.response_id
		LEFT JOIN questions q ON q.id = a.question_id AND q.survey_id = r.survey_id
		WHERE q.id IS NULL
	`).Scan(&orphans); err != nil {
		t.Fatalf("count orphans: %v", err)
	}
	if orphans != 0 {
		t.Fatalf("expected no answers outside the live graph, got %d", orphans)
	}

	var duplicates int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT response_id, question_id FROM answers GROUP BY response_id, question_id HAVING COUNT(*) > 1
		) d
	`).Scan(&duplicates); err != nil {
		t.Fatalf("count duplicates: %v", err)
	}
	if duplicates != 0 {
		t.Fatalf("expected one answer per (response, question), got %d duplicates", duplicates)
	}

	for generation := 0; generation <= workers; generation++ {
		for _, code := range []string{"Q1", "Q2"} {
			id := fmt.Sprintf("g%02d-%s", generation, code)
			var live bool
			if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM questions WHERE id=$1)`, id).Scan(&live); err != nil {
				t.Fatalf("lookup %s: %v", id, err)
			}
			if !live && retired[id] != 1 {
				t.Errorf("question %s retired %d times", id, retired[id])
			}
		}
	}
}

func TestPostgresConcurrentFirstSubmitsShareOneResponse(t *testing.T) {
	db, ctx := openTestDB(t)
	s := NewPostgresStore(db)
	if err := s.InsertSurvey(ctx, Survey{ID: "s1", Title: "Race", Active: true}); err != nil {
		t.Fatalf("insert survey: %v", err)
	}
	if _, err := replaceQuestions(ctx, s, "s1", 0); err != nil {
		t.Fatalf("seed questions: %v", err)
	}

	const workers = 12
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := submitQ1(ctx, s, "s1", "shared", fmt.Sprintf("%d", i), fmt.Sprintf("v%d", i)); err != nil {
				t.Errorf("submit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	var responses, answers int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses WHERE resume_token='shared'`).Scan(&responses); err != nil {
		t.Fatalf("count responses: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answers`).Scan(&answers); err != nil {
		t.Fatalf("count answers: %v", err)
	}
	if responses != 1 || answers != 1 {
		t.Fatalf("expected one response and one answer, got %d and %d", responses, answers)
	}
}
