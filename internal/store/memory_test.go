package store

import (
	"context"
	"errors"
	"testing"
)

func seedSurvey(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	if err := s.InsertSurvey(context.Background(), Survey{ID: id, Title: "Survey " + id, Active: true}); err != nil {
		t.Fatalf("insert survey: %v", err)
	}
}

func seedGraph(t *testing.T, s *MemoryStore, surveyID string) {
	t.Helper()
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		ctx := context.Background()
		for i, code := range []string{"Q1", "Q2", "Q3"} {
			if err := tx.InsertQuestion(ctx, Question{ID: surveyID + code, SurveyID: surveyID, Code: code, Type: "SINGLE", Position: i}); err != nil {
				return err
			}
		}
		next := surveyID + "Q3"
		if err := tx.SetQuestionNext(ctx, surveyID+"Q2", &next); err != nil {
			return err
		}
		return tx.InsertOptions(ctx, []Option{
			{ID: surveyID + "o1", QuestionID: surveyID + "Q1", Value: "yes", Label: "Yes", Order: 1, JumpQuestionID: &next},
			{ID: surveyID + "o2", QuestionID: surveyID + "Q1", Value: "no", Label: "No", Order: 0},
		})
	})
	if err != nil {
		t.Fatalf("seed graph: %v", err)
	}
}

func TestMemoryStoreResolvesCodesOnRead(t *testing.T) {
	s := NewMemoryStore()
	seedSurvey(t, s, "s1")
	seedGraph(t, s, "s1")

	structure, err := s.LoadStructure(context.Background(), "s1")
	if err != nil {
		t.Fatalf("load structure: %v", err)
	}
	if len(structure.Questions) != 3 || structure.Questions[0].Code != "Q1" {
		t.Fatalf("unexpected questions %+v", structure.Questions)
	}
	if got := structure.Questions[1].DefaultNextCode; got == nil || *got != "Q3" {
		t.Fatalf("expected Q2 -> Q3, got %v", got)
	}
	if len(structure.Options) != 2 || structure.Options[0].Value != "no" {
		t.Fatalf("expected options ordered by sort order, got %+v", structure.Options)
	}
	if jump := structure.Options[1].JumpToCode; jump == nil || *jump != "Q3" {
		t.Fatalf("expected yes -> Q3, got %v", jump)
	}
}

func TestMemoryStoreRollsBackFailedTx(t *testing.T) {
	s := NewMemoryStore()
	seedSurvey(t, s, "s1")
	seedGraph(t, s, "s1")

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		ctx := context.Background()
		if _, err := tx.DeleteSurveyOptions(ctx, "s1"); err != nil {
			return err
		}
		ids, err := tx.DeleteSurveyQuestions(ctx, "s1")
		if err != nil {
			return err
		}
		if len(ids) != 3 || ids[0] != "s1Q1" || ids[2] != "s1Q3" {
			t.Errorf("expected the deleted question ids, got %v", ids)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	structure, err := s.LoadStructure(context.Background(), "s1")
	if err != nil {
		t.Fatalf("load structure: %v", err)
	}
	if len(structure.Questions) != 3 || len(structure.Options) != 2 {
		t.Fatalf("rollback lost data: %d questions, %d options", len(structure.Questions), len(structure.Options))
	}
}

func TestMemoryStoreEnforcesUniqueness(t *testing.T) {
	s := NewMemoryStore()
	seedSurvey(t, s, "s1")
	seedGraph(t, s, "s1")

	err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertQuestion(context.Background(), Question{ID: "dup", SurveyID: "s1", Code: "Q1", Type: "SINGLE"})
	})
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation for question code, got %v", err)
	}

	err = s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertOptions(context.Background(), []Option{{ID: "o9", QuestionID: "s1Q1", Value: "yes"}})
	})
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation for option value, got %v", err)
	}

	seed := Response{ID: "r1", SurveyID: "s1", ResumeToken: "tok", Status: StatusInProgress}
	if err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertResponse(context.Background(), seed)
	}); err != nil {
		t.Fatalf("insert response: %v", err)
	}
	err = s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertResponse(context.Background(), Response{ID: "r2", SurveyID: "s1", ResumeToken: "tok", Status: StatusInProgress})
	})
	if !errors.Is(err, ErrTokenTaken) || !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected token taken, got %v", err)
	}
}

func TestMemoryStoreAnswerUpsertMovesToEnd(t *testing.T) {
	s := NewMemoryStore()
	seedSurvey(t, s, "s1")
	seedGraph(t, s, "s1")
	ctx := context.Background()

	value := func(v string) *string { return &v }
	err := s.WithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertResponse(ctx, Response{ID: "r1", SurveyID: "s1", ResumeToken: "tok", Status: StatusInProgress}); err != nil {
			return err
		}
		if err := tx.UpsertAnswer(ctx, Answer{ID: "a1", ResponseID: "r1", QuestionID: "s1Q1", OptionValue: value("yes")}); err != nil {
			return err
		}
		if err := tx.UpsertAnswer(ctx, Answer{ID: "a2", ResponseID: "r1", QuestionID: "s1Q2", OptionValue: value("x")}); err != nil {
			return err
		}
		return tx.UpsertAnswer(ctx, Answer{ID: "a3", ResponseID: "r1", QuestionID: "s1Q1", OptionValue: value("no")})
	})
	if err != nil {
		t.Fatalf("write answers: %v", err)
	}

	var answers []Answer
	_ = s.WithinTx(ctx, func(tx Tx) error {
		answers, err = tx.ListAnswers(ctx, "r1")
		return err
	})
	if len(answers) != 2 {
		t.Fatalf("expected one answer per question, got %d", len(answers))
	}
	if answers[0].QuestionCode != "Q2" || answers[1].QuestionCode != "Q1" {
		t.Fatalf("expected re-answered Q1 last, got %s then %s", answers[0].QuestionCode, answers[1].QuestionCode)
	}
	if answers[1].ID != "a1" || *answers[1].OptionValue != "no" {
		t.Fatalf("expected a1 replaced in place with no, got %s=%v", answers[1].ID, *answers[1].OptionValue)
	}
}

func TestMemoryStoreTouchKeepsIdentifiers(t *testing.T) {
	s := NewMemoryStore()
	seedSurvey(t, s, "s1")
	ctx := context.Background()
	session := "sess-1"

	var got Response
	err := s.WithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertResponse(ctx, Response{ID: "r1", SurveyID: "s1", ResumeToken: "tok", SessionID: &session, Status: StatusInProgress}); err != nil {
			return err
		}
		if err := tx.TouchResponse(ctx, "r1", nil, nil); err != nil {
			return err
		}
		if err := tx.SetResponseStatus(ctx, "r1", StatusCompleted); err != nil {
			return err
		}
		var err error
		got, err = tx.FindResponseByToken(ctx, "tok")
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if got.SessionID == nil || *got.SessionID != "sess-1" {
		t.Fatalf("session id was overwritten: %v", got.SessionID)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("expected completed response, got %+v", got)
	}
}

func TestMemoryStoreDeleteSurveyCascades(t *testing.T) {
	s := NewMemoryStore()
	seedSurvey(t, s, "s1")
	seedSurvey(t, s, "s2")
	seedGraph(t, s, "s1")
	seedGraph(t, s, "s2")
	ctx := context.Background()

	if err := s.DeleteSurvey(ctx, "s1"); err != nil {
		t.Fatalf("delete survey: %v", err)
	}
	if _, err := s.GetSurvey(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	structure, _ := s.LoadStructure(ctx, "s2")
	if len(structure.Questions) != 3 {
		t.Fatalf("other survey affected: %d questions", len(structure.Questions))
	}
	if err := s.DeleteSurvey(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
