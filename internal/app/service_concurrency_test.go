package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"surveygraph/api/internal/config"
	"surveygraph/api/internal/logging"
	"surveygraph/api/internal/search"
	"surveygraph/api/internal/store"
)

// recordingIndex keeps every ReplaceSurvey call; replaces run after commit
// from many goroutines.
type recordingIndex struct {
	mu    sync.Mutex
	stale [][]string
	added [][]string
}

func (r *recordingIndex) Search(context.Context, search.Query) search.Response {
	return search.Response{Results: []search.Result{}}
}

func (r *recordingIndex) ReplaceSurvey(_ context.Context, staleIDs []string, records []search.QuestionRecord) error {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale = append(r.stale, append([]string(nil), staleIDs...))
	r.added = append(r.added, ids)
	return nil
}

func (r *recordingIndex) DeleteSurvey(context.Context, []string) error { return nil }

// staleLookupStore hides existing responses from the first token lookups,
// as a concurrent first submission does before it commits.
type staleLookupStore struct {
	*fakeStore
	mu     sync.Mutex
	misses int
}

func (s *staleLookupStore) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	return s.fakeStore.WithinTx(ctx, func(tx store.Tx) error {
		return fn(&staleLookupTx{Tx: tx, store: s})
	})
}

type staleLookupTx struct {
	store.Tx
	store *staleLookupStore
}

func (t *staleLookupTx) FindResponseByToken(ctx context.Context, token string) (store.Response, error) {
	t.store.mu.Lock()
	miss := t.store.misses > 0
	if miss {
		t.store.misses--
	}
	t.store.mu.Unlock()
	if miss {
		return store.Response{}, store.ErrNotFound
	}
	return t.Tx.FindResponseByToken(ctx, token)
}

func answersOf(t *testing.T, fs *fakeStore, token string) []store.Answer {
	t.Helper()
	var answers []store.Answer
	err := fs.WithinTx(context.Background(), func(tx store.Tx) error {
		response, err := tx.FindResponseByToken(context.Background(), token)
		if err != nil {
			return err
		}
		answers, err = tx.ListAnswers(context.Background(), response.ID)
		return err
	})
	if err != nil {
		t.Fatalf("list answers for %s: %v", token, err)
	}
	return answers
}

func TestConcurrentReplaceAndSubmitLeaveNoOrphanAnswers(t *testing.T) {
	svc, fs := newTestService(t)
	surveyID := importScenario(t, svc)
	ctx := context.Background()

	const workers = 8
	tokens := make([]string, workers)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok-%d", i)
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers*4)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := svc.ImportStructure(ctx, surveyID, scenarioStructure()); err != nil {
				errs <- fmt.Errorf("replace: %w", err)
			}
		}()
		go func(token string) {
			defer wg.Done()
			for _, a := range []AnswerInput{answer("Q1", "yes"), answer("Q3", "x")} {
				if _, err := svc.SubmitAnswers(ctx, surveyID, SubmitInput{ResumeToken: token, Answers: []AnswerInput{a}}); err != nil {
					errs <- fmt.Errorf("submit %s: %w", token, err)
				}
			}
		}(tokens[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	structure, err := fs.LoadStructure(ctx, surveyID)
	if err != nil {
		t.Fatalf("load structure: %v", err)
	}
	live := make(map[string]bool, len(structure.Questions))
	for _, q := range structure.Questions {
		live[q.ID] = true
	}

	err = fs.WithinTx(ctx, func(tx store.Tx) error {
		for _, token := range tokens {
			response, err := tx.FindResponseByToken(ctx, token)
			if err != nil {
				// discarded by a later replace
				continue
			}
			answers, err := tx.ListAnswers(ctx, response.ID)
			if err != nil {
				return err
			}
			for _, a := range answers {
				if !live[a.QuestionID] {
					t.Errorf("answer %s of %s points at deleted question %s", a.ID, token, a.QuestionID)
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect answers: %v", err)
	}
}

func TestConcurrentSubmitsKeepOneAnswerPerQuestion(t *testing.T) {
	svc, fs := newTestService(t)
	surveyID := importScenario(t, svc)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	tokens := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := "no"
			if i%2 == 0 {
				value = "yes"
			}
			result, err := svc.SubmitAnswers(ctx, surveyID, SubmitInput{
				ResumeToken: "shared",
				Answers:     []AnswerInput{answer("Q1", value)},
			})
			if err != nil {
				errs <- err
				return
			}
			tokens <- result.ResumeToken
		}(i)
	}
	wg.Wait()
	close(errs)
	close(tokens)
	for err := range errs {
		t.Errorf("submit: %v", err)
	}
	for token := range tokens {
		if token != "shared" {
			t.Errorf("expected the shared token, got %q", token)
		}
	}

	answers := answersOf(t, fs, "shared")
	if len(answers) != 1 || answers[0].QuestionCode != "Q1" {
		t.Fatalf("expected exactly one Q1 answer, got %+v", answers)
	}
}

func TestSubmitAnswersReusesResponseCommittedByRacingSubmit(t *testing.T) {
	base := &fakeStore{MemoryStore: store.NewMemoryStore()}
	racing := &staleLookupStore{fakeStore: base}
	svc := New(config.Config{}, racing, logging.Discard())
	surveyID := createSurvey(t, svc, "Racing")
	if _, err := svc.ImportStructure(context.Background(), surveyID, scenarioStructure()); err != nil {
		t.Fatalf("import: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.SubmitAnswers(ctx, surveyID, SubmitInput{ResumeToken: "tok", Answers: []AnswerInput{answer("Q1", "yes")}}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	racing.misses = 1
	result, err := svc.SubmitAnswers(ctx, surveyID, SubmitInput{ResumeToken: "tok", Answers: []AnswerInput{answer("Q3", "x")}})
	if err != nil {
		t.Fatalf("expected the committed response to be reused, got %v", err)
	}
	if result.ResumeToken != "tok" {
		t.Fatalf("unexpected token %q", result.ResumeToken)
	}

	answers := answersOf(t, base, "tok")
	if len(answers) != 2 || answers[0].QuestionCode != "Q1" || answers[1].QuestionCode != "Q3" {
		t.Fatalf("expected both answers on one response, got %+v", answers)
	}
}

func TestConcurrentReplacesRetireEveryIndexedQuestion(t *testing.T) {
	svc, fs := newTestService(t)
	index := &recordingIndex{}
	svc.UseQuestionIndex(index)
	surveyID := importScenario(t, svc)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ImportStructure(ctx, surveyID, scenarioStructure()); err != nil {
				t.Errorf("replace: %v", err)
			}
		}()
	}
	wg.Wait()

	structure, err := fs.LoadStructure(ctx, surveyID)
	if err != nil {
		t.Fatalf("load structure: %v", err)
	}
	live := make(map[string]bool, len(structure.Questions))
	for _, q := range structure.Questions {
		live[q.ID] = true
	}

	retired := map[string]int{}
	for _, ids := range index.stale {
		for _, id := range ids {
			retired[id]++
		}
	}
	var added []string
	for _, ids := range index.added {
		added = append(added, ids...)
	}
	sort.Strings(added)
	if len(added) != (workers+1)*len(structure.Questions) {
		t.Fatalf("expected %d indexed questions, got %d", (workers+1)*len(structure.Questions), len(added))
	}
	for _, id := range added {
		switch {
		case live[id] && retired[id] != 0:
			t.Errorf("live question %s was retired", id)
		case !live[id] && retired[id] != 1:
			t.Errorf("replaced question %s retired %d times", id, retired[id])
		}
	}
}
