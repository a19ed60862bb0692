package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	meili "github.com/meilisearch/meilisearch-go"

	"surveygraph/api/internal/logging"
)

type fakeBackend struct {
	healthy   bool
	results   []Result
	err       error
	indexed   []QuestionRecord
	deleted   []string
	lastQuery Query
}

func (f *fakeBackend) Search(q Query) ([]Result, int, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) IndexQuestions(records []QuestionRecord) error {
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeBackend) DeleteQuestions(ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeLoader struct {
	fakeBackend
	records []QuestionRecord
}

func (f *fakeLoader) LoadAllRecords(context.Context) ([]QuestionRecord, error) {
	return f.records, nil
}

func TestSearchPrefersHealthyPrimary(t *testing.T) {
	primary := &fakeBackend{healthy: true, results: []Result{{ID: "q_1", Code: "Q1"}}}
	fallback := &fakeBackend{healthy: true, results: []Result{{ID: "q_2"}}}
	svc := NewService(primary, fallback, logging.Discard())

	resp := svc.Search(context.Background(), Query{Text: "drive"})
	if resp.Total != 1 || resp.Results[0].ID != "q_1" {
		t.Fatalf("expected primary result, got %+v", resp)
	}
	if primary.lastQuery.Limit != 20 {
		t.Fatalf("expected default limit 20, got %d", primary.lastQuery.Limit)
	}
}

func TestSearchFallsBack(t *testing.T) {
	fallback := &fakeBackend{healthy: true, results: []Result{{ID: "q_2"}}}

	cases := []struct {
		name    string
		primary Backend
	}{
		{name: "not configured", primary: nil},
		{name: "unhealthy", primary: &fakeBackend{healthy: false}},
		{name: "errors", primary: &fakeBackend{healthy: true, err: errors.New("down")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := NewService(tc.primary, fallback, logging.Discard()).Search(context.Background(), Query{Text: "x"})
			if len(resp.Results) != 1 || resp.Results[0].ID != "q_2" {
				t.Fatalf("expected fallback result, got %+v", resp)
			}
		})
	}
}

func TestSearchNeverReturnsNilResults(t *testing.T) {
	svc := NewService(nil, &fakeBackend{err: errors.New("db down")}, logging.Discard())
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil {
		t.Fatal("expected empty, non-nil results")
	}

	resp = NewService(nil, nil, logging.Discard()).Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || resp.Total != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestReplaceSurveyDeletesStaleThenIndexes(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	svc := NewService(primary, nil, logging.Discard())

	records := []QuestionRecord{{ID: "q_new", SurveyID: "s1", Code: "Q1"}}
	if err := svc.ReplaceSurvey(context.Background(), []string{"q_old"}, records); err != nil {
		t.Fatalf("ReplaceSurvey() error = %v", err)
	}
	if diff := cmp.Diff([]string{"q_old"}, primary.deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(records, primary.indexed); diff != "" {
		t.Errorf("indexed mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceSurveySkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeBackend{healthy: false}
	svc := NewService(primary, nil, logging.Discard())
	if err := svc.ReplaceSurvey(context.Background(), []string{"a"}, []QuestionRecord{{ID: "b"}}); err != nil {
		t.Fatalf("ReplaceSurvey() error = %v", err)
	}
	if len(primary.deleted) != 0 || len(primary.indexed) != 0 {
		t.Fatal("unhealthy primary must not be touched")
	}
}

func TestReindexFromStorage(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	loader := &fakeLoader{records: []QuestionRecord{{ID: "q_1"}, {ID: "q_2"}}}
	NewService(primary, loader, logging.Discard()).ReindexFromStorage(context.Background())
	if len(primary.indexed) != 2 {
		t.Fatalf("expected 2 reindexed records, got %d", len(primary.indexed))
	}
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"q_1"`),
		"surveyId":   json.RawMessage(`"s1"`),
		"code":       json.RawMessage(`"Q1"`),
		"type":       json.RawMessage(`"SINGLE"`),
		"text":       json.RawMessage(`"Do you drive?"`),
		"_formatted": json.RawMessage(`{"text":"Do you <mark>drive</mark>?","options":["Yes"]}`),
	}

	want := Result{ID: "q_1", SurveyID: "s1", Code: "Q1", Type: "SINGLE", Title: "Do you drive?", Snippet: "Do you <mark>drive</mark>?"}
	if diff := cmp.Diff(want, hitToResult(hit)); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestSurveyFilter(t *testing.T) {
	if got := surveyFilter("s1"); got != `surveyId = "s1"` {
		t.Fatalf("surveyFilter() = %q", got)
	}
	if got := surveyFilter(" "); got != "" {
		t.Fatalf("surveyFilter() = %q", got)
	}
}

func TestSplitLabels(t *testing.T) {
	if diff := cmp.Diff([]string{"Yes", "No"}, splitLabels("Yes\n\n No ")); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
}
