package search

// Result is a single question hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	SurveyID string `json:"surveyId"`
	Code     string `json:"code"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text     string
	SurveyID string // empty = all surveys
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push questions into a search index.
type Indexer interface {
	IndexQuestions(records []QuestionRecord) error
	DeleteQuestions(ids []string) error
}

// Backend is a search engine that can both search and index.
type Backend interface {
	Searcher
	Indexer
}

// QuestionRecord is the data we index for a question. ID is the stored
// question id, so a structure replace yields entirely new documents.
type QuestionRecord struct {
	ID       string   `json:"id"`
	SurveyID string   `json:"surveyId"`
	Code     string   `json:"code"`
	Type     string   `json:"type"`
	Text     string   `json:"text"`
	Options  []string `json:"options"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
