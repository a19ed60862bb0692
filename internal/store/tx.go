package store

import "context"

// Tx is the set of operations available inside one storage transaction.
// Every multi-step mutation of the survey engine runs against a Tx so that a
// failure at any step leaves no partial writes behind.
type Tx interface {
	// GetSurvey reads a survey and holds a shared lock on it until the
	// transaction ends.
	GetSurvey(ctx context.Context, surveyID string) (Survey, error)
	// LockSurvey reads a survey and holds an exclusive lock on it, so
	// structure replaces of one survey never interleave with each other or
	// with answer writes.
	LockSurvey(ctx context.Context, surveyID string) (Survey, error)

	// Structure replace, in dependency order.
	DeleteSurveyAnswers(ctx context.Context, surveyID string) (int64, error)
	DeleteSurveyResponses(ctx context.Context, surveyID string) (int64, error)
	DeleteSurveyOptions(ctx context.Context, surveyID string) (int64, error)
	// DeleteSurveyQuestions returns the ids of the removed questions.
	DeleteSurveyQuestions(ctx context.Context, surveyID string) ([]string, error)
	InsertQuestion(ctx context.Context, question Question) error
	SetQuestionNext(ctx context.Context, questionID string, nextQuestionID *string) error
	InsertOptions(ctx context.Context, options []Option) error

	// Navigation reads.
	GetQuestion(ctx context.Context, questionID string) (Question, error)
	GetQuestionByCode(ctx context.Context, surveyID, code string) (Question, error)
	ListQuestionOptions(ctx context.Context, questionID string) ([]Option, error)

	// Responses and answers.
	FindResponseByToken(ctx context.Context, resumeToken string) (Response, error)
	InsertResponse(ctx context.Context, response Response) error
	TouchResponse(ctx context.Context, responseID string, sessionID, respondentID *string) error
	SetResponseStatus(ctx context.Context, responseID, status string) error
	UpsertAnswer(ctx context.Context, answer Answer) error
	ListAnswers(ctx context.Context, responseID string) ([]Answer, error)
}
