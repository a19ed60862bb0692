package store

import "time"

const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

type Survey struct {
	ID          string
	Title       string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SurveyPatch carries the fields of a partial survey update; nil means unchanged.
type SurveyPatch struct {
	Title       *string
	Description *string
	Active      *bool
}

type Question struct {
	ID       string
	SurveyID string
	Code     string
	Type     string
	Text     string
	Position int
	// DefaultNextCode is resolved from the stored pointer on read; writes go
	// through Tx.SetQuestionNext.
	DefaultNextCode *string
}

type Option struct {
	ID           string
	QuestionID   string
	QuestionCode string
	Value        string
	Label        string
	Order        int
	IsOther      bool
	// JumpQuestionID is set on insert; JumpToCode is resolved on read.
	JumpQuestionID *string
	JumpToCode     *string
}

// Structure is a survey's question graph in input order.
type Structure struct {
	Questions []Question
	Options   []Option
}

type Response struct {
	ID           string
	SurveyID     string
	ResumeToken  string
	SessionID    *string
	RespondentID *string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

type Answer struct {
	ID           string
	ResponseID   string
	QuestionID   string
	QuestionCode string
	OptionValue  *string
	OptionValues []string
	OtherText    *string
	AnsweredAt   time.Time
	Seq          int64
}

// ReplaceCounts reports what a structure replace removed.
type ReplaceCounts struct {
	Answers   int64
	Responses int64
	Options   int64
	Questions int64
}
