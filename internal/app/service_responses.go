package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"surveygraph/api/internal/graph"
	"surveygraph/api/internal/session"
	"surveygraph/api/internal/store"
	"surveygraph/api/internal/util"
)

const StatusNotStarted = "NOT_STARTED"

type AnswerInput struct {
	QuestionCode string   `json:"questionCode" validate:"required,max=128"`
	OptionValue  *string  `json:"optionValue"`
	OptionValues []string `json:"optionValues"`
	OtherText    *string  `json:"otherText" validate:"omitempty,max=4000"`
}

type SubmitInput struct {
	ResumeToken  string        `json:"resumeToken" validate:"omitempty,max=128"`
	SessionID    *string       `json:"sessionId" validate:"omitempty,max=128"`
	RespondentID *string       `json:"respondentId" validate:"omitempty,max=128"`
	Answers      []AnswerInput `json:"answers" validate:"dive"`
}

type SubmitResult struct {
	ResumeToken      string  `json:"resumeToken"`
	NextQuestionCode *string `json:"nextQuestionCode"`
	Status           string  `json:"status"`
}

type HistoryEntry struct {
	QuestionCode string    `json:"questionCode"`
	OptionValue  *string   `json:"optionValue"`
	OptionValues []string  `json:"optionValues"`
	OtherText    *string   `json:"otherText"`
	AnsweredAt   time.Time `json:"answeredAt"`
}

type ResumeResult struct {
	ResumeToken      string         `json:"resumeToken"`
	Status           string         `json:"status"`
	LastQuestionCode *string        `json:"lastQuestionCode"`
	NextQuestionCode *string        `json:"nextQuestionCode"`
	History          []HistoryEntry `json:"history"`
}

// SubmitAnswers stores a batch of answers for one respondent and reports
// the question that follows the last one. A missing resume token starts a
// new response; an unseen token starts a new response under that token.
func (s *Service) SubmitAnswers(ctx context.Context, surveyID string, input SubmitInput) (SubmitResult, error) {
	if len(input.Answers) == 0 {
		return SubmitResult{}, &graph.ValidationError{Field: "answers", Message: "at least one answer is required"}
	}
	for i := range input.Answers {
		input.Answers[i].QuestionCode = strings.TrimSpace(input.Answers[i].QuestionCode)
	}
	input.ResumeToken = strings.TrimSpace(input.ResumeToken)
	if err := s.checkInput(input); err != nil {
		return SubmitResult{}, err
	}

	token := input.ResumeToken
	if token == "" {
		token = util.NewResumeToken()
	}

	var response store.Response
	var next *string
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		survey, err := tx.GetSurvey(ctx, surveyID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return SurveyNotFoundError(surveyID)
			}
			return err
		}
		if !survey.Active {
			return InactiveSurveyError(surveyID)
		}

		response, err = openResponse(ctx, tx, surveyID, token, input)
		if err != nil {
			return err
		}

		var last store.Question
		var lastAnswer graph.Answer
		for _, a := range input.Answers {
			question, err := tx.GetQuestionByCode(ctx, surveyID, a.QuestionCode)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return UnknownQuestionError(surveyID, a.QuestionCode)
				}
				return err
			}
			if err := tx.UpsertAnswer(ctx, store.Answer{
				ID:           util.NewID("a"),
				ResponseID:   response.ID,
				QuestionID:   question.ID,
				OptionValue:  a.OptionValue,
				OptionValues: a.OptionValues,
				OtherText:    a.OtherText,
			}); err != nil {
				return err
			}
			last = question
			lastAnswer = graph.Answer{OptionValue: a.OptionValue, OptionValues: a.OptionValues, OtherText: a.OtherText}
		}

		next, err = resolveNext(ctx, tx, last, lastAnswer)
		if err != nil {
			return err
		}
		response.Status = responseStatus(next)
		return tx.SetResponseStatus(ctx, response.ID, response.Status)
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit answers: %w", err)
	}

	s.track(ctx, token, response)
	return SubmitResult{ResumeToken: token, NextQuestionCode: next, Status: response.Status}, nil
}

// openResponse returns the response owning token, inserting it on first
// use. A concurrent first submission with the same token may commit between
// the lookup and the insert; that response is then reused.
func openResponse(ctx context.Context, tx store.Tx, surveyID, token string, input SubmitInput) (store.Response, error) {
	response, err := tx.FindResponseByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		response = store.Response{
			ID:           util.NewID("r"),
			SurveyID:     surveyID,
			ResumeToken:  token,
			SessionID:    input.SessionID,
			RespondentID: input.RespondentID,
			Status:       store.StatusInProgress,
		}
		err = tx.InsertResponse(ctx, response)
		if err == nil {
			return response, nil
		}
		if !errors.Is(err, store.ErrTokenTaken) {
			return store.Response{}, err
		}
		response, err = tx.FindResponseByToken(ctx, token)
	}
	if err != nil {
		return store.Response{}, err
	}
	if response.SurveyID != surveyID {
		return store.Response{}, TokenConflictError()
	}

	if err := tx.TouchResponse(ctx, response.ID, input.SessionID, input.RespondentID); err != nil {
		return store.Response{}, err
	}
	if input.SessionID != nil {
		response.SessionID = input.SessionID
	}
	if input.RespondentID != nil {
		response.RespondentID = input.RespondentID
	}
	return response, nil
}

// Resume rebuilds a respondent's position from stored answers. The next
// question is recomputed from the current graph, never read from state.
func (s *Service) Resume(ctx context.Context, surveyID, resumeToken string) (ResumeResult, error) {
	resumeToken = strings.TrimSpace(resumeToken)
	result := ResumeResult{ResumeToken: resumeToken, Status: StatusNotStarted, History: []HistoryEntry{}}

	var response store.Response
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetSurvey(ctx, surveyID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return SurveyNotFoundError(surveyID)
			}
			return err
		}

		var err error
		response, err = tx.FindResponseByToken(ctx, resumeToken)
		if errors.Is(err, store.ErrNotFound) || (err == nil && response.SurveyID != surveyID) {
			return ResponseNotFoundError(surveyID)
		}
		if err != nil {
			return err
		}

		answers, err := tx.ListAnswers(ctx, response.ID)
		if err != nil {
			return err
		}
		if len(answers) == 0 {
			return nil
		}
		for _, a := range answers {
			result.History = append(result.History, HistoryEntry{
				QuestionCode: a.QuestionCode,
				OptionValue:  a.OptionValue,
				OptionValues: a.OptionValues,
				OtherText:    a.OtherText,
				AnsweredAt:   a.AnsweredAt,
			})
		}

		latest := answers[len(answers)-1]
		question, err := tx.GetQuestion(ctx, latest.QuestionID)
		if err != nil {
			return err
		}
		next, err := resolveNext(ctx, tx, question, graph.Answer{
			OptionValue:  latest.OptionValue,
			OptionValues: latest.OptionValues,
			OtherText:    latest.OtherText,
		})
		if err != nil {
			return err
		}
		lastCode := question.Code
		result.LastQuestionCode = &lastCode
		result.NextQuestionCode = next
		result.Status = responseStatus(next)
		return nil
	})
	if err != nil {
		return ResumeResult{}, fmt.Errorf("resume: %w", err)
	}

	response.Status = result.Status
	s.track(ctx, resumeToken, response)
	return result, nil
}

// resolveNext is the one place the next question is computed, for both a
// fresh submission and a resume.
func resolveNext(ctx context.Context, tx store.Tx, question store.Question, answer graph.Answer) (*string, error) {
	options, err := tx.ListQuestionOptions(ctx, question.ID)
	if err != nil {
		return nil, fmt.Errorf("list options of %s: %w", question.Code, err)
	}
	node := graph.Node{
		Code:            question.Code,
		Type:            graph.QuestionType(question.Type),
		DefaultNextCode: question.DefaultNextCode,
		Options:         make([]graph.Branch, 0, len(options)),
	}
	for _, o := range options {
		node.Options = append(node.Options, graph.Branch{Value: o.Value, JumpToCode: o.JumpToCode})
	}
	return graph.ResolveNext(node, answer), nil
}

func responseStatus(next *string) string {
	if next == nil {
		return store.StatusCompleted
	}
	return store.StatusInProgress
}

func (s *Service) track(ctx context.Context, token string, response store.Response) {
	if s.tracker == nil {
		return
	}
	record := session.Record{
		SurveyID:   response.SurveyID,
		ResponseID: response.ID,
		Status:     response.Status,
		LastSeen:   time.Now().UTC(),
	}
	if response.SessionID != nil {
		record.SessionID = *response.SessionID
	}
	if response.RespondentID != nil {
		record.RespondentID = *response.RespondentID
	}
	if err := s.tracker.Track(ctx, token, record); err != nil {
		s.warn(ctx, "track respondent session failed", "survey_id", response.SurveyID, "error", err)
	}
}
