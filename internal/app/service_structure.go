package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"surveygraph/api/internal/archive"
	"surveygraph/api/internal/graph"
	"surveygraph/api/internal/importer"
	"surveygraph/api/internal/search"
	"surveygraph/api/internal/store"
	"surveygraph/api/internal/util"
)

// StructureInput is a structure as submitted by the UI: raw rows, exactly
// like the ones read from a workbook.
type StructureInput struct {
	Questions []graph.RawQuestion `json:"questions"`
	Options   []graph.RawOption   `json:"options"`
}

type StructureView struct {
	SurveyID          string                     `json:"surveyId,omitempty"`
	StartQuestionCode *string                    `json:"startQuestionCode"`
	Questions         []graph.NormalizedQuestion `json:"questions"`
	Options           []graph.NormalizedOption   `json:"options"`
}

type DiscardedCounts struct {
	Responses int64 `json:"responses"`
	Answers   int64 `json:"answers"`
}

type ReplaceResult struct {
	SurveyID          string            `json:"surveyId"`
	QuestionsImported int               `json:"questionsImported"`
	OptionsImported   int               `json:"optionsImported"`
	Discarded         DiscardedCounts   `json:"discarded"`
	Revision          *archive.Revision `json:"revision,omitempty"`
}

func structureView(surveyID string, questions []graph.NormalizedQuestion, options []graph.NormalizedOption) StructureView {
	view := StructureView{SurveyID: surveyID, Questions: questions, Options: options}
	if len(questions) > 0 {
		start := questions[0].Code
		view.StartQuestionCode = &start
	}
	return view
}

// ValidateStructure normalizes and validates without touching storage.
func (s *Service) ValidateStructure(_ context.Context, input StructureInput) (StructureView, error) {
	questions, options, err := graph.NormalizeAndValidate(input.Questions, input.Options)
	if err != nil {
		return StructureView{}, err
	}
	return structureView("", questions, options), nil
}

func (s *Service) ImportStructure(ctx context.Context, surveyID string, input StructureInput) (ReplaceResult, error) {
	questions, options, err := graph.NormalizeAndValidate(input.Questions, input.Options)
	if err != nil {
		return ReplaceResult{}, err
	}
	return s.ReplaceStructure(ctx, surveyID, questions, options)
}

// ImportWorkbook reads an xlsx workbook and feeds its rows through the same
// path as ImportStructure.
func (s *Service) ImportWorkbook(ctx context.Context, surveyID string, r io.Reader) (ReplaceResult, error) {
	questions, options, err := importer.ReadWorkbook(r)
	if err != nil {
		return ReplaceResult{}, err
	}
	return s.ImportStructure(ctx, surveyID, StructureInput{Questions: questions, Options: options})
}

// ReplaceStructure swaps a survey's persisted graph for a validated one in a
// single transaction. Every response of the survey is discarded with it.
// Questions are inserted first and linked in a second pass, so pointers may
// reference any question of the new graph, including earlier ones.
func (s *Service) ReplaceStructure(ctx context.Context, surveyID string, questions []graph.NormalizedQuestion, options []graph.NormalizedOption) (ReplaceResult, error) {
	if len(questions) == 0 {
		return ReplaceResult{}, &graph.ValidationError{Field: "questions", Message: "at least one question is required"}
	}

	var counts store.ReplaceCounts
	var staleIDs []string
	ids := make(map[string]string, len(questions))
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockSurvey(ctx, surveyID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return SurveyNotFoundError(surveyID)
			}
			return err
		}

		var err error
		if counts.Answers, err = tx.DeleteSurveyAnswers(ctx, surveyID); err != nil {
			return err
		}
		if counts.Responses, err = tx.DeleteSurveyResponses(ctx, surveyID); err != nil {
			return err
		}
		if counts.Options, err = tx.DeleteSurveyOptions(ctx, surveyID); err != nil {
			return err
		}
		if staleIDs, err = tx.DeleteSurveyQuestions(ctx, surveyID); err != nil {
			return err
		}
		counts.Questions = int64(len(staleIDs))

		for i, q := range questions {
			if _, dup := ids[q.Code]; dup {
				return &graph.DuplicateCodeError{Code: q.Code}
			}
			id := util.NewID("q")
			if err := tx.InsertQuestion(ctx, store.Question{
				ID:       id,
				SurveyID: surveyID,
				Code:     q.Code,
				Type:     string(q.Type),
				Text:     q.Text,
				Position: i,
			}); err != nil {
				return err
			}
			ids[q.Code] = id
		}

		for _, q := range questions {
			if q.DefaultNextCode == nil {
				continue
			}
			nextID, ok := ids[*q.DefaultNextCode]
			if !ok {
				return &graph.DanglingReferenceError{Owner: graph.QuestionOwner(q.Code), Missing: *q.DefaultNextCode}
			}
			if err := tx.SetQuestionNext(ctx, ids[q.Code], &nextID); err != nil {
				return err
			}
		}

		rows := make([]store.Option, 0, len(options))
		for _, o := range options {
			questionID, ok := ids[o.QuestionCode]
			if !ok {
				return &graph.DanglingReferenceError{Owner: graph.OptionOwner(o.QuestionCode, o.Value), Missing: o.QuestionCode}
			}
			var jumpID *string
			if o.JumpToCode != nil {
				target, ok := ids[*o.JumpToCode]
				if !ok {
					return &graph.DanglingReferenceError{Owner: graph.OptionOwner(o.QuestionCode, o.Value), Missing: *o.JumpToCode}
				}
				jumpID = &target
			}
			rows = append(rows, store.Option{
				ID:             util.NewID("o"),
				QuestionID:     questionID,
				Value:          o.Value,
				Label:          o.Label,
				Order:          o.Order,
				IsOther:        o.IsOther,
				JumpQuestionID: jumpID,
			})
		}
		return tx.InsertOptions(ctx, rows)
	})
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("replace structure: %w", err)
	}

	result := ReplaceResult{
		SurveyID:          surveyID,
		QuestionsImported: len(questions),
		OptionsImported:   len(options),
		Discarded:         DiscardedCounts{Responses: counts.Responses, Answers: counts.Answers},
	}
	s.loggerFrom(ctx).Info("structure replaced",
		"survey_id", surveyID,
		"questions", result.QuestionsImported,
		"options", result.OptionsImported,
		"discarded_responses", counts.Responses,
		"discarded_answers", counts.Answers,
	)

	s.afterReplace(ctx, surveyID, staleIDs, questions, options, ids, &result)
	return result, nil
}

// afterReplace updates the optional collaborators. Their failures are logged
// and never undo the committed replace.
func (s *Service) afterReplace(
	ctx context.Context,
	surveyID string,
	staleIDs []string,
	questions []graph.NormalizedQuestion,
	options []graph.NormalizedOption,
	ids map[string]string,
	result *ReplaceResult,
) {
	if s.tracker != nil {
		if err := s.tracker.ForgetSurvey(ctx, surveyID); err != nil {
			s.warn(ctx, "forget survey sessions failed", "survey_id", surveyID, "error", err)
		}
	}

	if s.index != nil {
		labels := make(map[string][]string, len(questions))
		for _, o := range options {
			labels[o.QuestionCode] = append(labels[o.QuestionCode], o.Label)
		}
		records := make([]search.QuestionRecord, 0, len(questions))
		for _, q := range questions {
			records = append(records, search.QuestionRecord{
				ID:       ids[q.Code],
				SurveyID: surveyID,
				Code:     q.Code,
				Type:     string(q.Type),
				Text:     q.Text,
				Options:  labels[q.Code],
			})
		}
		if err := s.index.ReplaceSurvey(ctx, staleIDs, records); err != nil {
			s.warn(ctx, "reindex survey questions failed", "survey_id", surveyID, "error", err)
		}
	}

	if s.archive != nil {
		revision, err := s.archive.Save(ctx, archive.Snapshot{
			SurveyID:  surveyID,
			Questions: questions,
			Options:   options,
		})
		if err != nil {
			s.warn(ctx, "archive structure revision failed", "survey_id", surveyID, "error", err)
			return
		}
		result.Revision = &revision
	}
}

// GetStructure returns the persisted graph in canonical form.
func (s *Service) GetStructure(ctx context.Context, surveyID string) (StructureView, error) {
	if _, err := s.store.GetSurvey(ctx, surveyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return StructureView{}, SurveyNotFoundError(surveyID)
		}
		return StructureView{}, fmt.Errorf("get survey: %w", err)
	}
	structure, err := s.store.LoadStructure(ctx, surveyID)
	if err != nil {
		return StructureView{}, fmt.Errorf("load structure: %w", err)
	}

	questions := make([]graph.NormalizedQuestion, 0, len(structure.Questions))
	for _, q := range structure.Questions {
		questions = append(questions, graph.NormalizedQuestion{
			Code:            q.Code,
			Type:            graph.QuestionType(q.Type),
			Text:            q.Text,
			DefaultNextCode: q.DefaultNextCode,
		})
	}
	options := make([]graph.NormalizedOption, 0, len(structure.Options))
	for _, o := range structure.Options {
		options = append(options, graph.NormalizedOption{
			QuestionCode: o.QuestionCode,
			Value:        o.Value,
			Label:        o.Label,
			Order:        o.Order,
			IsOther:      o.IsOther,
			JumpToCode:   o.JumpToCode,
		})
	}
	return structureView(surveyID, questions, options), nil
}

func (s *Service) ListRevisions(ctx context.Context, surveyID string) ([]archive.Revision, error) {
	if s.archive == nil {
		return nil, archiveDisabledError()
	}
	if _, err := s.store.GetSurvey(ctx, surveyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, SurveyNotFoundError(surveyID)
		}
		return nil, fmt.Errorf("get survey: %w", err)
	}
	return s.archive.List(ctx, surveyID)
}

// RestoreRevision replaces the survey's structure with an archived one. The
// snapshot is validated again before it is written.
func (s *Service) RestoreRevision(ctx context.Context, surveyID, key string) (ReplaceResult, error) {
	if s.archive == nil {
		return ReplaceResult{}, archiveDisabledError()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ReplaceResult{}, &graph.ValidationError{Field: "key", Message: "revision key is required"}
	}
	snapshot, err := s.archive.Load(ctx, surveyID, key)
	if err != nil {
		return ReplaceResult{}, err
	}
	if err := graph.Validate(snapshot.Questions, snapshot.Options); err != nil {
		return ReplaceResult{}, err
	}
	s.loggerFrom(ctx).Info("restoring structure revision", "survey_id", surveyID, "key", key)
	return s.ReplaceStructure(ctx, surveyID, snapshot.Questions, snapshot.Options)
}
