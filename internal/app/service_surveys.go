package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"surveygraph/api/internal/store"
	"surveygraph/api/internal/util"
)

type SurveyView struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	ActiveSessions *int64    `json:"activeSessions,omitempty"`
}

type CreateSurveyInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=4000"`
	Active      *bool  `json:"active"`
}

type UpdateSurveyInput struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=4000"`
	Active      *bool   `json:"active"`
}

func surveyView(item store.Survey) SurveyView {
	return SurveyView{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Active:      item.Active,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

func (s *Service) CreateSurvey(ctx context.Context, input CreateSurveyInput) (SurveyView, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if err := s.checkInput(input); err != nil {
		return SurveyView{}, err
	}
	active := true
	if input.Active != nil {
		active = *input.Active
	}

	item := store.Survey{
		ID:          util.NewID("s"),
		Title:       input.Title,
		Description: input.Description,
		Active:      active,
	}
	if err := s.store.InsertSurvey(ctx, item); err != nil {
		return SurveyView{}, fmt.Errorf("create survey: %w", err)
	}
	created, err := s.store.GetSurvey(ctx, item.ID)
	if err != nil {
		return SurveyView{}, fmt.Errorf("read created survey: %w", err)
	}
	s.loggerFrom(ctx).Info("survey created", "survey_id", created.ID)
	return surveyView(created), nil
}

func (s *Service) ListSurveys(ctx context.Context) ([]SurveyView, error) {
	items, err := s.store.ListSurveys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	views := make([]SurveyView, 0, len(items))
	for _, item := range items {
		views = append(views, surveyView(item))
	}
	return views, nil
}

// GetSurvey returns one survey. When a session tracker is configured the
// view carries the number of respondents seen within the session TTL.
func (s *Service) GetSurvey(ctx context.Context, surveyID string) (SurveyView, error) {
	item, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SurveyView{}, SurveyNotFoundError(surveyID)
		}
		return SurveyView{}, fmt.Errorf("get survey: %w", err)
	}
	view := surveyView(item)
	if s.tracker != nil {
		count, err := s.tracker.ActiveSessions(ctx, surveyID)
		if err != nil {
			s.warn(ctx, "count active sessions failed", "survey_id", surveyID, "error", err)
		} else {
			view.ActiveSessions = &count
		}
	}
	return view, nil
}

func (s *Service) UpdateSurvey(ctx context.Context, surveyID string, input UpdateSurveyInput) (SurveyView, error) {
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return SurveyView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", []map[string]string{
				{"field": "title", "rule": "required"},
			})
		}
		input.Title = &title
	}
	if input.Description != nil {
		description := strings.TrimSpace(*input.Description)
		input.Description = &description
	}
	if err := s.checkInput(input); err != nil {
		return SurveyView{}, err
	}

	updated, err := s.store.UpdateSurvey(ctx, surveyID, store.SurveyPatch{
		Title:       input.Title,
		Description: input.Description,
		Active:      input.Active,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SurveyView{}, SurveyNotFoundError(surveyID)
		}
		return SurveyView{}, fmt.Errorf("update survey: %w", err)
	}
	return surveyView(updated), nil
}

// DeleteSurvey removes a survey with everything it owns, then drops its
// questions from the search index and its tracked sessions.
func (s *Service) DeleteSurvey(ctx context.Context, surveyID string) error {
	structure, err := s.store.LoadStructure(ctx, surveyID)
	if err != nil {
		return fmt.Errorf("load structure: %w", err)
	}
	if err := s.store.DeleteSurvey(ctx, surveyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SurveyNotFoundError(surveyID)
		}
		return fmt.Errorf("delete survey: %w", err)
	}
	s.loggerFrom(ctx).Info("survey deleted", "survey_id", surveyID, "questions", len(structure.Questions))

	if s.index != nil && len(structure.Questions) > 0 {
		if err := s.index.DeleteSurvey(ctx, questionIDs(structure.Questions)); err != nil {
			s.warn(ctx, "remove survey from search index failed", "survey_id", surveyID, "error", err)
		}
	}
	if s.tracker != nil {
		if err := s.tracker.ForgetSurvey(ctx, surveyID); err != nil {
			s.warn(ctx, "forget survey sessions failed", "survey_id", surveyID, "error", err)
		}
	}
	return nil
}

func questionIDs(questions []store.Question) []string {
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	return ids
}
