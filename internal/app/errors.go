package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func InactiveSurveyError(surveyID string) *DomainError {
	return domainError(http.StatusConflict, "SURVEY_INACTIVE", "Survey is not accepting responses", map[string]any{"surveyId": surveyID})
}

func UnknownQuestionError(surveyID, questionCode string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "UNKNOWN_QUESTION", "Question not found in survey", map[string]any{
		"surveyId":     surveyID,
		"questionCode": questionCode,
	})
}

func ResponseNotFoundError(surveyID string) *DomainError {
	return domainError(http.StatusNotFound, "RESPONSE_NOT_FOUND", "No response for this resume token", map[string]any{"surveyId": surveyID})
}

func SurveyNotFoundError(surveyID string) *DomainError {
	return domainError(http.StatusNotFound, "SURVEY_NOT_FOUND", "Survey not found", map[string]any{"surveyId": surveyID})
}

func TokenConflictError() *DomainError {
	return domainError(http.StatusConflict, "TOKEN_CONFLICT", "Resume token belongs to another survey", nil)
}

func archiveDisabledError() *DomainError {
	return domainError(http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "Revision archive is not configured", nil)
}
