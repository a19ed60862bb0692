package graph

import "fmt"

// ValidationError reports malformed or empty input. Row is 1-based and zero
// when the error concerns the input as a whole.
type ValidationError struct {
	Row     int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("validation error: row %d: %s", e.Row, e.Message)
	}
	return "validation error: " + e.Message
}

type DuplicateCodeError struct {
	Code string
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("duplicate code %q", e.Code)
}

// DanglingReferenceError names the question or option holding a reference
// and the code it points at that does not exist in the survey.
type DanglingReferenceError struct {
	Owner   string
	Missing string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s references unknown question %q", e.Owner, e.Missing)
}

// QuestionOwner and OptionOwner format the Owner of a DanglingReferenceError.
func QuestionOwner(code string) string {
	return fmt.Sprintf("question %q", code)
}

func OptionOwner(questionCode, value string) string {
	return fmt.Sprintf("option %q of question %q", value, questionCode)
}
