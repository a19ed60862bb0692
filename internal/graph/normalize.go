package graph

import "strings"

// Normalize converts raw question and option rows into the canonical graph.
// Option rows without a question code or value are dropped; question rows
// without a code fail the whole batch.
func Normalize(rawQuestions []RawQuestion, rawOptions []RawOption) ([]NormalizedQuestion, []NormalizedOption, error) {
	if len(rawQuestions) == 0 {
		return nil, nil, &ValidationError{Message: "at least one question is required"}
	}

	questions := make([]NormalizedQuestion, 0, len(rawQuestions))
	for i, raw := range rawQuestions {
		code := raw.Code.String()
		if code == "" {
			return nil, nil, &ValidationError{Row: i + 1, Field: "code", Message: "question code is required"}
		}
		questions = append(questions, NormalizedQuestion{
			Code:            code,
			Type:            normalizeType(raw.Type),
			Text:            raw.Text.String(),
			DefaultNextCode: normalizeTarget(raw.DefaultNextCode),
		})
	}

	options := make([]NormalizedOption, 0, len(rawOptions))
	for i, raw := range rawOptions {
		if raw.QuestionCode.isBlank() || raw.Value.isBlank() {
			continue
		}
		order, ok := raw.Order.int()
		if !ok {
			order = i
		}
		label := raw.Label.String()
		if label == "" {
			label = raw.Value.String()
		}
		options = append(options, NormalizedOption{
			QuestionCode: raw.QuestionCode.String(),
			Value:        raw.Value.String(),
			Label:        label,
			Order:        order,
			IsOther:      raw.IsOther.bool(),
			JumpToCode:   normalizeTarget(raw.JumpToCode),
		})
	}

	return questions, options, nil
}

// NormalizeAndValidate runs Normalize followed by Validate.
func NormalizeAndValidate(rawQuestions []RawQuestion, rawOptions []RawOption) ([]NormalizedQuestion, []NormalizedOption, error) {
	questions, options, err := Normalize(rawQuestions, rawOptions)
	if err != nil {
		return nil, nil, err
	}
	if err := Validate(questions, options); err != nil {
		return nil, nil, err
	}
	return questions, options, nil
}

func normalizeType(c Cell) QuestionType {
	value := strings.ToUpper(c.String())
	if value == "" {
		return TypeSingle
	}
	return QuestionType(value)
}

// normalizeTarget maps blank cells and the END sentinel to nil.
func normalizeTarget(c Cell) *string {
	value := c.String()
	if value == "" || strings.EqualFold(value, EndSentinel) {
		return nil
	}
	return &value
}
