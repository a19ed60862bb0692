package graph

// Validate checks the canonical graph before anything is persisted. It fails
// on the first violation, in this order: duplicate question codes, options of
// unknown questions, dangling default-next pointers, dangling jump targets,
// duplicate option values within one question.
func Validate(questions []NormalizedQuestion, options []NormalizedOption) error {
	codes := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		if _, dup := codes[q.Code]; dup {
			return &DuplicateCodeError{Code: q.Code}
		}
		codes[q.Code] = struct{}{}
	}

	for _, o := range options {
		if _, ok := codes[o.QuestionCode]; !ok {
			return &DanglingReferenceError{Owner: OptionOwner(o.QuestionCode, o.Value), Missing: o.QuestionCode}
		}
	}

	for _, q := range questions {
		if q.DefaultNextCode == nil {
			continue
		}
		if _, ok := codes[*q.DefaultNextCode]; !ok {
			return &DanglingReferenceError{Owner: QuestionOwner(q.Code), Missing: *q.DefaultNextCode}
		}
	}

	for _, o := range options {
		if o.JumpToCode == nil {
			continue
		}
		if _, ok := codes[*o.JumpToCode]; !ok {
			return &DanglingReferenceError{Owner: OptionOwner(o.QuestionCode, o.Value), Missing: *o.JumpToCode}
		}
	}

	values := make(map[[2]string]struct{}, len(options))
	for _, o := range options {
		key := [2]string{o.QuestionCode, o.Value}
		if _, dup := values[key]; dup {
			return &DuplicateCodeError{Code: o.QuestionCode + "/" + o.Value}
		}
		values[key] = struct{}{}
	}

	return nil
}
