package graph

import "strings"

// Node is the part of a question the resolver needs: its type, its default
// successor and the jump target carried by each option value.
type Node struct {
	Code            string
	Type            QuestionType
	DefaultNextCode *string
	Options         []Branch
}

// Branch pairs an option value with its optional jump target.
type Branch struct {
	Value      string
	JumpToCode *string
}

// Answer is a submitted answer as seen by the resolver.
type Answer struct {
	OptionValue  *string
	OptionValues []string
	OtherText    *string
}

// SelectedValues lists the option values an answer selects, in submission
// order. MULTI questions read OptionValues, every other type reads the single
// OptionValue.
func SelectedValues(questionType QuestionType, answer Answer) []string {
	if questionType == TypeMulti {
		selected := make([]string, 0, len(answer.OptionValues))
		for _, v := range answer.OptionValues {
			if v = strings.TrimSpace(v); v != "" {
				selected = append(selected, v)
			}
		}
		return selected
	}
	if answer.OptionValue == nil {
		return nil
	}
	if v := strings.TrimSpace(*answer.OptionValue); v != "" {
		return []string{v}
	}
	return nil
}

// ResolveNext returns the code of the question that follows node for the
// given answer, or nil when the survey is complete. The first selected value
// whose option carries a jump target wins; otherwise the default successor
// applies.
func ResolveNext(node Node, answer Answer) *string {
	jumps := make(map[string]*string, len(node.Options))
	for _, b := range node.Options {
		if _, seen := jumps[b.Value]; !seen {
			jumps[b.Value] = b.JumpToCode
		}
	}

	for _, value := range SelectedValues(node.Type, answer) {
		if target := jumps[value]; target != nil {
			next := *target
			return &next
		}
	}

	if node.DefaultNextCode != nil {
		next := *node.DefaultNextCode
		return &next
	}
	return nil
}
