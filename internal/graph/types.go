// Package graph holds the survey graph engine: normalizing raw question and
// option rows into a canonical graph, validating its references, and
// resolving the next question for a submitted answer.
package graph

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type QuestionType string

const (
	TypeSingle QuestionType = "SINGLE"
	TypeMulti  QuestionType = "MULTI"
	TypeText   QuestionType = "TEXT"
)

// EndSentinel marks an explicit end of survey in a next or jump column.
const EndSentinel = "END"

// Cell is a loosely typed input value. Spreadsheet rows deliver every cell as
// text while UI payloads may send numbers or booleans for the same field.
type Cell string

func (c *Cell) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*c = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Cell(s)
		return nil
	}
	// numbers and booleans keep their literal text
	*c = Cell(raw)
	return nil
}

func (c Cell) String() string {
	return strings.TrimSpace(string(c))
}

func (c Cell) isBlank() bool {
	return c.String() == ""
}

// int parses an integral cell that fits the stored INTEGER column. Spreadsheet
// numbers such as "4.0" are accepted; fractions, NaN, infinities and values
// outside the int32 range are not.
func (c Cell) int() (int, bool) {
	s := c.String()
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int(n), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func (c Cell) bool() bool {
	switch strings.ToLower(c.String()) {
	case "1", "true", "yes", "y", "x":
		return true
	default:
		return false
	}
}

// RawQuestion is one question row as delivered by an input source.
type RawQuestion struct {
	Code            Cell `json:"code"`
	Type            Cell `json:"type"`
	Text            Cell `json:"text"`
	DefaultNextCode Cell `json:"defaultNextCode"`
}

// RawOption is one option row as delivered by an input source.
type RawOption struct {
	QuestionCode Cell `json:"questionCode"`
	Value        Cell `json:"value"`
	Label        Cell `json:"label"`
	Order        Cell `json:"order"`
	IsOther      Cell `json:"isOther"`
	JumpToCode   Cell `json:"jumpToCode"`
}

type NormalizedQuestion struct {
	Code            string       `json:"code"`
	Type            QuestionType `json:"type"`
	Text            string       `json:"text"`
	DefaultNextCode *string      `json:"defaultNextCode"`
}

type NormalizedOption struct {
	QuestionCode string  `json:"questionCode"`
	Value        string  `json:"value"`
	Label        string  `json:"label"`
	Order        int     `json:"order"`
	IsOther      bool    `json:"isOther"`
	JumpToCode   *string `json:"jumpToCode"`
}
