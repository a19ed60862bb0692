// Package importer reads survey structures from spreadsheets.
package importer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"

	"surveygraph/api/internal/graph"
)

// ErrInvalidWorkbook wraps every error caused by the uploaded file itself.
var ErrInvalidWorkbook = errors.New("invalid workbook")

const (
	questionSheet = "questions"
	optionSheet   = "options"
)

// Header aliases, compared after canonicalHeader.
var (
	questionColumns = map[string][]string{
		"code": {"code", "questioncode", "id"},
		"type": {"type", "questiontype", "kind"},
		"text": {"text", "question", "questiontext", "title"},
		"next": {"next", "defaultnext", "defaultnextcode", "nextcode", "nextquestion"},
	}
	optionColumns = map[string][]string{
		"question": {"questioncode", "question", "qcode"},
		"value":    {"value", "optionvalue", "code"},
		"label":    {"label", "text", "optionlabel"},
		"order":    {"order", "sort", "sortorder", "position"},
		"other":    {"isother", "other"},
		"jump":     {"jump", "jumpto", "jumptocode", "goto", "skipto"},
	}
)

// ReadWorkbook parses an xlsx workbook into raw question and option rows.
// Sheets named "questions" and "options" are used when present, otherwise the
// first and second sheets. The options sheet is optional.
func ReadWorkbook(r io.Reader) ([]graph.RawQuestion, []graph.RawOption, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	qSheet, oSheet := pickSheets(f.GetSheetList())
	if qSheet == "" {
		return nil, nil, fmt.Errorf("%w: no questions sheet", ErrInvalidWorkbook)
	}

	qRows, err := f.GetRows(qSheet)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read sheet %s: %v", ErrInvalidWorkbook, qSheet, err)
	}
	questions, err := parseQuestions(qSheet, qRows)
	if err != nil {
		return nil, nil, err
	}

	var options []graph.RawOption
	if oSheet != "" {
		oRows, err := f.GetRows(oSheet)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read sheet %s: %v", ErrInvalidWorkbook, oSheet, err)
		}
		options, err = parseOptions(oSheet, oRows)
		if err != nil {
			return nil, nil, err
		}
	}
	return questions, options, nil
}

func pickSheets(sheets []string) (string, string) {
	var qSheet, oSheet string
	for _, name := range sheets {
		switch canonicalHeader(name) {
		case questionSheet:
			qSheet = name
		case optionSheet:
			oSheet = name
		}
	}
	if qSheet != "" {
		return qSheet, oSheet
	}
	if len(sheets) > 0 {
		qSheet = sheets[0]
	}
	if len(sheets) > 1 {
		oSheet = sheets[1]
	}
	return qSheet, oSheet
}

func parseQuestions(sheet string, rows [][]string) ([]graph.RawQuestion, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %s is empty", ErrInvalidWorkbook, sheet)
	}
	cols := mapColumns(rows[0], questionColumns)
	if _, ok := cols["code"]; !ok {
		return nil, fmt.Errorf("%w: sheet %s has no code column", ErrInvalidWorkbook, sheet)
	}

	questions := make([]graph.RawQuestion, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		questions = append(questions, graph.RawQuestion{
			Code:            cell(row, cols, "code"),
			Type:            cell(row, cols, "type"),
			Text:            cell(row, cols, "text"),
			DefaultNextCode: cell(row, cols, "next"),
		})
	}
	return questions, nil
}

func parseOptions(sheet string, rows [][]string) ([]graph.RawOption, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	cols := mapColumns(rows[0], optionColumns)
	if _, ok := cols["question"]; !ok {
		return nil, fmt.Errorf("%w: sheet %s has no question code column", ErrInvalidWorkbook, sheet)
	}
	if _, ok := cols["value"]; !ok {
		return nil, fmt.Errorf("%w: sheet %s has no value column", ErrInvalidWorkbook, sheet)
	}

	options := make([]graph.RawOption, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		options = append(options, graph.RawOption{
			QuestionCode: cell(row, cols, "question"),
			Value:        cell(row, cols, "value"),
			Label:        cell(row, cols, "label"),
			Order:        cell(row, cols, "order"),
			IsOther:      cell(row, cols, "other"),
			JumpToCode:   cell(row, cols, "jump"),
		})
	}
	return options, nil
}

// mapColumns resolves each field to the first header cell matching one of its
// aliases.
func mapColumns(header []string, aliases map[string][]string) map[string]int {
	cols := make(map[string]int, len(aliases))
	for i, h := range header {
		name := canonicalHeader(h)
		for field, names := range aliases {
			if _, taken := cols[field]; taken {
				continue
			}
			for _, alias := range names {
				if name == alias {
					cols[field] = i
					break
				}
			}
		}
	}
	return cols
}

func cell(row []string, cols map[string]int, field string) graph.Cell {
	i, ok := cols[field]
	if !ok || i >= len(row) {
		return ""
	}
	return graph.Cell(row[i])
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// canonicalHeader lower-cases and drops everything but letters and digits, so
// "Question Code", "question_code" and "questionCode" compare equal.
func canonicalHeader(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
