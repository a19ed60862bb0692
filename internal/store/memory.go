package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process store with the same transactional contract as
// PostgresStore. Each transaction works on a copy of the data that replaces
// the live copy only on commit.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
	now  func() time.Time
}

type memData struct {
	seq          int64
	surveys      map[string]Survey
	surveyOrder  map[string]int64
	questions    map[string]Question
	questionNext map[string]string
	options      map[string]Option
	responses    map[string]Response
	answers      map[string]Answer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			surveys:      map[string]Survey{},
			surveyOrder:  map[string]int64{},
			questions:    map[string]Question{},
			questionNext: map[string]string{},
			options:      map[string]Option{},
			responses:    map[string]Response{},
			answers:      map[string]Answer{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (d *memData) clone() *memData {
	out := &memData{
		seq:          d.seq,
		surveys:      make(map[string]Survey, len(d.surveys)),
		surveyOrder:  make(map[string]int64, len(d.surveyOrder)),
		questions:    make(map[string]Question, len(d.questions)),
		questionNext: make(map[string]string, len(d.questionNext)),
		options:      make(map[string]Option, len(d.options)),
		responses:    make(map[string]Response, len(d.responses)),
		answers:      make(map[string]Answer, len(d.answers)),
	}
	for k, v := range d.surveys {
		out.surveys[k] = v
	}
	for k, v := range d.surveyOrder {
		out.surveyOrder[k] = v
	}
	for k, v := range d.questions {
		out.questions[k] = v
	}
	for k, v := range d.questionNext {
		out.questionNext[k] = v
	}
	for k, v := range d.options {
		out.options[k] = v
	}
	for k, v := range d.responses {
		out.responses[k] = v
	}
	for k, v := range d.answers {
		out.answers[k] = v
	}
	return out
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := fn(&memTx{data: working, now: s.now}); err != nil {
		return err
	}
	s.data = working
	return nil
}

func (s *MemoryStore) ListSurveys(_ context.Context) ([]Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Survey, 0, len(s.data.surveys))
	for _, item := range s.data.surveys {
		items = append(items, item)
	}
	order := s.data.surveyOrder
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return order[items[i].ID] > order[items[j].ID]
	})
	return items, nil
}

func (s *MemoryStore) GetSurvey(_ context.Context, surveyID string) (Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.data.surveys[surveyID]
	if !ok {
		return Survey{}, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) InsertSurvey(_ context.Context, item Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.surveys[item.ID]; exists {
		return ErrUniqueViolation
	}
	now := s.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.data.seq++
	s.data.surveys[item.ID] = item
	s.data.surveyOrder[item.ID] = s.data.seq
	return nil
}

func (s *MemoryStore) UpdateSurvey(_ context.Context, surveyID string, patch SurveyPatch) (Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.data.surveys[surveyID]
	if !ok {
		return Survey{}, ErrNotFound
	}
	if patch.Title != nil {
		item.Title = *patch.Title
	}
	if patch.Description != nil {
		item.Description = *patch.Description
	}
	if patch.Active != nil {
		item.Active = *patch.Active
	}
	item.UpdatedAt = s.now()
	s.data.surveys[surveyID] = item
	return item, nil
}

func (s *MemoryStore) DeleteSurvey(_ context.Context, surveyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.surveys[surveyID]; !ok {
		return ErrNotFound
	}
	tx := &memTx{data: s.data, now: s.now}
	tx.deleteAnswers(surveyID)
	tx.deleteResponses(surveyID)
	tx.deleteOptions(surveyID)
	tx.deleteQuestions(surveyID)
	delete(s.data.surveys, surveyID)
	delete(s.data.surveyOrder, surveyID)
	return nil
}

func (s *MemoryStore) LoadStructure(_ context.Context, surveyID string) (Structure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{data: s.data, now: s.now}
	questions := tx.surveyQuestions(surveyID)
	position := make(map[string]int, len(questions))
	for _, q := range questions {
		position[q.ID] = q.Position
	}

	options := make([]Option, 0)
	for _, o := range s.data.options {
		if _, ok := position[o.QuestionID]; ok {
			options = append(options, tx.resolveOption(o))
		}
	}
	sort.Slice(options, func(i, j int) bool {
		a, b := options[i], options[j]
		if position[a.QuestionID] != position[b.QuestionID] {
			return position[a.QuestionID] < position[b.QuestionID]
		}
		return optionLess(a, b)
	})
	return Structure{Questions: questions, Options: options}, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memTx struct {
	data *memData
	now  func() time.Time
}

func (t *memTx) GetSurvey(_ context.Context, surveyID string) (Survey, error) {
	item, ok := t.data.surveys[surveyID]
	if !ok {
		return Survey{}, ErrNotFound
	}
	return item, nil
}

// LockSurvey needs no extra locking; memory transactions are serialised.
func (t *memTx) LockSurvey(ctx context.Context, surveyID string) (Survey, error) {
	return t.GetSurvey(ctx, surveyID)
}

func (t *memTx) DeleteSurveyAnswers(_ context.Context, surveyID string) (int64, error) {
	return t.deleteAnswers(surveyID), nil
}

func (t *memTx) DeleteSurveyResponses(_ context.Context, surveyID string) (int64, error) {
	return t.deleteResponses(surveyID), nil
}

func (t *memTx) DeleteSurveyOptions(_ context.Context, surveyID string) (int64, error) {
	return t.deleteOptions(surveyID), nil
}

func (t *memTx) DeleteSurveyQuestions(_ context.Context, surveyID string) ([]string, error) {
	return t.deleteQuestions(surveyID), nil
}

func (t *memTx) InsertQuestion(_ context.Context, question Question) error {
	if _, ok := t.data.surveys[question.SurveyID]; !ok {
		return ErrForeignKeyFailed
	}
	if _, exists := t.data.questions[question.ID]; exists {
		return ErrUniqueViolation
	}
	for _, q := range t.data.questions {
		if q.SurveyID == question.SurveyID && q.Code == question.Code {
			return ErrUniqueViolation
		}
	}
	question.DefaultNextCode = nil
	t.data.questions[question.ID] = question
	return nil
}

func (t *memTx) SetQuestionNext(_ context.Context, questionID string, nextQuestionID *string) error {
	if _, ok := t.data.questions[questionID]; !ok {
		return ErrNotFound
	}
	if nextQuestionID == nil {
		delete(t.data.questionNext, questionID)
		return nil
	}
	if _, ok := t.data.questions[*nextQuestionID]; !ok {
		return ErrForeignKeyFailed
	}
	t.data.questionNext[questionID] = *nextQuestionID
	return nil
}

func (t *memTx) InsertOptions(_ context.Context, options []Option) error {
	seen := make(map[[2]string]bool)
	for _, o := range t.data.options {
		seen[[2]string{o.QuestionID, o.Value}] = true
	}
	for _, o := range options {
		if _, ok := t.data.questions[o.QuestionID]; !ok {
			return ErrForeignKeyFailed
		}
		if o.JumpQuestionID != nil {
			if _, ok := t.data.questions[*o.JumpQuestionID]; !ok {
				return ErrForeignKeyFailed
			}
		}
		key := [2]string{o.QuestionID, o.Value}
		if _, exists := t.data.options[o.ID]; exists || seen[key] {
			return ErrUniqueViolation
		}
		seen[key] = true
		o.QuestionCode = ""
		o.JumpToCode = nil
		t.data.options[o.ID] = o
	}
	return nil
}

func (t *memTx) GetQuestion(_ context.Context, questionID string) (Question, error) {
	q, ok := t.data.questions[questionID]
	if !ok {
		return Question{}, ErrNotFound
	}
	return t.resolveQuestion(q), nil
}

func (t *memTx) GetQuestionByCode(_ context.Context, surveyID, code string) (Question, error) {
	for _, q := range t.data.questions {
		if q.SurveyID == surveyID && q.Code == code {
			return t.resolveQuestion(q), nil
		}
	}
	return Question{}, ErrNotFound
}

func (t *memTx) ListQuestionOptions(_ context.Context, questionID string) ([]Option, error) {
	items := make([]Option, 0)
	for _, o := range t.data.options {
		if o.QuestionID == questionID {
			items = append(items, t.resolveOption(o))
		}
	}
	sort.Slice(items, func(i, j int) bool { return optionLess(items[i], items[j]) })
	return items, nil
}

func (t *memTx) FindResponseByToken(_ context.Context, resumeToken string) (Response, error) {
	for _, r := range t.data.responses {
		if r.ResumeToken == resumeToken {
			return r, nil
		}
	}
	return Response{}, ErrNotFound
}

func (t *memTx) InsertResponse(_ context.Context, response Response) error {
	if _, ok := t.data.surveys[response.SurveyID]; !ok {
		return ErrForeignKeyFailed
	}
	for _, r := range t.data.responses {
		if r.ResumeToken == response.ResumeToken {
			return ErrTokenTaken
		}
		if r.ID == response.ID {
			return ErrUniqueViolation
		}
	}
	now := t.now()
	response.CreatedAt = now
	response.UpdatedAt = now
	response.CompletedAt = nil
	t.data.responses[response.ID] = response
	return nil
}

func (t *memTx) TouchResponse(_ context.Context, responseID string, sessionID, respondentID *string) error {
	r, ok := t.data.responses[responseID]
	if !ok {
		return ErrNotFound
	}
	if sessionID != nil {
		r.SessionID = copyString(sessionID)
	}
	if respondentID != nil {
		r.RespondentID = copyString(respondentID)
	}
	r.UpdatedAt = t.now()
	t.data.responses[responseID] = r
	return nil
}

func (t *memTx) SetResponseStatus(_ context.Context, responseID, status string) error {
	r, ok := t.data.responses[responseID]
	if !ok {
		return ErrNotFound
	}
	now := t.now()
	r.Status = status
	r.UpdatedAt = now
	if status == StatusCompleted {
		if r.CompletedAt == nil {
			r.CompletedAt = &now
		}
	} else {
		r.CompletedAt = nil
	}
	t.data.responses[responseID] = r
	return nil
}

func (t *memTx) UpsertAnswer(_ context.Context, answer Answer) error {
	if _, ok := t.data.responses[answer.ResponseID]; !ok {
		return ErrForeignKeyFailed
	}
	if _, ok := t.data.questions[answer.QuestionID]; !ok {
		return ErrForeignKeyFailed
	}

	t.data.seq++
	answer.Seq = t.data.seq
	answer.AnsweredAt = t.now()
	answer.QuestionCode = ""
	answer.OptionValue = copyString(answer.OptionValue)
	answer.OtherText = copyString(answer.OtherText)
	if answer.OptionValues != nil {
		answer.OptionValues = append([]string(nil), answer.OptionValues...)
	}

	for id, existing := range t.data.answers {
		if existing.ResponseID == answer.ResponseID && existing.QuestionID == answer.QuestionID {
			answer.ID = id
			break
		}
	}
	t.data.answers[answer.ID] = answer
	return nil
}

func (t *memTx) ListAnswers(_ context.Context, responseID string) ([]Answer, error) {
	items := make([]Answer, 0)
	for _, a := range t.data.answers {
		if a.ResponseID != responseID {
			continue
		}
		if q, ok := t.data.questions[a.QuestionID]; ok {
			a.QuestionCode = q.Code
		}
		items = append(items, a)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

func (t *memTx) surveyQuestions(surveyID string) []Question {
	items := make([]Question, 0)
	for _, q := range t.data.questions {
		if q.SurveyID == surveyID {
			items = append(items, t.resolveQuestion(q))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items
}

func (t *memTx) resolveQuestion(q Question) Question {
	q.DefaultNextCode = nil
	if nextID, ok := t.data.questionNext[q.ID]; ok {
		if next, ok := t.data.questions[nextID]; ok {
			code := next.Code
			q.DefaultNextCode = &code
		}
	}
	return q
}

func (t *memTx) resolveOption(o Option) Option {
	if q, ok := t.data.questions[o.QuestionID]; ok {
		o.QuestionCode = q.Code
	}
	o.JumpToCode = nil
	if o.JumpQuestionID != nil {
		if target, ok := t.data.questions[*o.JumpQuestionID]; ok {
			code := target.Code
			o.JumpToCode = &code
		}
	}
	return o
}

func (t *memTx) deleteAnswers(surveyID string) int64 {
	var n int64
	for id, a := range t.data.answers {
		if r, ok := t.data.responses[a.ResponseID]; ok && r.SurveyID == surveyID {
			delete(t.data.answers, id)
			n++
		}
	}
	return n
}

func (t *memTx) deleteResponses(surveyID string) int64 {
	var n int64
	for id, r := range t.data.responses {
		if r.SurveyID == surveyID {
			delete(t.data.responses, id)
			n++
		}
	}
	return n
}

func (t *memTx) deleteOptions(surveyID string) int64 {
	var n int64
	for id, o := range t.data.options {
		if q, ok := t.data.questions[o.QuestionID]; ok && q.SurveyID == surveyID {
			delete(t.data.options, id)
			n++
		}
	}
	return n
}

// deleteQuestions also clears pointers held by other rows, matching
// ON DELETE SET NULL.
func (t *memTx) deleteQuestions(surveyID string) []string {
	ids := []string{}
	for id, q := range t.data.questions {
		if q.SurveyID != surveyID {
			continue
		}
		delete(t.data.questions, id)
		delete(t.data.questionNext, id)
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for from, to := range t.data.questionNext {
		if _, ok := t.data.questions[to]; !ok {
			delete(t.data.questionNext, from)
		}
	}
	for id, o := range t.data.options {
		if o.JumpQuestionID != nil {
			if _, ok := t.data.questions[*o.JumpQuestionID]; !ok {
				o.JumpQuestionID = nil
				t.data.options[id] = o
			}
		}
	}
	return ids
}

func optionLess(a, b Option) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.Value < b.Value
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	s := *value
	return &s
}
