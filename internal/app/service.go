package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"surveygraph/api/internal/archive"
	"surveygraph/api/internal/auth"
	"surveygraph/api/internal/config"
	"surveygraph/api/internal/logging"
	"surveygraph/api/internal/rbac"
	"surveygraph/api/internal/search"
	"surveygraph/api/internal/session"
	"surveygraph/api/internal/store"
)

type dataStore interface {
	WithinTx(ctx context.Context, fn func(store.Tx) error) error
	ListSurveys(ctx context.Context) ([]store.Survey, error)
	GetSurvey(ctx context.Context, surveyID string) (store.Survey, error)
	InsertSurvey(ctx context.Context, item store.Survey) error
	UpdateSurvey(ctx context.Context, surveyID string, patch store.SurveyPatch) (store.Survey, error)
	DeleteSurvey(ctx context.Context, surveyID string) error
	LoadStructure(ctx context.Context, surveyID string) (store.Structure, error)
	Ping(ctx context.Context) error
}

type sessionTracker interface {
	Track(ctx context.Context, resumeToken string, record session.Record) error
	ActiveSessions(ctx context.Context, surveyID string) (int64, error)
	ForgetSurvey(ctx context.Context, surveyID string) error
	Ping(ctx context.Context) error
}

type questionIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	ReplaceSurvey(ctx context.Context, staleIDs []string, records []search.QuestionRecord) error
	DeleteSurvey(ctx context.Context, questionIDs []string) error
}

type revisionArchive interface {
	Save(ctx context.Context, snapshot archive.Snapshot) (archive.Revision, error)
	List(ctx context.Context, surveyID string) ([]archive.Revision, error)
	Load(ctx context.Context, surveyID, key string) (archive.Snapshot, error)
}

// Service runs the survey engine against a dataStore. The session tracker,
// question index and revision archive are optional; each is best-effort and
// never fails a committed operation.
type Service struct {
	cfg         config.Config
	store       dataStore
	tracker     sessionTracker
	index       questionIndex
	archive     revisionArchive
	credentials auth.Credentials
	validate    *validator.Validate
	logger      *slog.Logger
}

func New(cfg config.Config, dataStore dataStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:         cfg,
		store:       dataStore,
		credentials: auth.NewCredentials(cfg.AdminTokenHash, cfg.ViewerTokenHash),
		validate:    validator.New(),
		logger:      logger,
	}
}

func (s *Service) UseSessionTracker(tracker sessionTracker) {
	s.tracker = tracker
}

func (s *Service) UseQuestionIndex(index questionIndex) {
	s.index = index
}

func (s *Service) UseRevisionArchive(revisions revisionArchive) {
	s.archive = revisions
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions checks the session tracker. configured is false when
// tracking is disabled.
func (s *Service) PingSessions(ctx context.Context) (configured bool, err error) {
	if s.tracker == nil {
		return false, nil
	}
	return true, s.tracker.Ping(ctx)
}

// AuthRequired reports whether operator routes need a bearer token.
func (s *Service) AuthRequired() bool {
	return s.credentials.Enabled()
}

func (s *Service) Authenticate(token string) (rbac.Role, error) {
	return s.credentials.Authenticate(token)
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

// Search finds questions by code, text or option label.
func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Total: 0, Query: q.Text}
	}
	return s.index.Search(ctx, q)
}

// checkInput runs struct validation and reports failures as one 400 error
// listing every failing field.
func (s *Service) checkInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}
	details := make([]map[string]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, map[string]string{
			"field": fieldPath(fe.Namespace()),
			"rule":  fe.Tag(),
		})
	}
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", details)
}

// fieldPath drops the struct name validator puts in front of a namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func (s *Service) warn(ctx context.Context, msg string, args ...any) {
	s.loggerFrom(ctx).Warn(msg, args...)
}

func (s *Service) loggerFrom(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, s.logger)
}
