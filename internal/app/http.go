package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"surveygraph/api/internal/archive"
	"surveygraph/api/internal/auth"
	"surveygraph/api/internal/graph"
	"surveygraph/api/internal/importer"
	"surveygraph/api/internal/logging"
	"surveygraph/api/internal/rbac"
	"surveygraph/api/internal/search"
	"surveygraph/api/internal/store"
)

const maxWorkbookBytes = 10 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	limiter    *IPRateLimiter
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, limiter *IPRateLimiter, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, limiter: limiter, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		// session tracking is best effort, so an outage does not fail readiness
		if configured, err := s.service.PingSessions(ctx); configured {
			if err != nil {
				checks["sessions"] = map[string]any{"status": "error", "error": err.Error()}
			} else {
				checks["sessions"] = map[string]any{"status": "ok"}
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Respondent routes are public and rate limited per client IP.
	if len(parts) >= 4 && parts[1] == "surveys" && parts[3] == "responses" {
		if !s.limiter.Allow(s.limiter.ClientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		s.handleResponses(w, r, parts[2], parts[4:])
		return
	}

	role, ok := s.requireOperator(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.service.Can(role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		query := search.Query{
			Text:     strings.TrimSpace(r.URL.Query().Get("q")),
			SurveyID: strings.TrimSpace(r.URL.Query().Get("surveyId")),
		}
		var err error
		if query.Limit, err = queryInt(r, "limit", 20); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		if query.Offset, err = queryInt(r, "offset", 0); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), query))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/structure/validate" {
		if !s.service.Can(role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body StructureInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ValidateStructure(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/surveys" {
		s.handleSurveyCollection(w, r, role)
		return
	}

	if parts[1] == "surveys" && len(parts) >= 3 {
		surveyID := parts[2]
		switch {
		case len(parts) == 3:
			s.handleSurvey(w, r, role, surveyID)
		case parts[3] == "structure":
			s.handleStructure(w, r, role, surveyID, parts[4:])
		case parts[3] == "revisions":
			s.handleRevisions(w, r, role, surveyID, parts[4:])
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSurveyCollection(w http.ResponseWriter, r *http.Request, role rbac.Role) {
	if r.Method == http.MethodGet {
		if !s.service.Can(role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		items, err := s.service.ListSurveys(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"surveys": items})
		return
	}

	if r.Method == http.MethodPost {
		if !s.service.Can(role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body CreateSurveyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateSurvey(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleSurvey(w http.ResponseWriter, r *http.Request, role rbac.Role, surveyID string) {
	if r.Method == http.MethodGet {
		if !s.service.Can(role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		payload, err := s.service.GetSurvey(r.Context(), surveyID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPatch {
		if !s.service.Can(role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body UpdateSurveyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateSurvey(r.Context(), surveyID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodDelete {
		if !s.service.Can(role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		if err := s.service.DeleteSurvey(r.Context(), surveyID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleStructure(w http.ResponseWriter, r *http.Request, role rbac.Role, surveyID string, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodGet {
		if !s.service.Can(role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		payload, err := s.service.GetStructure(r.Context(), surveyID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 0 && r.Method == http.MethodPut {
		if !s.service.Can(role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body StructureInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ImportStructure(r.Context(), surveyID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 1 && rest[0] == "import" && r.Method == http.MethodPost {
		if !s.service.Can(role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		body, err := workbookBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		defer body.Close()
		payload, err := s.service.ImportWorkbook(r.Context(), surveyID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) > 1 || (len(rest) == 1 && rest[0] != "import") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleRevisions(w http.ResponseWriter, r *http.Request, role rbac.Role, surveyID string, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodGet {
		if !s.service.Can(role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		items, err := s.service.ListRevisions(r.Context(), surveyID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": items})
		return
	}

	if len(rest) == 1 && rest[0] == "restore" && r.Method == http.MethodPost {
		if !s.service.Can(role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Key string `json:"key"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RestoreRevision(r.Context(), surveyID, body.Key)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleResponses(w http.ResponseWriter, r *http.Request, surveyID string, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodPost {
		var body SubmitInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SubmitAnswers(r.Context(), surveyID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodGet {
		payload, err := s.service.Resume(r.Context(), surveyID, rest[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) > 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// requireOperator resolves the caller's role. With no operator tokens
// configured every caller is treated as admin.
func (s *HTTPServer) requireOperator(w http.ResponseWriter, r *http.Request) (rbac.Role, bool) {
	if !s.service.AuthRequired() {
		return rbac.RoleAdmin, true
	}
	role, err := s.service.Authenticate(auth.BearerToken(r.Header.Get("Authorization")))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return "", false
	}
	return role, true
}

// fail writes the mapped error and logs anything that maps to a 500.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContextOr(r.Context(), s.logger).Error("request failed", "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		logger := s.logger.With("request_id", requestID)
		r = r.WithContext(logging.WithLogger(r.Context(), logger))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// workbookBody accepts either a raw xlsx body or a multipart form with the
// workbook in the "file" field.
func workbookBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWorkbookBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing workbook file: %w", err)
		}
		return file, nil
	}
	return r.Body, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validationErr *graph.ValidationError
	if errors.As(err, &validationErr) {
		details := map[string]any{"field": validationErr.Field}
		if validationErr.Row > 0 {
			details["row"] = validationErr.Row
		}
		return http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Message, details
	}
	var duplicateErr *graph.DuplicateCodeError
	if errors.As(err, &duplicateErr) {
		return http.StatusUnprocessableEntity, "DUPLICATE_CODE", duplicateErr.Error(), map[string]any{"code": duplicateErr.Code}
	}
	var danglingErr *graph.DanglingReferenceError
	if errors.As(err, &danglingErr) {
		return http.StatusUnprocessableEntity, "DANGLING_REFERENCE", danglingErr.Error(), map[string]any{
			"owner":   danglingErr.Owner,
			"missing": danglingErr.Missing,
		}
	}

	if errors.Is(err, importer.ErrInvalidWorkbook) {
		return http.StatusBadRequest, "INVALID_WORKBOOK", err.Error(), nil
	}
	if errors.Is(err, archive.ErrRevisionNotFound) || errors.Is(err, archive.ErrInvalidKey) {
		return http.StatusNotFound, "REVISION_NOT_FOUND", "Revision not found", nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrCheckViolation) {
		return http.StatusBadRequest, "VALIDATION_ERROR", "Value rejected by storage constraint", nil
	}
	if errors.Is(err, store.ErrUniqueViolation) || errors.Is(err, store.ErrForeignKeyFailed) {
		return http.StatusConflict, "CONFLICT", "Conflicting write", nil
	}
	if errors.Is(err, auth.ErrMissingToken) || errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
