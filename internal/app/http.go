package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"studyhub/api/internal/engagement"
	"studyhub/api/internal/export"
	"studyhub/api/internal/identity"
	"studyhub/api/internal/media"
	"studyhub/api/internal/report"
	"studyhub/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	viewers    *identity.Provider
}

func NewHTTPServer(service *Service, corsOrigin string, viewers *identity.Provider) *HTTPServer {
	if viewers == nil {
		viewers = identity.NewProvider(service.cfg.ViewerSecret, service.cfg.ViewerTTL)
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, viewers: viewers}
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

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/metrics" {
		if s.service.Metrics() == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.service.Metrics().Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/identity" {
		viewer := viewerFromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"viewerId": viewer.ID, "fresh": viewer.Fresh})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/reports/generate" {
		var body ReportInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.GenerateReport(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		sessionID, _ := strconv.ParseInt(query.Get("sessionId"), 10, 64)
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		payload, err := s.service.Search(r.Context(), query.Get("q"), query.Get("kind"), sessionID, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/sessions" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListSessions(r.Context())
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body SessionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateSession(r.Context(), body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "sessions" {
		sessionID, ok := parseID(w, parts[2], "sessionId")
		if !ok {
			return
		}
		s.handleSession(w, r, sessionID, parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleSession serves everything below /api/sessions/{sid}.
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, sessionID int64, rest []string) {
	ctx := r.Context()
	viewer := viewerFromContext(ctx)

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetSession(ctx, sessionID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			var body SessionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateSession(ctx, sessionID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteSession(ctx, sessionID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 2 && rest[0] == "comments" && r.Method == http.MethodDelete {
		commentID, ok := parseID(w, rest[1], "commentId")
		if !ok {
			return
		}
		if err := s.service.RemoveComment(ctx, commentID, sessionID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	kind := rest[0]

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListContent(ctx, kind, sessionID, viewer.ID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			s.handleCreateContent(w, r, kind, sessionID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	entityID, ok := parseID(w, rest[1], "id")
	if !ok {
		return
	}

	if len(rest) == 2 && r.Method == http.MethodDelete {
		if err := s.service.DeleteContent(ctx, kind, entityID, sessionID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	action := rest[2]

	if action == "like" && r.Method == http.MethodPost {
		payload, err := s.service.ToggleLike(ctx, kind, entityID, sessionID, viewer.ID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if action == "engagement" && r.Method == http.MethodGet {
		payload, err := s.service.Engagement(ctx, kind, entityID, viewer.ID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if action == "comments" && r.Method == http.MethodGet {
		payload, err := s.service.ListComments(ctx, kind, entityID, sessionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if action == "comments" && r.Method == http.MethodPost {
		var body CommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddComment(ctx, kind, entityID, sessionID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if action == "export" && r.Method == http.MethodGet {
		if parsed, err := engagement.ParseKind(kind); err != nil || parsed != engagement.KindTopic {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		result, err := s.service.ExportTopic(ctx, sessionID, entityID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCreateContent(w http.ResponseWriter, r *http.Request, kindValue string, sessionID int64) {
	kind, err := engagement.ParseKind(kindValue)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	var payload map[string]any
	switch kind {
	case engagement.KindNews:
		var body NewsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err = s.service.CreateNews(r.Context(), sessionID, body)
	case engagement.KindTopic:
		var body TopicInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err = s.service.CreateTopic(r.Context(), sessionID, body)
	default:
		var body EvidenceInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err = s.service.CreateEvidence(r.Context(), sessionID, body)
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("")
		}
		viewer := s.viewers.Resolve(r)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = context.WithValue(ctx, viewerKey{}, viewer)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set(identity.HeaderName, viewer.ID)
		if viewer.Fresh && r.Method != http.MethodOptions {
			if cookie, err := s.viewers.Cookie(viewer.ID); err == nil {
				http.SetCookie(writer, cookie)
			}
		}

		next.ServeHTTP(writer, r)

		duration := time.Since(started)
		s.service.Metrics().RecordHTTPRequest(r.Method, writer.status, duration)
		logger := s.service.Logger()
		logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type viewerKey struct{}

func viewerFromContext(ctx context.Context) identity.Viewer {
	viewer, _ := ctx.Value(viewerKey{}).(identity.Viewer)
	return viewer
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	if corsOrigin != "*" {
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Add("Vary", "Origin")
	}
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, "+identity.HeaderName)
	header.Set("Access-Control-Expose-Headers", identity.HeaderName)
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// parseID writes a validation error and returns false when value is not a
// positive integer.
func parseID(w http.ResponseWriter, value, field string) (int64, bool) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", field+" must be a positive integer", map[string]any{field: value})
		return 0, false
	}
	return id, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if engagement.IsValidation(err) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, media.ErrNotImage) || errors.Is(err, media.ErrMalformedData) || errors.Is(err, media.ErrImageTooLarge) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, report.ErrEmptyTitle) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil
	}
	if errors.Is(err, report.ErrUpstream) {
		return http.StatusBadGateway, "REPORT_GENERATION_FAILED", "Report generation failed", nil
	}
	if errors.Is(err, export.ErrReportMissing) {
		return http.StatusNotFound, "NOT_FOUND", "Topic has no generated report", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	}
	return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Store unavailable", nil
}
