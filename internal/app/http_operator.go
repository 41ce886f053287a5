package app

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"siteeditor/api/internal/search"
)

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"operator": map[string]any{
			"id":          session.OperatorID,
			"email":       session.Email,
			"displayName": session.DisplayName,
			"role":        session.Role,
		},
		"expiresAt": session.ExpiresAt.UTC(),
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context(), sessionFrom(r.Context())); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var body CreateOperatorInput
	if !s.decodeAndValidate(w, r, &body) {
		return
	}
	result, err := s.service.CreateOperator(r.Context(), body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"operator": result})
}

func (s *HTTPServer) handleListRequests(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, ok := queryInt(w, query.Get("limit"), "limit")
	if !ok {
		return
	}
	result, err := s.service.ListRequests(r.Context(), RequestFilterInput{
		State:     strings.TrimSpace(query.Get("state")),
		SubjectID: strings.TrimSpace(query.Get("subjectId")),
		Limit:     limit,
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetRequest(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	var body ApproveInput
	if !s.decodeAndValidate(w, r, &body) {
		return
	}
	result, err := s.service.ApproveRequest(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "requestID"), body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	var body RejectInput
	if !s.decodeAndValidate(w, r, &body) {
		return
	}
	result, err := s.service.RejectRequest(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "requestID"), body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, ok := queryInt(w, query.Get("limit"), "limit")
	if !ok {
		return
	}
	openOnly := false
	if raw := strings.TrimSpace(query.Get("open")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "open must be true or false", nil)
			return
		}
		openOnly = parsed
	}
	result, err := s.service.ListEscalations(r.Context(), EscalationFilterInput{
		OpenOnly:  openOnly,
		SubjectID: strings.TrimSpace(query.Get("subjectId")),
		Limit:     limit,
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ResolveEscalation(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "escalationID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleProvisionSubject(w http.ResponseWriter, r *http.Request) {
	var body ProvisionSubjectInput
	if !s.decodeAndValidate(w, r, &body) {
		return
	}
	result, err := s.service.ProvisionSubject(r.Context(), chi.URLParam(r, "subjectID"), body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetDocument(r.Context(), chi.URLParam(r, "subjectID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r.URL.Query().Get("limit"), "limit")
	if !ok {
		return
	}
	result, err := s.service.ListVersions(r.Context(), chi.URLParam(r, "subjectID"), limit)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func versionParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil || version <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be a positive integer", nil)
		return 0, false
	}
	return version, true
}

func (s *HTTPServer) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	result, err := s.service.GetVersion(r.Context(), chi.URLParam(r, "subjectID"), version)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleVersionPDF(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	result, err := s.service.VersionPDF(r.Context(), chi.URLParam(r, "subjectID"), version)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, ok := queryInt(w, query.Get("limit"), "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, query.Get("offset"), "offset")
	if !ok {
		return
	}
	filterType := search.ResultType(strings.TrimSpace(query.Get("type")))
	switch filterType {
	case "", search.ResultEditRequest, search.ResultEscalation:
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be edit_request or escalation", nil)
		return
	}

	result, err := s.service.Search(r.Context(), search.Query{
		Text:            strings.TrimSpace(query.Get("q")),
		FilterType:      filterType,
		FilterSubjectID: strings.TrimSpace(query.Get("subjectId")),
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryInt parses an optional non-negative integer parameter, writing a 422
// when it is malformed.
func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be a non-negative integer", nil)
		return 0, false
	}
	return value, true
}
