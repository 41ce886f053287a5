package search

import (
	"context"
	"log/slog"

	"siteeditor/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	meili    *Meili
	fallback *SQLFallback
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *SQLFallback, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Indexing reports whether index writes currently reach Meilisearch.
func (s *Service) Indexing() bool {
	return s.meiliReady()
}

// Search tries Meilisearch if healthy, otherwise falls back to SQL.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.WarnContext(ctx, "meilisearch error, falling back to sql", "error", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.ErrorContext(ctx, "sql search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text, Backend: "sql"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "sql"}
}

// IndexEditRequest pushes a request to Meilisearch (fire-and-forget).
func (s *Service) IndexEditRequest(req store.EditRequest) {
	if !s.meiliReady() {
		return
	}
	record := EditRequestFromStore(req)
	go func() {
		if err := s.meili.IndexEditRequests([]EditRequestRecord{record}); err != nil {
			s.logger.Warn("index edit request", "edit_request_id", record.ID, "error", err)
		}
	}()
}

// IndexEscalation pushes an escalation to Meilisearch (fire-and-forget).
func (s *Service) IndexEscalation(esc store.Escalation) {
	if !s.meiliReady() {
		return
	}
	record := EscalationFromStore(esc)
	go func() {
		if err := s.meili.IndexEscalations([]EscalationRecord{record}); err != nil {
			s.logger.Warn("index escalation", "escalation_id", record.ID, "error", err)
		}
	}()
}

// ReindexAll pushes every given record to Meilisearch. Called during
// bootstrap when Meilisearch is reachable.
func (s *Service) ReindexAll(requests []store.EditRequest, escalations []store.Escalation) {
	if !s.meiliReady() {
		return
	}
	reqRecords := make([]EditRequestRecord, 0, len(requests))
	for _, req := range requests {
		reqRecords = append(reqRecords, EditRequestFromStore(req))
	}
	escRecords := make([]EscalationRecord, 0, len(escalations))
	for _, esc := range escalations {
		escRecords = append(escRecords, EscalationFromStore(esc))
	}
	if err := s.meili.IndexEditRequests(reqRecords); err != nil {
		s.logger.Warn("reindex edit requests", "error", err)
	}
	if err := s.meili.IndexEscalations(escRecords); err != nil {
		s.logger.Warn("reindex escalations", "error", err)
	}
}

func EditRequestFromStore(req store.EditRequest) EditRequestRecord {
	return EditRequestRecord{
		ID:          req.ID,
		SubjectID:   req.SubjectID,
		RequestText: req.RequestText,
		EditSummary: req.EditSummary,
		State:       req.State,
		Tier:        req.Tier,
		CreatedAt:   unixMillis(req.CreatedAt),
	}
}

func EscalationFromStore(esc store.Escalation) EscalationRecord {
	return EscalationRecord{
		ID:            esc.ID,
		SubjectID:     esc.SubjectID,
		EditRequestID: esc.EditRequestID,
		Kind:          esc.Kind,
		Reason:        esc.Reason,
		Open:          esc.ResolvedAt == nil,
		CreatedAt:     unixMillis(esc.CreatedAt),
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
