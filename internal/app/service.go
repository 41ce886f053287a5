package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"siteeditor/api/internal/archive"
	"siteeditor/api/internal/auth"
	"siteeditor/api/internal/authpw"
	"siteeditor/api/internal/config"
	"siteeditor/api/internal/editflow"
	"siteeditor/api/internal/export"
	"siteeditor/api/internal/rbac"
	"siteeditor/api/internal/search"
	"siteeditor/api/internal/store"
	"siteeditor/api/internal/util"
)

// bootstrapIndexLimit caps how many rows are pushed to the search index at
// startup.
const bootstrapIndexLimit = 200

type Session struct {
	Token       string
	OperatorID  string
	Email       string
	DisplayName string
	Role        string
	JTI         string
	ExpiresAt   time.Time
}

type dataStore interface {
	Ping(context.Context) error
	UpsertSubject(context.Context, store.Subject) error
	GetSubject(context.Context, string) (store.Subject, error)
	EnsureDocument(context.Context, string, string, string) (store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	GetEditRequest(context.Context, string) (store.EditRequest, error)
	ListEditRequests(context.Context, store.EditRequestFilter) ([]store.EditRequest, error)
	GetEscalation(context.Context, string) (store.Escalation, error)
	ListEscalations(context.Context, store.EscalationFilter) ([]store.Escalation, error)
	ResolveEscalation(context.Context, string, string) (bool, error)
	GetOperator(context.Context, string) (store.Operator, error)
}

type versionArchive interface {
	Record(ctx context.Context, doc store.Document, content, source string, version int64) (store.VersionSnapshot, error)
	List(ctx context.Context, subjectID string, limit int) ([]store.VersionSnapshot, error)
	Get(ctx context.Context, subjectID string, version int64) (store.VersionSnapshot, error)
}

type revocationStore interface {
	RevokeAccessToken(ctx context.Context, jti, operatorID string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Deps are the collaborators a Service is built from. Revocations, Search and
// Export may be nil.
type Deps struct {
	Store       dataStore
	Router      *editflow.Router
	Archive     versionArchive
	Search      *search.Service
	Export      *export.Service
	Auth        *authpw.Service
	Revocations revocationStore
	// Checks are extra readiness probes keyed by name, e.g. "redis".
	Checks map[string]func(context.Context) error
	Logger *slog.Logger
}

type Service struct {
	cfg         config.Config
	store       dataStore
	router      *editflow.Router
	confirmer   *editflow.Confirmer
	reviewer    *editflow.Reviewer
	archive     versionArchive
	search      *search.Service
	export      *export.Service
	auth        *authpw.Service
	revocations revocationStore
	checks      map[string]func(context.Context) error
	logger      *slog.Logger
	now         func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checks := map[string]func(context.Context) error{
		"database": deps.Store.Ping,
	}
	for name, check := range deps.Checks {
		checks[name] = check
	}
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		router:      deps.Router,
		confirmer:   editflow.NewConfirmer(deps.Router),
		reviewer:    editflow.NewReviewer(deps.Router),
		archive:     deps.Archive,
		search:      deps.Search,
		export:      deps.Export,
		auth:        deps.Auth,
		revocations: deps.Revocations,
		checks:      checks,
		logger:      logger,
		now:         time.Now,
	}
}

// Bootstrap prepares a freshly started process: the first operator account,
// flush timers for requests held before a restart, and the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.auth != nil {
		created, err := s.auth.EnsureBootstrapOperator(ctx, s.cfg.BootstrapOperatorEmail, s.cfg.BootstrapOperatorPassword)
		if err != nil {
			return fmt.Errorf("bootstrap operator: %w", err)
		}
		if created {
			s.logger.InfoContext(ctx, "bootstrap operator created", "email", s.cfg.BootstrapOperatorEmail)
		}
	}

	subjects, err := s.router.Reschedule(ctx)
	if err != nil {
		return fmt.Errorf("reschedule held requests: %w", err)
	}
	if subjects > 0 {
		s.logger.InfoContext(ctx, "rearmed batch flushes", "subjects", subjects)
	}

	if s.search != nil && s.search.Indexing() {
		requests, err := s.store.ListEditRequests(ctx, store.EditRequestFilter{Limit: bootstrapIndexLimit})
		if err != nil {
			return fmt.Errorf("list requests for index: %w", err)
		}
		escalations, err := s.store.ListEscalations(ctx, store.EscalationFilter{Limit: bootstrapIndexLimit})
		if err != nil {
			return fmt.Errorf("list escalations for index: %w", err)
		}
		s.search.ReindexAll(requests, escalations)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ReadinessChecks returns the named probes behind /api/ready.
func (s *Service) ReadinessChecks() map[string]func(context.Context) error {
	return s.checks
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Requester channel

// HandleInbound takes one requester message. A subject with a shown edit
// awaiting a reply gets the message treated as that reply; otherwise it is a
// new edit instruction.
func (s *Service) HandleInbound(ctx context.Context, subjectID, text string) (editflow.Outcome, error) {
	subjectID = strings.TrimSpace(subjectID)
	if _, err := s.store.GetSubject(ctx, subjectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return editflow.Outcome{}, domainError(http.StatusNotFound, "SUBJECT_NOT_FOUND", "Unknown subject", nil)
		}
		return editflow.Outcome{}, err
	}

	outcome, err := s.confirmer.HandleReply(ctx, subjectID, text)
	if errors.Is(err, editflow.ErrNoOpenRequest) {
		outcome, err = s.router.Submit(ctx, subjectID, text)
	}
	if err != nil {
		return editflow.Outcome{}, err
	}
	if outcome.Failure != nil {
		s.logger.WarnContext(ctx, "inbound message not applied",
			"subject_id", subjectID,
			"edit_request_id", outcome.RequestID,
			"error", outcome.Failure,
		)
	}
	s.indexRequest(ctx, outcome.RequestID)
	return outcome, nil
}

// Operator sessions

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	if s.auth == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	op, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(op)
}

func (s *Service) issueSession(op store.Operator) (Session, error) {
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   op.ID,
		Email: op.Email,
		Role:  op.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		OperatorID:  op.ID,
		Email:       op.Email,
		DisplayName: op.DisplayName,
		Role:        op.Role,
		JTI:         jti,
		ExpiresAt:   expiresAt,
	}, nil
}

// SessionFromToken verifies a bearer token and loads the operator behind it.
// The role always comes from the stored operator, not the token.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseTokenAt([]byte(s.cfg.JWTSecret), token, s.now())
	if err != nil {
		return Session{}, err
	}
	if s.revocations != nil {
		revoked, err := s.revocations.IsAccessTokenRevoked(ctx, claims.JTI)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	op, err := s.store.GetOperator(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:       token,
		OperatorID:  op.ID,
		Email:       op.Email,
		DisplayName: op.DisplayName,
		Role:        op.Role,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if s.revocations == nil || session.JTI == "" {
		return nil
	}
	return s.revocations.RevokeAccessToken(ctx, session.JTI, session.OperatorID, session.ExpiresAt)
}

type CreateOperatorInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	DisplayName string `json:"displayName" validate:"max=120"`
	Role        string `json:"role" validate:"omitempty,oneof=viewer reviewer admin"`
}

func (s *Service) CreateOperator(ctx context.Context, input CreateOperatorInput) (map[string]any, error) {
	if s.auth == nil {
		return nil, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	op, err := s.auth.CreateOperator(ctx, authpw.CreateRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
		Role:        input.Role,
	})
	if err != nil {
		return nil, err
	}
	return operatorPayload(op), nil
}

// Edit requests

type RequestFilterInput struct {
	State     string
	SubjectID string
	Limit     int
}

func (s *Service) ListRequests(ctx context.Context, filter RequestFilterInput) (map[string]any, error) {
	if filter.State != "" && !editflow.State(filter.State).Valid() {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown state", map[string]any{"state": filter.State})
	}
	requests, err := s.store.ListEditRequests(ctx, store.EditRequestFilter{
		State:     filter.State,
		SubjectID: filter.SubjectID,
		Limit:     filter.Limit,
	})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(requests))
	for _, req := range requests {
		items = append(items, editRequestPayload(req))
	}
	return map[string]any{"requests": items}, nil
}

func (s *Service) GetRequest(ctx context.Context, requestID string) (map[string]any, error) {
	req, err := s.store.GetEditRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	escalations, err := s.store.ListEscalations(ctx, store.EscalationFilter{EditRequestID: req.ID})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(escalations))
	for _, esc := range escalations {
		items = append(items, escalationPayload(esc))
	}
	payload := editRequestPayload(req)
	payload["escalations"] = items
	return map[string]any{"request": payload}, nil
}

type ApproveInput struct {
	ApplyDraft bool   `json:"applyDraft"`
	Note       string `json:"note" validate:"max=2000"`
}

func (s *Service) ApproveRequest(ctx context.Context, session Session, requestID string, input ApproveInput) (map[string]any, error) {
	req, err := s.reviewer.Approve(ctx, requestID, session.OperatorID, editflow.ApproveInput{
		ApplyDraft: input.ApplyDraft,
		Note:       strings.TrimSpace(input.Note),
	})
	if err != nil {
		return nil, err
	}
	s.indexRequest(ctx, req.ID)
	return map[string]any{"request": editRequestPayload(req)}, nil
}

type RejectInput struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

func (s *Service) RejectRequest(ctx context.Context, session Session, requestID string, input RejectInput) (map[string]any, error) {
	req, err := s.reviewer.Reject(ctx, requestID, session.OperatorID, input.Reason)
	if err != nil {
		return nil, err
	}
	s.indexRequest(ctx, req.ID)
	return map[string]any{"request": editRequestPayload(req)}, nil
}

// Escalations

type EscalationFilterInput struct {
	OpenOnly  bool
	SubjectID string
	Limit     int
}

func (s *Service) ListEscalations(ctx context.Context, filter EscalationFilterInput) (map[string]any, error) {
	escalations, err := s.store.ListEscalations(ctx, store.EscalationFilter{
		OpenOnly:  filter.OpenOnly,
		SubjectID: filter.SubjectID,
		Limit:     filter.Limit,
	})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(escalations))
	for _, esc := range escalations {
		items = append(items, escalationPayload(esc))
	}
	return map[string]any{"escalations": items}, nil
}

// ResolveEscalation closes one escalation without touching its request.
func (s *Service) ResolveEscalation(ctx context.Context, session Session, escalationID string) (map[string]any, error) {
	resolved, err := s.store.ResolveEscalation(ctx, escalationID, session.OperatorID)
	if err != nil {
		return nil, err
	}
	esc, err := s.store.GetEscalation(ctx, escalationID)
	if err != nil {
		return nil, err
	}
	if !resolved {
		return nil, domainError(http.StatusConflict, "ALREADY_RESOLVED", "Escalation is already resolved", escalationPayload(esc))
	}
	if s.search != nil {
		s.search.IndexEscalation(esc)
	}
	return map[string]any{"escalation": escalationPayload(esc)}, nil
}

// Subjects and documents

type ProvisionSubjectInput struct {
	Name         string `json:"name" validate:"required,max=200"`
	ContactEmail string `json:"contactEmail" validate:"omitempty,email"`
	Content      string `json:"content"`
}

// ProvisionSubject creates or renames a subject. Content seeds the document
// only when the subject has none yet.
func (s *Service) ProvisionSubject(ctx context.Context, subjectID string, input ProvisionSubjectInput) (map[string]any, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "subjectId is required", nil)
	}
	if err := s.store.UpsertSubject(ctx, store.Subject{
		ID:           subjectID,
		Name:         strings.TrimSpace(input.Name),
		ContactEmail: strings.TrimSpace(input.ContactEmail),
	}); err != nil {
		return nil, err
	}
	doc, err := s.store.EnsureDocument(ctx, util.NewID("doc"), subjectID, input.Content)
	if err != nil {
		return nil, err
	}
	if err := s.recordSeed(ctx, doc); err != nil {
		return nil, err
	}
	subject, err := s.store.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"subject": map[string]any{
			"id":           subject.ID,
			"name":         subject.Name,
			"contactEmail": subject.ContactEmail,
			"createdAt":    subject.CreatedAt,
		},
		"document": documentPayload(doc),
	}, nil
}

// recordSeed archives the document's first version when its history is empty.
func (s *Service) recordSeed(ctx context.Context, doc store.Document) error {
	existing, err := s.archive.List(ctx, doc.SubjectID, 1)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = s.archive.Record(ctx, doc, doc.Content, archive.SourceSeed, doc.Version)
	return err
}

func (s *Service) GetDocument(ctx context.Context, subjectID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	payload := documentPayload(doc)
	payload["content"] = doc.Content
	return map[string]any{"document": payload}, nil
}

func (s *Service) ListVersions(ctx context.Context, subjectID string, limit int) (map[string]any, error) {
	snapshots, err := s.archive.List(ctx, subjectID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(snapshots))
	for _, snap := range snapshots {
		items = append(items, map[string]any{
			"version":   snap.Version,
			"source":    snap.Source,
			"size":      len(snap.Content),
			"preview":   util.Truncate(snap.Content, 120),
			"createdAt": snap.CreatedAt,
		})
	}
	return map[string]any{"subjectId": subjectID, "versions": items}, nil
}

func (s *Service) GetVersion(ctx context.Context, subjectID string, version int64) (map[string]any, error) {
	snap, err := s.archive.Get(ctx, subjectID, version)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"version": map[string]any{
			"subjectId": snap.SubjectID,
			"version":   snap.Version,
			"source":    snap.Source,
			"content":   snap.Content,
			"createdAt": snap.CreatedAt,
		},
	}, nil
}

func (s *Service) VersionPDF(ctx context.Context, subjectID string, version int64) (export.Result, error) {
	if s.export == nil {
		return export.Result{}, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not configured", nil)
	}
	return s.export.VersionPDF(ctx, subjectID, version)
}

// Search

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(ctx, q), nil
}

// indexRequest pushes a request and its escalations to the search index.
func (s *Service) indexRequest(ctx context.Context, requestID string) {
	if requestID == "" || s.search == nil || !s.search.Indexing() {
		return
	}
	req, err := s.store.GetEditRequest(ctx, requestID)
	if err != nil {
		s.logger.WarnContext(ctx, "index lookup failed", "edit_request_id", requestID, "error", err)
		return
	}
	s.search.IndexEditRequest(req)
	escalations, err := s.store.ListEscalations(ctx, store.EscalationFilter{EditRequestID: requestID})
	if err != nil {
		s.logger.WarnContext(ctx, "index lookup failed", "edit_request_id", requestID, "error", err)
		return
	}
	for _, esc := range escalations {
		s.search.IndexEscalation(esc)
	}
}

func editRequestPayload(req store.EditRequest) map[string]any {
	failed := req.FailedSearches
	if failed == nil {
		failed = []string{}
	}
	return map[string]any{
		"id":             req.ID,
		"subjectId":      req.SubjectID,
		"requestText":    req.RequestText,
		"instruction":    req.SanitizedInstruction,
		"flagged":        req.Flagged,
		"flagReason":     req.FlagReason,
		"tier":           req.Tier,
		"state":          req.State,
		"label":          editflow.Label(req),
		"baseVersion":    req.BaseVersion,
		"savedVersion":   req.SavedVersion,
		"editSummary":    req.EditSummary,
		"failedSearches": failed,
		"hasSnapshot":    req.PreEditSnapshot != nil,
		"approvedBy":     req.ApprovedBy,
		"approvedAt":     req.ApprovedAt,
		"revertedAt":     req.RevertedAt,
		"heldUntil":      req.HeldUntil,
		"createdAt":      req.CreatedAt,
		"updatedAt":      req.UpdatedAt,
	}
}

func escalationPayload(esc store.Escalation) map[string]any {
	return map[string]any{
		"id":               esc.ID,
		"subjectId":        esc.SubjectID,
		"editRequestId":    esc.EditRequestID,
		"kind":             esc.Kind,
		"reason":           esc.Reason,
		"hasDraft":         esc.DraftContent != nil,
		"draftContent":     esc.DraftContent,
		"draftBaseVersion": esc.DraftBaseVersion,
		"open":             esc.ResolvedAt == nil,
		"createdAt":        esc.CreatedAt,
		"resolvedAt":       esc.ResolvedAt,
		"resolvedBy":       esc.ResolvedBy,
	}
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":              doc.ID,
		"subjectId":       doc.SubjectID,
		"version":         doc.Version,
		"releasedVersion": doc.ReleasedVersion,
		"updatedAt":       doc.UpdatedAt,
	}
}

func operatorPayload(op store.Operator) map[string]any {
	return map[string]any{
		"id":          op.ID,
		"email":       op.Email,
		"displayName": op.DisplayName,
		"role":        op.Role,
		"createdAt":   op.CreatedAt,
	}
}
