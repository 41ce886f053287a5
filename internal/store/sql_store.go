package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// SQLStore is the persistence layer for subjects, documents, edit requests,
// escalations, version snapshots and operators. Queries are written once in
// PostgreSQL placeholder style and rebound for SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// WithClock replaces the timestamp source; tests pin it.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) q(query string) string {
	return rebind(s.dialect, query)
}

func (s *SQLStore) stamp(t time.Time) any {
	t = t.UTC()
	if s.dialect == DialectSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func (s *SQLStore) stampPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.stamp(*t)
}

// Subjects

func (s *SQLStore) UpsertSubject(ctx context.Context, subject Subject) error {
	createdAt := subject.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO subjects (id, name, contact_email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, contact_email=EXCLUDED.contact_email
	`), subject.ID, subject.Name, subject.ContactEmail, s.stamp(createdAt))
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSubject(ctx context.Context, subjectID string) (Subject, error) {
	var item Subject
	var createdAt dbTime
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, name, contact_email, created_at FROM subjects WHERE id=$1
	`), subjectID).Scan(&item.ID, &item.Name, &item.ContactEmail, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Subject{}, fmt.Errorf("get subject %s: %w", subjectID, ErrNotFound)
	}
	if err != nil {
		return Subject{}, fmt.Errorf("get subject: %w", err)
	}
	item.CreatedAt = createdAt.Time
	return item, nil
}

// Documents

// EnsureDocument creates the subject's document at version 1 when it does not
// exist yet and returns the stored row either way.
func (s *SQLStore) EnsureDocument(ctx context.Context, documentID, subjectID, content string) (Document, error) {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO documents (id, subject_id, content, version, released_version, updated_at)
		VALUES ($1, $2, $3, 1, 1, $4)
		ON CONFLICT (subject_id) DO NOTHING
	`), documentID, subjectID, content, s.stamp(s.now()))
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return s.GetDocument(ctx, subjectID)
}

func (s *SQLStore) GetDocument(ctx context.Context, subjectID string) (Document, error) {
	var item Document
	var updatedAt dbTime
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, subject_id, content, version, released_version, updated_at
		FROM documents
		WHERE subject_id=$1
	`), subjectID).Scan(&item.ID, &item.SubjectID, &item.Content, &item.Version, &item.ReleasedVersion, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("get document for subject %s: %w", subjectID, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	item.UpdatedAt = updatedAt.Time
	return item, nil
}

// SaveDocument writes content only if the document is still at expectedVersion,
// bumping the version by one in the same statement. A stale expectedVersion
// yields a *ConflictError and leaves the row untouched.
func (s *SQLStore) SaveDocument(ctx context.Context, subjectID, content string, expectedVersion int64) (int64, error) {
	var newVersion int64
	err := s.db.QueryRowContext(ctx, s.q(`
		UPDATE documents
		SET content=$1, version=version+1, updated_at=$2
		WHERE subject_id=$3 AND version=$4
		RETURNING version
	`), content, s.stamp(s.now()), subjectID, expectedVersion).Scan(&newVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &ConflictError{SubjectID: subjectID, Expected: expectedVersion}
	}
	if err != nil {
		return 0, fmt.Errorf("save document: %w", err)
	}
	return newVersion, nil
}

// MarkReleased records that version is the promoted release. It never moves
// the released version backwards.
func (s *SQLStore) MarkReleased(ctx context.Context, subjectID string, version int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE documents SET released_version=$1 WHERE subject_id=$2 AND released_version < $3
	`), version, subjectID, version)
	if err != nil {
		return fmt.Errorf("mark released: %w", err)
	}
	return nil
}

// Edit requests

const editRequestColumns = `
	id, subject_id, request_text, sanitized_instruction, flagged, flag_reason, tier, state,
	pre_edit_snapshot, post_edit_content, base_version, saved_version, edit_summary, failed_searches,
	approved_by, approved_at, reverted_at, held_until, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEditRequest(row rowScanner) (EditRequest, error) {
	var item EditRequest
	var preEdit, postEdit sql.NullString
	var failed string
	var approvedAt, revertedAt, heldUntil, createdAt, updatedAt dbTime
	err := row.Scan(
		&item.ID,
		&item.SubjectID,
		&item.RequestText,
		&item.SanitizedInstruction,
		&item.Flagged,
		&item.FlagReason,
		&item.Tier,
		&item.State,
		&preEdit,
		&postEdit,
		&item.BaseVersion,
		&item.SavedVersion,
		&item.EditSummary,
		&failed,
		&item.ApprovedBy,
		&approvedAt,
		&revertedAt,
		&heldUntil,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return EditRequest{}, err
	}
	if preEdit.Valid {
		item.PreEditSnapshot = &preEdit.String
	}
	if postEdit.Valid {
		item.PostEditContent = &postEdit.String
	}
	item.FailedSearches = []string{}
	if failed != "" {
		if err := json.Unmarshal([]byte(failed), &item.FailedSearches); err != nil {
			return EditRequest{}, fmt.Errorf("decode failed searches: %w", err)
		}
	}
	item.ApprovedAt = approvedAt.ptr()
	item.RevertedAt = revertedAt.ptr()
	item.HeldUntil = heldUntil.ptr()
	item.CreatedAt = createdAt.Time
	item.UpdatedAt = updatedAt.Time
	return item, nil
}

func encodeSearches(searches []string) (string, error) {
	if searches == nil {
		searches = []string{}
	}
	raw, err := json.Marshal(searches)
	if err != nil {
		return "", fmt.Errorf("encode failed searches: %w", err)
	}
	return string(raw), nil
}

func (s *SQLStore) CreateEditRequest(ctx context.Context, item EditRequest) error {
	failed, err := encodeSearches(item.FailedSearches)
	if err != nil {
		return err
	}
	now := s.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO edit_requests (`+editRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`),
		item.ID,
		item.SubjectID,
		item.RequestText,
		item.SanitizedInstruction,
		item.Flagged,
		item.FlagReason,
		item.Tier,
		item.State,
		item.PreEditSnapshot,
		item.PostEditContent,
		item.BaseVersion,
		item.SavedVersion,
		item.EditSummary,
		failed,
		item.ApprovedBy,
		s.stampPtr(item.ApprovedAt),
		s.stampPtr(item.RevertedAt),
		s.stampPtr(item.HeldUntil),
		s.stamp(item.CreatedAt),
		s.stamp(now),
	)
	if err != nil {
		return fmt.Errorf("insert edit request: %w", err)
	}
	return nil
}

func (s *SQLStore) GetEditRequest(ctx context.Context, id string) (EditRequest, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+editRequestColumns+` FROM edit_requests WHERE id=$1`), id)
	item, err := scanEditRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return EditRequest{}, fmt.Errorf("get edit request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return EditRequest{}, fmt.Errorf("get edit request: %w", err)
	}
	return item, nil
}

// TransitionEditRequest moves a request from one state to another, applying the
// patch in the same statement. It returns false when the request is no longer
// in the from state, so two concurrent deciders cannot both win. The pre-edit
// snapshot is only ever written while it is still NULL.
func (s *SQLStore) TransitionEditRequest(ctx context.Context, id, from, to string, patch EditRequestPatch) (bool, error) {
	sets := []string{"state=$1", "updated_at=$2"}
	args := []any{to, s.stamp(s.now())}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	if patch.Tier != nil {
		add("tier", *patch.Tier)
	}
	if patch.PreEditSnapshot != nil {
		args = append(args, *patch.PreEditSnapshot)
		sets = append(sets, fmt.Sprintf("pre_edit_snapshot=COALESCE(pre_edit_snapshot, $%d)", len(args)))
	}
	if patch.PostEditContent != nil {
		add("post_edit_content", *patch.PostEditContent)
	}
	if patch.BaseVersion != nil {
		add("base_version", *patch.BaseVersion)
	}
	if patch.SavedVersion != nil {
		add("saved_version", *patch.SavedVersion)
	}
	if patch.EditSummary != nil {
		add("edit_summary", *patch.EditSummary)
	}
	if patch.FailedSearches != nil {
		failed, err := encodeSearches(patch.FailedSearches)
		if err != nil {
			return false, err
		}
		add("failed_searches", failed)
	}
	if patch.ApprovedBy != nil {
		add("approved_by", *patch.ApprovedBy)
	}
	if patch.ApprovedAt != nil {
		add("approved_at", s.stamp(*patch.ApprovedAt))
	}
	if patch.RevertedAt != nil {
		add("reverted_at", s.stamp(*patch.RevertedAt))
	}
	switch {
	case patch.ClearHold:
		sets = append(sets, "held_until=NULL")
	case patch.HeldUntil != nil:
		add("held_until", s.stamp(*patch.HeldUntil))
	}

	args = append(args, id, from)
	query := fmt.Sprintf(`UPDATE edit_requests SET %s WHERE id=$%d AND state=$%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, fmt.Errorf("transition edit request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition edit request rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) ListEditRequests(ctx context.Context, filter EditRequestFilter) ([]EditRequest, error) {
	var where []string
	var args []any
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		where = append(where, fmt.Sprintf("subject_id=$%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		where = append(where, fmt.Sprintf("state=$%d", len(args)))
	}
	args = append(args, clampLimit(filter.Limit))

	query := `SELECT ` + editRequestColumns + ` FROM edit_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	return s.queryEditRequests(ctx, "list edit requests", query, args...)
}

// LatestOpenEditRequest returns the subject's newest request still waiting on
// a requester reply: awaiting approval, or auto-confirmed but neither
// acknowledged nor reverted. It returns nil when there is none.
func (s *SQLStore) LatestOpenEditRequest(ctx context.Context, subjectID string) (*EditRequest, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+editRequestColumns+`
		FROM edit_requests
		WHERE subject_id=$1
			AND (
				state='awaiting_approval'
				OR (state='confirmed' AND approved_at IS NULL AND reverted_at IS NULL AND saved_version > 0)
			)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`), subjectID)
	item, err := scanEditRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open edit request: %w", err)
	}
	return &item, nil
}

func (s *SQLStore) RecentEditSummaries(ctx context.Context, subjectID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT edit_summary
		FROM edit_requests
		WHERE subject_id=$1
			AND state IN ('confirmed', 'awaiting_approval')
			AND reverted_at IS NULL
			AND edit_summary <> ''
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`), subjectID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list edit summaries: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("scan edit summary: %w", err)
		}
		items = append(items, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edit summaries: %w", err)
	}
	return items, nil
}

// ListHeldEditRequests returns pending requests parked by rate limiting, oldest
// first. An empty subjectID lists every subject.
func (s *SQLStore) ListHeldEditRequests(ctx context.Context, subjectID string) ([]EditRequest, error) {
	query := `SELECT ` + editRequestColumns + ` FROM edit_requests WHERE state='pending' AND held_until IS NOT NULL`
	var args []any
	if subjectID != "" {
		query += ` AND subject_id=$1`
		args = append(args, subjectID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return s.queryEditRequests(ctx, "list held edit requests", query, args...)
}

// SearchEditRequests is a case-insensitive substring search over request text
// and edit summaries.
func (s *SQLStore) SearchEditRequests(ctx context.Context, query string, limit int) ([]EditRequest, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	return s.queryEditRequests(ctx, "search edit requests", `
		SELECT `+editRequestColumns+`
		FROM edit_requests
		WHERE LOWER(request_text) LIKE $1 OR LOWER(edit_summary) LIKE $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, pattern, pattern, clampLimit(limit))
}

func (s *SQLStore) queryEditRequests(ctx context.Context, op, query string, args ...any) ([]EditRequest, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]EditRequest, 0)
	for rows.Next() {
		item, err := scanEditRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edit request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edit requests: %w", err)
	}
	return items, nil
}

// Escalations

const escalationColumns = `
	id, subject_id, edit_request_id, kind, reason, draft_content, draft_base_version,
	created_at, resolved_at, resolved_by`

func scanEscalation(row rowScanner) (Escalation, error) {
	var item Escalation
	var draft sql.NullString
	var createdAt, resolvedAt dbTime
	err := row.Scan(
		&item.ID,
		&item.SubjectID,
		&item.EditRequestID,
		&item.Kind,
		&item.Reason,
		&draft,
		&item.DraftBaseVersion,
		&createdAt,
		&resolvedAt,
		&item.ResolvedBy,
	)
	if err != nil {
		return Escalation{}, err
	}
	if draft.Valid {
		item.DraftContent = &draft.String
	}
	item.CreatedAt = createdAt.Time
	item.ResolvedAt = resolvedAt.ptr()
	return item, nil
}

func (s *SQLStore) CreateEscalation(ctx context.Context, item Escalation) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO escalations (`+escalationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`),
		item.ID,
		item.SubjectID,
		item.EditRequestID,
		item.Kind,
		item.Reason,
		item.DraftContent,
		item.DraftBaseVersion,
		s.stamp(item.CreatedAt),
		s.stampPtr(item.ResolvedAt),
		item.ResolvedBy,
	)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

func (s *SQLStore) GetEscalation(ctx context.Context, id string) (Escalation, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+escalationColumns+` FROM escalations WHERE id=$1`), id)
	item, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Escalation{}, fmt.Errorf("get escalation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Escalation{}, fmt.Errorf("get escalation: %w", err)
	}
	return item, nil
}

// AttachEscalationDraft stores non-authoritative draft content together with
// the document version it was generated against.
func (s *SQLStore) AttachEscalationDraft(ctx context.Context, id, content string, baseVersion int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE escalations SET draft_content=$1, draft_base_version=$2 WHERE id=$3
	`), content, baseVersion, id)
	if err != nil {
		return fmt.Errorf("attach escalation draft: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("attach escalation draft %s: %w", id, ErrNotFound)
	}
	return nil
}

// LatestDraftEscalation returns the newest escalation for the request that
// carries a draft, or nil.
func (s *SQLStore) LatestDraftEscalation(ctx context.Context, editRequestID string) (*Escalation, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+escalationColumns+`
		FROM escalations
		WHERE edit_request_id=$1 AND draft_content IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`), editRequestID)
	item, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get draft escalation: %w", err)
	}
	return &item, nil
}

func (s *SQLStore) ListEscalations(ctx context.Context, filter EscalationFilter) ([]Escalation, error) {
	var where []string
	var args []any
	if filter.OpenOnly {
		where = append(where, "resolved_at IS NULL")
	}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		where = append(where, fmt.Sprintf("subject_id=$%d", len(args)))
	}
	if filter.EditRequestID != "" {
		args = append(args, filter.EditRequestID)
		where = append(where, fmt.Sprintf("edit_request_id=$%d", len(args)))
	}
	args = append(args, clampLimit(filter.Limit))

	query := `SELECT ` + escalationColumns + ` FROM escalations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	items := make([]Escalation, 0)
	for rows.Next() {
		item, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalations: %w", err)
	}
	return items, nil
}

func (s *SQLStore) ResolveEscalation(ctx context.Context, id, resolvedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE escalations SET resolved_at=$1, resolved_by=$2 WHERE id=$3 AND resolved_at IS NULL
	`), s.stamp(s.now()), resolvedBy, id)
	if err != nil {
		return false, fmt.Errorf("resolve escalation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve escalation rows: %w", err)
	}
	return affected > 0, nil
}

// ResolveEscalationsForRequest closes every open escalation of a request.
func (s *SQLStore) ResolveEscalationsForRequest(ctx context.Context, editRequestID, resolvedBy string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE escalations SET resolved_at=$1, resolved_by=$2 WHERE edit_request_id=$3 AND resolved_at IS NULL
	`), s.stamp(s.now()), resolvedBy, editRequestID)
	if err != nil {
		return fmt.Errorf("resolve request escalations: %w", err)
	}
	return nil
}

// Version snapshots

// InsertSnapshot appends a snapshot and prunes the document's history down to
// the newest keep entries inside one transaction.
func (s *SQLStore) InsertSnapshot(ctx context.Context, snap VersionSnapshot, keep int) (VersionSnapshot, error) {
	if keep < 1 {
		keep = 1
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return VersionSnapshot{}, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, s.q(`
		INSERT INTO version_snapshots (document_id, subject_id, content, source, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`), snap.DocumentID, snap.SubjectID, snap.Content, snap.Source, snap.Version, s.stamp(snap.CreatedAt)).Scan(&snap.ID)
	if err != nil {
		return VersionSnapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		DELETE FROM version_snapshots
		WHERE document_id=$1
			AND id NOT IN (
				SELECT id FROM version_snapshots WHERE document_id=$2 ORDER BY id DESC LIMIT $3
			)
	`), snap.DocumentID, snap.DocumentID, keep)
	if err != nil {
		return VersionSnapshot{}, fmt.Errorf("prune snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return VersionSnapshot{}, fmt.Errorf("commit snapshot: %w", err)
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	return snap, nil
}

const snapshotColumns = `id, document_id, subject_id, content, source, version, created_at`

func scanSnapshot(row rowScanner) (VersionSnapshot, error) {
	var item VersionSnapshot
	var createdAt dbTime
	if err := row.Scan(&item.ID, &item.DocumentID, &item.SubjectID, &item.Content, &item.Source, &item.Version, &createdAt); err != nil {
		return VersionSnapshot{}, err
	}
	item.CreatedAt = createdAt.Time
	return item, nil
}

// ListSnapshots returns the subject's snapshots newest first.
func (s *SQLStore) ListSnapshots(ctx context.Context, subjectID string, limit int) ([]VersionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+snapshotColumns+`
		FROM version_snapshots
		WHERE subject_id=$1
		ORDER BY id DESC
		LIMIT $2
	`), subjectID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	items := make([]VersionSnapshot, 0)
	for rows.Next() {
		item, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return items, nil
}

// GetSnapshot returns the newest snapshot recorded for a document version.
func (s *SQLStore) GetSnapshot(ctx context.Context, subjectID string, version int64) (VersionSnapshot, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+snapshotColumns+`
		FROM version_snapshots
		WHERE subject_id=$1 AND version=$2
		ORDER BY id DESC
		LIMIT 1
	`), subjectID, version)
	item, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionSnapshot{}, fmt.Errorf("get snapshot v%d: %w", version, ErrNotFound)
	}
	if err != nil {
		return VersionSnapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return item, nil
}

// Operators

func (s *SQLStore) CreateOperator(ctx context.Context, item Operator) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO operators (id, email, display_name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`), item.ID, strings.ToLower(strings.TrimSpace(item.Email)), item.DisplayName, item.PasswordHash, item.Role, s.stamp(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

func (s *SQLStore) GetOperatorByEmail(ctx context.Context, email string) (Operator, error) {
	return s.getOperator(ctx, `email=$1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *SQLStore) GetOperator(ctx context.Context, id string) (Operator, error) {
	return s.getOperator(ctx, `id=$1`, id)
}

func (s *SQLStore) getOperator(ctx context.Context, where string, arg string) (Operator, error) {
	var item Operator
	var createdAt dbTime
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, email, display_name, password_hash, role, created_at FROM operators WHERE `+where,
	), arg).Scan(&item.ID, &item.Email, &item.DisplayName, &item.PasswordHash, &item.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Operator{}, fmt.Errorf("get operator: %w", ErrNotFound)
	}
	if err != nil {
		return Operator{}, fmt.Errorf("get operator: %w", err)
	}
	item.CreatedAt = createdAt.Time
	return item, nil
}

func (s *SQLStore) CountOperators(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count operators: %w", err)
	}
	return count, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
