package editflow

import (
	"context"
	"fmt"
	"strings"

	"siteeditor/api/internal/archive"
	"siteeditor/api/internal/notify"
	"siteeditor/api/internal/store"
)

// Reviewer applies operator decisions to requests that need a person.
type Reviewer struct {
	*core
}

func NewReviewer(router *Router) *Reviewer {
	return &Reviewer{core: router.core}
}

type ApproveInput struct {
	// ApplyDraft saves the escalation's draft content against the version it
	// was generated from.
	ApplyDraft bool
	Note       string
}

// Approve confirms an awaiting_approval or escalated request on behalf of
// operatorID.
func (r *Reviewer) Approve(ctx context.Context, requestID, operatorID string, in ApproveInput) (store.EditRequest, error) {
	ctx = context.WithoutCancel(ctx)
	req, err := r.store.GetEditRequest(ctx, requestID)
	if err != nil {
		return store.EditRequest{}, err
	}

	switch State(req.State) {
	case StateAwaitingApproval:
		if err := r.approve(ctx, &req, operatorID); err != nil {
			return store.EditRequest{}, err
		}

	case StateEscalated:
		if in.ApplyDraft {
			if err := r.applyDraft(ctx, &req, operatorID); err != nil {
				return store.EditRequest{}, err
			}
		} else if err := r.approve(ctx, &req, operatorID); err != nil {
			return store.EditRequest{}, err
		}

	default:
		return store.EditRequest{}, fmt.Errorf("%w: cannot approve a %s request", ErrInvalidTransition, req.State)
	}

	r.resolve(ctx, req, operatorID)
	trigger := notify.TriggerEditApproved
	if req.SavedVersion <= 0 {
		trigger = notify.TriggerRequestClosed
	}
	r.tell(ctx, req, trigger, in.Note)
	r.logger.InfoContext(ctx, "edit request approved",
		"edit_request_id", req.ID,
		"operator_id", operatorID,
		"applied_draft", in.ApplyDraft,
	)
	return req, nil
}

func (r *Reviewer) applyDraft(ctx context.Context, req *store.EditRequest, operatorID string) error {
	esc, err := r.store.LatestDraftEscalation(ctx, req.ID)
	if err != nil {
		return err
	}
	if esc == nil || esc.DraftContent == nil {
		return ErrNoDraft
	}

	doc, err := r.store.GetDocument(ctx, req.SubjectID)
	if err != nil {
		return err
	}
	if doc.Version != esc.DraftBaseVersion {
		versionConflicts.Inc()
		return &store.ConflictError{SubjectID: req.SubjectID, Expected: esc.DraftBaseVersion}
	}
	newVersion, err := r.store.SaveDocument(ctx, req.SubjectID, *esc.DraftContent, esc.DraftBaseVersion)
	if err != nil {
		versionConflicts.Inc()
		return err
	}
	r.record(ctx, doc, *esc.DraftContent, archive.SourceApproval, newVersion)

	now := r.now()
	err = r.transition(ctx, req, StateConfirmed, store.EditRequestPatch{
		PreEditSnapshot: ptr(doc.Content),
		PostEditContent: esc.DraftContent,
		BaseVersion:     ptr(esc.DraftBaseVersion),
		SavedVersion:    ptr(newVersion),
		ApprovedBy:      &operatorID,
		ApprovedAt:      &now,
	})
	if err != nil {
		return err
	}
	r.release(ctx, req.SubjectID, newVersion)
	return nil
}

// Reject fails an awaiting_approval or escalated request. A saved but
// unapproved edit is reverted to its pre-edit snapshot first.
func (r *Reviewer) Reject(ctx context.Context, requestID, operatorID, reason string) (store.EditRequest, error) {
	ctx = context.WithoutCancel(ctx)
	req, err := r.store.GetEditRequest(ctx, requestID)
	if err != nil {
		return store.EditRequest{}, err
	}

	var p store.EditRequestPatch
	switch State(req.State) {
	case StateAwaitingApproval:
		if req.PreEditSnapshot != nil {
			doc, err := r.store.GetDocument(ctx, req.SubjectID)
			if err != nil {
				return store.EditRequest{}, err
			}
			newVersion, err := r.store.SaveDocument(ctx, req.SubjectID, *req.PreEditSnapshot, doc.Version)
			if err != nil {
				return store.EditRequest{}, err
			}
			r.record(ctx, doc, *req.PreEditSnapshot, archive.SourceRejection, newVersion)
			r.release(ctx, req.SubjectID, newVersion)
			now := r.now()
			p.RevertedAt = &now
		}
	case StateEscalated:
	default:
		return store.EditRequest{}, fmt.Errorf("%w: cannot reject a %s request", ErrInvalidTransition, req.State)
	}

	if err := r.transition(ctx, &req, StateFailed, p); err != nil {
		return store.EditRequest{}, err
	}
	r.resolve(ctx, req, operatorID)
	trigger := notify.TriggerEditRejected
	if req.RevertedAt == nil {
		trigger = notify.TriggerRequestClosed
	}
	r.tell(ctx, req, trigger, strings.TrimSpace(reason))
	r.logger.InfoContext(ctx, "edit request rejected",
		"edit_request_id", req.ID,
		"operator_id", operatorID,
	)
	return req, nil
}

func (r *Reviewer) resolve(ctx context.Context, req store.EditRequest, operatorID string) {
	if err := r.store.ResolveEscalationsForRequest(ctx, req.ID, operatorID); err != nil {
		r.logger.ErrorContext(ctx, "resolve escalations failed", "edit_request_id", req.ID, "error", err)
	}
}
