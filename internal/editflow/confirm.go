package editflow

import (
	"context"
	"errors"

	"siteeditor/api/internal/archive"
	"siteeditor/api/internal/notify"
	"siteeditor/api/internal/sanitize"
	"siteeditor/api/internal/store"
)

const approvedByRequester = "requester"

// Confirmer handles the requester's replies to an edit they have been shown.
type Confirmer struct {
	*core
	router *Router
}

// NewConfirmer shares the router's collaborators; more_edits replies are
// submitted back through it.
func NewConfirmer(router *Router) *Confirmer {
	return &Confirmer{core: router.core, router: router}
}

// Open returns the subject's latest shown edit still waiting on the requester,
// or nil.
func (c *Confirmer) Open(ctx context.Context, subjectID string) (*store.EditRequest, error) {
	return c.store.LatestOpenEditRequest(ctx, subjectID)
}

// HandleReply classifies text against the subject's open request and acts on
// it. ErrNoOpenRequest is returned when there is nothing to reply to.
func (c *Confirmer) HandleReply(ctx context.Context, subjectID, text string) (Outcome, error) {
	open, err := c.Open(ctx, subjectID)
	if err != nil {
		return Outcome{}, err
	}
	if open == nil {
		return Outcome{}, ErrNoOpenRequest
	}
	return c.Reply(ctx, *open, text)
}

// Reply acts on a reply to req. A reply the sanitizer flags is never treated
// as confirm, undo or chatter: it is submitted as a new request, which
// escalates it.
func (c *Confirmer) Reply(ctx context.Context, req store.EditRequest, text string) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)

	if cleaned := sanitize.Instruction(text); cleaned.Flagged {
		c.logger.WarnContext(ctx, "flagged reply submitted for review",
			"subject_id", req.SubjectID,
			"open_edit_request_id", req.ID,
			"reason", cleaned.Reason,
		)
		return c.router.Submit(ctx, req.SubjectID, text)
	}

	intent := c.classifyReply(ctx, req, text)
	c.logger.InfoContext(ctx, "reply classified",
		"subject_id", req.SubjectID,
		"edit_request_id", req.ID,
		"intent", string(intent),
	)

	switch intent {
	case IntentConfirm:
		if err := c.approve(ctx, &req, approvedByRequester); err != nil {
			return Outcome{}, err
		}
		msg := c.tell(ctx, req, notify.TriggerEditApproved, "")
		return Outcome{
			RequestID:    req.ID,
			State:        StateConfirmed,
			Tier:         Tier(req.Tier),
			Intent:       IntentConfirm,
			SavedVersion: req.SavedVersion,
			Message:      msg,
		}, nil

	case IntentUndo:
		return c.undo(ctx, &req)

	case IntentMoreEdits:
		if err := c.approve(ctx, &req, approvedByRequester); err != nil {
			return Outcome{}, err
		}
		out, err := c.router.Submit(ctx, req.SubjectID, text)
		if err != nil {
			return Outcome{}, err
		}
		out.Intent = IntentMoreEdits
		return out, nil

	default:
		return Outcome{
			RequestID: req.ID,
			State:     State(req.State),
			Tier:      Tier(req.Tier),
			Intent:    IntentUnrelated,
			Forward:   true,
		}, nil
	}
}

func (c *Confirmer) classifyReply(ctx context.Context, req store.EditRequest, text string) Intent {
	if c.replies == nil {
		return IntentUnrelated
	}
	intent, err := c.replies.ClassifyReply(ctx, text)
	if err != nil {
		c.logger.WarnContext(ctx, "reply classification failed", "edit_request_id", req.ID, "error", err)
		return IntentUnrelated
	}
	return intent
}

// approve moves req to confirmed, stamps the approval and promotes the saved
// version.
func (c *core) approve(ctx context.Context, req *store.EditRequest, approvedBy string) error {
	now := c.now()
	err := c.transition(ctx, req, StateConfirmed, store.EditRequestPatch{
		ApprovedBy: &approvedBy,
		ApprovedAt: &now,
	})
	if err != nil {
		return err
	}
	c.release(ctx, req.SubjectID, req.SavedVersion)
	return nil
}

func (c *Confirmer) undo(ctx context.Context, req *store.EditRequest) (Outcome, error) {
	out := Outcome{RequestID: req.ID, Tier: Tier(req.Tier), Intent: IntentUndo, State: State(req.State)}

	if req.PreEditSnapshot == nil {
		escID, err := c.escalate(ctx, req.SubjectID, req.ID, KindUndoUnavailable, "no pre-edit snapshot recorded")
		if err != nil {
			return Outcome{}, err
		}
		out.Escalation = escID
		out.Message = c.tell(ctx, *req, notify.TriggerUndoUnavailable, "")
		out.Failure = ErrUndoUnavailable
		return out, nil
	}

	doc, err := c.store.GetDocument(ctx, req.SubjectID)
	if err != nil {
		return Outcome{}, err
	}
	newVersion, err := c.store.SaveDocument(ctx, req.SubjectID, *req.PreEditSnapshot, doc.Version)
	if err != nil {
		if !errors.Is(err, store.ErrVersionConflict) {
			return Outcome{}, err
		}
		versionConflicts.Inc()
		escID, escErr := c.escalate(ctx, req.SubjectID, req.ID, KindVersionConflict, "document changed while reverting")
		if escErr != nil {
			return Outcome{}, escErr
		}
		out.Escalation = escID
		out.Message = c.tell(ctx, *req, notify.TriggerUndoUnavailable, "")
		out.Failure = err
		return out, nil
	}
	c.record(ctx, doc, *req.PreEditSnapshot, archive.SourceUndo, newVersion)

	next := StateConfirmed
	if State(req.State) == StateAwaitingApproval {
		next = StateFailed
	}
	now := c.now()
	if err := c.transition(ctx, req, next, store.EditRequestPatch{RevertedAt: &now}); err != nil {
		return Outcome{}, err
	}
	c.release(ctx, req.SubjectID, newVersion)

	out.State = next
	out.SavedVersion = newVersion
	out.Message = c.tell(ctx, *req, notify.TriggerUndoDone, "")
	return out, nil
}
