package editflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"siteeditor/api/internal/archive"
	"siteeditor/api/internal/notify"
	"siteeditor/api/internal/patch"
	"siteeditor/api/internal/ratelimit"
	"siteeditor/api/internal/sanitize"
	"siteeditor/api/internal/store"
	"siteeditor/api/internal/util"
)

const (
	noticeBatching        = "batching"
	noticeHighMaintenance = "high_maintenance"
)

// Router takes a new requester instruction from receipt to a saved, held,
// escalated or failed edit request.
type Router struct {
	*core
}

func NewRouter(cfg Config) *Router {
	return &Router{core: newCore(cfg)}
}

// Submit records a new edit request for the subject and routes it.
func (r *Router) Submit(ctx context.Context, subjectID, text string) (Outcome, error) {
	cleaned := sanitize.Instruction(text)
	req := store.EditRequest{
		ID:                   util.NewID("er"),
		SubjectID:            subjectID,
		RequestText:          text,
		SanitizedInstruction: cleaned.Cleaned,
		Flagged:              cleaned.Flagged,
		FlagReason:           cleaned.Reason,
		State:                string(StatePending),
		FailedSearches:       []string{},
		CreatedAt:            r.now(),
	}
	if err := r.store.CreateEditRequest(ctx, req); err != nil {
		return Outcome{}, fmt.Errorf("create edit request: %w", err)
	}
	// Once the row exists the request must reach a recorded state even if the
	// caller goes away; the proposal call keeps its own timeout.
	ctx = context.WithoutCancel(ctx)
	r.logger.InfoContext(ctx, "edit request received",
		"subject_id", subjectID,
		"edit_request_id", req.ID,
		"flagged", cleaned.Flagged,
	)

	if r.limiter != nil {
		out, handled, err := r.rateLimit(ctx, &req)
		if err != nil || handled {
			return out, err
		}
	}
	return r.route(ctx, &req)
}

func (r *Router) rateLimit(ctx context.Context, req *store.EditRequest) (Outcome, bool, error) {
	verdict, err := r.limiter.Check(ctx, req.SubjectID, req.ID)
	if err != nil {
		r.logger.WarnContext(ctx, "rate limiter unavailable, routing without limits",
			"subject_id", req.SubjectID,
			"error", err,
		)
		return Outcome{}, false, nil
	}

	if verdict.HighMaintenance {
		r.flagHighMaintenance(ctx, *req, verdict)
	}

	switch {
	case verdict.Capped:
		if err := r.transition(ctx, req, StateEscalated, store.EditRequestPatch{}); err != nil {
			return Outcome{}, true, err
		}
		escID, err := r.escalate(ctx, req.SubjectID, req.ID, KindRateLimitCap,
			fmt.Sprintf("%d requests in the last hour", verdict.Hour))
		if err != nil {
			return Outcome{}, true, err
		}
		msg := r.tell(ctx, *req, notify.TriggerEditEscalated, "")
		routedRequests.WithLabelValues("", "capped").Inc()
		return Outcome{
			RequestID:  req.ID,
			State:      StateEscalated,
			Capped:     true,
			Escalation: escID,
			Message:    msg,
		}, true, nil

	case verdict.Hold:
		until := verdict.HeldUntil
		if err := r.transition(ctx, req, StatePending, store.EditRequestPatch{HeldUntil: &until}); err != nil {
			return Outcome{}, true, err
		}

		out := Outcome{RequestID: req.ID, State: StatePending, Held: true, HeldUntil: &until}
		first, err := r.limiter.FirstInWindow(ctx, noticeBatching, req.SubjectID, until.Sub(r.now()))
		if err != nil {
			r.logger.WarnContext(ctx, "batching notice check failed", "subject_id", req.SubjectID, "error", err)
		}
		if first {
			escID, err := r.escalate(ctx, req.SubjectID, req.ID, KindRateLimitBatch,
				fmt.Sprintf("%d requests in 10 minutes; batching until %s", verdict.Short, until.Format(time.RFC3339)))
			if err != nil {
				return Outcome{}, true, err
			}
			out.Escalation = escID
			out.Message = r.tell(ctx, *req, notify.TriggerBatching, "")
		}
		r.scheduleFlush(req.SubjectID, until)
		routedRequests.WithLabelValues("", "held").Inc()
		return out, true, nil
	}
	return Outcome{}, false, nil
}

func (r *Router) flagHighMaintenance(ctx context.Context, req store.EditRequest, verdict ratelimit.Verdict) {
	first, err := r.limiter.FirstInWindow(ctx, noticeHighMaintenance, req.SubjectID, ratelimit.WeekWindow)
	if err != nil {
		r.logger.WarnContext(ctx, "high maintenance check failed", "subject_id", req.SubjectID, "error", err)
		return
	}
	if !first {
		return
	}
	if _, err := r.escalate(ctx, req.SubjectID, req.ID, KindHighMaintenance,
		fmt.Sprintf("%d requests in the last 7 days", verdict.Week)); err != nil {
		r.logger.ErrorContext(ctx, "high maintenance escalation failed", "subject_id", req.SubjectID, "error", err)
	}
}

func (r *Router) scheduleFlush(subjectID string, at time.Time) {
	if r.sched == nil {
		r.logger.Warn("no batch scheduler configured; held requests wait for the next restart", "subject_id", subjectID)
		return
	}
	r.sched.Schedule(subjectID, at, func() {
		r.goBackground(func() {
			if _, err := r.Flush(context.Background(), subjectID); err != nil {
				r.logger.Error("batch flush failed", "subject_id", subjectID, "error", err)
			}
		})
	})
}

// Flush routes every held request of the subject, oldest first. Flushed
// requests skip the rate limiter; they were counted when they arrived.
func (r *Router) Flush(ctx context.Context, subjectID string) ([]Outcome, error) {
	held, err := r.store.ListHeldEditRequests(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(held))
	for i := range held {
		req := held[i]
		if err := r.transition(ctx, &req, StatePending, store.EditRequestPatch{ClearHold: true}); err != nil {
			r.logger.WarnContext(ctx, "skip held request", "edit_request_id", req.ID, "error", err)
			continue
		}
		out, err := r.route(ctx, &req)
		if err != nil {
			r.logger.ErrorContext(ctx, "route held request failed", "edit_request_id", req.ID, "error", err)
			continue
		}
		outcomes = append(outcomes, out)
	}
	r.logger.InfoContext(ctx, "batch flushed", "subject_id", subjectID, "requests", len(outcomes))
	return outcomes, nil
}

// Reschedule re-arms flush timers for requests that were held when the
// process last stopped. It returns the number of subjects scheduled.
func (r *Router) Reschedule(ctx context.Context) (int, error) {
	held, err := r.store.ListHeldEditRequests(ctx, "")
	if err != nil {
		return 0, err
	}
	earliest := map[string]time.Time{}
	for _, req := range held {
		if req.HeldUntil == nil {
			continue
		}
		if at, ok := earliest[req.SubjectID]; !ok || req.HeldUntil.Before(at) {
			earliest[req.SubjectID] = *req.HeldUntil
		}
	}
	for subjectID, at := range earliest {
		r.scheduleFlush(subjectID, at)
	}
	return len(earliest), nil
}

func (r *Router) route(ctx context.Context, req *store.EditRequest) (Outcome, error) {
	doc, err := r.store.GetDocument(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return r.fail(ctx, req, KindInternalError, "subject has no document", err, nil)
		}
		return Outcome{}, err
	}

	tier, kind, reason := r.classify(ctx, *req)
	if tier == TierComplex {
		return r.escalateComplex(ctx, req, doc, kind, reason)
	}
	return r.autoEdit(ctx, req, doc, tier)
}

func (r *Router) classify(ctx context.Context, req store.EditRequest) (Tier, string, string) {
	if req.Flagged {
		return TierComplex, KindSanitizationFlag, "instruction flagged: " + req.FlagReason
	}
	if strings.TrimSpace(req.SanitizedInstruction) == "" {
		return TierComplex, KindComplexRequest, "empty instruction"
	}
	if r.tiers == nil {
		return TierComplex, KindComplexRequest, "no tier classifier configured"
	}
	tier, err := r.tiers.Classify(ctx, req.SanitizedInstruction)
	if err != nil {
		r.logger.WarnContext(ctx, "tier classification failed", "edit_request_id", req.ID, "error", err)
		return TierComplex, KindComplexRequest, "tier classification unavailable"
	}
	if tier != TierSimple && tier != TierMedium {
		return TierComplex, KindComplexRequest, "classified as complex"
	}
	return tier, "", ""
}

func (r *Router) escalateComplex(ctx context.Context, req *store.EditRequest, doc store.Document, kind, reason string) (Outcome, error) {
	if err := r.transition(ctx, req, StateEscalated, store.EditRequestPatch{Tier: ptr(string(TierComplex))}); err != nil {
		return Outcome{}, err
	}
	escID, err := r.escalate(ctx, req.SubjectID, req.ID, kind, reason)
	if err != nil {
		return Outcome{}, err
	}
	msg := r.tell(ctx, *req, notify.TriggerEditEscalated, "")
	routedRequests.WithLabelValues(string(TierComplex), string(StateEscalated)).Inc()

	if !req.Flagged && r.proposer != nil {
		draftReq := *req
		r.goBackground(func() { r.draft(escID, draftReq, doc) })
	}

	return Outcome{
		RequestID:  req.ID,
		State:      StateEscalated,
		Tier:       TierComplex,
		Escalation: escID,
		Message:    msg,
	}, nil
}

// draft prepares a non-authoritative edit for the operator handling an
// escalation. Failures are logged and leave the escalation without a draft.
func (r *Router) draft(escalationID string, req store.EditRequest, doc store.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	applied, _, err := r.propose(ctx, req, doc)
	if err != nil {
		r.logger.Info("no draft for escalation", "escalation_id", escalationID, "error", err)
		return
	}

	writeCtx, writeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer writeCancel()
	if err := r.store.AttachEscalationDraft(writeCtx, escalationID, applied.Content, doc.Version); err != nil {
		r.logger.Error("attach draft failed", "escalation_id", escalationID, "error", err)
		return
	}
	r.logger.Info("draft attached", "escalation_id", escalationID, "base_version", doc.Version)
}

// propose asks the proposal service for changes against doc and applies them
// in memory. It never writes.
func (r *Router) propose(ctx context.Context, req store.EditRequest, doc store.Document) (patch.Result, string, error) {
	if r.proposer == nil {
		return patch.Result{}, "", fmt.Errorf("%w: no proposer configured", ErrProposalService)
	}

	summaries, err := r.store.RecentEditSummaries(ctx, req.SubjectID, PriorSummaryLimit)
	if err != nil {
		r.logger.WarnContext(ctx, "load prior summaries failed", "subject_id", req.SubjectID, "error", err)
		summaries = nil
	}

	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	started := time.Now()
	result, err := r.proposer.Propose(pctx, ProposalRequest{
		CurrentDocument: doc.Content,
		Instruction:     req.SanitizedInstruction,
		PriorSummaries:  summaries,
	})
	if err != nil {
		proposalLatency.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return patch.Result{}, "", fmt.Errorf("%w: %w", ErrProposalService, err)
	}
	proposalLatency.WithLabelValues("ok").Observe(time.Since(started).Seconds())

	var applied patch.Result
	if len(result.Changes) > 0 {
		applied = patch.Apply(doc.Content, result.Changes)
	} else {
		applied = patch.ApplyFullDocument(doc.Content, result.FullDocument)
	}
	if !applied.OK() {
		return applied, result.Summary, fmt.Errorf("%w: %d of %d proposals failed", ErrPatchApplication, len(applied.FailedSearches), len(applied.Outcomes))
	}
	if applied.Content == doc.Content {
		return applied, result.Summary, fmt.Errorf("%w: proposals left the document unchanged", ErrPatchApplication)
	}
	return applied, result.Summary, nil
}

func (r *Router) autoEdit(ctx context.Context, req *store.EditRequest, doc store.Document, tier Tier) (Outcome, error) {
	err := r.transition(ctx, req, StateAIEditing, store.EditRequestPatch{
		Tier:        ptr(string(tier)),
		BaseVersion: ptr(doc.Version),
	})
	if err != nil {
		return Outcome{}, err
	}

	applied, summary, err := r.propose(ctx, *req, doc)
	if err != nil {
		kind, reason := KindProposalFailure, "edit proposal failed"
		if errors.Is(err, ErrPatchApplication) {
			kind, reason = KindPatchFailure, "no proposed change matched the document"
		}
		return r.fail(ctx, req, kind, reason, err, applied.FailedSearches)
	}

	// Saved against the version read before the proposal call.
	newVersion, err := r.store.SaveDocument(ctx, req.SubjectID, applied.Content, doc.Version)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			versionConflicts.Inc()
			return r.fail(ctx, req, KindVersionConflict, "concurrent edit: resubmit against latest version", err, applied.FailedSearches)
		}
		return r.fail(ctx, req, KindInternalError, "document save failed", err, applied.FailedSearches)
	}
	r.record(ctx, doc, applied.Content, archive.SourceEdit, newVersion)

	target, trigger := StateConfirmed, notify.TriggerEditLive
	if tier == TierMedium {
		target, trigger = StateAwaitingApproval, notify.TriggerEditInReview
	}
	err = r.transition(ctx, req, target, store.EditRequestPatch{
		PreEditSnapshot: ptr(doc.Content),
		PostEditContent: ptr(applied.Content),
		SavedVersion:    ptr(newVersion),
		EditSummary:     ptr(summary),
		FailedSearches:  applied.FailedSearches,
	})
	if err != nil {
		return Outcome{}, err
	}
	if target == StateConfirmed {
		r.release(ctx, req.SubjectID, newVersion)
	}

	detail := summary
	if applied.Partial() {
		detail = strings.TrimSpace(detail + "\n\nSome parts of your request couldn't be matched and were skipped.")
	}
	msg := r.tell(ctx, *req, trigger, detail)
	routedRequests.WithLabelValues(string(tier), string(target)).Inc()

	strategies := make([]string, 0, len(applied.Outcomes))
	for _, o := range applied.Outcomes {
		strategies = append(strategies, o.Strategy)
	}
	r.logger.InfoContext(ctx, "edit saved",
		"subject_id", req.SubjectID,
		"edit_request_id", req.ID,
		"tier", string(tier),
		"version", newVersion,
		"applied", applied.Applied,
		"failed", len(applied.FailedSearches),
		"strategies", strategies,
	)

	return Outcome{
		RequestID:      req.ID,
		State:          target,
		Tier:           tier,
		SavedVersion:   newVersion,
		Applied:        applied.Applied,
		FailedSearches: applied.FailedSearches,
		Message:        msg,
	}, nil
}

// fail ends a request that could not be applied. The document is untouched;
// the cause goes to the log and the escalation, never to the requester.
func (r *Router) fail(ctx context.Context, req *store.EditRequest, kind, reason string, cause error, failed []string) (Outcome, error) {
	r.logger.WarnContext(ctx, "edit request failed",
		"subject_id", req.SubjectID,
		"edit_request_id", req.ID,
		"kind", kind,
		"error", cause,
	)
	var p store.EditRequestPatch
	if len(failed) > 0 {
		p.FailedSearches = failed
	}
	if err := r.transition(ctx, req, StateFailed, p); err != nil {
		return Outcome{}, err
	}
	escID, err := r.escalate(ctx, req.SubjectID, req.ID, kind, reason)
	if err != nil {
		return Outcome{}, err
	}
	msg := r.tell(ctx, *req, notify.TriggerEditFailed, "")
	routedRequests.WithLabelValues(req.Tier, string(StateFailed)).Inc()

	return Outcome{
		RequestID:      req.ID,
		State:          StateFailed,
		Tier:           Tier(req.Tier),
		Escalation:     escID,
		FailedSearches: failed,
		Message:        msg,
		Failure:        cause,
	}, nil
}
