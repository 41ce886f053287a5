package editflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"siteeditor/api/internal/notify"
	"siteeditor/api/internal/store"
	"siteeditor/api/internal/util"
)

// DefaultProposalTimeout bounds every proposal-service call.
const DefaultProposalTimeout = 45 * time.Second

// PriorSummaryLimit is how many earlier edit summaries accompany a proposal.
const PriorSummaryLimit = 5

var (
	routedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siteeditor_edit_requests_total",
		Help: "Edit requests by tier and final routing state",
	}, []string{"tier", "state"})

	versionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "siteeditor_version_conflicts_total",
		Help: "Document saves rejected by the version check",
	})

	proposalLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "siteeditor_proposal_duration_seconds",
		Help:    "Edit-proposal service latency",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
	}, []string{"result"})
)

// Config wires the flow's collaborators. Limiter and Scheduler may be nil, in
// which case requests are never rate limited.
type Config struct {
	Store           Store
	Archive         Archiver
	Proposer        Proposer
	Tiers           TierClassifier
	Replies         ReplyClassifier
	Notifier        Notifier
	Limiter         RateLimiter
	Scheduler       Scheduler
	Logger          *slog.Logger
	Clock           func() time.Time
	ProposalTimeout time.Duration
}

type core struct {
	store    Store
	archive  Archiver
	proposer Proposer
	tiers    TierClassifier
	replies  ReplyClassifier
	notifier Notifier
	limiter  RateLimiter
	sched    Scheduler
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration

	// background drafts and flushes
	wg sync.WaitGroup
}

func newCore(cfg Config) *core {
	c := &core{
		store:    cfg.Store,
		archive:  cfg.Archive,
		proposer: cfg.Proposer,
		tiers:    cfg.Tiers,
		replies:  cfg.Replies,
		notifier: cfg.Notifier,
		limiter:  cfg.Limiter,
		sched:    cfg.Scheduler,
		logger:   cfg.Logger,
		now:      cfg.Clock,
		timeout:  cfg.ProposalTimeout,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.timeout <= 0 {
		c.timeout = DefaultProposalTimeout
	}
	if c.notifier == nil {
		c.notifier = notify.NewLogNotifier(c.logger)
	}
	return c
}

// Wait blocks until background drafts and flushes started so far finish.
func (c *core) Wait() {
	c.wg.Wait()
}

func (c *core) goBackground(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// transition applies a guarded state change. Same-state updates only annotate
// the request; anything else must follow the lifecycle graph.
func (c *core) transition(ctx context.Context, req *store.EditRequest, to State, patch store.EditRequestPatch) error {
	from := State(req.State)
	if from != to && !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	ok, err := c.store.TransitionEditRequest(ctx, req.ID, string(from), string(to), patch)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: request %s is no longer %s", ErrInvalidTransition, req.ID, from)
	}
	req.State = string(to)
	applyPatch(req, patch)
	return nil
}

func applyPatch(req *store.EditRequest, patch store.EditRequestPatch) {
	if patch.Tier != nil {
		req.Tier = *patch.Tier
	}
	if patch.PreEditSnapshot != nil && req.PreEditSnapshot == nil {
		v := *patch.PreEditSnapshot
		req.PreEditSnapshot = &v
	}
	if patch.PostEditContent != nil {
		v := *patch.PostEditContent
		req.PostEditContent = &v
	}
	if patch.BaseVersion != nil {
		req.BaseVersion = *patch.BaseVersion
	}
	if patch.SavedVersion != nil {
		req.SavedVersion = *patch.SavedVersion
	}
	if patch.EditSummary != nil {
		req.EditSummary = *patch.EditSummary
	}
	if patch.FailedSearches != nil {
		req.FailedSearches = patch.FailedSearches
	}
	if patch.ApprovedBy != nil {
		req.ApprovedBy = *patch.ApprovedBy
	}
	if patch.ApprovedAt != nil {
		v := *patch.ApprovedAt
		req.ApprovedAt = &v
	}
	if patch.RevertedAt != nil {
		v := *patch.RevertedAt
		req.RevertedAt = &v
	}
	if patch.ClearHold {
		req.HeldUntil = nil
	} else if patch.HeldUntil != nil {
		v := *patch.HeldUntil
		req.HeldUntil = &v
	}
}

func (c *core) escalate(ctx context.Context, subjectID, requestID, kind, reason string) (string, error) {
	id := util.NewID("esc")
	err := c.store.CreateEscalation(ctx, store.Escalation{
		ID:            id,
		SubjectID:     subjectID,
		EditRequestID: requestID,
		Kind:          kind,
		Reason:        reason,
		CreatedAt:     c.now(),
	})
	if err != nil {
		return "", fmt.Errorf("create %s escalation: %w", kind, err)
	}
	c.logger.InfoContext(ctx, "escalated",
		"subject_id", subjectID,
		"edit_request_id", requestID,
		"kind", kind,
	)
	return id, nil
}

// tell delivers a requester message. Delivery problems are logged only.
func (c *core) tell(ctx context.Context, req store.EditRequest, trigger notify.Trigger, detail string) string {
	msg := notify.Compose(trigger, detail)
	err := c.notifier.Notify(ctx, notify.Notification{
		Trigger:       trigger,
		SubjectID:     req.SubjectID,
		EditRequestID: req.ID,
		Message:       msg,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "notification failed",
			"trigger", string(trigger),
			"subject_id", req.SubjectID,
			"edit_request_id", req.ID,
			"error", err,
		)
	}
	return msg
}

func (c *core) record(ctx context.Context, doc store.Document, content, source string, version int64) {
	if c.archive == nil {
		return
	}
	doc.Content = content
	doc.Version = version
	if _, err := c.archive.Record(ctx, doc, content, source, version); err != nil {
		c.logger.ErrorContext(ctx, "archive snapshot failed",
			"subject_id", doc.SubjectID,
			"version", version,
			"error", err,
		)
	}
}

func (c *core) release(ctx context.Context, subjectID string, version int64) {
	if version <= 0 {
		return
	}
	if err := c.store.MarkReleased(ctx, subjectID, version); err != nil {
		c.logger.ErrorContext(ctx, "mark released failed",
			"subject_id", subjectID,
			"version", version,
			"error", err,
		)
	}
}

func ptr[T any](v T) *T {
	return &v
}
