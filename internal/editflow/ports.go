package editflow

import (
	"context"
	"time"

	"siteeditor/api/internal/notify"
	"siteeditor/api/internal/patch"
	"siteeditor/api/internal/ratelimit"
	"siteeditor/api/internal/store"
)

// ProposalRequest is what the edit-proposal service sees.
type ProposalRequest struct {
	CurrentDocument string
	Instruction     string
	PriorSummaries  []string
}

// ProposalResult carries either search/replace changes or a whole replacement
// document, plus a one-line summary for the requester.
type ProposalResult struct {
	Changes      []patch.Proposal
	FullDocument string
	Summary      string
}

type Proposer interface {
	Propose(ctx context.Context, req ProposalRequest) (ProposalResult, error)
}

type TierClassifier interface {
	Classify(ctx context.Context, instruction string) (Tier, error)
}

type ReplyClassifier interface {
	ClassifyReply(ctx context.Context, text string) (Intent, error)
}

// Store is the persistence the flow needs. *store.SQLStore satisfies it.
type Store interface {
	GetDocument(context.Context, string) (store.Document, error)
	SaveDocument(context.Context, string, string, int64) (int64, error)
	MarkReleased(context.Context, string, int64) error
	CreateEditRequest(context.Context, store.EditRequest) error
	GetEditRequest(context.Context, string) (store.EditRequest, error)
	TransitionEditRequest(context.Context, string, string, string, store.EditRequestPatch) (bool, error)
	LatestOpenEditRequest(context.Context, string) (*store.EditRequest, error)
	RecentEditSummaries(context.Context, string, int) ([]string, error)
	ListHeldEditRequests(context.Context, string) ([]store.EditRequest, error)
	CreateEscalation(context.Context, store.Escalation) error
	AttachEscalationDraft(context.Context, string, string, int64) error
	LatestDraftEscalation(context.Context, string) (*store.Escalation, error)
	ResolveEscalationsForRequest(context.Context, string, string) error
}

type Archiver interface {
	Record(ctx context.Context, doc store.Document, content, source string, version int64) (store.VersionSnapshot, error)
}

type RateLimiter interface {
	Check(ctx context.Context, subjectID, requestID string) (ratelimit.Verdict, error)
	FirstInWindow(ctx context.Context, kind, subjectID string, ttl time.Duration) (bool, error)
}

// Scheduler defers batch flushes. *batch.Registry satisfies it.
type Scheduler interface {
	Schedule(subjectID string, at time.Time, fn func())
}

// Outcome describes what happened to one inbound message. Failure holds the
// internal cause for logs and tests; Message is what the requester was told.
type Outcome struct {
	RequestID      string     `json:"requestId,omitempty"`
	State          State      `json:"state,omitempty"`
	Tier           Tier       `json:"tier,omitempty"`
	Intent         Intent     `json:"intent,omitempty"`
	Held           bool       `json:"held"`
	Capped         bool       `json:"capped"`
	HeldUntil      *time.Time `json:"heldUntil,omitempty"`
	SavedVersion   int64      `json:"savedVersion,omitempty"`
	Applied        int        `json:"applied"`
	FailedSearches []string   `json:"failedSearches,omitempty"`
	Escalation     string     `json:"escalation,omitempty"`
	Forward        bool       `json:"forward"`
	Message        string     `json:"message,omitempty"`
	Failure        error      `json:"-"`
}

// Notifier is the outbound requester channel.
type Notifier = notify.Notifier
