// Package editflow routes requester edit instructions through sanitizing, rate
// limiting, tier classification, patching and versioned saves, and drives the
// confirm/undo lifecycle that follows.
package editflow

import (
	"strings"

	"siteeditor/api/internal/store"
)

// State is the single lifecycle value of an edit request.
type State string

const (
	StatePending          State = "pending"
	StateAIEditing        State = "ai_editing"
	StateAwaitingApproval State = "awaiting_approval"
	StateEscalated        State = "escalated"
	StateConfirmed        State = "confirmed"
	StateFailed           State = "failed"
)

var transitions = map[State][]State{
	StatePending:          {StateAIEditing, StateEscalated, StateFailed},
	StateAIEditing:        {StateConfirmed, StateAwaitingApproval, StateEscalated, StateFailed},
	StateAwaitingApproval: {StateConfirmed, StateFailed},
	StateEscalated:        {StateConfirmed, StateFailed},
}

func (s State) Valid() bool {
	switch s {
	case StatePending, StateAIEditing, StateAwaitingApproval, StateEscalated, StateConfirmed, StateFailed:
		return true
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// CanTransition reports whether moving from s to next follows the lifecycle
// graph. Staying in the same state is not a transition.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Label is the human-facing status shown to operators. It is derived from the
// stored request and never persisted.
func Label(req store.EditRequest) string {
	switch State(req.State) {
	case StatePending:
		if req.HeldUntil != nil {
			return "Batched"
		}
		return "Queued"
	case StateAIEditing:
		return "Editing"
	case StateAwaitingApproval:
		return "Awaiting approval"
	case StateEscalated:
		return "With a person"
	case StateConfirmed:
		if req.RevertedAt != nil {
			return "Reverted"
		}
		if req.ApprovedAt != nil {
			return "Approved"
		}
		return "Live"
	case StateFailed:
		if req.RevertedAt != nil {
			return "Reverted"
		}
		return "Not applied"
	default:
		return "Unknown"
	}
}

// Tier is the autonomy level a request is handled at.
type Tier string

const (
	TierSimple  Tier = "simple"
	TierMedium  Tier = "medium"
	TierComplex Tier = "complex"
)

// ParseTier maps free text to a tier; anything unrecognised is complex.
func ParseTier(value string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(value))) {
	case TierSimple:
		return TierSimple
	case TierMedium:
		return TierMedium
	default:
		return TierComplex
	}
}

// Intent classifies a requester's reply to a shown edit.
type Intent string

const (
	IntentConfirm   Intent = "confirm"
	IntentUndo      Intent = "undo"
	IntentMoreEdits Intent = "more_edits"
	IntentUnrelated Intent = "unrelated"
)

// ParseIntent maps free text to an intent; anything unrecognised is unrelated.
func ParseIntent(value string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	switch Intent(normalized) {
	case IntentConfirm:
		return IntentConfirm
	case IntentUndo:
		return IntentUndo
	case IntentMoreEdits:
		return IntentMoreEdits
	default:
		return IntentUnrelated
	}
}

// Escalation kinds.
const (
	KindComplexRequest   = "complex_request"
	KindSanitizationFlag = "sanitization_flag"
	KindProposalFailure  = "proposal_failure"
	KindPatchFailure     = "patch_failure"
	KindVersionConflict  = "version_conflict"
	KindUndoUnavailable  = "undo_unavailable"
	KindRateLimitBatch   = "rate_limit_batch"
	KindRateLimitCap     = "rate_limit_cap"
	KindHighMaintenance  = "high_maintenance"
	KindInternalError    = "internal_error"
)
