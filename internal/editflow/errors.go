package editflow

import "errors"

var (
	// ErrProposalService covers proposal timeouts, auth failures and malformed
	// proposal output.
	ErrProposalService = errors.New("proposal service failed")
	// ErrPatchApplication means no proposed change could be placed, or the
	// full-document fallback was empty.
	ErrPatchApplication = errors.New("no proposed change could be applied")
	ErrUndoUnavailable  = errors.New("no pre-edit snapshot to restore")
	// ErrInvalidTransition is returned when a request is not in a state that
	// allows the operation, including losing a race to another decider.
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoDraft           = errors.New("escalation has no draft")
	// ErrNoOpenRequest means the subject has no shown edit awaiting a reply.
	ErrNoOpenRequest = errors.New("no open edit request")
)
