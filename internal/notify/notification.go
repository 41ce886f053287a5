// Package notify delivers requester-facing messages about edit requests.
package notify

import (
	"context"
	"strings"
)

type Trigger string

const (
	TriggerEditLive        Trigger = "edit_live"
	TriggerEditInReview    Trigger = "edit_in_review"
	TriggerEditEscalated   Trigger = "edit_escalated"
	TriggerEditFailed      Trigger = "edit_failed"
	TriggerBatching        Trigger = "batching"
	TriggerUndoDone        Trigger = "undo_done"
	TriggerUndoUnavailable Trigger = "undo_unavailable"
	TriggerEditApproved    Trigger = "edit_approved"
	TriggerEditRejected    Trigger = "edit_rejected"
	TriggerRequestClosed   Trigger = "request_closed"
)

// Notification is one message to a subject's contact. Message is safe to show
// the requester; it never carries internal error text.
type Notification struct {
	Trigger       Trigger
	SubjectID     string
	EditRequestID string
	Message       string
}

// Notifier is implemented by every delivery channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

var baseMessages = map[Trigger]string{
	TriggerEditLive:        "Your change is live.",
	TriggerEditInReview:    "Your change is ready for review. Reply to confirm it, undo it, or ask for more edits.",
	TriggerEditEscalated:   "Thanks, we've passed your request to a person who will follow up shortly.",
	TriggerEditFailed:      "We couldn't make that change automatically. A person will follow up shortly.",
	TriggerBatching:        "We've received several requests in a short time and will handle them together in a few minutes.",
	TriggerUndoDone:        "Done. Your last change has been reverted.",
	TriggerUndoUnavailable: "We couldn't revert that change automatically. A person will handle it.",
	TriggerEditApproved:    "Your change has been approved and published.",
	TriggerEditRejected:    "Your change was not approved and the page has been restored.",
	TriggerRequestClosed:   "A person has reviewed your request and closed it. Your page has not been changed.",
}

var subjects = map[Trigger]string{
	TriggerEditLive:        "Your site change is live",
	TriggerEditInReview:    "Your site change is ready for review",
	TriggerEditEscalated:   "We're looking at your request",
	TriggerEditFailed:      "We're looking at your request",
	TriggerBatching:        "We're batching your requests",
	TriggerUndoDone:        "Your change was reverted",
	TriggerUndoUnavailable: "We're looking at your undo request",
	TriggerEditApproved:    "Your site change was approved",
	TriggerEditRejected:    "Your site change was not approved",
	TriggerRequestClosed:   "Your site request was closed",
}

// Compose returns the requester message for a trigger, with an optional
// detail line (an edit summary or an operator note) appended.
func Compose(trigger Trigger, detail string) string {
	msg, ok := baseMessages[trigger]
	if !ok {
		msg = "We've received your message."
	}
	if detail = strings.TrimSpace(detail); detail != "" {
		msg += "\n\n" + detail
	}
	return msg
}

func subjectLine(trigger Trigger) string {
	if s, ok := subjects[trigger]; ok {
		return s
	}
	return "Update on your site request"
}
