package store

import "time"

type Subject struct {
	ID           string
	Name         string
	ContactEmail string
	CreatedAt    time.Time
}

// Document is the single editable text owned by a subject. Content and Version
// only change together through SaveDocument.
type Document struct {
	ID              string
	SubjectID       string
	Content         string
	Version         int64
	ReleasedVersion int64
	UpdatedAt       time.Time
}

type EditRequest struct {
	ID                   string
	SubjectID            string
	RequestText          string
	SanitizedInstruction string
	Flagged              bool
	FlagReason           string
	Tier                 string
	State                string
	PreEditSnapshot      *string
	PostEditContent      *string
	BaseVersion          int64
	SavedVersion         int64
	EditSummary          string
	FailedSearches       []string
	ApprovedBy           string
	ApprovedAt           *time.Time
	RevertedAt           *time.Time
	HeldUntil            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// EditRequestPatch lists the columns a guarded transition may set alongside
// the new state. Nil fields are left untouched.
type EditRequestPatch struct {
	Tier            *string
	PreEditSnapshot *string
	PostEditContent *string
	BaseVersion     *int64
	SavedVersion    *int64
	EditSummary     *string
	FailedSearches  []string
	ApprovedBy      *string
	ApprovedAt      *time.Time
	RevertedAt      *time.Time
	HeldUntil       *time.Time
	ClearHold       bool
}

type EditRequestFilter struct {
	State     string
	SubjectID string
	Limit     int
}

type VersionSnapshot struct {
	ID         int64
	DocumentID string
	SubjectID  string
	Content    string
	Source     string
	Version    int64
	CreatedAt  time.Time
}

type Escalation struct {
	ID               string
	SubjectID        string
	EditRequestID    string
	Kind             string
	Reason           string
	DraftContent     *string
	DraftBaseVersion int64
	CreatedAt        time.Time
	ResolvedAt       *time.Time
	ResolvedBy       string
}

type EscalationFilter struct {
	OpenOnly      bool
	SubjectID     string
	EditRequestID string
	Limit         int
}

type Operator struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}
