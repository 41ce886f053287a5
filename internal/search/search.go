package search

import "time"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultEditRequest ResultType = "edit_request"
	ResultEscalation  ResultType = "escalation"
)

// Result is a single search hit returned to an operator.
type Result struct {
	Type          ResultType `json:"type"`
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Snippet       string     `json:"snippet"`
	SubjectID     string     `json:"subjectId"`
	EditRequestID string     `json:"editRequestId"`
	State         string     `json:"state,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterSubjectID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// EditRequestRecord is the data we index for an edit request.
type EditRequestRecord struct {
	ID          string `json:"id"`
	SubjectID   string `json:"subjectId"`
	RequestText string `json:"requestText"`
	EditSummary string `json:"editSummary"`
	State       string `json:"state"`
	Tier        string `json:"tier"`
	CreatedAt   int64  `json:"createdAt"`
}

// EscalationRecord is the data we index for an escalation.
type EscalationRecord struct {
	ID            string `json:"id"`
	SubjectID     string `json:"subjectId"`
	EditRequestID string `json:"editRequestId"`
	Kind          string `json:"kind"`
	Reason        string `json:"reason"`
	Open          bool   `json:"open"`
	CreatedAt     int64  `json:"createdAt"`
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
