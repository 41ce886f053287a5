package search

import (
	"context"
	"strings"

	"siteeditor/api/internal/store"
	"siteeditor/api/internal/util"
)

type editRequestSearcher interface {
	SearchEditRequests(ctx context.Context, query string, limit int) ([]store.EditRequest, error)
}

// SQLFallback searches edit requests with a LIKE query against the primary
// database. It is used whenever Meilisearch is absent or unhealthy.
type SQLFallback struct {
	store editRequestSearcher
}

func NewSQLFallback(s editRequestSearcher) *SQLFallback {
	return &SQLFallback{store: s}
}

// Healthy always returns true; if the database is down, the whole app is down.
func (f *SQLFallback) Healthy() bool {
	return true
}

func (f *SQLFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.FilterType == ResultEscalation {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	items, err := f.store.SearchEditRequests(ctx, q.Text, limit+offset)
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		if q.FilterSubjectID != "" && item.SubjectID != q.FilterSubjectID {
			continue
		}
		results = append(results, Result{
			Type:          ResultEditRequest,
			ID:            item.ID,
			Title:         firstNonBlank(item.EditSummary, item.State),
			Snippet:       util.Truncate(item.RequestText, 160),
			SubjectID:     item.SubjectID,
			EditRequestID: item.ID,
			State:         item.State,
		})
	}
	total := len(results)
	if offset >= len(results) {
		return []Result{}, total, nil
	}
	return results[offset:], total, nil
}
