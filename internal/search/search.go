package search

import (
	"fmt"

	"studyhub/api/internal/engagement"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Kind      engagement.Kind `json:"kind"`
	ID        int64           `json:"id"`
	SessionID int64           `json:"sessionId"`
	Title     string          `json:"title"`
	Snippet   string          `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text      string
	Kind      engagement.Kind // empty = all kinds
	SessionID int64           // 0 = all sessions
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Record is the data we index for one content row.
type Record struct {
	ID        string          `json:"id"`
	Kind      engagement.Kind `json:"kind"`
	EntityID  int64           `json:"entityId"`
	SessionID int64           `json:"sessionId"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	CreatedAt int64           `json:"createdAt"`
}

// RecordID is the index primary key for a content row.
func RecordID(ref engagement.Ref) string {
	return fmt.Sprintf("%s-%d", ref.Kind(), ref.ID())
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
