package store

import (
	"time"

	"studyhub/api/internal/engagement"
)

type Session struct {
	ID        int64
	Date      string
	Title     string
	Agenda    string
	CreatedAt time.Time
}

// Engagement decorates a content row for one viewer. Values are computed
// from the likes and comments tables at query time.
type Engagement struct {
	Likes          int
	Comments       int
	ViewerHasLiked bool
}

type NewsPost struct {
	ID          int64
	SessionID   int64
	URL         string
	Title       string
	Description string
	ImageURL    string
	CreatedAt   time.Time
	Engagement
}

type Topic struct {
	ID              int64
	SessionID       int64
	Title           string
	Memo            string
	GeneratedReport *string
	CreatedAt       time.Time
	Engagement
}

type Evidence struct {
	ID          int64
	SessionID   int64
	ImageURL    string
	Description *string
	CreatedAt   time.Time
	Engagement
}

// DeletedContent describes a content row removed by DeleteContent or by a
// session cascade.
type DeletedContent struct {
	Ref       engagement.Ref
	SessionID int64
	ImageURL  string
}
