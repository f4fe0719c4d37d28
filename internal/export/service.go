package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetSession(ctx context.Context, sessionID int64) (SessionInfo, error)
	GetTopic(ctx context.Context, sessionID, topicID int64) (TopicInfo, error)
}

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service provides topic export functionality
type Service struct {
	store  DataStore
	render renderFunc
	now    func() time.Time
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store, render: exportPDF, now: time.Now}
}

// Export renders the topic report as a PDF.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	session, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	topic, err := s.store.GetTopic(ctx, req.SessionID, req.TopicID)
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	if strings.TrimSpace(topic.ReportHTML) == "" {
		return nil, ErrReportMissing
	}

	html, err := RenderTopicHTML(TemplateData{
		Title:        topic.Title,
		SessionTitle: session.Title,
		SessionDate:  session.Date,
		Memo:         topic.Memo,
		ReportHTML:   template.HTML(topic.ReportHTML),
		Likes:        topic.Likes,
		Comments:     topic.Comments,
		ExportedAt:   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return s.render(ctx, html, topic.Title)
}
