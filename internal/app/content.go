package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studyhub/api/internal/engagement"
	"studyhub/api/internal/media"
	"studyhub/api/internal/search"
	"studyhub/api/internal/store"
)

func engagementPayload(payload map[string]any, e store.Engagement) map[string]any {
	payload["likeCount"] = e.Likes
	payload["commentCount"] = e.Comments
	payload["viewerHasLiked"] = e.ViewerHasLiked
	return payload
}

func newsPayload(item store.NewsPost) map[string]any {
	return engagementPayload(map[string]any{
		"id":          item.ID,
		"sessionId":   item.SessionID,
		"kind":        engagement.KindNews,
		"url":         item.URL,
		"title":       item.Title,
		"description": item.Description,
		"imageUrl":    item.ImageURL,
		"createdAt":   item.CreatedAt.UTC().Format(time.RFC3339),
	}, item.Engagement)
}

func topicPayload(item store.Topic) map[string]any {
	return engagementPayload(map[string]any{
		"id":              item.ID,
		"sessionId":       item.SessionID,
		"kind":            engagement.KindTopic,
		"title":           item.Title,
		"memo":            item.Memo,
		"generatedReport": item.GeneratedReport,
		"createdAt":       item.CreatedAt.UTC().Format(time.RFC3339),
	}, item.Engagement)
}

func evidencePayload(item store.Evidence) map[string]any {
	return engagementPayload(map[string]any{
		"id":          item.ID,
		"sessionId":   item.SessionID,
		"kind":        engagement.KindEvidence,
		"imageUrl":    item.ImageURL,
		"description": item.Description,
		"createdAt":   item.CreatedAt.UTC().Format(time.RFC3339),
	}, item.Engagement)
}

// ListContent returns the rendered list for one kind, decorated for viewer.
// Views are served from the page cache when the session has not changed
// since they were rendered.
func (s *Service) ListContent(ctx context.Context, kindValue string, sessionID int64, viewer string) (json.RawMessage, error) {
	kind, err := engagement.ParseKind(kindValue)
	if err != nil {
		return nil, err
	}

	view := kind.String() + ":" + viewer
	cached, version, hit, err := s.cache.Get(ctx, sessionID, view)
	if err != nil {
		s.logger.Warn().Err(err).Int64("session_id", sessionID).Msg("page cache read failed")
		version, hit = -1, false
	}
	s.metrics.RecordPageCache(hit)
	if hit {
		return cached, nil
	}

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	items, err := s.listContent(ctx, kind, sessionID, viewer)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]any{"kind": kind, "items": items})
	if err != nil {
		return nil, fmt.Errorf("encode %s list: %w", kind, err)
	}

	if version >= 0 {
		if err := s.cache.Set(ctx, sessionID, view, version, payload); err != nil {
			s.logger.Warn().Err(err).Int64("session_id", sessionID).Msg("page cache write failed")
		}
	}
	return payload, nil
}

func (s *Service) listContent(ctx context.Context, kind engagement.Kind, sessionID int64, viewer string) ([]map[string]any, error) {
	switch kind {
	case engagement.KindNews:
		rows, err := s.store.ListNews(ctx, sessionID, viewer)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			items = append(items, newsPayload(row))
		}
		return items, nil
	case engagement.KindTopic:
		rows, err := s.store.ListTopics(ctx, sessionID, viewer)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			items = append(items, topicPayload(row))
		}
		return items, nil
	default:
		rows, err := s.store.ListEvidence(ctx, sessionID, viewer)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			items = append(items, evidencePayload(row))
		}
		return items, nil
	}
}

// validateNewsURL requires an absolute http(s) URL and returns it parsed.
func validateNewsURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url must be an absolute http(s) URL", map[string]any{"url": raw})
	}
	return parsed, nil
}

func (s *Service) CreateNews(ctx context.Context, sessionID int64, input NewsInput) (map[string]any, error) {
	parsed, err := validateNewsURL(input.URL)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = parsed.Hostname()
	}

	created, err := s.store.InsertNews(ctx, store.NewsPost{
		SessionID:   sessionID,
		URL:         parsed.String(),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		ImageURL:    strings.TrimSpace(input.ImageURL),
	})
	if err != nil {
		return nil, err
	}

	s.index(search.NewRecord(engagement.News(created.ID), sessionID, created.Title, created.Description+" "+created.URL, created.CreatedAt))
	s.contentChanged(ctx, sessionID)
	return newsPayload(created), nil
}

// CreateTopic generates the report first; when generation fails nothing
// is stored.
func (s *Service) CreateTopic(ctx context.Context, sessionID int64, input TopicInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	memo := strings.TrimSpace(input.Memo)

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	report, err := s.generateReport(ctx, title, memo)
	if err != nil {
		return nil, err
	}

	created, err := s.store.InsertTopic(ctx, store.Topic{
		SessionID:       sessionID,
		Title:           title,
		Memo:            memo,
		GeneratedReport: &report,
	})
	if err != nil {
		return nil, err
	}

	s.index(search.NewRecord(engagement.Topic(created.ID), sessionID, created.Title, created.Memo, created.CreatedAt))
	s.contentChanged(ctx, sessionID)
	return topicPayload(created), nil
}

func (s *Service) CreateEvidence(ctx context.Context, sessionID int64, input EvidenceInput) (map[string]any, error) {
	imageURL := strings.TrimSpace(input.ImageURL)
	if imageURL == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "imageUrl is required", nil)
	}

	var img *media.Image
	if media.IsDataURL(imageURL) {
		parsed, err := media.ParseDataURL(imageURL)
		if err != nil {
			return nil, err
		}
		img = &parsed
	}

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	uploaded := false
	if img != nil && s.media != nil {
		objectURL, err := s.media.Upload(ctx, sessionID, *img)
		s.metrics.RecordMediaUpload(err)
		if err != nil {
			return nil, fmt.Errorf("upload evidence image: %w", err)
		}
		imageURL = objectURL
		uploaded = true
	}

	var description *string
	if trimmed := strings.TrimSpace(input.Description); trimmed != "" {
		description = &trimmed
	}

	created, err := s.store.InsertEvidence(ctx, store.Evidence{
		SessionID:   sessionID,
		ImageURL:    imageURL,
		Description: description,
	})
	if err != nil {
		if uploaded {
			s.removeMedia(ctx, imageURL)
		}
		return nil, err
	}

	body := ""
	if created.Description != nil {
		body = *created.Description
	}
	s.index(search.NewRecord(engagement.Evidence(created.ID), sessionID, "", body, created.CreatedAt))
	s.contentChanged(ctx, sessionID)
	return evidencePayload(created), nil
}

// DeleteContent removes one content row with its likes and comments.
func (s *Service) DeleteContent(ctx context.Context, kind string, id, sessionID int64) error {
	ref, err := engagement.ParseRef(kind, id)
	if err != nil {
		return err
	}
	if sessionID <= 0 {
		return engagement.ErrInvalidSession
	}
	deleted, err := s.store.DeleteContent(ctx, ref, sessionID)
	if err != nil {
		return err
	}
	s.afterContentDeleted(ctx, deleted)
	s.contentChanged(ctx, sessionID)
	return nil
}

// afterContentDeleted cleans up what lives outside Postgres. Both steps are
// best effort once the row is gone.
func (s *Service) afterContentDeleted(ctx context.Context, item store.DeletedContent) {
	if s.search != nil {
		s.search.Delete(item.Ref)
	}
	if item.Ref.Kind() == engagement.KindEvidence && item.ImageURL != "" {
		s.removeMedia(ctx, item.ImageURL)
	}
}

func (s *Service) removeMedia(ctx context.Context, objectURL string) {
	if s.media == nil {
		return
	}
	if err := s.media.Delete(ctx, objectURL); err != nil {
		s.logger.Warn().Err(err).Str("url", objectURL).Msg("remove evidence object failed")
	}
}

func (s *Service) index(record search.Record) {
	if s.search != nil {
		s.search.Index(record)
	}
}
