package app

import (
	"context"
	"time"

	"studyhub/api/internal/engagement"
)

func commentPayload(item engagement.Comment) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"sessionId": item.SessionID,
		"kind":      item.Ref.Kind(),
		"entityId":  item.Ref.ID(),
		"message":   item.Message,
		"createdAt": item.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ToggleLike flips the viewer's like and reports the live counts after it.
func (s *Service) ToggleLike(ctx context.Context, kind string, id, sessionID int64, viewer string) (map[string]any, error) {
	ref, err := engagement.ParseRef(kind, id)
	if err != nil {
		return nil, err
	}
	liked, err := s.engagement.ToggleLike(ctx, ref, sessionID, viewer)
	if err != nil {
		return nil, err
	}
	counts, err := s.engagement.CountsFor(ctx, ref)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"liked":    liked,
		"likes":    counts.Likes,
		"comments": counts.Comments,
	}, nil
}

func (s *Service) Engagement(ctx context.Context, kind string, id int64, viewer string) (map[string]any, error) {
	ref, err := engagement.ParseRef(kind, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.engagement.CountsFor(ctx, ref)
	if err != nil {
		return nil, err
	}
	liked, err := s.engagement.IsLikedBy(ctx, ref, viewer)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"kind":           ref.Kind(),
		"id":             ref.ID(),
		"likes":          counts.Likes,
		"comments":       counts.Comments,
		"viewerHasLiked": liked,
	}, nil
}

func (s *Service) ListComments(ctx context.Context, kind string, id, sessionID int64) (map[string]any, error) {
	ref, err := engagement.ParseRef(kind, id)
	if err != nil {
		return nil, err
	}
	comments, err := s.engagement.ListComments(ctx, sessionID, ref)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, item := range comments {
		items = append(items, commentPayload(item))
	}
	return map[string]any{"comments": items}, nil
}

func (s *Service) AddComment(ctx context.Context, kind string, id, sessionID int64, input CommentInput) (map[string]any, error) {
	ref, err := engagement.ParseRef(kind, id)
	if err != nil {
		return nil, err
	}
	comment, err := s.engagement.AddComment(ctx, sessionID, ref, input.Message)
	if err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

func (s *Service) RemoveComment(ctx context.Context, commentID, sessionID int64) error {
	return s.engagement.RemoveComment(ctx, commentID, sessionID)
}
