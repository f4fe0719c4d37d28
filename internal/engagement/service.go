package engagement

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Store is the persistence contract. Implementations must run ToggleLike,
// InsertComment and PurgeEntity as single transactions, and must return
// sql.ErrNoRows when the target content row does not exist in sessionID.
type Store interface {
	ToggleLike(ctx context.Context, ref Ref, sessionID int64, viewer string) (bool, error)
	IsLiked(ctx context.Context, ref Ref, viewer string) (bool, error)
	Counts(ctx context.Context, ref Ref) (Counts, error)
	ListComments(ctx context.Context, sessionID int64, ref Ref) ([]Comment, error)
	InsertComment(ctx context.Context, sessionID int64, ref Ref, message string) (Comment, error)
	DeleteComment(ctx context.Context, commentID, sessionID int64) (bool, error)
	PurgeEntity(ctx context.Context, ref Ref) ([]int64, error)
}

// Notifier is told after every committed mutation so cached views of the
// session can be dropped.
type Notifier interface {
	ContentChanged(ctx context.Context, sessionID int64) error
}

type Recorder interface {
	ObserveEngagement(op, kind string)
}

type Service struct {
	store    Store
	notifier Notifier
	recorder Recorder
	logger   zerolog.Logger
}

func NewService(store Store, notifier Notifier, recorder Recorder, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		recorder: recorder,
		logger:   logger.With().Str("component", "engagement").Logger(),
	}
}

// ToggleLike flips the viewer's like on ref and returns the new state.
func (s *Service) ToggleLike(ctx context.Context, ref Ref, sessionID int64, viewer string) (bool, error) {
	viewer = strings.TrimSpace(viewer)
	if err := validate(ref, sessionID); err != nil {
		return false, err
	}
	if viewer == "" {
		return false, ErrEmptyViewer
	}

	liked, err := s.store.ToggleLike(ctx, ref, sessionID, viewer)
	if err != nil {
		return false, fmt.Errorf("toggle like %s: %w", ref, err)
	}

	op := "unlike"
	if liked {
		op = "like"
	}
	s.recorder.ObserveEngagement(op, ref.Kind().String())
	s.changed(ctx, sessionID)
	return liked, nil
}

func (s *Service) IsLikedBy(ctx context.Context, ref Ref, viewer string) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}
	viewer = strings.TrimSpace(viewer)
	if viewer == "" {
		return false, nil
	}
	liked, err := s.store.IsLiked(ctx, ref, viewer)
	if err != nil {
		return false, fmt.Errorf("lookup like %s: %w", ref, err)
	}
	return liked, nil
}

// CountsFor always reads the live rows. Unknown or deleted entities count
// as zero.
func (s *Service) CountsFor(ctx context.Context, ref Ref) (Counts, error) {
	if err := ref.Validate(); err != nil {
		return Counts{}, err
	}
	counts, err := s.store.Counts(ctx, ref)
	if err != nil {
		return Counts{}, fmt.Errorf("count engagement %s: %w", ref, err)
	}
	return counts, nil
}

// ListComments returns the comments on ref, oldest first.
func (s *Service) ListComments(ctx context.Context, sessionID int64, ref Ref) ([]Comment, error) {
	if err := validate(ref, sessionID); err != nil {
		return nil, err
	}
	items, err := s.store.ListComments(ctx, sessionID, ref)
	if err != nil {
		return nil, fmt.Errorf("list comments %s: %w", ref, err)
	}
	return items, nil
}

func (s *Service) AddComment(ctx context.Context, sessionID int64, ref Ref, message string) (Comment, error) {
	if err := validate(ref, sessionID); err != nil {
		return Comment{}, err
	}
	normalized, err := NormalizeMessage(message)
	if err != nil {
		return Comment{}, err
	}

	comment, err := s.store.InsertComment(ctx, sessionID, ref, normalized)
	if err != nil {
		return Comment{}, fmt.Errorf("add comment %s: %w", ref, err)
	}

	s.recorder.ObserveEngagement("comment", ref.Kind().String())
	s.changed(ctx, sessionID)
	return comment, nil
}

// RemoveComment deletes a comment only if it belongs to sessionID.
func (s *Service) RemoveComment(ctx context.Context, commentID, sessionID int64) error {
	if commentID <= 0 {
		return ErrInvalidEntity
	}
	if sessionID <= 0 {
		return ErrInvalidSession
	}
	removed, err := s.store.DeleteComment(ctx, commentID, sessionID)
	if err != nil {
		return fmt.Errorf("remove comment %d: %w", commentID, err)
	}
	if !removed {
		return fmt.Errorf("remove comment %d: %w", commentID, sql.ErrNoRows)
	}

	s.recorder.ObserveEngagement("uncomment", "")
	s.changed(ctx, sessionID)
	return nil
}

// PurgeEntity removes every like and comment attached to ref.
func (s *Service) PurgeEntity(ctx context.Context, ref Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	sessions, err := s.store.PurgeEntity(ctx, ref)
	if err != nil {
		return fmt.Errorf("purge %s: %w", ref, err)
	}

	s.recorder.ObserveEngagement("purge", ref.Kind().String())
	for _, sessionID := range sessions {
		s.changed(ctx, sessionID)
	}
	return nil
}

func (s *Service) changed(ctx context.Context, sessionID int64) {
	if err := s.notifier.ContentChanged(ctx, sessionID); err != nil {
		s.logger.Warn().Err(err).Int64("session_id", sessionID).Msg("content change notification failed")
	}
}

func validate(ref Ref, sessionID int64) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if sessionID <= 0 {
		return ErrInvalidSession
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) ContentChanged(context.Context, int64) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveEngagement(string, string) {}
