package search

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studyhub/api/internal/engagement"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, logger: logger.With().Str("component", "search").Logger()}
}

// NewRecord flattens a content row into an index record.
func NewRecord(ref engagement.Ref, sessionID int64, title, body string, createdAt time.Time) Record {
	return Record{
		ID:        RecordID(ref),
		Kind:      ref.Kind(),
		EntityID:  ref.ID(),
		SessionID: sessionID,
		Title:     strings.TrimSpace(title),
		Body:      strings.TrimSpace(body),
		CreatedAt: createdAt.Unix(),
	}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).Msg("pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Index indexes a content row (fire-and-forget to Meilisearch).
func (s *Service) Index(record Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Index(record); err != nil {
			s.logger.Warn().Err(err).Str("record", record.ID).Msg("index record")
		}
	}()
}

// Delete removes a content row from the search index (fire-and-forget).
func (s *Service) Delete(ref engagement.Ref) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Delete(ref); err != nil {
			s.logger.Warn().Err(err).Str("record", RecordID(ref)).Msg("delete record")
		}
	}()
}

// ReindexAllFromPG pushes every content row from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.Index(records...); err != nil {
		s.logger.Warn().Err(err).Msg("reindex content")
		return
	}
	s.logger.Info().Int("records", len(records)).Msg("reindexed content")
}

// Close stops background work.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
