package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studyhub/api/internal/config"
	"studyhub/api/internal/engagement"
	"studyhub/api/internal/export"
	"studyhub/api/internal/media"
	"studyhub/api/internal/metrics"
	"studyhub/api/internal/pagecache"
	"studyhub/api/internal/search"
	"studyhub/api/internal/store"
)

type SessionInput struct {
	Date   string `json:"date"`
	Title  string `json:"title"`
	Agenda string `json:"agenda"`
}

type NewsInput struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
}

type TopicInput struct {
	Title string `json:"title"`
	Memo  string `json:"memo"`
}

type EvidenceInput struct {
	ImageURL    string `json:"imageUrl"`
	Description string `json:"description"`
}

type CommentInput struct {
	Message string `json:"message"`
}

type ReportInput struct {
	Title string `json:"title"`
	Memo  string `json:"memo"`
}

type dataStore interface {
	engagement.Store
	ListSessions(context.Context) ([]store.Session, error)
	GetSession(context.Context, int64) (store.Session, error)
	InsertSession(context.Context, store.Session) (store.Session, error)
	UpdateSession(context.Context, store.Session) (store.Session, error)
	DeleteSession(context.Context, int64) ([]store.DeletedContent, error)
	ListNews(context.Context, int64, string) ([]store.NewsPost, error)
	InsertNews(context.Context, store.NewsPost) (store.NewsPost, error)
	ListTopics(context.Context, int64, string) ([]store.Topic, error)
	GetTopic(context.Context, int64, int64) (store.Topic, error)
	InsertTopic(context.Context, store.Topic) (store.Topic, error)
	ListEvidence(context.Context, int64, string) ([]store.Evidence, error)
	InsertEvidence(context.Context, store.Evidence) (store.Evidence, error)
	DeleteContent(context.Context, engagement.Ref, int64) (store.DeletedContent, error)
	Ping(ctx context.Context) error
}

type reportGenerator interface {
	Generate(ctx context.Context, title, memo string) (string, error)
}

type mediaStore interface {
	Upload(ctx context.Context, sessionID int64, img media.Image) (string, error)
	Delete(ctx context.Context, url string) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	Index(record search.Record)
	Delete(ref engagement.Ref)
}

type topicExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Options carries the optional collaborators of Service. Nil fields
// disable the matching feature.
type Options struct {
	Cache    pagecache.Cache
	Search   *search.Service
	Media    *media.Client
	Reports  reportGenerator
	Exporter topicExporter
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

type Service struct {
	cfg        config.Config
	store      dataStore
	engagement *engagement.Service
	reports    reportGenerator
	cache      pagecache.Cache
	search     searchIndex
	media      mediaStore
	exporter   topicExporter
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, opts Options) *Service {
	return newService(cfg, dataStore, opts)
}

func newService(cfg config.Config, dataStore dataStore, opts Options) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		reports:  opts.Reports,
		cache:    opts.Cache,
		exporter: opts.Exporter,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if svc.cache == nil {
		svc.cache = pagecache.Nop{}
	}
	if opts.Search != nil {
		svc.search = opts.Search
	}
	if opts.Media != nil {
		svc.media = opts.Media
	}
	svc.engagement = engagement.NewService(dataStore, svc.cache, opts.Metrics, opts.Logger)
	if svc.exporter == nil {
		svc.exporter = export.NewService(exportSource{store: dataStore, engagement: svc.engagement})
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Service) Logger() zerolog.Logger {
	return s.logger
}

// contentChanged bumps the session's page cache version. A failure only
// leaves views cached until their TTL runs out.
func (s *Service) contentChanged(ctx context.Context, sessionID int64) {
	if err := s.cache.ContentChanged(ctx, sessionID); err != nil {
		s.logger.Warn().Err(err).Int64("session_id", sessionID).Msg("page cache invalidation failed")
	}
}

var sessionDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02",
}

// normalizeDate accepts the date shapes browsers and users send and returns
// the calendar date as YYYY-MM-DD.
func normalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "date is required", nil)
	}
	for _, layout := range sessionDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format("2006-01-02"), nil
		}
	}
	return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "date must be YYYY-MM-DD", map[string]any{"date": value})
}

func sessionPayload(item store.Session) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"date":      item.Date,
		"title":     item.Title,
		"agenda":    item.Agenda,
		"createdAt": item.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func validateSession(input SessionInput) (store.Session, error) {
	date, err := normalizeDate(input.Date)
	if err != nil {
		return store.Session{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	return store.Session{Date: date, Title: title, Agenda: strings.TrimSpace(input.Agenda)}, nil
}

func (s *Service) ListSessions(ctx context.Context) (map[string]any, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, item := range sessions {
		items = append(items, sessionPayload(item))
	}
	return map[string]any{"sessions": items}, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID int64) (map[string]any, error) {
	item, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sessionPayload(item), nil
}

func (s *Service) CreateSession(ctx context.Context, input SessionInput) (map[string]any, error) {
	item, err := validateSession(input)
	if err != nil {
		return nil, err
	}
	created, err := s.store.InsertSession(ctx, item)
	if err != nil {
		return nil, err
	}
	return sessionPayload(created), nil
}

func (s *Service) UpdateSession(ctx context.Context, sessionID int64, input SessionInput) (map[string]any, error) {
	item, err := validateSession(input)
	if err != nil {
		return nil, err
	}
	item.ID = sessionID
	updated, err := s.store.UpdateSession(ctx, item)
	if err != nil {
		return nil, err
	}
	s.contentChanged(ctx, sessionID)
	return sessionPayload(updated), nil
}

// DeleteSession removes the session together with all of its content and
// engagement.
func (s *Service) DeleteSession(ctx context.Context, sessionID int64) error {
	deleted, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, item := range deleted {
		s.afterContentDeleted(ctx, item)
	}
	s.contentChanged(ctx, sessionID)
	return nil
}

func (s *Service) GenerateReport(ctx context.Context, input ReportInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	html, err := s.generateReport(ctx, title, input.Memo)
	if err != nil {
		return nil, err
	}
	return map[string]any{"report": html}, nil
}

func (s *Service) generateReport(ctx context.Context, title, memo string) (string, error) {
	if s.reports == nil {
		return "", domainError(http.StatusBadGateway, "REPORT_GENERATION_FAILED", "Report generation is not configured", nil)
	}
	html, err := s.reports.Generate(ctx, title, memo)
	if err != nil {
		s.logger.Error().Err(err).Str("title", title).Msg("report generation failed")
		return "", fmt.Errorf("generate report: %w", err)
	}
	return html, nil
}

func (s *Service) Search(ctx context.Context, text, kind string, sessionID int64, limit, offset int) (search.Response, error) {
	q := search.Query{Text: text, SessionID: sessionID, Limit: limit, Offset: offset}
	if strings.TrimSpace(kind) != "" {
		parsed, err := engagement.ParseKind(kind)
		if err != nil {
			return search.Response{}, err
		}
		q.Kind = parsed
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: strings.TrimSpace(text)}, nil
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) ExportTopic(ctx context.Context, sessionID, topicID int64) (*export.Result, error) {
	result, err := s.exporter.Export(ctx, export.Request{SessionID: sessionID, TopicID: topicID})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			s.logger.Warn().Err(err).Msg("pdf export unavailable")
		}
		return nil, err
	}
	return result, nil
}

// exportSource feeds the exporter from the content store.
type exportSource struct {
	store      dataStore
	engagement *engagement.Service
}

func (e exportSource) GetSession(ctx context.Context, sessionID int64) (export.SessionInfo, error) {
	item, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return export.SessionInfo{}, err
	}
	return export.SessionInfo{ID: item.ID, Date: item.Date, Title: item.Title}, nil
}

func (e exportSource) GetTopic(ctx context.Context, sessionID, topicID int64) (export.TopicInfo, error) {
	item, err := e.store.GetTopic(ctx, sessionID, topicID)
	if err != nil {
		return export.TopicInfo{}, err
	}
	counts, err := e.engagement.CountsFor(ctx, engagement.Topic(item.ID))
	if err != nil {
		return export.TopicInfo{}, err
	}
	info := export.TopicInfo{
		ID:        item.ID,
		SessionID: item.SessionID,
		Title:     item.Title,
		Memo:      item.Memo,
		Likes:     counts.Likes,
		Comments:  counts.Comments,
		CreatedAt: item.CreatedAt,
	}
	if item.GeneratedReport != nil {
		info.ReportHTML = *item.GeneratedReport
	}
	return info, nil
}
