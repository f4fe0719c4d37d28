package app

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"studyhub/api/internal/config"
	"studyhub/api/internal/engagement"
	"studyhub/api/internal/export"
	"studyhub/api/internal/identity"
	"studyhub/api/internal/media"
	"studyhub/api/internal/search"
	"studyhub/api/internal/store"
)

type likeKey struct {
	ref    engagement.Ref
	viewer string
}

// memStore keeps sessions, content and engagement in maps. One mutex stands
// in for the transactions of the Postgres store.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	clock     time.Time
	sessions  map[int64]store.Session
	news      map[int64]store.NewsPost
	topics    map[int64]store.Topic
	evidence  map[int64]store.Evidence
	likes     map[likeKey]int64
	comments  []engagement.Comment
	listCalls int
	pingFn    func(context.Context) error
}

func newMemStore() *memStore {
	return &memStore{
		clock:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		sessions: map[int64]store.Session{},
		news:     map[int64]store.NewsPost{},
		topics:   map[int64]store.Topic{},
		evidence: map[int64]store.Evidence{},
		likes:    map[likeKey]int64{},
	}
}

func (m *memStore) next() (int64, time.Time) {
	m.nextID++
	m.clock = m.clock.Add(time.Second)
	return m.nextID, m.clock
}

func (m *memStore) ownerOf(ref engagement.Ref) (int64, bool) {
	switch ref.Kind() {
	case engagement.KindNews:
		item, ok := m.news[ref.ID()]
		return item.SessionID, ok
	case engagement.KindTopic:
		item, ok := m.topics[ref.ID()]
		return item.SessionID, ok
	case engagement.KindEvidence:
		item, ok := m.evidence[ref.ID()]
		return item.SessionID, ok
	}
	return 0, false
}

func (m *memStore) owned(ref engagement.Ref, sessionID int64) bool {
	owner, ok := m.ownerOf(ref)
	return ok && owner == sessionID
}

func (m *memStore) decorate(ref engagement.Ref, viewer string) store.Engagement {
	var e store.Engagement
	for key := range m.likes {
		if key.ref == ref {
			e.Likes++
			if key.viewer == viewer {
				e.ViewerHasLiked = true
			}
		}
	}
	for _, c := range m.comments {
		if c.Ref == ref {
			e.Comments++
		}
	}
	return e
}

func (m *memStore) ToggleLike(_ context.Context, ref engagement.Ref, sessionID int64, viewer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.owned(ref, sessionID) {
		return false, sql.ErrNoRows
	}
	key := likeKey{ref: ref, viewer: viewer}
	if _, ok := m.likes[key]; ok {
		delete(m.likes, key)
		return false, nil
	}
	m.likes[key] = sessionID
	return true, nil
}

func (m *memStore) IsLiked(_ context.Context, ref engagement.Ref, viewer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.likes[likeKey{ref: ref, viewer: viewer}]
	return ok, nil
}

func (m *memStore) Counts(_ context.Context, ref engagement.Ref) (engagement.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.decorate(ref, "")
	return engagement.Counts{Likes: e.Likes, Comments: e.Comments}, nil
}

func (m *memStore) ListComments(_ context.Context, sessionID int64, ref engagement.Ref) ([]engagement.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]engagement.Comment, 0)
	for _, c := range m.comments {
		if c.Ref == ref && c.SessionID == sessionID {
			items = append(items, c)
		}
	}
	return items, nil
}

func (m *memStore) InsertComment(_ context.Context, sessionID int64, ref engagement.Ref, message string) (engagement.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.owned(ref, sessionID) {
		return engagement.Comment{}, sql.ErrNoRows
	}
	id, now := m.next()
	comment := engagement.Comment{ID: id, SessionID: sessionID, Ref: ref, Message: message, CreatedAt: now}
	m.comments = append(m.comments, comment)
	return comment, nil
}

func (m *memStore) DeleteComment(_ context.Context, commentID, sessionID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.comments {
		if c.ID == commentID && c.SessionID == sessionID {
			m.comments = append(m.comments[:i], m.comments[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) purge(ref engagement.Ref) []int64 {
	touched := map[int64]struct{}{}
	for key, sessionID := range m.likes {
		if key.ref == ref {
			delete(m.likes, key)
			touched[sessionID] = struct{}{}
		}
	}
	kept := m.comments[:0]
	for _, c := range m.comments {
		if c.Ref == ref {
			touched[c.SessionID] = struct{}{}
			continue
		}
		kept = append(kept, c)
	}
	m.comments = kept
	sessions := make([]int64, 0, len(touched))
	for id := range touched {
		sessions = append(sessions, id)
	}
	return sessions
}

func (m *memStore) PurgeEntity(_ context.Context, ref engagement.Ref) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purge(ref), nil
}

func (m *memStore) ListSessions(context.Context) ([]store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Session, 0, len(m.sessions))
	for _, item := range m.sessions {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date > items[j].Date
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (m *memStore) GetSession(_ context.Context, sessionID int64) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[sessionID]
	if !ok {
		return store.Session{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) InsertSession(_ context.Context, item store.Session) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID, item.CreatedAt = m.next()
	m.sessions[item.ID] = item
	return item, nil
}

func (m *memStore) UpdateSession(_ context.Context, item store.Session) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[item.ID]
	if !ok {
		return store.Session{}, sql.ErrNoRows
	}
	item.CreatedAt = existing.CreatedAt
	m.sessions[item.ID] = item
	return item, nil
}

func (m *memStore) DeleteSession(_ context.Context, sessionID int64) ([]store.DeletedContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, sql.ErrNoRows
	}
	var deleted []store.DeletedContent
	for id, item := range m.news {
		if item.SessionID == sessionID {
			m.purge(engagement.News(id))
			delete(m.news, id)
			deleted = append(deleted, store.DeletedContent{Ref: engagement.News(id), SessionID: sessionID, ImageURL: item.ImageURL})
		}
	}
	for id, item := range m.topics {
		if item.SessionID == sessionID {
			m.purge(engagement.Topic(id))
			delete(m.topics, id)
			deleted = append(deleted, store.DeletedContent{Ref: engagement.Topic(id), SessionID: sessionID})
		}
	}
	for id, item := range m.evidence {
		if item.SessionID == sessionID {
			m.purge(engagement.Evidence(id))
			delete(m.evidence, id)
			deleted = append(deleted, store.DeletedContent{Ref: engagement.Evidence(id), SessionID: sessionID, ImageURL: item.ImageURL})
		}
	}
	delete(m.sessions, sessionID)
	return deleted, nil
}

func (m *memStore) ListNews(_ context.Context, sessionID int64, viewer string) ([]store.NewsPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	items := make([]store.NewsPost, 0)
	for _, item := range m.news {
		if item.SessionID == sessionID {
			item.Engagement = m.decorate(engagement.News(item.ID), viewer)
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (m *memStore) InsertNews(_ context.Context, item store.NewsPost) (store.NewsPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[item.SessionID]; !ok {
		return store.NewsPost{}, sql.ErrNoRows
	}
	item.ID, item.CreatedAt = m.next()
	m.news[item.ID] = item
	return item, nil
}

func (m *memStore) ListTopics(_ context.Context, sessionID int64, viewer string) ([]store.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	items := make([]store.Topic, 0)
	for _, item := range m.topics {
		if item.SessionID == sessionID {
			item.Engagement = m.decorate(engagement.Topic(item.ID), viewer)
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (m *memStore) GetTopic(_ context.Context, sessionID, topicID int64) (store.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.topics[topicID]
	if !ok || item.SessionID != sessionID {
		return store.Topic{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) InsertTopic(_ context.Context, item store.Topic) (store.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[item.SessionID]; !ok {
		return store.Topic{}, sql.ErrNoRows
	}
	item.ID, item.CreatedAt = m.next()
	m.topics[item.ID] = item
	return item, nil
}

func (m *memStore) ListEvidence(_ context.Context, sessionID int64, viewer string) ([]store.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	items := make([]store.Evidence, 0)
	for _, item := range m.evidence {
		if item.SessionID == sessionID {
			item.Engagement = m.decorate(engagement.Evidence(item.ID), viewer)
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (m *memStore) InsertEvidence(_ context.Context, item store.Evidence) (store.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[item.SessionID]; !ok {
		return store.Evidence{}, sql.ErrNoRows
	}
	item.ID, item.CreatedAt = m.next()
	m.evidence[item.ID] = item
	return item, nil
}

func (m *memStore) DeleteContent(_ context.Context, ref engagement.Ref, sessionID int64) (store.DeletedContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.owned(ref, sessionID) {
		return store.DeletedContent{}, sql.ErrNoRows
	}
	deleted := store.DeletedContent{Ref: ref, SessionID: sessionID}
	m.purge(ref)
	switch ref.Kind() {
	case engagement.KindNews:
		deleted.ImageURL = m.news[ref.ID()].ImageURL
		delete(m.news, ref.ID())
	case engagement.KindTopic:
		delete(m.topics, ref.ID())
	case engagement.KindEvidence:
		deleted.ImageURL = m.evidence[ref.ID()].ImageURL
		delete(m.evidence, ref.ID())
	}
	return deleted, nil
}

func (m *memStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

type fakeReports struct {
	generateFn func(ctx context.Context, title, memo string) (string, error)
}

func (f *fakeReports) Generate(ctx context.Context, title, memo string) (string, error) {
	if f.generateFn != nil {
		return f.generateFn(ctx, title, memo)
	}
	return `<div class="report"><h2>概要</h2><p>` + title + `</p></div>`, nil
}

type fakeMedia struct {
	mu       sync.Mutex
	uploadFn func(ctx context.Context, sessionID int64, img media.Image) (string, error)
	deleted  []string
}

func (f *fakeMedia) Upload(ctx context.Context, sessionID int64, img media.Image) (string, error) {
	if f.uploadFn != nil {
		return f.uploadFn(ctx, sessionID, img)
	}
	return "http://minio.local/studyhub-evidence/evidence/1/object" + img.Extension(), nil
}

func (f *fakeMedia) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return nil
}

type fakeSearch struct {
	mu       sync.Mutex
	indexed  []search.Record
	removed  []engagement.Ref
	searchFn func(ctx context.Context, q search.Query) search.Response
}

func (f *fakeSearch) Search(ctx context.Context, q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) Index(record search.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record)
}

func (f *fakeSearch) Delete(ref engagement.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ref)
}

type fakeExporter struct {
	exportFn func(ctx context.Context, req export.Request) (*export.Result, error)
}

func (f *fakeExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return f.exportFn(ctx, req)
}

func newTestService(ms *memStore, opts Options) *Service {
	opts.Logger = zerolog.Nop()
	if opts.Reports == nil {
		opts.Reports = &fakeReports{}
	}
	return newService(config.Config{}, ms, opts)
}

func newTestServer(svc *Service) http.Handler {
	return NewHTTPServer(svc, "*", identity.NewProvider("test-secret", time.Hour)).Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path, body, viewer string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if viewer != "" {
		req.Header.Set(identity.HeaderName, viewer)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
