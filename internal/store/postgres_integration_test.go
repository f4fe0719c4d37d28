package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"studyhub/api/internal/engagement"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("STUDYHUB_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("STUDYHUB_TEST_DATABASE_URL is not set")
	}
	return dsn
}

func newIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := getTestDatabaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func mustSession(t *testing.T, ctx context.Context, s *PostgresStore, title string) Session {
	t.Helper()
	item, err := s.InsertSession(ctx, Session{Date: "2025-03-01", Title: title, Agenda: "intro"})
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return item
}

func mustNews(t *testing.T, ctx context.Context, s *PostgresStore, sessionID int64) NewsPost {
	t.Helper()
	item, err := s.InsertNews(ctx, NewsPost{SessionID: sessionID, URL: "https://x.test", Title: "X", Description: "d"})
	if err != nil {
		t.Fatalf("insert news: %v", err)
	}
	return item
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	s, _ := newIntegrationStore(t)
	dir := filepath.Join("..", "..", "db", "migrations")

	if err := RollbackMigrations(s.DB(), dir, 0); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := ApplyMigrations(s.DB(), dir); err != nil {
		t.Fatalf("apply after rollback: %v", err)
	}
	version, dirty, err := MigrationVersion(s.DB(), dir)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 1 || dirty {
		t.Fatalf("expected clean version 1, got %d dirty=%v", version, dirty)
	}
}

func TestScenarioLikeCommentDelete(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	session := mustSession(t, ctx, s, "Kickoff")
	if session.Date != "2025-03-01" {
		t.Fatalf("expected canonical date, got %q", session.Date)
	}
	post := mustNews(t, ctx, s, session.ID)
	ref := engagement.News(post.ID)

	liked, err := s.ToggleLike(ctx, ref, session.ID, "userA")
	if err != nil || !liked {
		t.Fatalf("expected liked=true, got %v err=%v", liked, err)
	}
	counts, err := s.Counts(ctx, ref)
	if err != nil || counts != (engagement.Counts{Likes: 1}) {
		t.Fatalf("expected {1,0}, got %+v err=%v", counts, err)
	}

	if _, err := s.InsertComment(ctx, session.ID, ref, "nice"); err != nil {
		t.Fatalf("insert comment: %v", err)
	}
	counts, _ = s.Counts(ctx, ref)
	if counts != (engagement.Counts{Likes: 1, Comments: 1}) {
		t.Fatalf("expected {1,1}, got %+v", counts)
	}

	items, err := s.ListNews(ctx, session.ID, "userA")
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one news row, got %d err=%v", len(items), err)
	}
	if items[0].Likes != 1 || items[0].Comments != 1 || !items[0].ViewerHasLiked {
		t.Fatalf("unexpected decoration: %+v", items[0].Engagement)
	}

	if _, err := s.DeleteContent(ctx, ref, session.ID); err != nil {
		t.Fatalf("delete content: %v", err)
	}
	counts, _ = s.Counts(ctx, ref)
	if counts != (engagement.Counts{}) {
		t.Fatalf("expected {0,0} after delete, got %+v", counts)
	}
	comments, err := s.ListComments(ctx, session.ID, ref)
	if err != nil || len(comments) != 0 {
		t.Fatalf("expected no comments after delete, got %d err=%v", len(comments), err)
	}
}

func TestConcurrentTogglesConvergePostgres(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	session := mustSession(t, ctx, s, "Race")
	ref := engagement.News(mustNews(t, ctx, s, session.ID).ID)

	const toggles = 9
	var wg sync.WaitGroup
	errs := make(chan error, toggles)
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ToggleLike(ctx, ref, session.ID, "userA"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("toggle failed: %v", err)
	}

	var rows int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM likes WHERE entity_type='news' AND entity_id=$1`, ref.ID()).Scan(&rows); err != nil {
		t.Fatalf("count likes: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected exactly one like row after %d toggles, got %d", toggles, rows)
	}
}

func TestUniqueConstraintBacksLikeKey(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	session := mustSession(t, ctx, s, "Unique")
	post := mustNews(t, ctx, s, session.ID)

	insert := `INSERT INTO likes (entity_type, entity_id, user_id, session_id) VALUES ('news', $1, 'userA', $2)`
	if _, err := s.DB().ExecContext(ctx, insert, post.ID, session.ID); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := s.DB().ExecContext(ctx, insert, post.ID, session.ID)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestEntityTypeCheckRejectsUnknownKind(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	session := mustSession(t, ctx, s, "Check")

	_, err := s.DB().ExecContext(ctx, `INSERT INTO comments (session_id, entity_type, entity_id, message) VALUES ($1, 'session', 1, 'x')`, session.ID)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23514" {
		t.Fatalf("expected check violation, got %v", err)
	}
}

func TestCommentsOrderedOldestFirst(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	session := mustSession(t, ctx, s, "Order")
	topic, err := s.InsertTopic(ctx, Topic{SessionID: session.ID, Title: "Go", Memo: "generics"})
	if err != nil {
		t.Fatalf("insert topic: %v", err)
	}
	ref := engagement.Topic(topic.ID)

	for _, message := range []string{"t1", "t2", "t3"} {
		if _, err := s.InsertComment(ctx, session.ID, ref, message); err != nil {
			t.Fatalf("insert comment %s: %v", message, err)
		}
	}
	comments, err := s.ListComments(ctx, session.ID, ref)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 3 || comments[0].Message != "t1" || comments[2].Message != "t3" {
		t.Fatalf("unexpected order: %+v", comments)
	}
}

func TestLikeOnForeignSessionIsNotFound(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	owner := mustSession(t, ctx, s, "Owner")
	other := mustSession(t, ctx, s, "Other")
	ref := engagement.News(mustNews(t, ctx, s, owner.ID).ID)

	if _, err := s.ToggleLike(ctx, ref, other.ID, "userA"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if _, err := s.InsertComment(ctx, other.ID, ref, "hi"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for comment, got %v", err)
	}
}

func TestInsertContentForMissingSessionIsNotFound(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	_, err := s.InsertNews(ctx, NewsPost{SessionID: 999, URL: "https://x.test", Title: "X"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	session := mustSession(t, ctx, s, "Cascade")
	post := mustNews(t, ctx, s, session.ID)
	description := "whiteboard"
	evidence, err := s.InsertEvidence(ctx, Evidence{SessionID: session.ID, ImageURL: "https://cdn.test/a.png", Description: &description})
	if err != nil {
		t.Fatalf("insert evidence: %v", err)
	}
	if _, err := s.ToggleLike(ctx, engagement.Evidence(evidence.ID), session.ID, "userA"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := s.InsertComment(ctx, session.ID, engagement.News(post.ID), "bye"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	removed, err := s.DeleteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed children, got %d", len(removed))
	}

	for _, table := range []string{"news_posts", "evidences", "likes", "comments", "sessions"} {
		var count int
		if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("expected %s to be empty, got %d", table, count)
		}
	}

	if _, err := s.DeleteSession(ctx, session.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows on second delete, got %v", err)
	}
}

func TestUpdateMissingSessionIsNotFound(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	_, err := s.UpdateSession(ctx, Session{ID: 42, Date: "2025-01-01", Title: "x"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
