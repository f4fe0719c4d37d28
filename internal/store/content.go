package store

import (
	"context"
	"database/sql"
	"fmt"

	"studyhub/api/internal/engagement"
)

// engagementColumns decorates the row aliased x. $2 is the entity type and
// $3 the viewer id.
const engagementColumns = `
	(SELECT COUNT(*) FROM likes l WHERE l.entity_type = $2 AND l.entity_id = x.id)::int,
	(SELECT COUNT(*) FROM comments c WHERE c.entity_type = $2 AND c.entity_id = x.id)::int,
	EXISTS (SELECT 1 FROM likes l WHERE l.entity_type = $2 AND l.entity_id = x.id AND l.user_id = $3)`

func (s *PostgresStore) ListNews(ctx context.Context, sessionID int64, viewer string) ([]NewsPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT x.id, x.session_id, x.url, x.title, x.description, x.image_url, x.created_at,`+engagementColumns+`
		FROM news_posts x
		WHERE x.session_id = $1
		ORDER BY x.created_at DESC, x.id DESC
	`, sessionID, engagement.KindNews.String(), viewer)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	defer rows.Close()

	items := make([]NewsPost, 0)
	for rows.Next() {
		var item NewsPost
		if err := rows.Scan(
			&item.ID,
			&item.SessionID,
			&item.URL,
			&item.Title,
			&item.Description,
			&item.ImageURL,
			&item.CreatedAt,
			&item.Likes,
			&item.Comments,
			&item.ViewerHasLiked,
		); err != nil {
			return nil, fmt.Errorf("scan news: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate news: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertNews(ctx context.Context, item NewsPost) (NewsPost, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO news_posts (session_id, url, title, description, image_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, item.SessionID, item.URL, item.Title, item.Description, item.ImageURL).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return NewsPost{}, notFoundOnMissingParent("insert news", err)
	}
	return item, nil
}

func (s *PostgresStore) ListTopics(ctx context.Context, sessionID int64, viewer string) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT x.id, x.session_id, x.title, x.memo, x.generated_report, x.created_at,`+engagementColumns+`
		FROM topics x
		WHERE x.session_id = $1
		ORDER BY x.created_at DESC, x.id DESC
	`, sessionID, engagement.KindTopic.String(), viewer)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	items := make([]Topic, 0)
	for rows.Next() {
		var item Topic
		var report sql.NullString
		if err := rows.Scan(
			&item.ID,
			&item.SessionID,
			&item.Title,
			&item.Memo,
			&report,
			&item.CreatedAt,
			&item.Likes,
			&item.Comments,
			&item.ViewerHasLiked,
		); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		if report.Valid {
			item.GeneratedReport = &report.String
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTopic(ctx context.Context, sessionID, topicID int64) (Topic, error) {
	var item Topic
	var report sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, title, memo, generated_report, created_at
		FROM topics
		WHERE id=$1 AND session_id=$2
	`, topicID, sessionID).Scan(&item.ID, &item.SessionID, &item.Title, &item.Memo, &report, &item.CreatedAt)
	if err != nil {
		return Topic{}, fmt.Errorf("get topic: %w", err)
	}
	if report.Valid {
		item.GeneratedReport = &report.String
	}
	return item, nil
}

func (s *PostgresStore) InsertTopic(ctx context.Context, item Topic) (Topic, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO topics (session_id, title, memo, generated_report)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, item.SessionID, item.Title, item.Memo, item.GeneratedReport).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return Topic{}, notFoundOnMissingParent("insert topic", err)
	}
	return item, nil
}

func (s *PostgresStore) ListEvidence(ctx context.Context, sessionID int64, viewer string) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT x.id, x.session_id, x.image_url, x.description, x.created_at,`+engagementColumns+`
		FROM evidences x
		WHERE x.session_id = $1
		ORDER BY x.created_at DESC, x.id DESC
	`, sessionID, engagement.KindEvidence.String(), viewer)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	items := make([]Evidence, 0)
	for rows.Next() {
		var item Evidence
		var description sql.NullString
		if err := rows.Scan(
			&item.ID,
			&item.SessionID,
			&item.ImageURL,
			&description,
			&item.CreatedAt,
			&item.Likes,
			&item.Comments,
			&item.ViewerHasLiked,
		); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		if description.Valid {
			item.Description = &description.String
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertEvidence(ctx context.Context, item Evidence) (Evidence, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO evidences (session_id, image_url, description)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, item.SessionID, item.ImageURL, item.Description).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return Evidence{}, notFoundOnMissingParent("insert evidence", err)
	}
	return item, nil
}

// DeleteContent locks the content row, purges its likes and comments, then
// deletes it, all in one transaction. A row outside sessionID is reported
// as sql.ErrNoRows.
func (s *PostgresStore) DeleteContent(ctx context.Context, ref engagement.Ref, sessionID int64) (DeletedContent, error) {
	table, err := tableFor(ref.Kind())
	if err != nil {
		return DeletedContent{}, err
	}

	deleted := DeletedContent{Ref: ref, SessionID: sessionID}
	err = s.withTx(ctx, "delete content", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			SELECT `+table.imageColumn+`
			FROM `+table.name+`
			WHERE id=$1 AND session_id=$2
			FOR UPDATE
		`, ref.ID(), sessionID).Scan(&deleted.ImageURL); err != nil {
			return fmt.Errorf("lock %s: %w", ref, err)
		}
		if _, err := purgeTx(ctx, tx, ref); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table.name+` WHERE id=$1`, ref.ID()); err != nil {
			return fmt.Errorf("delete %s row: %w", ref, err)
		}
		return nil
	})
	if err != nil {
		return DeletedContent{}, fmt.Errorf("delete content: %w", err)
	}
	return deleted, nil
}
