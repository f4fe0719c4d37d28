package store

import (
	"context"
	"database/sql"
	"fmt"

	"studyhub/api/internal/engagement"
)

// lockContent checks that ref exists inside sessionID and holds a share
// lock on the row until the transaction ends, so a concurrent delete waits
// for us instead of leaving orphans.
func lockContent(ctx context.Context, tx *sql.Tx, ref engagement.Ref, sessionID int64) error {
	table, err := tableFor(ref.Kind())
	if err != nil {
		return err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM `+table.name+`
		WHERE id=$1 AND session_id=$2
		FOR SHARE
	`, ref.ID(), sessionID).Scan(&id); err != nil {
		return fmt.Errorf("lock %s: %w", ref, err)
	}
	return nil
}

// ToggleLike deletes the viewer's like when present and inserts it
// otherwise. The advisory lock serialises toggles on the same key; the
// unique constraint turns a racing duplicate insert into a no-op.
func (s *PostgresStore) ToggleLike(ctx context.Context, ref engagement.Ref, sessionID int64, viewer string) (bool, error) {
	liked := false
	err := s.withTx(ctx, "toggle like", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			fmt.Sprintf("like:%s:%s", ref, viewer),
		); err != nil {
			return fmt.Errorf("acquire like lock: %w", err)
		}
		if err := lockContent(ctx, tx, ref, sessionID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			DELETE FROM likes
			WHERE entity_type=$1 AND entity_id=$2 AND user_id=$3
		`, ref.Kind().String(), ref.ID(), viewer)
		if err != nil {
			return fmt.Errorf("delete like: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete like rows: %w", err)
		}
		if affected > 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO likes (entity_type, entity_id, user_id, session_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity_type, entity_id, user_id) DO NOTHING
		`, ref.Kind().String(), ref.ID(), viewer, sessionID); err != nil {
			return fmt.Errorf("insert like: %w", err)
		}
		liked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return liked, nil
}

func (s *PostgresStore) IsLiked(ctx context.Context, ref engagement.Ref, viewer string) (bool, error) {
	var liked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM likes
			WHERE entity_type=$1 AND entity_id=$2 AND user_id=$3
		)
	`, ref.Kind().String(), ref.ID(), viewer).Scan(&liked)
	if err != nil {
		return false, fmt.Errorf("lookup like: %w", err)
	}
	return liked, nil
}

func (s *PostgresStore) Counts(ctx context.Context, ref engagement.Ref) (engagement.Counts, error) {
	var counts engagement.Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM likes WHERE entity_type=$1 AND entity_id=$2)::int,
			(SELECT COUNT(*) FROM comments WHERE entity_type=$1 AND entity_id=$2)::int
	`, ref.Kind().String(), ref.ID()).Scan(&counts.Likes, &counts.Comments)
	if err != nil {
		return engagement.Counts{}, fmt.Errorf("count engagement: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, sessionID int64, ref engagement.Ref) ([]engagement.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message, created_at
		FROM comments
		WHERE session_id=$1 AND entity_type=$2 AND entity_id=$3
		ORDER BY created_at ASC, id ASC
	`, sessionID, ref.Kind().String(), ref.ID())
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]engagement.Comment, 0)
	for rows.Next() {
		item := engagement.Comment{Ref: ref}
		if err := rows.Scan(&item.ID, &item.SessionID, &item.Message, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, sessionID int64, ref engagement.Ref, message string) (engagement.Comment, error) {
	comment := engagement.Comment{SessionID: sessionID, Ref: ref, Message: message}
	err := s.withTx(ctx, "insert comment", func(tx *sql.Tx) error {
		if err := lockContent(ctx, tx, ref, sessionID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO comments (session_id, entity_type, entity_id, message)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, sessionID, ref.Kind().String(), ref.ID(), message).Scan(&comment.ID, &comment.CreatedAt); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return engagement.Comment{}, err
	}
	return comment, nil
}

// DeleteComment reports false when no comment with that id exists in
// sessionID.
func (s *PostgresStore) DeleteComment(ctx context.Context, commentID, sessionID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1 AND session_id=$2`, commentID, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete comment rows: %w", err)
	}
	return affected > 0, nil
}

// PurgeEntity deletes all likes and comments for ref and returns the
// sessions that owned them.
func (s *PostgresStore) PurgeEntity(ctx context.Context, ref engagement.Ref) ([]int64, error) {
	var sessions []int64
	err := s.withTx(ctx, "purge entity", func(tx *sql.Tx) error {
		var err error
		sessions, err = purgeTx(ctx, tx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func purgeTx(ctx context.Context, tx *sql.Tx, ref engagement.Ref) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		WITH removed_likes AS (
			DELETE FROM likes WHERE entity_type=$1 AND entity_id=$2
			RETURNING session_id
		), removed_comments AS (
			DELETE FROM comments WHERE entity_type=$1 AND entity_id=$2
			RETURNING session_id
		)
		SELECT DISTINCT session_id
		FROM (
			SELECT session_id FROM removed_likes
			UNION ALL
			SELECT session_id FROM removed_comments
		) touched
		WHERE session_id IS NOT NULL
		ORDER BY session_id
	`, ref.Kind().String(), ref.ID())
	if err != nil {
		return nil, fmt.Errorf("purge %s: %w", ref, err)
	}
	defer rows.Close()

	sessions := make([]int64, 0)
	for rows.Next() {
		var sessionID int64
		if err := rows.Scan(&sessionID); err != nil {
			return nil, fmt.Errorf("scan purged session: %w", err)
		}
		sessions = append(sessions, sessionID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purged sessions: %w", err)
	}
	return sessions, nil
}
