package store

import (
	"context"
	"database/sql"
	"fmt"

	"studyhub/api/internal/engagement"
)

const sessionColumns = `id, to_char(date, 'YYYY-MM-DD'), title, agenda, created_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var item Session
	err := row.Scan(&item.ID, &item.Date, &item.Title, &item.Agenda, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY date DESC, created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	items := make([]Session, 0)
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID int64) (Session, error) {
	item, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id=$1
	`, sessionID))
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return item, nil
}

// InsertSession expects item.Date already normalized to YYYY-MM-DD.
func (s *PostgresStore) InsertSession(ctx context.Context, item Session) (Session, error) {
	created, err := scanSession(s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (date, title, agenda)
		VALUES ($1::date, $2, $3)
		RETURNING `+sessionColumns,
		item.Date, item.Title, item.Agenda,
	))
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, item Session) (Session, error) {
	updated, err := scanSession(s.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET date=$2::date, title=$3, agenda=$4
		WHERE id=$1
		RETURNING `+sessionColumns,
		item.ID, item.Date, item.Title, item.Agenda,
	))
	if err != nil {
		return Session{}, fmt.Errorf("update session: %w", err)
	}
	return updated, nil
}

// DeleteSession removes the session and everything it owns in one
// transaction: engagement rows of each child, the children, then the
// session row. It returns the removed children.
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID int64) ([]DeletedContent, error) {
	removed := make([]DeletedContent, 0)
	err := s.withTx(ctx, "delete session", func(tx *sql.Tx) error {
		var locked int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE id=$1 FOR UPDATE`, sessionID).Scan(&locked); err != nil {
			return fmt.Errorf("lock session: %w", err)
		}

		for _, kind := range engagement.Kinds {
			table, err := tableFor(kind)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM likes
				WHERE entity_type=$1
				  AND entity_id IN (SELECT id FROM `+table.name+` WHERE session_id=$2)
			`, kind.String(), sessionID); err != nil {
				return fmt.Errorf("purge %s likes: %w", kind, err)
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM comments
				WHERE entity_type=$1
				  AND entity_id IN (SELECT id FROM `+table.name+` WHERE session_id=$2)
			`, kind.String(), sessionID); err != nil {
				return fmt.Errorf("purge %s comments: %w", kind, err)
			}

			rows, err := tx.QueryContext(ctx, `
				DELETE FROM `+table.name+`
				WHERE session_id=$1
				RETURNING id, `+table.imageColumn, sessionID)
			if err != nil {
				return fmt.Errorf("delete %s rows: %w", kind, err)
			}
			for rows.Next() {
				var id int64
				var imageURL string
				if err := rows.Scan(&id, &imageURL); err != nil {
					rows.Close()
					return fmt.Errorf("scan deleted %s: %w", kind, err)
				}
				ref, err := engagement.ParseRef(kind.String(), id)
				if err != nil {
					rows.Close()
					return err
				}
				removed = append(removed, DeletedContent{Ref: ref, SessionID: sessionID, ImageURL: imageURL})
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return fmt.Errorf("iterate deleted %s: %w", kind, err)
			}
			rows.Close()
		}

		// Engagement rows whose entity was already gone still carry the
		// session id and would block the session delete.
		if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE session_id=$1`, sessionID); err != nil {
			return fmt.Errorf("purge session comments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM likes WHERE session_id=$1`, sessionID); err != nil {
			return fmt.Errorf("purge session likes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, sessionID); err != nil {
			return fmt.Errorf("delete session row: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	return removed, nil
}
