package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"studyhub/api/internal/engagement"
)

const pgForeignKeyViolation = "23503"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type contentTable struct {
	name string
	// imageColumn is selected when a row is deleted so stored objects can
	// be cleaned up.
	imageColumn string
}

var contentTables = map[engagement.Kind]contentTable{
	engagement.KindNews:     {name: "news_posts", imageColumn: "image_url"},
	engagement.KindTopic:    {name: "topics", imageColumn: "''"},
	engagement.KindEvidence: {name: "evidences", imageColumn: "image_url"},
}

func tableFor(kind engagement.Kind) (contentTable, error) {
	table, ok := contentTables[kind]
	if !ok {
		return contentTable{}, engagement.ErrInvalidKind
	}
	return table, nil
}

func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

// notFoundOnMissingParent turns a foreign key violation on insert into
// sql.ErrNoRows so callers see the missing session as a lookup miss.
func notFoundOnMissingParent(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
