package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ButyrinIA/feedsync/internal/models"
	"github.com/ButyrinIA/feedsync/internal/storage"
	"github.com/jackc/pgx/v5"
)

// PostgresStorage зеркалирует ленту клиента в PostgreSQL. Лента живет
// одну сессию клиента, поэтому New очищает таблицу от прошлого запуска.
type PostgresStorage struct {
	conn *pgx.Conn
}

func New(dsn string) (*PostgresStorage, error) {
	conn, err := pgx.Connect(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	_, err = conn.Exec(context.Background(), `
		CREATE SEQUENCE IF NOT EXISTS feed_posts_seq;
		CREATE TABLE IF NOT EXISTS feed_posts (
			key TEXT PRIMARY KEY,
			prefix TEXT NOT NULL,
			idx TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			seq BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_feed_posts_seq ON feed_posts(seq);
	`)
	if err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if _, err = conn.Exec(context.Background(), `TRUNCATE feed_posts`); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("failed to reset feed: %w", err)
	}

	return &PostgresStorage{conn: conn}, nil
}

func (s *PostgresStorage) PutPost(ctx context.Context, post *models.Post) error {
	// Существующий пост сохраняет seq, если он не задан явно
	err := s.conn.QueryRow(ctx, `
		INSERT INTO feed_posts (key, prefix, idx, title, body, seq)
		VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6::BIGINT, 0), nextval('feed_posts_seq')))
		ON CONFLICT (key) DO UPDATE SET
			prefix = EXCLUDED.prefix,
			idx = EXCLUDED.idx,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			seq = CASE WHEN $6::BIGINT = 0 THEN feed_posts.seq ELSE EXCLUDED.seq END
		RETURNING seq`,
		post.Key(), post.Prefix, post.Index, post.Title, post.Body, post.Seq).Scan(&post.Seq)
	if err != nil {
		return fmt.Errorf("failed to put post: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetPost(ctx context.Context, key string) (*models.Post, error) {
	var p models.Post
	err := s.conn.QueryRow(ctx, `
		SELECT prefix, idx, title, body, seq
		FROM feed_posts
		WHERE key=$1`, key).Scan(&p.Prefix, &p.Index, &p.Title, &p.Body, &p.Seq)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStorage) DeletePost(ctx context.Context, key string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM feed_posts WHERE key=$1`, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) ListPosts(ctx context.Context, limit int, cursor *string) (*models.PaginatedPosts, error) {
	// Подсчет общего количества
	totalCount, err := s.CountPosts(ctx)
	if err != nil {
		return nil, err
	}

	var after int64
	if cursor != nil {
		after, err = strconv.ParseInt(*cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", *cursor, err)
		}
	}

	var pageLimit *int
	if limit > 0 {
		l := limit + 1
		pageLimit = &l
	}

	rows, err := s.conn.Query(ctx, `
		SELECT prefix, idx, title, body, seq
		FROM feed_posts
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2`, after, pageLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.Prefix, &p.Index, &p.Title, &p.Body, &p.Seq); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var nextCursor *string
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
		cursorVal := strconv.FormatInt(posts[limit-1].Seq, 10)
		nextCursor = &cursorVal
	}

	return &models.PaginatedPosts{
		Posts:      posts,
		TotalCount: totalCount,
		NextCursor: nextCursor,
	}, nil
}

func (s *PostgresStorage) CountPosts(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM feed_posts`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStorage) Close() error {
	return s.conn.Close(context.Background())
}
