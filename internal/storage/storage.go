package storage

import (
	"context"
	"errors"

	"github.com/ButyrinIA/feedsync/internal/models"
)

var ErrNotFound = errors.New("post not found")

// Storage хранит посты ленты по ключу отображения
type Storage interface {
	// PutPost вставляет пост или заменяет пост с тем же ключом.
	// Нулевой Seq назначается хранилищем, ненулевой сохраняется.
	PutPost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, key string) (*models.Post, error)
	DeletePost(ctx context.Context, key string) error
	ListPosts(ctx context.Context, limit int, cursor *string) (*models.PaginatedPosts, error)
	CountPosts(ctx context.Context) (int, error)
	Close() error
}
