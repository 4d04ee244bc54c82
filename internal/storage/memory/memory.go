package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/ButyrinIA/feedsync/internal/models"
	"github.com/ButyrinIA/feedsync/internal/storage"
)

type MemoryStorage struct {
	posts   map[string]*models.Post
	nextSeq int64
	mu      sync.RWMutex
}

func New() *MemoryStorage {
	return &MemoryStorage{
		posts: make(map[string]*models.Post),
	}
}

func (s *MemoryStorage) PutPost(ctx context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := post.Key()
	if post.Seq == 0 {
		if existing, ok := s.posts[key]; ok {
			post.Seq = existing.Seq
		} else {
			s.nextSeq++
			post.Seq = s.nextSeq
		}
	} else if post.Seq > s.nextSeq {
		s.nextSeq = post.Seq
	}

	stored := *post
	s.posts[key] = &stored
	return nil
}

func (s *MemoryStorage) GetPost(ctx context.Context, key string) (*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, exists := s.posts[key]
	if !exists {
		return nil, storage.ErrNotFound
	}

	found := *post
	return &found, nil
}

func (s *MemoryStorage) DeletePost(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.posts[key]; !exists {
		return storage.ErrNotFound
	}
	delete(s.posts, key)
	return nil
}

func (s *MemoryStorage) ListPosts(ctx context.Context, limit int, cursor *string) (*models.PaginatedPosts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := make([]models.Post, 0, len(s.posts))
	for _, post := range s.posts {
		posts = append(posts, *post)
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].Seq < posts[j].Seq })

	totalCount := len(posts)

	// Применение курсора
	startIdx := 0
	if cursor != nil {
		after, err := strconv.ParseInt(*cursor, 10, 64)
		if err != nil {
			return nil, err
		}
		startIdx = sort.Search(len(posts), func(i int) bool { return posts[i].Seq > after })
	}

	// Ограничение количества
	endIdx := len(posts)
	if limit > 0 && startIdx+limit < endIdx {
		endIdx = startIdx + limit
	}

	var nextCursor *string
	if endIdx < len(posts) {
		cursorVal := strconv.FormatInt(posts[endIdx-1].Seq, 10)
		nextCursor = &cursorVal
	}

	return &models.PaginatedPosts{
		Posts:      posts[startIdx:endIdx],
		TotalCount: totalCount,
		NextCursor: nextCursor,
	}, nil
}

func (s *MemoryStorage) CountPosts(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.posts), nil
}

// Close очищает хранилище
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts = make(map[string]*models.Post)
	return nil
}
