// Package feed хранит состояние ленты клиента: посты (через
// storage.Storage), строки заголовков и эхо, черновики редактирования.
// Отрисовкой занимается вызывающая сторона.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ButyrinIA/feedsync/internal/codec"
	"github.com/ButyrinIA/feedsync/internal/models"
	"github.com/ButyrinIA/feedsync/internal/storage"
)

// Сколько служебных строк держит лента
const maxLines = 1000

var (
	ErrUnknownKey  = errors.New("unknown post key")
	ErrNotEditable = errors.New("post is not in edit mode")
)

type draft struct {
	title string
	body  string
	set   bool
}

type Feed struct {
	store   storage.Storage
	mu      sync.Mutex
	lines   []models.Line
	editing map[string]*draft
}

func New(store storage.Storage) *Feed {
	return &Feed{
		store:   store,
		editing: make(map[string]*draft),
	}
}

// AddLine добавляет служебную строку (состояние, заголовок, эхо)
func (f *Feed) AddLine(kind models.LineKind, text string) models.Line {
	f.mu.Lock()
	defer f.mu.Unlock()

	line := models.Line{Kind: kind, Text: text}
	f.lines = append(f.lines, line)
	if len(f.lines) > maxLines {
		f.lines = f.lines[len(f.lines)-maxLines:]
	}
	return line
}

func (f *Feed) Lines() []models.Line {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]models.Line(nil), f.lines...)
}

// ApplyBatch выводит заголовок пакета и вставляет его посты. Пост с уже
// известным ключом заменяется на месте.
func (f *Feed) ApplyBatch(ctx context.Context, batch codec.Batch) (models.Line, []models.RenderUnit, error) {
	header := f.AddLine(models.LineHeader, batch.Header.Text)

	f.mu.Lock()
	defer f.mu.Unlock()

	units := make([]models.RenderUnit, 0, len(batch.Posts))
	for i := range batch.Posts {
		post := batch.Posts[i]
		if err := f.store.PutPost(ctx, &post); err != nil {
			return header, units, fmt.Errorf("failed to store post %s: %w", post.Key(), err)
		}
		units = append(units, f.unitLocked(post))
	}
	return header, units, nil
}

// Create назначает следующий индекс по числу известных постов, кодирует
// пост и вставляет его в ленту до ответа сервера.
func (f *Feed) Create(ctx context.Context, title, body string) (models.RenderUnit, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count, err := f.store.CountPosts(ctx)
	if err != nil {
		return models.RenderUnit{}, "", err
	}

	post := models.Post{
		Prefix: models.RecordPrefix,
		Index:  models.FormatIndex(count),
		Title:  title,
		Body:   body,
	}
	record, err := codec.Encode(post)
	if err != nil {
		return models.RenderUnit{}, "", err
	}
	if err := f.store.PutPost(ctx, &post); err != nil {
		return models.RenderUnit{}, "", fmt.Errorf("failed to store post %s: %w", post.Key(), err)
	}
	return f.unitLocked(post), record, nil
}

func (f *Feed) Unit(ctx context.Context, key string) (models.RenderUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	post, err := f.getLocked(ctx, key)
	if err != nil {
		return models.RenderUnit{}, err
	}
	return f.unitLocked(*post), nil
}

// Units возвращает все посты ленты в порядке появления
func (f *Feed) Units(ctx context.Context) ([]models.RenderUnit, error) {
	units, _, err := f.Page(ctx, 0, nil)
	return units, err
}

// Page возвращает до limit постов после cursor и курсор следующей
// страницы (nil на последней). limit <= 0 - все оставшиеся посты.
func (f *Feed) Page(ctx context.Context, limit int, cursor *string) ([]models.RenderUnit, *string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	page, err := f.store.ListPosts(ctx, limit, cursor)
	if err != nil {
		return nil, nil, err
	}
	units := make([]models.RenderUnit, 0, len(page.Posts))
	for _, post := range page.Posts {
		units = append(units, f.unitLocked(post))
	}
	return units, page.NextCursor, nil
}

func (f *Feed) Count(ctx context.Context) (int, error) {
	return f.store.CountPosts(ctx)
}

// Remove удаляет пост из ленты
func (f *Feed) Remove(ctx context.Context, key string) (models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	post, err := f.getLocked(ctx, key)
	if err != nil {
		return models.Post{}, err
	}
	if err := f.store.DeletePost(ctx, key); err != nil {
		return models.Post{}, err
	}
	delete(f.editing, key)
	return *post, nil
}

// BeginEdit делает заголовок и тело поста редактируемыми
func (f *Feed) BeginEdit(ctx context.Context, key string) (models.RenderUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	post, err := f.getLocked(ctx, key)
	if err != nil {
		return models.RenderUnit{}, err
	}
	if _, ok := f.editing[key]; !ok {
		f.editing[key] = &draft{}
	}
	return f.unitLocked(*post), nil
}

// SetDraft запоминает отредактированные заголовок и тело
func (f *Feed) SetDraft(key, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.editing[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrNotEditable)
	}
	d.title, d.body, d.set = title, body, true
	return nil
}

// Draft возвращает пост с учетом черновика, если он есть
func (f *Feed) Draft(ctx context.Context, key string) (models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	post, err := f.getLocked(ctx, key)
	if err != nil {
		return models.Post{}, err
	}
	if d, ok := f.editing[key]; ok && d.set {
		post.Title, post.Body = d.title, d.body
	}
	return *post, nil
}

// Replace подменяет пост oldKey подтвержденной версией. Смена заголовка
// меняет ключ, позиция в ленте сохраняется.
func (f *Feed) Replace(ctx context.Context, oldKey string, post models.Post) (models.RenderUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	old, err := f.getLocked(ctx, oldKey)
	if err != nil {
		return models.RenderUnit{}, err
	}
	post.Seq = old.Seq
	if post.Key() != oldKey {
		if err := f.store.DeletePost(ctx, oldKey); err != nil {
			return models.RenderUnit{}, err
		}
	}
	if err := f.store.PutPost(ctx, &post); err != nil {
		return models.RenderUnit{}, fmt.Errorf("failed to store post %s: %w", post.Key(), err)
	}
	delete(f.editing, oldKey)
	return f.unitLocked(post), nil
}

func (f *Feed) getLocked(ctx context.Context, key string) (*models.Post, error) {
	post, err := f.store.GetPost(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrUnknownKey)
	}
	return post, err
}

func (f *Feed) unitLocked(post models.Post) models.RenderUnit {
	unit := models.NewRenderUnit(post)
	_, unit.Editable = f.editing[unit.Key]
	return unit
}
