package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/ButyrinIA/feedsync/internal/codec"
	"github.com/ButyrinIA/feedsync/internal/models"
	"github.com/ButyrinIA/feedsync/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// мок для интерфейса storage.Storage
type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) PutPost(ctx context.Context, post *models.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

func (m *mockStorage) GetPost(ctx context.Context, key string) (*models.Post, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(*models.Post), args.Error(1)
}

func (m *mockStorage) DeletePost(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockStorage) ListPosts(ctx context.Context, limit int, cursor *string) (*models.PaginatedPosts, error) {
	args := m.Called(ctx, limit, cursor)
	return args.Get(0).(*models.PaginatedPosts), args.Error(1)
}

func (m *mockStorage) CountPosts(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestApplyBatch(t *testing.T) {
	f := New(memory.New())
	ctx := context.Background()

	batch := codec.ParseBatch(`hdr::x,post-000-{"title"_"A"|"post"_"B"},post-001-{"title"_"C"|"post"_"D"}`)
	header, units, err := f.ApplyBatch(ctx, batch)
	require.NoError(t, err)

	assert.Equal(t, models.Line{Kind: models.LineHeader, Text: "hdr::x"}, header)
	require.Len(t, units, 2)
	assert.Equal(t, "post-000-A", units[0].Key)
	assert.Equal(t, []models.Action{models.ActionDelete, models.ActionUpdate, models.ActionSave}, units[0].Actions)

	// повторный пакет не дублирует посты
	_, _, err = f.ApplyBatch(ctx, batch)
	require.NoError(t, err)
	count, err := f.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, f.Lines(), 2)
}

func TestApplyBatch_StorageError(t *testing.T) {
	store := &mockStorage{}
	store.On("PutPost", mock.Anything, mock.Anything).Return(errors.New("ошибка хранилища"))

	f := New(store)
	_, _, err := f.ApplyBatch(context.Background(), codec.ParseBatch(`h,post-000-{"title"_"A"|"post"_"B"}`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ошибка хранилища")
	store.AssertExpectations(t)
}

func TestCreate_AssignsSequentialIndices(t *testing.T) {
	f := New(memory.New())
	ctx := context.Background()

	for i, want := range []string{"000", "001", "002", "003", "004"} {
		unit, record, err := f.Create(ctx, "title", "body")
		require.NoError(t, err, "создание %d", i)
		assert.Equal(t, want, unit.Post.Index)
		assert.Equal(t, `post-`+want+`-{"title"_"title"|"post"_"body"}`, record)
	}
}

func TestCreate_RejectsReservedText(t *testing.T) {
	f := New(memory.New())
	ctx := context.Background()

	_, _, err := f.Create(ctx, "a-b", "body")
	assert.ErrorIs(t, err, codec.ErrReservedCharacter)

	count, err := f.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "Некодируемый пост не должен попасть в ленту")
}

func TestCreate_CountError(t *testing.T) {
	store := &mockStorage{}
	store.On("CountPosts", mock.Anything).Return(0, errors.New("ошибка хранилища"))

	_, _, err := New(store).Create(context.Background(), "a", "b")
	assert.Error(t, err)
	store.AssertExpectations(t)
}

func TestRemove(t *testing.T) {
	f := New(memory.New())
	ctx := context.Background()

	unit, _, err := f.Create(ctx, "A", "B")
	require.NoError(t, err)

	post, err := f.Remove(ctx, unit.Key)
	require.NoError(t, err)
	assert.Equal(t, "A", post.Title)

	_, err = f.Unit(ctx, unit.Key)
	assert.ErrorIs(t, err, ErrUnknownKey)
	_, err = f.Remove(ctx, unit.Key)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestEditFlow(t *testing.T) {
	f := New(memory.New())
	ctx := context.Background()

	_, _, err := f.Create(ctx, "first", "x")
	require.NoError(t, err)
	unit, _, err := f.Create(ctx, "A", "B")
	require.NoError(t, err)

	assert.ErrorIs(t, f.SetDraft(unit.Key, "Z", "Y"), ErrNotEditable)

	edited, err := f.BeginEdit(ctx, unit.Key)
	require.NoError(t, err)
	assert.True(t, edited.Editable)

	// без черновика возвращается текущее содержимое
	post, err := f.Draft(ctx, unit.Key)
	require.NoError(t, err)
	assert.Equal(t, "A", post.Title)

	require.NoError(t, f.SetDraft(unit.Key, "Z", "Y"))
	post, err = f.Draft(ctx, unit.Key)
	require.NoError(t, err)
	assert.Equal(t, "Z", post.Title)
	assert.Equal(t, "Y", post.Body)
	assert.Equal(t, "001", post.Index)

	replaced, err := f.Replace(ctx, unit.Key, post)
	require.NoError(t, err)
	assert.Equal(t, "post-001-Z", replaced.Key)
	assert.False(t, replaced.Editable)

	units, err := f.Units(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "post-001-Z", units[1].Key, "Позиция в ленте сохраняется")

	_, err = f.Unit(ctx, unit.Key)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestPage(t *testing.T) {
	f := New(memory.New())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := f.Create(ctx, "title", "body")
		require.NoError(t, err)
	}

	units, next, err := f.Page(ctx, 2, nil)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "000", units[0].Post.Index)
	require.NotNil(t, next)

	units, next, err = f.Page(ctx, 2, next)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "002", units[0].Post.Index)
	assert.Nil(t, next, "Последняя страница без курсора")
}

func TestBeginEdit_UnknownKey(t *testing.T) {
	f := New(memory.New())
	_, err := f.BeginEdit(context.Background(), "post-000-none")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestLinesAreBounded(t *testing.T) {
	f := New(memory.New())
	for i := 0; i < maxLines+10; i++ {
		f.AddLine(models.LineEcho, "x")
	}
	assert.Len(t, f.Lines(), maxLines)
}
