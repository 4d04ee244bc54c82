package models

import "fmt"

// Префикс записи, который использует доска
const RecordPrefix = "post"

// Ширина индекса поста
const IndexWidth = 3

type Post struct {
	Prefix string `json:"prefix"`
	Index  string `json:"index"`
	Title  string `json:"title"`
	Body   string `json:"post"`
	Seq    int64  `json:"seq"`
}

// Key возвращает ключ отображения поста: <prefix>-<index>-<title>
func (p *Post) Key() string {
	return p.Slot() + "-" + p.Title
}

// Slot возвращает <prefix>-<index>, общий для заголовка и тела поста
func (p *Post) Slot() string {
	prefix := p.Prefix
	if prefix == "" {
		prefix = RecordPrefix
	}
	return prefix + "-" + p.Index
}

// FormatIndex дополняет порядковый номер нулями до IndexWidth
func FormatIndex(n int) string {
	return fmt.Sprintf("%0*d", IndexWidth, n)
}

type PaginatedPosts struct {
	Posts      []Post  `json:"posts"`
	TotalCount int     `json:"totalCount"`
	NextCursor *string `json:"nextCursor"`
}

// Header - нулевой элемент пакета ленты
type Header struct {
	Text   string `json:"text"`
	Marker string `json:"marker"`
	Detail string `json:"detail"`
}

type Action string

const (
	ActionDelete Action = "delete"
	ActionUpdate Action = "update"
	ActionSave   Action = "save"
)

// RenderUnit - пост вместе с действиями, привязанными к его ключу
type RenderUnit struct {
	Key      string   `json:"key"`
	Post     Post     `json:"post"`
	Actions  []Action `json:"actions"`
	Editable bool     `json:"editable"`
}

func NewRenderUnit(post Post) RenderUnit {
	return RenderUnit{
		Key:     post.Key(),
		Post:    post,
		Actions: []Action{ActionDelete, ActionUpdate, ActionSave},
	}
}

type LineKind string

const (
	LineState  LineKind = "state"
	LineHeader LineKind = "header"
	LineEcho   LineKind = "echo"
)

type Line struct {
	Kind LineKind `json:"kind"`
	Text string   `json:"text"`
}

type UpdateKind string

const (
	UpdateLine    UpdateKind = "line"
	UpdateUpsert  UpdateKind = "upsert"
	UpdateRemove  UpdateKind = "remove"
	UpdateEdit    UpdateKind = "edit"
	UpdateSession UpdateKind = "session"
	UpdateError   UpdateKind = "error"
)

// Update - изменение представления ленты для подписчиков
type Update struct {
	Kind UpdateKind  `json:"kind"`
	Line *Line       `json:"line,omitempty"`
	Unit *RenderUnit `json:"unit,omitempty"`
	Key  string      `json:"key,omitempty"`
	Err  error       `json:"-"`
}
