// Package synchronizer держит подписку на поток доски, применяет пакеты
// к ленте и отправляет изменения обратно на сервер.
//
// События потока обрабатываются последовательно в горутине Connect.
// Исходящие запросы выполняются асинхронно и возвращают *Ack; порядок
// между ними и входящими пакетами не гарантируется.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ButyrinIA/feedsync/internal/codec"
	"github.com/ButyrinIA/feedsync/internal/feed"
	"github.com/ButyrinIA/feedsync/internal/models"
	"github.com/ButyrinIA/feedsync/internal/transport"
	"github.com/cenkalti/backoff/v4"
)

// Именованное событие с идентификатором сессии
const EventUser = "user"

const (
	lineConnected    = "Connected!"
	lineDisconnected = "Disconnected"
)

var errStreamClosed = errors.New("stream closed by server")

// Poster отправляет один POST-запрос доске
type Poster interface {
	Post(ctx context.Context, op, segment, body string) error
}

type Option func(*Synchronizer)

// WithLogger задает логгер; по умолчанию slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = logger }
}

// WithEchoPrefix задает префикс локального эха для статуса и чата
func WithEchoPrefix(prefix string) Option {
	return func(s *Synchronizer) { s.echoPrefix = prefix }
}

// WithBackOff задает политику переподключения
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Synchronizer) { s.newBackOff = newBackOff }
}

// WithRequestTimeout ограничивает время одного исходящего запроса
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *Synchronizer) { s.requestTimeout = timeout }
}

// ExponentialBackOff - политика по умолчанию: экспоненциальная задержка
// со случайным разбросом, без ограничения общего времени.
func ExponentialBackOff(initial, maxInterval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxInterval
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

type Synchronizer struct {
	feed   *feed.Feed
	stream transport.Stream
	poster Poster

	logger         *slog.Logger
	echoPrefix     string
	newBackOff     func() backoff.BackOff
	requestTimeout time.Duration

	mu        sync.RWMutex
	session   string
	connected bool

	updates *subscriptionHandler
}

func New(f *feed.Feed, stream transport.Stream, poster Poster, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		feed:       f,
		stream:     stream,
		poster:     poster,
		logger:     slog.Default(),
		echoPrefix: "<You>: ",
		newBackOff: ExponentialBackOff(500*time.Millisecond, 30*time.Second),
		updates:    newSubscriptionHandler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Updates подписывает на изменения представления до отмены ctx
func (s *Synchronizer) Updates(ctx context.Context) <-chan models.Update {
	return s.updates.Subscribe(ctx)
}

func (s *Synchronizer) Feed() *feed.Feed {
	return s.feed
}

func (s *Synchronizer) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Session возвращает идентификатор, полученный из события "user"
func (s *Synchronizer) Session() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.session != ""
}

// Connect держит подписку до отмены ctx. Разорванное соединение
// открывается заново с задержкой по политике переподключения; задержка
// сбрасывается после каждого успешного открытия.
func (s *Synchronizer) Connect(ctx context.Context) error {
	b := backoff.WithContext(s.newBackOff(), ctx)
	for {
		err := s.subscribe(ctx, b)
		if ctx.Err() != nil {
			return nil
		}
		s.disconnected(err)

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("stream subscription abandoned: %w", err)
		}
		s.logger.Info("reconnecting to stream", "delay", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (s *Synchronizer) subscribe(ctx context.Context, b backoff.BackOff) error {
	reader, err := s.stream.Open(ctx)
	if err != nil {
		return err
	}
	defer reader.Close()

	b.Reset()
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.logger.Info("stream connected")
	s.publishLine(models.LineState, lineConnected)

	for reader.Next() {
		s.dispatch(ctx, reader.Event())
	}
	if err := reader.Err(); err != nil {
		return err
	}
	return errStreamClosed
}

func (s *Synchronizer) dispatch(ctx context.Context, event transport.Event) {
	switch event.Type {
	case EventUser:
		s.OnSessionAssigned(event.Data)
	case "", "message":
		if _, err := s.OnFeedMessage(ctx, event.Data); err != nil {
			s.report("feed", err)
		}
	default:
		s.logger.Debug("ignoring stream event", "type", event.Type)
	}
}

// Новая сессия придет после переподключения, старая больше не действует
func (s *Synchronizer) disconnected(err error) {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.session = ""
	s.mu.Unlock()

	s.logger.Warn("stream disconnected", "error", err)
	if wasConnected {
		s.publishLine(models.LineState, lineDisconnected)
	}
}

// OnSessionAssigned запоминает идентификатор сессии
func (s *Synchronizer) OnSessionAssigned(id string) {
	s.mu.Lock()
	s.session = id
	s.mu.Unlock()

	s.logger.Info("session assigned", "user_id", id)
	s.updates.publish(models.Update{Kind: models.UpdateSession, Key: id})
}

// OnFeedMessage применяет пакет ленты. Ошибочные записи пропускаются и
// сообщаются подписчикам; возвращаемая ошибка - только сбой хранилища.
func (s *Synchronizer) OnFeedMessage(ctx context.Context, raw string) (codec.Batch, error) {
	batch := codec.ParseBatch(raw)
	for _, err := range batch.Errors {
		s.report("decode", err)
	}

	header, units, err := s.feed.ApplyBatch(ctx, batch)
	s.updates.publish(models.Update{Kind: models.UpdateLine, Line: &header})
	for i := range units {
		s.updates.publish(models.Update{Kind: models.UpdateUpsert, Unit: &units[i], Key: units[i].Key})
	}
	return batch, err
}

// SubmitStatus отправляет статус и сразу выводит локальное эхо
func (s *Synchronizer) SubmitStatus(ctx context.Context, text string) (*Ack, error) {
	return s.submitText(ctx, transport.OpStatus, text)
}

// SubmitChat отправляет сообщение чата и сразу выводит локальное эхо
func (s *Synchronizer) SubmitChat(ctx context.Context, text string) (*Ack, error) {
	return s.submitText(ctx, transport.OpChat, text)
}

func (s *Synchronizer) submitText(ctx context.Context, op, text string) (*Ack, error) {
	session, err := s.sessionFor(ctx)
	if err != nil {
		return nil, err
	}
	ack := s.send(ctx, op, session, text, nil)
	s.publishLine(models.LineEcho, s.echoPrefix+text)
	return ack, nil
}

// SubmitCreate создает пост с индексом по числу известных постов. Пост
// появляется в ленте сразу. Индекс назначает клиент, поэтому два
// клиента могут создать посты с одинаковым индексом.
func (s *Synchronizer) SubmitCreate(ctx context.Context, title, body string) (*Ack, error) {
	if _, err := s.sessionFor(ctx); err != nil {
		return nil, err
	}
	unit, record, err := s.feed.Create(ctx, title, body)
	if err != nil {
		return nil, err
	}
	s.updates.publish(models.Update{Kind: models.UpdateUpsert, Unit: &unit, Key: unit.Key})
	return s.send(ctx, transport.OpCreate, record, record, nil), nil
}

// BeginEdit переводит пост в режим редактирования, без сетевых запросов
func (s *Synchronizer) BeginEdit(ctx context.Context, key string) error {
	unit, err := s.feed.BeginEdit(ctx, key)
	if err != nil {
		return err
	}
	s.updates.publish(models.Update{Kind: models.UpdateEdit, Unit: &unit, Key: key})
	return nil
}

// EditDraft задает отредактированные заголовок и тело поста
func (s *Synchronizer) EditDraft(key, title, body string) error {
	return s.feed.SetDraft(key, title, body)
}

// CommitEdit сохраняет пост через ту же точку create: сервер по индексу
// решает, вставить запись или заменить. Локальный пост заменяется после
// подтверждения.
func (s *Synchronizer) CommitEdit(ctx context.Context, key string) (*Ack, error) {
	if _, err := s.sessionFor(ctx); err != nil {
		return nil, err
	}
	post, err := s.feed.Draft(ctx, key)
	if err != nil {
		return nil, err
	}
	record, err := codec.Encode(post)
	if err != nil {
		return nil, err
	}

	return s.send(ctx, transport.OpCreate, record, record, func(ctx context.Context) {
		unit, err := s.feed.Replace(ctx, key, post)
		if err != nil {
			s.report("upsert", err)
			return
		}
		if unit.Key != key {
			s.updates.publish(models.Update{Kind: models.UpdateRemove, Key: key})
		}
		s.updates.publish(models.Update{Kind: models.UpdateUpsert, Unit: &unit, Key: unit.Key})
	}), nil
}

// DeleteRecord удаляет пост из ленты сразу и отправляет серверу
// усеченную запись как токен удаления.
func (s *Synchronizer) DeleteRecord(ctx context.Context, key string) (*Ack, error) {
	if _, err := s.sessionFor(ctx); err != nil {
		return nil, err
	}
	post, err := s.feed.Remove(ctx, key)
	if err != nil {
		return nil, err
	}
	s.updates.publish(models.Update{Kind: models.UpdateRemove, Key: key})

	token := codec.DeleteToken(post.Prefix, post.Index, post.Title)
	return s.send(ctx, transport.OpDelete, token, key, nil), nil
}

func (s *Synchronizer) sessionFor(ctx context.Context) (string, error) {
	if id, ok := SessionFromContext(ctx); ok {
		return id, nil
	}
	if id, ok := s.Session(); ok {
		return id, nil
	}
	return "", ErrSessionNotReady
}

// send выполняет запрос в отдельной горутине. Ошибка не повторяется,
// а сообщается через Ack и подписчикам.
func (s *Synchronizer) send(ctx context.Context, op, segment, body string, onSuccess func(context.Context)) *Ack {
	ack := newAck(op)
	go func() {
		reqCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.requestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		}
		defer cancel()

		err := s.poster.Post(reqCtx, op, segment, body)
		if err != nil {
			s.logger.Warn("request failed", "op", op, "ack_id", ack.ID, "error", err)
			s.updates.publish(models.Update{Kind: models.UpdateError, Key: ack.ID.String(), Err: err})
		} else {
			s.logger.Debug("request acknowledged", "op", op, "ack_id", ack.ID)
			if onSuccess != nil {
				onSuccess(reqCtx)
			}
		}
		ack.finish(err)
	}()
	return ack
}

func (s *Synchronizer) publishLine(kind models.LineKind, text string) {
	line := s.feed.AddLine(kind, text)
	s.updates.publish(models.Update{Kind: models.UpdateLine, Line: &line})
}

func (s *Synchronizer) report(stage string, err error) {
	s.logger.Warn("feed error", "stage", stage, "error", err)
	s.updates.publish(models.Update{Kind: models.UpdateError, Err: err})
}
