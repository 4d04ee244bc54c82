package synchronizer

import (
	"context"

	"github.com/google/uuid"
)

// Ack - результат исходящего запроса, который завершается позже
type Ack struct {
	ID   uuid.UUID
	Op   string
	done chan struct{}
	err  error
}

func newAck(op string) *Ack {
	return &Ack{ID: uuid.New(), Op: op, done: make(chan struct{})}
}

func (a *Ack) finish(err error) {
	a.err = err
	close(a.done)
}

// Done закрывается, когда запрос завершен
func (a *Ack) Done() <-chan struct{} {
	return a.done
}

// Err возвращает ошибку запроса; nil, пока запрос не завершен
func (a *Ack) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Wait ждет завершения запроса или отмены ctx
func (a *Ack) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
