package synchronizer

import (
	"context"
	"errors"
)

var ErrSessionNotReady = errors.New("session not ready")

type sessionKey struct{}

// WithSession передает идентификатор сессии явно через контекст. Он
// имеет приоритет над идентификатором, полученным из события "user".
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

func SessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}
