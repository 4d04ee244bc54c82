package synchronizer

import (
	"context"
	"sync"

	"github.com/ButyrinIA/feedsync/internal/models"
)

const updateBufferSize = 64

// subscriptionHandler рассылает обновления представления подписчикам
type subscriptionHandler struct {
	channels map[chan models.Update]struct{}
	mu       sync.RWMutex
}

func newSubscriptionHandler() *subscriptionHandler {
	return &subscriptionHandler{
		channels: make(map[chan models.Update]struct{}),
	}
}

// Subscribe возвращает канал обновлений, закрываемый после отмены ctx
func (s *subscriptionHandler) Subscribe(ctx context.Context) <-chan models.Update {
	ch := make(chan models.Update, updateBufferSize)
	s.mu.Lock()
	s.channels[ch] = struct{}{}
	s.mu.Unlock()

	// Очистка канала после завершения подписки
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if _, exists := s.channels[ch]; exists {
			close(ch)
			delete(s.channels, ch)
		}
		s.mu.Unlock()
	}()

	return ch
}

// publish не блокируется: медленный подписчик теряет обновления
func (s *subscriptionHandler) publish(update models.Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.channels {
		select {
		case ch <- update:
		default:
		}
	}
}
