package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// EventReader выдает события одного открытого соединения
type EventReader interface {
	Next() bool
	Event() Event
	Err() error
	Close() error
}

// Stream открывает подписку на поток доски
type Stream interface {
	Open(ctx context.Context) (EventReader, error)
}

// SSEStream - подписка через text/event-stream
type SSEStream struct {
	URL    string
	Client *http.Client
}

func NewSSEStream(url string) *SSEStream {
	// Без Timeout: соединение живет столько же, сколько подписка
	return &SSEStream{URL: url, Client: &http.Client{}}
}

func (s *SSEStream) Open(ctx context.Context) (EventReader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, &RequestError{Op: "subscribe", URL: s.URL, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &RequestError{Op: "subscribe", URL: s.URL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &RequestError{Op: "subscribe", URL: s.URL, StatusCode: resp.StatusCode}
	}

	return &sseReader{SSEScanner: NewSSEScanner(resp.Body), body: resp.Body}, nil
}

type sseReader struct {
	*SSEScanner
	body io.Closer
}

func (r *sseReader) Close() error {
	return r.body.Close()
}

// WebSocketStream - та же подписка поверх WebSocket. Кадр - JSON
// {"event":"user","data":"..."}; кадр, не являющийся таким объектом,
// считается событием по умолчанию целиком.
type WebSocketStream struct {
	URL    string
	Dialer *websocket.Dialer
}

func NewWebSocketStream(url string) *WebSocketStream {
	return &WebSocketStream{URL: toWebSocketURL(url), Dialer: websocket.DefaultDialer}
}

func (s *WebSocketStream) Open(ctx context.Context) (EventReader, error) {
	conn, resp, err := s.Dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		reqErr := &RequestError{Op: "subscribe", URL: s.URL, Err: err}
		if resp != nil {
			reqErr.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		return nil, reqErr
	}

	r := &wsReader{conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			r.Close()
		case <-r.done:
		}
	}()
	return r, nil
}

type wsFrame struct {
	Event string  `json:"event"`
	Data  *string `json:"data"`
}

type wsReader struct {
	conn      *websocket.Conn
	current   Event
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

func (r *wsReader) Next() bool {
	for {
		messageType, data, err := r.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.err = err
			}
			return false
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame wsFrame
		if json.Unmarshal(data, &frame) == nil && frame.Data != nil {
			r.current = Event{Type: frame.Event, Data: *frame.Data}
		} else {
			r.current = Event{Data: string(data)}
		}
		return true
	}
}

func (r *wsReader) Event() Event {
	return r.current
}

func (r *wsReader) Err() error {
	return r.err
}

func (r *wsReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.conn.Close()
	})
	return err
}

func toWebSocketURL(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}
