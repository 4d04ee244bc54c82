package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var ErrRequestFailed = errors.New("request failed")

// Конечные точки доски
const (
	OpChat   = "chat"
	OpStatus = "status"
	OpCreate = "create"
	OpDelete = "delete"
)

// RequestError - сбой запроса на уровне сети или HTTP-статуса
type RequestError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.URL, e.StatusCode)
}

func (e *RequestError) Is(target error) bool {
	return target == ErrRequestFailed
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Poster отправляет POST-запросы вида <base>/<op>/<segment>
type Poster struct {
	baseURL string
	client  *http.Client
}

func NewPoster(baseURL string, client *http.Client) *Poster {
	if client == nil {
		client = http.DefaultClient
	}
	return &Poster{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// URL строит адрес запроса; сегмент экранируется целиком
func (p *Poster) URL(op, segment string) string {
	return p.baseURL + "/" + op + "/" + url.PathEscape(segment)
}

// Post отправляет body как text/plain. Любой статус вне 2xx - ошибка.
func (p *Poster) Post(ctx context.Context, op, segment, body string) error {
	target := p.URL(op, segment)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		return &RequestError{Op: op, URL: target, Err: err}
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return &RequestError{Op: op, URL: target, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Op: op, URL: target, StatusCode: resp.StatusCode}
	}
	return nil
}
