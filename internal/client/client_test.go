package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ButyrinIA/feedsync/internal/config"
	"github.com/ButyrinIA/feedsync/internal/storage/memory"
	"github.com/ButyrinIA/feedsync/internal/synchronizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// board - тестовая доска: поток SSE и запись полученных POST-запросов
type board struct {
	mu    sync.Mutex
	posts []string
}

func (b *board) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: user\ndata: u1\n\n")
		fmt.Fprint(w, "data: hdr::x,post-000-{\"title\"_\"A\"|\"post\"_\"B\"},\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.posts = append(b.posts, r.URL.Path+" "+string(body))
		b.mu.Unlock()
	})
	return mux
}

func (b *board) received() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.posts...)
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.BaseURL = baseURL
	cfg.Stream.InitialInterval = 10 * time.Millisecond
	cfg.Stream.MaxInterval = 50 * time.Millisecond
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClient(t *testing.T) {
	cfg := testConfig("http://localhost:8000")
	client := New(cfg, memory.New(), io.Discard, quietLogger())

	assert.NotNil(t, client)
	assert.Equal(t, cfg, client.cfg)
	assert.NotNil(t, client.Synchronizer())
}

func TestNewClient_WebSocket(t *testing.T) {
	cfg := testConfig("http://localhost:8000")
	cfg.Stream.Transport = config.TransportWebSocket

	client := New(cfg, memory.New(), io.Discard, quietLogger())
	assert.NotNil(t, client.Synchronizer())
}

func TestExecute(t *testing.T) {
	b := &board{}
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	out := &lockedBuffer{}
	client := New(testConfig(srv.URL), memory.New(), out, quietLogger())
	ctx := context.Background()

	_, err := client.Execute(ctx, "hello")
	assert.ErrorIs(t, err, synchronizer.ErrSessionNotReady)

	client.Synchronizer().OnSessionAssigned("u1")

	steps := []struct {
		line string
		want string
	}{
		{"hello", "/chat/u1 hello"},
		{"/status away", "/status/u1 away"},
		{"/create First|Body", `/create/post-000-{"title"_"First"|"post"_"Body"} post-000-{"title"_"First"|"post"_"Body"}`},
		{"/save post-000-First", `/create/post-000-{"title"_"First"|"post"_"Body"} post-000-{"title"_"First"|"post"_"Body"}`},
		{"/delete post-000-First", `/delete/post-000-{"title"_"First" post-000-First`},
	}
	for _, step := range steps {
		ack, err := client.Execute(ctx, step.line)
		require.NoError(t, err, step.line)
		require.NotNil(t, ack, step.line)
		require.NoError(t, ack.Wait(ctx), step.line)

		received := b.received()
		assert.Equal(t, step.want, received[len(received)-1], step.line)
	}
}

func TestExecute_EditCommands(t *testing.T) {
	client := New(testConfig("http://localhost:8000"), memory.New(), io.Discard, quietLogger())
	ctx := context.Background()

	_, err := client.Synchronizer().OnFeedMessage(ctx, `h,post-000-{"title"_"A"|"post"_"B"}`)
	require.NoError(t, err)

	_, err = client.Execute(ctx, "/draft post-000-A Z|Y")
	assert.Error(t, err, "Черновик без /edit запрещен")

	_, err = client.Execute(ctx, "/edit post-000-A")
	require.NoError(t, err)
	_, err = client.Execute(ctx, "/draft post-000-A Z|Y")
	require.NoError(t, err)

	post, err := client.Synchronizer().Feed().Draft(ctx, "post-000-A")
	require.NoError(t, err)
	assert.Equal(t, "Z", post.Title)
	assert.Equal(t, "Y", post.Body)
}

func TestExecute_Errors(t *testing.T) {
	client := New(testConfig("http://localhost:8000"), memory.New(), io.Discard, quietLogger())
	ctx := synchronizer.WithSession(context.Background(), "u1")

	ack, err := client.Execute(ctx, "   ")
	assert.NoError(t, err)
	assert.Nil(t, ack)

	_, err = client.Execute(ctx, "/create missing-separator")
	assert.Error(t, err)

	_, err = client.Execute(ctx, "/frobnicate")
	assert.EqualError(t, err, `unknown command "/frobnicate"`)

	_, err = client.Execute(ctx, "/quit")
	assert.ErrorIs(t, err, ErrQuit)
}

func TestExecute_RejectsInvalidKey(t *testing.T) {
	client := New(testConfig("http://localhost:8000"), memory.New(), io.Discard, quietLogger())
	ctx := synchronizer.WithSession(context.Background(), "u1")

	for _, line := range []string{"/edit", "/edit post-000", "/save broken", "/delete post-abc-A", "/draft post-0-0-0 Z|Y"} {
		_, err := client.Execute(ctx, line)
		assert.Error(t, err, line)
		assert.Contains(t, err.Error(), "invalid post key", line)
	}
}

func TestExecute_ListPages(t *testing.T) {
	out := &lockedBuffer{}
	client := New(testConfig("http://localhost:8000"), memory.New(), out, quietLogger())
	ctx := context.Background()

	_, err := client.Synchronizer().OnFeedMessage(ctx,
		`h,post-000-{"title"_"A"|"post"_"a"},post-001-{"title"_"B"|"post"_"b"},post-002-{"title"_"C"|"post"_"c"}`)
	require.NoError(t, err)

	_, err = client.Execute(ctx, "/list 2")
	require.NoError(t, err)
	output := out.String()
	assert.Contains(t, output, "[post-000-A]")
	assert.Contains(t, output, "[post-001-B]")
	assert.NotContains(t, output, "[post-002-C]")
	assert.Contains(t, output, "... /list 2 2\n")

	_, err = client.Execute(ctx, "/list 2 2")
	require.NoError(t, err)
	rest := strings.TrimPrefix(out.String(), output)
	assert.Contains(t, rest, "[post-002-C]")
	assert.NotContains(t, rest, "... /list")

	_, err = client.Execute(ctx, "/list zero")
	assert.EqualError(t, err, `invalid page size "zero"`)
}

func TestExecute_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Server.RequestTimeout = 50 * time.Millisecond
	client := New(cfg, memory.New(), io.Discard, quietLogger())
	ctx := synchronizer.WithSession(context.Background(), "u1")

	ack, err := client.Execute(ctx, "/status away")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = ack.Wait(waitCtx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "Запрос должен прерываться по таймауту: %v", err)
	assert.NoError(t, waitCtx.Err(), "Таймаут запроса срабатывает раньше ожидания")
}

func TestRun(t *testing.T) {
	b := &board{}
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	out := &lockedBuffer{}
	client := New(testConfig(srv.URL), memory.New(), out, quietLogger())

	in, input := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background(), in) }()

	assert.Eventually(t, func() bool {
		_, ok := client.Synchronizer().Session()
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	fmt.Fprintln(input, "/status away")
	assert.Eventually(t, func() bool {
		return len(b.received()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	fmt.Fprintln(input, "/list")
	fmt.Fprintln(input, "/quit")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run не завершился после /quit")
	}

	assert.Equal(t, []string{"/status/u1 away"}, b.received())
	output := out.String()
	assert.Contains(t, output, "* Connected!")
	assert.Contains(t, output, "(hdr::x)")
	assert.Contains(t, output, "[post-000-A] A\n    B\n    <delete|update|save>\n")
	assert.Contains(t, output, "<You>: away")
}
