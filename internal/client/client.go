package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/ButyrinIA/feedsync/internal/codec"
	"github.com/ButyrinIA/feedsync/internal/config"
	"github.com/ButyrinIA/feedsync/internal/feed"
	"github.com/ButyrinIA/feedsync/internal/storage"
	"github.com/ButyrinIA/feedsync/internal/synchronizer"
	"github.com/ButyrinIA/feedsync/internal/transport"
)

var ErrQuit = errors.New("quit")

type Client struct {
	cfg   *config.Config
	sync  *synchronizer.Synchronizer
	out   io.Writer
	outMu sync.Mutex
}

func New(cfg *config.Config, store storage.Storage, out io.Writer, logger *slog.Logger) *Client {
	var stream transport.Stream
	switch cfg.Stream.Transport {
	case config.TransportWebSocket:
		stream = transport.NewWebSocketStream(cfg.StreamURL())
	default:
		stream = transport.NewSSEStream(cfg.StreamURL())
	}
	// время запроса ограничивает синхронизатор через контекст
	poster := transport.NewPoster(cfg.Server.BaseURL, &http.Client{})

	s := synchronizer.New(feed.New(store), stream, poster,
		synchronizer.WithLogger(logger),
		synchronizer.WithEchoPrefix(cfg.Console.EchoPrefix),
		synchronizer.WithBackOff(synchronizer.ExponentialBackOff(cfg.Stream.InitialInterval, cfg.Stream.MaxInterval)),
		synchronizer.WithRequestTimeout(cfg.Server.RequestTimeout),
	)
	return &Client{cfg: cfg, sync: s, out: out}
}

func (c *Client) Synchronizer() *synchronizer.Synchronizer {
	return c.sync
}

// Run подписывается на поток, выводит обновления и выполняет команды из
// in до конца ввода, команды /quit или отмены ctx.
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	updates := c.sync.Updates(ctx)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for update := range updates {
			c.write(RenderUpdate(update))
		}
	}()

	connectErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		connectErr <- c.sync.Connect(ctx)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-connectErr:
			runErr = err
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if _, err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					break loop
				}
				c.write(fmt.Sprintf("! %v\n", err))
			}
		}
	}

	cancel()
	wg.Wait()
	return runErr
}

// Execute выполняет одну команду консоли:
//
//	/status <text>
//	/chat <text>             (или просто текст)
//	/create <title>|<body>
//	/edit <key>
//	/draft <key> <title>|<body>
//	/save <key>
//	/delete <key>
//	/list [<limit> [<cursor>]]
//	/quit
func (c *Client) Execute(ctx context.Context, line string) (*synchronizer.Ack, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.sync.SubmitChat(ctx, line)
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/status":
		return c.sync.SubmitStatus(ctx, arg)
	case "/chat":
		return c.sync.SubmitChat(ctx, arg)
	case "/create":
		title, body, err := splitPair(arg)
		if err != nil {
			return nil, err
		}
		return c.sync.SubmitCreate(ctx, title, body)
	case "/edit":
		if err := checkKey(arg); err != nil {
			return nil, err
		}
		return nil, c.sync.BeginEdit(ctx, arg)
	case "/draft":
		key, pair, _ := strings.Cut(arg, " ")
		if err := checkKey(key); err != nil {
			return nil, err
		}
		title, body, err := splitPair(pair)
		if err != nil {
			return nil, err
		}
		return nil, c.sync.EditDraft(key, title, body)
	case "/save":
		if err := checkKey(arg); err != nil {
			return nil, err
		}
		return c.sync.CommitEdit(ctx, arg)
	case "/delete":
		if err := checkKey(arg); err != nil {
			return nil, err
		}
		return c.sync.DeleteRecord(ctx, arg)
	case "/list":
		return nil, c.list(ctx, arg)
	case "/quit":
		return nil, ErrQuit
	}
	return nil, fmt.Errorf("unknown command %q", command)
}

// list выводит страницу ленты; без аргументов - всю ленту
func (c *Client) list(ctx context.Context, arg string) error {
	limit := 0
	var cursor *string
	if fields := strings.Fields(arg); len(fields) > 0 {
		n, err := strconv.Atoi(fields[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid page size %q", fields[0])
		}
		limit = n
		if len(fields) > 1 {
			cursor = &fields[1]
		}
	}

	units, next, err := c.sync.Feed().Page(ctx, limit, cursor)
	if err != nil {
		return err
	}
	text := RenderUnits(units)
	if next != nil {
		text += fmt.Sprintf("... /list %d %s\n", limit, *next)
	}
	c.write(text)
	return nil
}

func (c *Client) write(text string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	io.WriteString(c.out, text)
}

func checkKey(key string) error {
	_, _, _, err := codec.ParseKey(key)
	return err
}

func splitPair(arg string) (string, string, error) {
	title, body, ok := strings.Cut(arg, "|")
	if !ok {
		return "", "", fmt.Errorf("expected <title>|<body>, got %q", arg)
	}
	return strings.TrimSpace(title), strings.TrimSpace(body), nil
}
