package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

type Config struct {
	Server struct {
		BaseURL        string        `yaml:"base_url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"server"`
	Stream struct {
		Path            string        `yaml:"path"`
		Transport       string        `yaml:"transport"`
		InitialInterval time.Duration `yaml:"initial_interval"`
		MaxInterval     time.Duration `yaml:"max_interval"`
	} `yaml:"stream"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Console struct {
		EchoPrefix string `yaml:"echo_prefix"`
	} `yaml:"console"`
}

// Default возвращает конфигурацию для доски на localhost:8000
func Default() *Config {
	cfg := &Config{}
	cfg.Server.BaseURL = "http://localhost:8000"
	cfg.Server.RequestTimeout = 10 * time.Second
	cfg.Stream.Path = "/chat"
	cfg.Stream.Transport = TransportSSE
	cfg.Stream.InitialInterval = 500 * time.Millisecond
	cfg.Stream.MaxInterval = 30 * time.Second
	cfg.Console.EchoPrefix = "<You>: "
	return cfg
}

// Load читает YAML поверх значений по умолчанию. Отсутствующий файл
// не является ошибкой.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid server.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url must be http or https, got %q", c.Server.BaseURL)
	}
	switch c.Stream.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("unknown stream.transport %q", c.Stream.Transport)
	}
	if c.Stream.InitialInterval <= 0 || c.Stream.MaxInterval < c.Stream.InitialInterval {
		return errors.New("stream intervals must satisfy 0 < initial_interval <= max_interval")
	}
	return nil
}

// StreamURL возвращает адрес подписки
func (c *Config) StreamURL() string {
	return c.Server.BaseURL + c.Stream.Path
}
