package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ButyrinIA/feedsync/internal/client"
	"github.com/ButyrinIA/feedsync/internal/config"
	"github.com/ButyrinIA/feedsync/internal/storage"
	"github.com/ButyrinIA/feedsync/internal/storage/memory"
	"github.com/ButyrinIA/feedsync/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	storageType := flag.String("storage", "memory", "тип хранилища ленты: memory или postgres")
	verbose := flag.Bool("v", false, "подробный журнал")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Не удалось загрузить конфигурацию: %v", err)
	}

	var store storage.Storage
	switch *storageType {
	case "postgres":
		log.Println("Инициализация хранилища PostgreSQL")
		store, err = postgres.New(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("Не удалось инициализировать PostgreSQL: %v", err)
		}
	case "memory":
		log.Println("Инициализация хранилища Memory")
		store = memory.New()
	default:
		log.Fatalf("Неизвестный тип хранилища: %s", *storageType)
	}
	defer store.Close()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg, store, os.Stdout, logger)
	log.Printf("Подключение к %s", cfg.StreamURL())
	if err := c.Run(ctx, os.Stdin); err != nil {
		log.Printf("Клиент остановлен с ошибкой: %v", err)
	}
}
