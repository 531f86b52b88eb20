// Command server runs the DocuSense HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docusense/docusense"
	"github.com/docusense/docusense/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8000", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// Local .env files are optional.
	_ = godotenv.Load()

	cfg := docusense.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	applyEnv(&cfg)

	svc, err := docusense.New(context.Background(), cfg)
	if err != nil {
		slog.Error("starting service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	srv := &http.Server{
		Addr:         *addr,
		Handler:      server.New(svc, server.Config{CORSOrigin: cfg.CORSOrigin}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // answers and uploads can be slow
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// applyEnv layers environment variables over the config, using the same
// variable names the deployment scripts export.
func applyEnv(cfg *docusense.Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("DEFAULT_LLM"); v != "" {
		cfg.Chat.Provider = v
		if v == "openai" && os.Getenv("CHAT_MODEL") == "" {
			cfg.Chat.Model = "gpt-3.5-turbo"
		}
	}
	if v := os.Getenv("CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		if cfg.Chat.Provider == "ollama" {
			cfg.Chat.BaseURL = v
		}
		if cfg.Embedding.Provider == "ollama" {
			cfg.Embedding.BaseURL = v
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Chat.Provider == "openai" {
			cfg.Chat.APIKey = v
		}
		if cfg.Embedding.Provider == "openai" {
			cfg.Embedding.APIKey = v
		}
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = v
	}
	if v := os.Getenv("INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
}
