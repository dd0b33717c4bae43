package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"ollama-chat/internal/api"
	"ollama-chat/internal/config"
	"ollama-chat/internal/database"
	"ollama-chat/internal/llm"
	"ollama-chat/internal/repository"
	"ollama-chat/internal/service"
)

const (
	shutdownTimeout = 10 * time.Second
	ollamaRetry     = 3 * time.Second
)

// App holds every long-lived component, built once from the configuration.
type App struct {
	Config   *config.Config
	Store    repository.Store
	LLM      llm.LLMProvider
	History  *service.HistoryService
	Settings *service.SettingsService
	Status   *service.StatusService
	Models   *service.ModelService
	Chat     *service.ChatService
	Server   *http.Server
}

// NewApp opens the configured store and wires the services and HTTP bridge.
// It does not contact Ollama.
func NewApp(cfg *config.Config) (*App, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewAppWithProvider(cfg, store, llm.NewOllamaProvider(cfg.OllamaURL,
		llm.WithStatusTimeout(cfg.StatusTimeout),
		llm.WithGenerateTimeout(cfg.GenerateTimeout),
	)), nil
}

// NewAppWithProvider wires the application around an existing store and provider.
func NewAppWithProvider(cfg *config.Config, store repository.Store, provider llm.LLMProvider) *App {
	history := service.NewHistoryService(store, service.HistoryOptions{
		Limit:          cfg.HistoryLimit,
		DedupByPreview: cfg.HistoryDedupByPreview,
	})
	settings := service.NewSettingsService(store, provider, DefaultSettings(cfg))
	status := service.NewStatusService(provider, cfg.PollInterval)
	models := service.NewModelService(provider, status)
	chat := service.NewChatService(provider, history, settings, status, cfg.Greeting)

	router := api.NewRouter(api.Handlers{
		Chat:     api.NewChatHandler(chat, history),
		Settings: api.NewSettingsHandler(settings),
		Models:   api.NewModelHandler(models),
		Status:   api.NewStatusHandler(status),
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      0, // Disabled for streaming endpoints
		IdleTimeout:       120 * time.Second,
	}

	return &App{
		Config:   cfg,
		Store:    store,
		LLM:      provider,
		History:  history,
		Settings: settings,
		Status:   status,
		Models:   models,
		Chat:     chat,
		Server:   server,
	}
}

// DefaultSettings maps the configuration onto first-run settings.
func DefaultSettings(cfg *config.Config) service.Settings {
	return service.Settings{
		Model:        cfg.DefaultModel,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		NumPredict:   cfg.NumPredict,
		Streaming:    cfg.EnableStreaming,
		SaveHistory:  cfg.SaveChatHistory,
		HistoryTurns: cfg.HistoryTurns,
	}
}

// OpenStore opens the backend selected by STORE_DRIVER.
func OpenStore(cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := database.InitDB(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		slog.Info("Successfully connected to SQLite database.", "path", cfg.DatabasePath)
		return repository.NewSQLiteStore(db), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		slog.Info("Successfully connected to Redis.", "addr", cfg.RedisAddr)
		return repository.NewRedisStore(rdb, repository.DefaultRedisPrefix), nil
	case "pebble":
		store, err := repository.NewPebbleStore(cfg.PebbleDir)
		if err != nil {
			return nil, err
		}
		slog.Info("Opened Pebble store.", "dir", cfg.PebbleDir)
		return store, nil
	case "memory":
		slog.Warn("Using in-memory store; chat history will not survive a restart.")
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Init loads settings and restores the last conversation.
func (a *App) Init(ctx context.Context) error {
	settings, err := a.Settings.InitAndGet(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application settings: %w", err)
	}
	slog.Info("Loaded application settings", "model", settings.Model, "streaming", settings.Streaming)

	if err := a.Chat.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore chat: %w", err)
	}
	return nil
}

// Start initializes the app and starts the status monitor. With
// WAIT_FOR_OLLAMA it first blocks until Ollama answers or ctx is done.
func (a *App) Start(ctx context.Context) error {
	if a.Config.WaitForOllama {
		if err := a.waitForOllama(ctx); err != nil {
			return err
		}
	}
	if err := a.Init(ctx); err != nil {
		return err
	}
	a.Status.Start(ctx)
	return nil
}

// Run serves the HTTP bridge until ctx is done, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Stopping the engine first closes its event stream, which ends open SSE
	// requests so that Server.Shutdown does not wait on them.
	if err := a.Chat.Shutdown(shutdownCtx); err != nil {
		slog.Error("Chat engine did not stop in time", "error", err)
	}
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if err := a.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close cancels any active reply, stops the monitor and closes the store.
func (a *App) Close(ctx context.Context) error {
	a.Status.Stop()
	if err := a.Chat.Shutdown(ctx); err != nil {
		slog.Error("Chat engine did not stop in time", "error", err)
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func (a *App) waitForOllama(ctx context.Context) error {
	slog.Info("Waiting for Ollama to be ready...", "url", a.Config.OllamaURL)
	for {
		if status := a.Status.CheckStatus(ctx); status.Reachable {
			slog.Info("Ollama is ready.", "version", status.Version)
			return nil
		}
		slog.Debug("Ollama not ready yet, retrying...", "retry_in", ollamaRetry)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ollamaRetry):
		}
	}
}

// LogConfigSource reports where the configuration came from.
func LogConfigSource(v *viper.Viper) {
	if configFileUsed := v.ConfigFileUsed(); configFileUsed != "" {
		slog.Info("Successfully loaded configuration from file.", "file", configFileUsed)
	} else {
		slog.Info("Configuration file not found. Using environment variables and defaults.")
	}
}

// SetupLogger installs the default slog logger.
func SetupLogger(w io.Writer, logLevel, format string) {
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
