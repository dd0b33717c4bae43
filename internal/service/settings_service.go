package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	app_errors "ollama-chat/internal/errors"
	"ollama-chat/internal/llm"
	"ollama-chat/internal/repository"
	"ollama-chat/internal/validation"
)

// Settings holds the user-adjustable generation settings persisted in the store.
type Settings struct {
	Model        string  `json:"model" validate:"required"`
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float64 `json:"temperature" validate:"gte=0,lte=2"`
	NumPredict   int     `json:"num_predict" validate:"gte=-2"`
	Streaming    bool    `json:"streaming"`
	SaveHistory  bool    `json:"save_history"`
	HistoryTurns int     `json:"history_turns" validate:"gte=0,lte=50"`

	// ExtraOptions are passed to Ollama alongside temperature and num_predict
	// (top_k, seed, stop, ...). Values must be scalars.
	ExtraOptions map[string]interface{} `json:"extra_options,omitempty" validate:"omitempty,dive,keys,required,endkeys,scalar"`
}

// Options converts the sampling fields into request options.
func (s Settings) Options() *llm.Options {
	return &llm.Options{Temperature: s.Temperature, NumPredict: s.NumPredict, Extra: maps.Clone(s.ExtraOptions)}
}

type SettingsService struct {
	store repository.Store
	llm   llm.LLMProvider

	mu      sync.RWMutex
	current Settings
}

// NewSettingsService starts with defaults cached; InitAndGet replaces them
// with the persisted settings.
func NewSettingsService(store repository.Store, llmProvider llm.LLMProvider, defaults Settings) *SettingsService {
	return &SettingsService{store: store, llm: llmProvider, current: defaults}
}

// InitAndGet loads the persisted settings. When none exist it seeds them from
// the defaults, swapping in the first installed model if the default one is
// not installed, and persists the result.
func (s *SettingsService) InitAndGet(ctx context.Context) (*Settings, error) {
	data, err := s.store.Get(ctx, repository.KeySettings)
	if err == nil {
		var settings Settings
		if err := json.Unmarshal(data, &settings); err != nil {
			slog.Warn("Stored settings are corrupt, reinitializing", "error", err)
		} else {
			s.setCurrent(settings)
			slog.Info("Found existing settings.", "model", settings.Model)
			return &settings, nil
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	slog.Info("No settings found. Performing smart initialization...")
	initial := s.Current()

	models, err := s.llm.ListModels(ctx)
	switch {
	case err != nil:
		slog.Warn("Could not reach Ollama to get model list during init. Using default model.", "error", err)
	case len(models) == 0:
		slog.Warn("Ollama is running but has no models. Using default model.")
	case !slices.Contains(models, initial.Model):
		slog.Info("Default model is not installed, selecting the first installed model.", "default", initial.Model, "selected", models[0])
		initial.Model = models[0]
	}

	if err := s.persist(ctx, initial); err != nil {
		return nil, fmt.Errorf("failed to save initial settings: %w", err)
	}
	s.setCurrent(initial)
	return &initial, nil
}

// Get returns the current settings.
func (s *SettingsService) Get(_ context.Context) (*Settings, error) {
	settings := s.Current()
	return &settings, nil
}

// Current returns the cached settings without touching the store.
func (s *SettingsService) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save validates and persists settings. When Ollama is reachable the model
// must be one it lists.
func (s *SettingsService) Save(ctx context.Context, settings *Settings) error {
	if err := validation.Struct(settings); err != nil {
		return err
	}

	models, err := s.llm.ListModels(ctx)
	if err != nil {
		slog.Warn("Could not list models for validation, saving settings without check", "error", err)
	} else if !slices.Contains(models, settings.Model) {
		return fmt.Errorf("%w: model '%s' not found in Ollama", app_errors.ErrValidation, settings.Model)
	}

	if err := s.persist(ctx, *settings); err != nil {
		return err
	}
	s.setCurrent(*settings)
	return nil
}

func (s *SettingsService) setCurrent(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = settings
}

func (s *SettingsService) persist(ctx context.Context, settings Settings) error {
	val, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return s.store.Set(ctx, repository.KeySettings, val)
}
