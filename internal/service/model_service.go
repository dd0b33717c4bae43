package service

import (
	"context"
	"log/slog"

	"ollama-chat/internal/llm"
	"ollama-chat/internal/model"
	"ollama-chat/internal/validation"
)

// StatusRefresher is notified after the installed model set changes.
type StatusRefresher interface {
	CheckStatus(ctx context.Context) model.ServerStatus
}

// ModelService handles the business logic for model management.
type ModelService struct {
	llm    llm.LLMProvider
	status StatusRefresher
}

// NewModelService creates a new ModelService. status may be nil.
func NewModelService(llmProvider llm.LLMProvider, status StatusRefresher) *ModelService {
	return &ModelService{llm: llmProvider, status: status}
}

// List returns the sorted names of all locally available models.
func (s *ModelService) List(ctx context.Context) ([]string, error) {
	return s.llm.ListModels(ctx)
}

// Version returns the Ollama server version.
func (s *ModelService) Version(ctx context.Context) (string, error) {
	return s.llm.Version(ctx)
}

// Pull downloads a model from the registry, streaming typed progress on ch.
// ch is closed when Pull returns. On success the status monitor is refreshed
// so the new model shows up immediately.
func (s *ModelService) Pull(ctx context.Context, req *llm.PullModelRequest, ch chan<- llm.Progress) error {
	if err := validation.Struct(req); err != nil {
		close(ch)
		return err
	}

	slog.Info("Pulling model", "model", req.Name)
	if err := s.llm.PullModel(ctx, req, ch); err != nil {
		slog.Error("Model pull failed", "model", req.Name, "error", err)
		return err
	}
	slog.Info("Model pulled", "model", req.Name)

	if s.status != nil {
		s.status.CheckStatus(ctx)
	}
	return nil
}
