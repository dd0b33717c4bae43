package interfaces

import (
	"context"

	"github.com/google/uuid"

	"ollama-chat/internal/llm"
	"ollama-chat/internal/model"
	"ollama-chat/internal/service"
)

// This file defines the contracts the presentation layers (HTTP bridge, CLI)
// depend on, so that they never reach into a concrete service.

// ChatEngine is the command and observation surface of the chat session engine.
type ChatEngine interface {
	Send(text string) (uuid.UUID, error)
	Cancel() bool
	NewConversation() error
	LoadConversation(ctx context.Context, id uuid.UUID) error
	Snapshot() service.ChatSnapshot
	Subscribe() (<-chan service.ChatEvent, func())
}

// HistoryReader lists saved conversations, most recent first.
type HistoryReader interface {
	LoadAll(ctx context.Context) []model.Conversation
}

// SettingsService defines the contract for managing generation settings.
type SettingsService interface {
	InitAndGet(ctx context.Context) (*service.Settings, error)
	Get(ctx context.Context) (*service.Settings, error)
	Save(ctx context.Context, settings *service.Settings) error
}

// ModelService defines the contract for model management logic.
type ModelService interface {
	List(ctx context.Context) ([]string, error)
	Version(ctx context.Context) (string, error)
	Pull(ctx context.Context, req *llm.PullModelRequest, ch chan<- llm.Progress) error
}

// StatusMonitor exposes the observed state of the Ollama server.
type StatusMonitor interface {
	Status() model.ServerStatus
	CheckStatus(ctx context.Context) model.ServerStatus
	Subscribe() (<-chan model.ServerStatus, func())
}

// ServerController starts and stops the local Ollama process. It is the
// lifecycle seam for a launcher that supervises Ollama; nothing in this
// module implements it yet. After Start, callers confirm reachability
// through StatusMonitor.CheckStatus.
type ServerController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

var (
	_ ChatEngine      = (*service.ChatService)(nil)
	_ HistoryReader   = (*service.HistoryService)(nil)
	_ SettingsService = (*service.SettingsService)(nil)
	_ ModelService    = (*service.ModelService)(nil)
	_ StatusMonitor   = (*service.StatusService)(nil)
)
