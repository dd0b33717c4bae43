package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	app_errors "ollama-chat/internal/errors"
	"ollama-chat/internal/model"
	"ollama-chat/internal/repository"
)

// DefaultHistoryLimit bounds the persisted conversation list.
const DefaultHistoryLimit = 20

// HistoryOptions tunes the session store.
type HistoryOptions struct {
	Limit int
	// DedupByPreview also evicts other conversations whose last-message
	// preview matches the one being saved.
	DedupByPreview bool
}

// HistoryService is the session store: a bounded, most-recent-first list of
// conversations persisted as one record.
type HistoryService struct {
	store repository.Store
	opts  HistoryOptions
	// mu serializes read-modify-write cycles in Upsert.
	mu sync.Mutex
}

func NewHistoryService(store repository.Store, opts HistoryOptions) *HistoryService {
	if opts.Limit <= 0 {
		opts.Limit = DefaultHistoryLimit
	}
	return &HistoryService{store: store, opts: opts}
}

// LoadAll returns the saved conversations, most recent first. Missing or
// corrupt data yields an empty list.
func (s *HistoryService) LoadAll(ctx context.Context) []model.Conversation {
	data, err := s.store.Get(ctx, repository.KeySavedChats)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("Failed to read chat history, treating as empty", "error", err)
		}
		return []model.Conversation{}
	}

	var conversations []model.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		slog.Warn("Chat history is corrupt, treating as empty", "error", err)
		return []model.Conversation{}
	}
	if conversations == nil {
		conversations = []model.Conversation{}
	}
	return conversations
}

// SaveAll replaces the persisted list in one write. Lists longer than the
// limit are truncated, keeping the front.
func (s *HistoryService) SaveAll(ctx context.Context, conversations []model.Conversation) error {
	if len(conversations) > s.opts.Limit {
		conversations = conversations[:s.opts.Limit]
	}
	if conversations == nil {
		conversations = []model.Conversation{}
	}
	data, err := json.Marshal(conversations)
	if err != nil {
		return fmt.Errorf("could not encode chat history: %w", err)
	}
	if err := s.store.Set(ctx, repository.KeySavedChats, data); err != nil {
		return fmt.Errorf("could not save chat history: %w", err)
	}
	return nil
}

// Upsert refreshes conv's derived fields, moves it to the front of the list
// (replacing any entry with the same ID and, when enabled, the same preview),
// trims the list to the limit and persists it.
func (s *HistoryService) Upsert(ctx context.Context, conv model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv = conv.Clone()
	conv.Touch()

	existing := s.LoadAll(ctx)
	kept := make([]model.Conversation, 0, len(existing)+1)
	kept = append(kept, conv)
	for _, c := range existing {
		if c.ID == conv.ID {
			continue
		}
		if s.opts.DedupByPreview && c.Preview == conv.Preview {
			slog.Debug("Evicting conversation with identical preview", "evicted_id", c.ID, "saved_id", conv.ID)
			continue
		}
		kept = append(kept, c)
	}

	if len(kept) > s.opts.Limit {
		slog.Debug("Pruning chat history", "limit", s.opts.Limit, "evicted", len(kept)-s.opts.Limit)
	}
	return s.SaveAll(ctx, kept)
}

// Get returns the saved conversation with the given ID.
func (s *HistoryService) Get(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	for _, c := range s.LoadAll(ctx) {
		if c.ID == id {
			conv := c
			return &conv, nil
		}
	}
	return nil, fmt.Errorf("%w: conversation %s", app_errors.ErrNotFound, id)
}
