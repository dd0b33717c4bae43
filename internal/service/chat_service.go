package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	app_errors "ollama-chat/internal/errors"
	"ollama-chat/internal/events"
	"ollama-chat/internal/llm"
	"ollama-chat/internal/model"
)

const persistTimeout = 10 * time.Second

// State is the phase of the chat session engine.
type State int

const (
	StateIdle State = iota
	StateAwaitingFirstFragment
	StateStreaming
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstFragment:
		return "awaiting_first_fragment"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind classifies a ChatEvent.
type EventKind string

const (
	EventStateChanged         EventKind = "state_changed"
	EventMessageAppended      EventKind = "message_appended"
	EventDraftUpdated         EventKind = "draft_updated"
	EventConversationReplaced EventKind = "conversation_replaced"
)

// ChatEvent is published to subscribers on every observable change.
type ChatEvent struct {
	Kind           EventKind      `json:"kind"`
	State          State          `json:"state"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	StreamID       uuid.UUID      `json:"stream_id"`
	Message        *model.Message `json:"message,omitempty"`
	Fragment       string         `json:"fragment,omitempty"`
	Draft          string         `json:"draft,omitempty"`
}

// ChatSnapshot is a consistent copy of the engine state.
type ChatSnapshot struct {
	State        State              `json:"state"`
	Conversation model.Conversation `json:"conversation"`
	Draft        *model.Draft       `json:"draft,omitempty"`
}

// ConversationStore is the part of the session store the engine needs.
type ConversationStore interface {
	LoadAll(ctx context.Context) []model.Conversation
	Get(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	Upsert(ctx context.Context, conv model.Conversation) error
}

// SettingsProvider returns the settings in effect for the next send.
type SettingsProvider interface {
	Current() Settings
}

// StatusProvider returns the last observed server status.
type StatusProvider interface {
	Status() model.ServerStatus
}

// ChatService is the chat session engine. It owns the active conversation
// and the in-flight draft; callers only issue commands and read snapshots.
type ChatService struct {
	llm      llm.LLMProvider
	history  ConversationStore
	settings SettingsProvider
	status   StatusProvider
	greeting string
	events   *events.Broker[ChatEvent]

	mu     sync.Mutex
	state  State
	conv   *model.Conversation
	draft  *model.Draft
	buf    strings.Builder
	cancel context.CancelFunc
	closed bool

	wg sync.WaitGroup
}

func NewChatService(provider llm.LLMProvider, history ConversationStore, settings SettingsProvider, status StatusProvider, greeting string) *ChatService {
	return &ChatService{
		llm:      provider,
		history:  history,
		settings: settings,
		status:   status,
		greeting: greeting,
		events:   events.NewBroker[ChatEvent]("chat", events.DefaultBuffer, events.WithMerge[ChatEvent](mergeDraftUpdates)),
		conv:     model.NewConversation(greeting),
	}
}

// Subscribe returns a channel of engine events and a func to stop receiving them.
func (s *ChatService) Subscribe() (<-chan ChatEvent, func()) {
	return s.events.Subscribe()
}

func (s *ChatService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ChatService) Snapshot() ChatSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := ChatSnapshot{State: s.state, Conversation: s.conv.Clone()}
	if s.draft != nil {
		snap.Draft = &model.Draft{StreamID: s.draft.StreamID, Text: s.buf.String()}
	}
	return snap
}

// Send appends a user message and starts generating the reply in the
// background. It returns the stream ID of the new draft.
func (s *ChatService) Send(text string) (uuid.UUID, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return uuid.Nil, app_errors.ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return uuid.Nil, app_errors.ErrNotIdle
	}
	if s.state != StateIdle {
		slog.Info("Rejecting send while a reply is in flight", "state", s.state)
		return uuid.Nil, app_errors.ErrAlreadyGenerating
	}

	if st := s.status.Status(); !st.CheckedAt.IsZero() && !st.Reachable {
		slog.Warn("Sending while Ollama was last seen unreachable", "status", st.StatusText)
	}

	settings := s.settings.Current()
	req := &llm.GenerateRequest{
		Model:   settings.Model,
		Prompt:  buildPrompt(s.conv.Messages, settings.HistoryTurns, text),
		System:  settings.SystemPrompt,
		Options: settings.Options(),
	}

	userMsg := model.NewMessage(model.RoleUser, text)
	s.conv.Append(userMsg)
	s.publishLocked(ChatEvent{Kind: EventMessageAppended, Message: &userMsg})

	streamID := uuid.New()
	s.draft = &model.Draft{StreamID: streamID}
	s.buf.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setStateLocked(StateAwaitingFirstFragment)

	slog.Info("Sending message", "conversation_id", s.conv.ID, "stream_id", streamID, "model", settings.Model, "streaming", settings.Streaming)

	s.wg.Add(1)
	go s.generate(ctx, streamID, req, settings)
	return streamID, nil
}

// Cancel abandons the active draft. It reports whether there was one.
func (s *ChatService) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

func (s *ChatService) cancelLocked() bool {
	if s.state != StateAwaitingFirstFragment && s.state != StateStreaming {
		return false
	}
	streamID := s.draft.StreamID
	s.clearDraftLocked()
	s.setStateLocked(StateIdle)
	slog.Info("Cancelled reply, draft discarded", "stream_id", streamID)
	return true
}

// NewConversation replaces the active conversation with a fresh greeting
// conversation. Nothing is persisted until its first exchange completes.
func (s *ChatService) NewConversation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle || s.closed {
		return app_errors.ErrNotIdle
	}
	s.replaceLocked(model.NewConversation(s.greeting))
	return nil
}

// LoadConversation makes the saved conversation with the given ID active.
func (s *ChatService) LoadConversation(ctx context.Context, id uuid.UUID) error {
	if s.State() != StateIdle {
		return app_errors.ErrNotIdle
	}

	conv, err := s.history.Get(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A send may have started while the store was being read.
	if s.state != StateIdle || s.closed {
		return app_errors.ErrNotIdle
	}
	s.replaceLocked(conv)
	return nil
}

// Restore activates the most recently saved conversation, or a greeting
// conversation when there is no history.
func (s *ChatService) Restore(ctx context.Context) error {
	saved := s.history.LoadAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle || s.closed {
		return app_errors.ErrNotIdle
	}
	if len(saved) == 0 {
		s.replaceLocked(model.NewConversation(s.greeting))
		return nil
	}
	latest := saved[0]
	slog.Info("Restored last conversation", "conversation_id", latest.ID, "messages", len(latest.Messages))
	s.replaceLocked(&latest)
	return nil
}

// Shutdown cancels any active reply and waits for background work to finish.
func (s *ChatService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.cancelLocked()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.events.Close()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChatService) generate(ctx context.Context, streamID uuid.UUID, req *llm.GenerateRequest, settings Settings) {
	defer s.wg.Done()

	if !settings.Streaming {
		resp, err := s.llm.Generate(ctx, req)
		if err != nil {
			s.fail(streamID, err, settings)
			return
		}
		s.fragment(streamID, resp.Response)
		s.finalize(streamID, settings)
		return
	}

	ch := make(chan llm.StreamResponse)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.llm.GenerateStream(ctx, req, ch)
	}()

	completed, abandoned := false, false
	for chunk := range ch {
		// Keep draining after completion or cancellation so the provider can return.
		if completed || abandoned {
			continue
		}
		if !s.fragment(streamID, chunk.Content) {
			abandoned = true
			continue
		}
		if chunk.Done {
			completed = true
			s.finalize(streamID, settings)
		}
	}

	err := <-errCh
	switch {
	case completed:
	case abandoned:
		slog.Debug("Abandoned stream finished", "stream_id", streamID, "error", err)
	case err != nil:
		s.fail(streamID, err, settings)
	default:
		slog.Debug("Stream closed without a completion marker", "stream_id", streamID)
		s.finalize(streamID, settings)
	}
}

// fragment appends text to the draft. It returns false when streamID is no
// longer the active stream.
func (s *ChatService) fragment(streamID uuid.UUID, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.activeLocked(streamID) {
		slog.Debug("Dropping fragment for abandoned stream", "stream_id", streamID)
		return false
	}
	if text == "" {
		return true
	}
	if s.state == StateAwaitingFirstFragment {
		s.setStateLocked(StateStreaming)
	}
	s.buf.WriteString(text)
	s.publishLocked(ChatEvent{Kind: EventDraftUpdated, Fragment: text, Draft: s.buf.String()})
	return true
}

// finalize promotes the draft to an assistant message and persists the exchange.
func (s *ChatService) finalize(streamID uuid.UUID, settings Settings) {
	s.mu.Lock()
	if !s.activeLocked(streamID) {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateFinalizing)
	s.appendLocked(model.NewMessage(model.RoleAssistant, s.buf.String()))
	s.clearDraftLocked()
	s.mu.Unlock()

	s.persistAndIdle(settings)
}

// fail discards the draft and records the failure as an assistant turn.
func (s *ChatService) fail(streamID uuid.UUID, err error, settings Settings) {
	s.mu.Lock()
	if !s.activeLocked(streamID) {
		s.mu.Unlock()
		slog.Debug("Ignoring error from abandoned stream", "stream_id", streamID, "error", err)
		return
	}
	slog.Error("Generation failed", "stream_id", streamID, "error", err)
	s.setStateLocked(StateFinalizing)
	s.appendLocked(model.NewMessage(model.RoleAssistant, "Error: "+err.Error()))
	s.clearDraftLocked()
	s.mu.Unlock()

	s.persistAndIdle(settings)
}

// persistAndIdle runs while the engine is Finalizing, so no command can
// change the conversation until the write has been attempted.
func (s *ChatService) persistAndIdle(settings Settings) {
	s.mu.Lock()
	s.conv.Touch()
	conv := s.conv.Clone()
	s.mu.Unlock()

	if settings.SaveHistory {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.history.Upsert(ctx, conv); err != nil {
			slog.Error("Failed to save chat history, keeping conversation in memory", "conversation_id", conv.ID, "error", err)
		}
		cancel()
	}

	s.mu.Lock()
	s.setStateLocked(StateIdle)
	s.mu.Unlock()
}

func (s *ChatService) activeLocked(streamID uuid.UUID) bool {
	return s.draft != nil && s.draft.StreamID == streamID
}

func (s *ChatService) appendLocked(msg model.Message) {
	s.conv.Append(msg)
	s.publishLocked(ChatEvent{Kind: EventMessageAppended, Message: &msg})
}

func (s *ChatService) clearDraftLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.draft = nil
	s.buf.Reset()
}

func (s *ChatService) replaceLocked(conv *model.Conversation) {
	s.conv = conv
	s.publishLocked(ChatEvent{Kind: EventConversationReplaced})
}

func (s *ChatService) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.publishLocked(ChatEvent{Kind: EventStateChanged})
}

// publishLocked stamps ev with the current state and IDs. Publish never
// blocks, so holding the lock here is fine.
func (s *ChatService) publishLocked(ev ChatEvent) {
	ev.State = s.state
	ev.ConversationID = s.conv.ID
	if s.draft != nil {
		ev.StreamID = s.draft.StreamID
	}
	s.events.Publish(ev)
}

// mergeDraftUpdates folds consecutive draft updates of one stream for a
// subscriber that has fallen behind. Lifecycle events are never folded.
func mergeDraftUpdates(prev, next ChatEvent) (ChatEvent, bool) {
	if prev.Kind != EventDraftUpdated || next.Kind != EventDraftUpdated || prev.StreamID != next.StreamID {
		return ChatEvent{}, false
	}
	next.Fragment = prev.Fragment + next.Fragment
	return next, true
}

// buildPrompt returns the prompt for text, prefixed with a role-labelled
// transcript of the last turns messages when turns > 0.
func buildPrompt(history []model.Message, turns int, text string) string {
	if turns <= 0 || len(history) == 0 {
		return text
	}
	if len(history) > turns {
		history = history[len(history)-turns:]
	}

	var b strings.Builder
	for _, m := range history {
		b.WriteString(roleLabel(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("User: ")
	b.WriteString(text)
	b.WriteString("\n\nAssistant:")
	return b.String()
}

func roleLabel(r model.Role) string {
	if r == model.RoleUser {
		return "User"
	}
	return "Assistant"
}
