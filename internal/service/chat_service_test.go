package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	app_errors "ollama-chat/internal/errors"
	"ollama-chat/internal/llm"
	"ollama-chat/internal/llm/mocks"
	"ollama-chat/internal/model"
	"ollama-chat/internal/repository"
	"ollama-chat/internal/service"
)

type staticSettings struct{ settings service.Settings }

func (s staticSettings) Current() service.Settings { return s.settings }

type staticStatus struct{ status model.ServerStatus }

func (s staticStatus) Status() model.ServerStatus { return s.status }

type failingStore struct{ repository.Store }

func (failingStore) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func defaultTestSettings() service.Settings {
	return service.Settings{
		Model:       "llama3.2",
		Temperature: llm.DefaultTemperature,
		NumPredict:  llm.DefaultNumPredict,
		Streaming:   true,
		SaveHistory: true,
	}
}

type chatFixture struct {
	chat     *service.ChatService
	provider *mocks.MockLLMProvider
	history  *service.HistoryService
}

func setupChatService(t *testing.T, settings service.Settings) *chatFixture {
	return setupChatServiceWithStore(t, settings, repository.NewMemoryStore())
}

func setupChatServiceWithStore(t *testing.T, settings service.Settings, store repository.Store) *chatFixture {
	provider := mocks.NewMockLLMProvider(t)
	history := service.NewHistoryService(store, service.HistoryOptions{})
	chat := service.NewChatService(provider, history, staticSettings{settings}, staticStatus{}, "")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, chat.Shutdown(ctx))
	})
	return &chatFixture{chat: chat, provider: provider, history: history}
}

// streamFragments makes GenerateStream deliver the given fragments followed by done.
func streamFragments(fragments ...string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		ch := args.Get(2).(chan<- llm.StreamResponse)
		defer close(ch)
		for _, f := range fragments {
			ch <- llm.StreamResponse{Content: f}
		}
		ch <- llm.StreamResponse{Done: true}
	}
}

func waitIdle(t *testing.T, chat *service.ChatService, messages int) service.ChatSnapshot {
	t.Helper()
	var snap service.ChatSnapshot
	require.Eventually(t, func() bool {
		snap = chat.Snapshot()
		return snap.State == service.StateIdle && len(snap.Conversation.Messages) == messages
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestChatService_SendStreamsAndFinalizes(t *testing.T) {
	f := setupChatService(t, defaultTestSettings())
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(streamFragments("Hi", " there")).Return(nil).Once()

	events, stop := f.chat.Subscribe()
	defer stop()

	streamID, err := f.chat.Send("  Hello \n")
	require.NoError(t, err)
	assert.NotEmpty(t, streamID)

	snap := waitIdle(t, f.chat, 2)
	assert.Equal(t, model.RoleUser, snap.Conversation.Messages[0].Role)
	assert.Equal(t, "Hello", snap.Conversation.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, snap.Conversation.Messages[1].Role)
	assert.Equal(t, "Hi there", snap.Conversation.Messages[1].Content)
	assert.Nil(t, snap.Draft)

	saved := f.history.LoadAll(context.Background())
	require.Len(t, saved, 1)
	assert.Equal(t, snap.Conversation.ID, saved[0].ID)
	assert.Equal(t, "Hello", saved[0].Title)
	assert.Len(t, saved[0].Messages, 2)

	var states []service.State
	var drafts []string
	var fragments string
	timeout := time.After(time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			switch ev.Kind {
			case service.EventStateChanged:
				states = append(states, ev.State)
				done = ev.State == service.StateIdle
			case service.EventDraftUpdated:
				assert.Equal(t, streamID, ev.StreamID)
				drafts = append(drafts, ev.Draft)
				fragments += ev.Fragment
			}
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []service.State{
		service.StateAwaitingFirstFragment,
		service.StateStreaming,
		service.StateFinalizing,
		service.StateIdle,
	}, states)
	// Updates queued behind a slow reader may arrive folded together.
	require.NotEmpty(t, drafts)
	assert.Equal(t, "Hi there", drafts[len(drafts)-1])
	assert.Equal(t, "Hi there", fragments)
}

func TestChatService_SendBuildsRequestFromSettings(t *testing.T) {
	settings := defaultTestSettings()
	settings.SystemPrompt = "Be brief."
	settings.Temperature = 0.2
	f := setupChatService(t, settings)

	f.provider.On("GenerateStream", mock.Anything, mock.MatchedBy(func(req *llm.GenerateRequest) bool {
		return req.Model == "llama3.2" &&
			req.Prompt == "Hello" &&
			req.System == "Be brief." &&
			req.Options != nil && req.Options.Temperature == 0.2 && req.Options.NumPredict == llm.DefaultNumPredict
	}), mock.Anything).Run(streamFragments("ok")).Return(nil).Once()

	_, err := f.chat.Send("Hello")
	require.NoError(t, err)
	waitIdle(t, f.chat, 2)
}

func TestChatService_SendPassesExtraOptions(t *testing.T) {
	settings := defaultTestSettings()
	settings.ExtraOptions = map[string]interface{}{"top_k": 40.0, "stop": "###"}
	f := setupChatService(t, settings)

	f.provider.On("GenerateStream", mock.Anything, mock.MatchedBy(func(req *llm.GenerateRequest) bool {
		return req.Options != nil &&
			req.Options.Extra["top_k"] == 40.0 &&
			req.Options.Extra["stop"] == "###"
	}), mock.Anything).Run(streamFragments("ok")).Return(nil).Once()

	_, err := f.chat.Send("Hello")
	require.NoError(t, err)
	waitIdle(t, f.chat, 2)
}

func TestChatService_HistoryTurnsTranscript(t *testing.T) {
	settings := defaultTestSettings()
	settings.HistoryTurns = 2
	f := setupChatService(t, settings)

	f.provider.On("GenerateStream", mock.Anything, mock.MatchedBy(func(req *llm.GenerateRequest) bool {
		return req.Prompt == "first"
	}), mock.Anything).Run(streamFragments("one")).Return(nil).Once()

	_, err := f.chat.Send("first")
	require.NoError(t, err)
	waitIdle(t, f.chat, 2)

	var prompt string
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			prompt = args.Get(1).(*llm.GenerateRequest).Prompt
			streamFragments("two")(args)
		}).Return(nil).Once()

	_, err = f.chat.Send("second")
	require.NoError(t, err)
	waitIdle(t, f.chat, 4)

	assert.Equal(t, "User: first\n\nAssistant: one\n\nUser: second\n\nAssistant:", prompt)
}

func TestChatService_UserMessageAppendedBeforeNetworkCall(t *testing.T) {
	f := setupChatService(t, defaultTestSettings())

	var seen service.ChatSnapshot
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			seen = f.chat.Snapshot()
			streamFragments("reply")(args)
		}).Return(nil).Once()

	_, err := f.chat.Send("question")
	require.NoError(t, err)
	waitIdle(t, f.chat, 2)

	require.Len(t, seen.Conversation.Messages, 1)
	assert.Equal(t, "question", seen.Conversation.Messages[0].Content)
	assert.Equal(t, service.StateAwaitingFirstFragment, seen.State)
	require.NotNil(t, seen.Draft)
	assert.Empty(t, seen.Draft.Text)
}

func TestChatService_SendEmptyIsIgnored(t *testing.T) {
	f := setupChatService(t, defaultTestSettings())

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := f.chat.Send(text)
		assert.ErrorIs(t, err, app_errors.ErrEmptyMessage)
		assert.ErrorIs(t, err, app_errors.ErrValidation)
	}
	snap := f.chat.Snapshot()
	assert.Equal(t, service.StateIdle, snap.State)
	assert.Empty(t, snap.Conversation.Messages)
}

func TestChatService_UnreachableServerAppendsErrorTurn(t *testing.T) {
	f := setupChatService(t, defaultTestSettings())
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(args.Get(2).(chan<- llm.StreamResponse))
		}).
		Return(fmt.Errorf("%w: dial tcp 127.0.0.1:11434: connect: connection refused", app_errors.ErrUnreachable)).Once()

	_, err := f.chat.Send("test")
	require.NoError(t, err)

	snap := waitIdle(t, f.chat, 2)
	assert.Equal(t, "test", snap.Conversation.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, snap.Conversation.Messages[1].Role)
	assert.True(t, strings.HasPrefix(snap.Conversation.Messages[1].Content, "Error: "))
	assert.Contains(t, snap.Conversation.Messages[1].Content, "connection refused")
	assert.Nil(t, snap.Draft)

	// The error turn is persisted like any other.
	saved := f.history.LoadAll(context.Background())
	require.Len(t, saved, 1)
	assert.Len(t, saved[0].Messages, 2)
}

func TestChatService_MidStreamErrorDiscardsDraft(t *testing.T) {
	f := setupChatService(t, defaultTestSettings())
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ch := args.Get(2).(chan<- llm.StreamResponse)
			ch <- llm.StreamResponse{Content: "partial"}
			close(ch)
		}).
		Return(&llm.StatusError{Code: 500, Message: "model crashed"}).Once()

	_, err := f.chat.Send("test")
	require.NoError(t, err)

	snap := waitIdle(t, f.chat, 2)
	assert.Equal(t, "Error: ollama returned status 500: model crashed", snap.Conversation.Messages[1].Content)
}

func TestChatService_CancelDropsLateFragments(t *testing.T) {
	f := setupChatService(t, defaultTestSettings())

	release := make(chan struct{})
	returned := make(chan struct{})
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			defer close(returned)
			ch := args.Get(2).(chan<- llm.StreamResponse)
			defer close(ch)
			ch <- llm.StreamResponse{Content: "partial"}
			<-release
			ch <- llm.StreamResponse{Content: " late"}
			ch <- llm.StreamResponse{Done: true}
		}).Return(nil).Once()

	streamID, err := f.chat.Send("tell me a story")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := f.chat.Snapshot()
		return snap.Draft != nil && snap.Draft.Text == "partial"
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, f.chat.Cancel())
	assert.False(t, f.chat.Cancel(), "second cancel has nothing to cancel")

	snap := f.chat.Snapshot()
	assert.Equal(t, service.StateIdle, snap.State)
	assert.Nil(t, snap.Draft)

	close(release)
	<-returned

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.chat.Shutdown(ctx))

	snap = f.chat.Snapshot()
	require.Len(t, snap.Conversation.Messages, 1, "no assistant message may appear for stream %s", streamID)
	assert.Equal(t, "tell me a story", snap.Conversation.Messages[0].Content)
	assert.Empty(t, f.history.LoadAll(context.Background()), "cancelled exchange is not persisted")
}

func TestChatService_SendWhileBusyIsRejected(t *testing.T) {
	f := setupChatService(t, defaultTestSettings())

	release := make(chan struct{})
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ch := args.Get(2).(chan<- llm.StreamResponse)
			defer close(ch)
			ch <- llm.StreamResponse{Content: "working"}
			<-release
			ch <- llm.StreamResponse{Done: true}
		}).Return(nil).Once()

	_, err := f.chat.Send("first")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.chat.State() == service.StateStreaming
	}, 2*time.Second, 5*time.Millisecond)

	before := f.chat.Snapshot()
	_, err = f.chat.Send("second")
	assert.ErrorIs(t, err, app_errors.ErrAlreadyGenerating)
	assert.ErrorIs(t, err, app_errors.ErrConflict)
	assert.Equal(t, before, f.chat.Snapshot())

	assert.ErrorIs(t, f.chat.NewConversation(), app_errors.ErrNotIdle)

	close(release)
	snap := waitIdle(t, f.chat, 2)
	assert.Equal(t, "working", snap.Conversation.Messages[1].Content)
}

func TestChatService_StreamingDisabledUsesGenerate(t *testing.T) {
	settings := defaultTestSettings()
	settings.Streaming = false
	f := setupChatService(t, settings)

	f.provider.On("Generate", mock.Anything, mock.Anything).
		Return(&llm.GenerateResponse{Response: "whole reply", Done: true}, nil).Once()

	_, err := f.chat.Send("hi")
	require.NoError(t, err)

	snap := waitIdle(t, f.chat, 2)
	assert.Equal(t, "whole reply", snap.Conversation.Messages[1].Content)
	f.provider.AssertNotCalled(t, "GenerateStream", mock.Anything, mock.Anything, mock.Anything)
}

func TestChatService_StreamClosedWithoutDone(t *testing.T) {
	f := setupChatService(t, defaultTestSettings())
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ch := args.Get(2).(chan<- llm.StreamResponse)
			ch <- llm.StreamResponse{Content: "cut"}
			close(ch)
		}).Return(nil).Once()

	_, err := f.chat.Send("hi")
	require.NoError(t, err)

	snap := waitIdle(t, f.chat, 2)
	assert.Equal(t, "cut", snap.Conversation.Messages[1].Content)
}

func TestChatService_SaveHistoryDisabled(t *testing.T) {
	settings := defaultTestSettings()
	settings.SaveHistory = false
	f := setupChatService(t, settings)
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(streamFragments("ok")).Return(nil).Once()

	_, err := f.chat.Send("hi")
	require.NoError(t, err)
	waitIdle(t, f.chat, 2)

	assert.Empty(t, f.history.LoadAll(context.Background()))
}

func TestChatService_PersistenceFailureKeepsConversation(t *testing.T) {
	f := setupChatServiceWithStore(t, defaultTestSettings(), failingStore{repository.NewMemoryStore()})
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(streamFragments("ok")).Return(nil).Once()

	_, err := f.chat.Send("hi")
	require.NoError(t, err)

	snap := waitIdle(t, f.chat, 2)
	assert.Equal(t, "ok", snap.Conversation.Messages[1].Content)
}

func TestChatService_NewConversation(t *testing.T) {
	provider := mocks.NewMockLLMProvider(t)
	history := service.NewHistoryService(repository.NewMemoryStore(), service.HistoryOptions{})
	chat := service.NewChatService(provider, history, staticSettings{defaultTestSettings()}, staticStatus{}, "Hello there!")

	first := chat.Snapshot().Conversation
	require.Len(t, first.Messages, 1)

	require.NoError(t, chat.NewConversation())
	second := chat.Snapshot().Conversation
	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, second.Messages, 1)
	assert.Equal(t, model.RoleAssistant, second.Messages[0].Role)
	assert.Equal(t, "Hello there!", second.Messages[0].Content)

	assert.Empty(t, history.LoadAll(context.Background()), "a fresh conversation is not persisted")
}

func TestChatService_LoadConversation(t *testing.T) {
	ctx := context.Background()
	f := setupChatService(t, defaultTestSettings())

	saved := conversationWith("old question", "old answer")
	require.NoError(t, f.history.Upsert(ctx, saved))

	require.NoError(t, f.chat.LoadConversation(ctx, saved.ID))
	snap := f.chat.Snapshot()
	assert.Equal(t, saved.ID, snap.Conversation.ID)
	assert.Len(t, snap.Conversation.Messages, 2)

	err := f.chat.LoadConversation(ctx, conversationWith("missing").ID)
	assert.ErrorIs(t, err, app_errors.ErrNotFound)
	assert.Equal(t, saved.ID, f.chat.Snapshot().Conversation.ID)

	// Continuing a loaded conversation updates the same saved entry.
	f.provider.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).
		Run(streamFragments("new answer")).Return(nil).Once()
	_, err = f.chat.Send("new question")
	require.NoError(t, err)
	waitIdle(t, f.chat, 4)

	all := f.history.LoadAll(ctx)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Messages, 4)
}

func TestChatService_Restore(t *testing.T) {
	ctx := context.Background()

	t.Run("Most recent conversation", func(t *testing.T) {
		f := setupChatService(t, defaultTestSettings())
		older := conversationWith("older")
		newer := conversationWith("newer")
		require.NoError(t, f.history.Upsert(ctx, older))
		require.NoError(t, f.history.Upsert(ctx, newer))

		require.NoError(t, f.chat.Restore(ctx))
		assert.Equal(t, newer.ID, f.chat.Snapshot().Conversation.ID)
	})

	t.Run("Empty history", func(t *testing.T) {
		f := setupChatService(t, defaultTestSettings())
		require.NoError(t, f.chat.Restore(ctx))
		snap := f.chat.Snapshot()
		assert.Empty(t, snap.Conversation.Messages)
		assert.Equal(t, model.DefaultTitle, snap.Conversation.Title)
	})
}

func TestChatService_ShutdownRejectsSends(t *testing.T) {
	f := setupChatService(t, defaultTestSettings())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.chat.Shutdown(ctx))

	_, err := f.chat.Send("hi")
	assert.ErrorIs(t, err, app_errors.ErrNotIdle)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", service.StateIdle.String())
	assert.Equal(t, "awaiting_first_fragment", service.StateAwaitingFirstFragment.String())
	assert.Equal(t, "streaming", service.StateStreaming.String())
	assert.Equal(t, "finalizing", service.StateFinalizing.String())
}
