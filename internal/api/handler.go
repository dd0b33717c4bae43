package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	app_errors "ollama-chat/internal/errors"
	"ollama-chat/internal/interfaces"
	"ollama-chat/internal/service"
)

// ChatHandler drives the chat session engine over HTTP.
type ChatHandler struct {
	chat    interfaces.ChatEngine
	history interfaces.HistoryReader
}

func NewChatHandler(chat interfaces.ChatEngine, history interfaces.HistoryReader) *ChatHandler {
	return &ChatHandler{chat: chat, history: history}
}

// GetChat returns the active conversation, engine state and any draft.
// @Summary      Get the active chat
// @Description  Returns the engine state, the active conversation and the in-flight draft, if any.
// @Tags         Chat
// @Produce      json
// @Success      200  {object}  service.ChatSnapshot
// @Router       /v1/chat [get]
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.chat.Snapshot())
}

// SendMessage starts a reply. The reply itself arrives on the event stream.
// @Summary      Send a message
// @Description  Appends a user message and starts generating the reply. Fragments arrive on /v1/chat/events.
// @Tags         Chat
// @Accept       json
// @Produce      json
// @Param        message  body      SendMessageRequest  true  "Message text"
// @Success      202      {object}  SendMessageResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse
// @Router       /v1/chat/messages [post]
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request payload", app_errors.ErrValidation))
		return
	}

	streamID, err := h.chat.Send(req.Content)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, SendMessageResponse{StreamID: streamID.String()})
}

// @Summary      Cancel the reply
// @Description  Abandons the in-flight reply. Late fragments are discarded.
// @Tags         Chat
// @Produce      json
// @Success      200  {object}  CancelResponse
// @Router       /v1/chat/cancel [post]
func (h *ChatHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, CancelResponse{Cancelled: h.chat.Cancel()})
}

// @Summary      Start a new chat
// @Tags         Chat
// @Produce      json
// @Success      200  {object}  service.ChatSnapshot
// @Failure      409  {object}  ErrorResponse
// @Router       /v1/chat/new [post]
func (h *ChatHandler) NewChat(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.NewConversation(); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, h.chat.Snapshot())
}

// ListChats returns the saved conversations, most recent first.
// @Summary      List saved chats
// @Tags         Chats
// @Produce      json
// @Success      200  {array}  model.Conversation
// @Router       /v1/chats [get]
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.history.LoadAll(r.Context()))
}

// @Summary      Open a saved chat
// @Tags         Chats
// @Produce      json
// @Param        chatID  path      string  true  "Conversation ID"
// @Success      200     {object}  service.ChatSnapshot
// @Failure      400     {object}  ErrorResponse
// @Failure      404     {object}  ErrorResponse
// @Failure      409     {object}  ErrorResponse
// @Router       /v1/chats/{chatID}/load [post]
func (h *ChatHandler) LoadChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "chatID"))
	if err != nil {
		respondWithError(w, fmt.Errorf("%w: chat ID must be a UUID", app_errors.ErrValidation))
		return
	}
	if err := h.chat.LoadConversation(r.Context(), chatID); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, h.chat.Snapshot())
}

// StreamEvents sends a snapshot followed by every engine event as SSE until
// the client disconnects.
// @Summary      Chat event stream
// @Description  Server-sent events: a "snapshot" event, then one event per engine change named by its kind.
// @Tags         Chat
// @Produce      text/event-stream
// @Success      200  {object}  service.ChatEvent  "Stream of chat events"
// @Router       /v1/chat/events [get]
func (h *ChatHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	events, stop := h.chat.Subscribe()
	defer stop()

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := writeStreamEvent(w, "snapshot", h.chat.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("Chat event client disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeStreamEvent(w, string(ev.Kind), ev); err != nil {
				slog.Warn("Could not write to chat event stream, client likely disconnected.", "error", err)
				return
			}
		}
	}
}

// SettingsHandler reads and updates generation settings.
type SettingsHandler struct {
	settings interfaces.SettingsService
}

func NewSettingsHandler(settings interfaces.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// @Summary      Get settings
// @Tags         Settings
// @Produce      json
// @Success      200  {object}  service.Settings
// @Router       /v1/settings [get]
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, settings)
}

// @Summary      Update settings
// @Description  Validates and stores the settings. When Ollama is reachable the model must be installed.
// @Tags         Settings
// @Accept       json
// @Produce      json
// @Param        settings  body      service.Settings  true  "New settings"
// @Success      200       {object}  service.Settings
// @Failure      400       {object}  ErrorResponse
// @Router       /v1/settings [put]
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings service.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request payload", app_errors.ErrValidation))
		return
	}
	if err := h.settings.Save(r.Context(), &settings); err != nil {
		respondWithError(w, err)
		return
	}
	slog.Info("Settings updated", "model", settings.Model)
	respondWithJSON(w, http.StatusOK, settings)
}

// StatusHandler exposes the status monitor.
type StatusHandler struct {
	status interfaces.StatusMonitor
}

func NewStatusHandler(status interfaces.StatusMonitor) *StatusHandler {
	return &StatusHandler{status: status}
}

// @Summary      Get server status
// @Description  Returns the last status observed by the monitor.
// @Tags         Status
// @Produce      json
// @Success      200  {object}  model.ServerStatus
// @Router       /v1/status [get]
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.status.Status())
}

// CheckStatus queries the server immediately.
// @Summary      Check server status now
// @Tags         Status
// @Produce      json
// @Success      200  {object}  model.ServerStatus
// @Router       /v1/status/check [post]
func (h *StatusHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.status.CheckStatus(r.Context()))
}
