package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	app_errors "ollama-chat/internal/errors"
	"ollama-chat/internal/interfaces"
	"ollama-chat/internal/llm"
)

// ModelHandler handles HTTP requests for model management.
type ModelHandler struct {
	service interfaces.ModelService
}

func NewModelHandler(svc interfaces.ModelService) *ModelHandler {
	return &ModelHandler{service: svc}
}

// ModelsResponse lists installed model names.
type ModelsResponse struct {
	Models  []string `json:"models"`
	Version string   `json:"version,omitempty"`
}

// HandleListModels returns the sorted names of the installed models.
// @Summary      List local models
// @Description  Gets the sorted names of all models available locally in Ollama, plus the server version.
// @Tags         Models
// @Produce      json
// @Success      200  {object}  ModelsResponse
// @Failure      502  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /v1/models [get]
func (h *ModelHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.service.List(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	resp := ModelsResponse{Models: models}
	if version, err := h.service.Version(r.Context()); err == nil {
		resp.Version = version
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// HandlePullModel downloads a model, streaming typed progress as SSE.
// @Summary      Pull a new model
// @Description  Downloads a model from the Ollama registry. This is a streaming endpoint.
// @Tags         Models
// @Accept       json
// @Produce      text/event-stream
// @Param        modelRequest  body      llm.PullModelRequest  true  "Model Name to Pull"
// @Success      200           {object}  llm.Progress  "Stream of progress events"
// @Failure      400           {object}  ErrorResponse "Sent as a stream error event"
// @Router       /v1/models/pull [post]
func (h *ModelHandler) HandlePullModel(w http.ResponseWriter, r *http.Request) {
	setStreamHeaders(w)

	var req llm.PullModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Error decoding request body for model pull", "error", err)
		sendStreamError(w, "Invalid request body")
		return
	}

	streamChan := make(chan llm.Progress)
	errChan := make(chan error, 1)
	go func() {
		errChan <- h.service.Pull(r.Context(), &req, streamChan)
	}()

	for progress := range streamChan {
		if err := writeStreamEvent(w, "progress", progress); err != nil {
			slog.Warn("Could not write to model pull stream, client likely disconnected.", "error", err)
			return
		}
	}

	if err := <-errChan; err != nil {
		slog.Error("Error from model pull service", "model", req.Name, "error", err)
		switch {
		case errors.Is(err, app_errors.ErrValidation):
			sendStreamError(w, err.Error())
		case errors.Is(err, app_errors.ErrUnreachable):
			sendStreamError(w, "Ollama is not reachable. Make sure it is running.")
		default:
			sendStreamError(w, "Model pull failed: "+err.Error())
		}
		return
	}

	_ = writeStreamEvent(w, "done", StatusResponse{Status: "ok"})
	slog.Info("Finished streaming model pull.", "model", req.Name)
}
