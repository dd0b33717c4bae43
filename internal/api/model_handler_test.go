package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ollama-chat/internal/api"
	app_errors "ollama-chat/internal/errors"
	"ollama-chat/internal/llm"
)

func TestModelHandler_HandleListModels(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := setupAPI(t)
		f.provider.On("ListModels", mock.Anything).Return([]string{"llama3.2", "mistral"}, nil).Once()
		f.provider.On("Version", mock.Anything).Return("0.5.1", nil).Once()

		rr := f.do(http.MethodGet, "/api/v1/models", "")

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp api.ModelsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, []string{"llama3.2", "mistral"}, resp.Models)
		assert.Equal(t, "0.5.1", resp.Version)
	})

	t.Run("Failure - Unreachable", func(t *testing.T) {
		f := setupAPI(t)
		f.provider.On("ListModels", mock.Anything).Return(nil, app_errors.ErrUnreachable).Once()

		rr := f.do(http.MethodGet, "/api/v1/models", "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("Failure - Internal", func(t *testing.T) {
		f := setupAPI(t)
		f.provider.On("ListModels", mock.Anything).Return(nil, errors.New("internal error")).Once()

		rr := f.do(http.MethodGet, "/api/v1/models", "")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestModelHandler_HandlePullModel(t *testing.T) {
	t.Run("Success - Progress is streamed", func(t *testing.T) {
		f := setupAPI(t)
		f.provider.On("PullModel", mock.Anything, mock.MatchedBy(func(r *llm.PullModelRequest) bool {
			return r.Name == "mistral"
		}), mock.Anything).
			Run(func(args mock.Arguments) {
				ch := args.Get(2).(chan<- llm.Progress)
				ch <- llm.ParseProgressLine("pulling manifest")
				ch <- llm.PullStatus{Status: "pulling abc123", Total: 200, Completed: 50}.Progress()
				ch <- llm.ParseProgressLine("success")
				close(ch)
			}).Return(nil).Once()
		f.provider.On("Version", mock.Anything).Return("0.5.1", nil).Once()
		f.provider.On("ListModels", mock.Anything).Return([]string{"mistral"}, nil).Once()

		rr := f.do(http.MethodPost, "/api/v1/models/pull", `{"name": "mistral"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
		body := rr.Body.String()
		assert.Equal(t, 3, strings.Count(body, "event: progress\n"))
		assert.Contains(t, body, `"phase":"manifest"`)
		assert.Contains(t, body, `"percent":25`)
		assert.Contains(t, body, "event: done\n")
	})

	t.Run("Failure - Invalid JSON", func(t *testing.T) {
		f := setupAPI(t)
		rr := f.do(http.MethodPost, "/api/v1/models/pull", `{"name":`)

		assert.Contains(t, rr.Body.String(), "event: error\n")
		assert.Contains(t, rr.Body.String(), "Invalid request body")
	})

	t.Run("Failure - Missing name", func(t *testing.T) {
		f := setupAPI(t)
		rr := f.do(http.MethodPost, "/api/v1/models/pull", `{}`)

		assert.Contains(t, rr.Body.String(), "event: error\n")
		assert.Contains(t, rr.Body.String(), "Name")
	})

	t.Run("Failure - Registry error", func(t *testing.T) {
		f := setupAPI(t)
		f.provider.On("PullModel", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { close(args.Get(2).(chan<- llm.Progress)) }).
			Return(errors.New("pull model manifest: file does not exist")).Once()

		rr := f.do(http.MethodPost, "/api/v1/models/pull", `{"name": "ghost"}`)

		assert.Contains(t, rr.Body.String(), "event: error\n")
		assert.Contains(t, rr.Body.String(), "file does not exist")
		assert.NotContains(t, rr.Body.String(), "event: done")
	})
}
