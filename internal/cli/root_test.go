package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeOllama(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"0.5.1"}`)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"mistral"},{"name":"llama3.2"}]}`)
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintln(w, `{"status":"pulling 6a0746a1ec1a","digest":"sha256:6a0746a1ec1a","total":200,"completed":100}`)
		fmt.Fprintln(w, `{"status":"success"}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--store", "memory", "--log-level", "ERROR"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestModelsCommand(t *testing.T) {
	ollama := fakeOllama(t)

	out, err := execute(t, "--ollama-url", ollama.URL, "models")
	require.NoError(t, err)
	assert.Equal(t, "llama3.2\nmistral\n", out)
}

func TestStatusCommand(t *testing.T) {
	t.Run("Reachable", func(t *testing.T) {
		ollama := fakeOllama(t)
		out, err := execute(t, "--ollama-url", ollama.URL, "status")
		require.NoError(t, err)
		assert.Equal(t, "Connected to Ollama\nVersion: 0.5.1\nModels: 2\n  - llama3.2\n  - mistral\n", out)
	})

	t.Run("Unreachable", func(t *testing.T) {
		out, err := execute(t, "--ollama-url", "http://127.0.0.1:1", "status")
		assert.ErrorContains(t, err, "ollama is not reachable at http://127.0.0.1:1")
		assert.Contains(t, out, "Not connected: ")
	})
}

func TestPullCommand(t *testing.T) {
	ollama := fakeOllama(t)

	out, err := execute(t, "--ollama-url", ollama.URL, "pull", "llama3.2")
	require.NoError(t, err)
	assert.Equal(t, "Downloading manifest...\nDownloading layers... 50%\nSuccess! 100%\n", out)
}

func TestPullCommand_RequiresName(t *testing.T) {
	_, err := execute(t, "pull")
	assert.Error(t, err)
}

func TestHistoryCommand_Empty(t *testing.T) {
	out, err := execute(t, "history")
	require.NoError(t, err)
	assert.Equal(t, "No saved conversations.\n", out)
}

func TestRootCommand_InvalidStore(t *testing.T) {
	_, err := execute(t, "--store", "cassandra", "history")
	assert.ErrorContains(t, err, "invalid configuration")
}
