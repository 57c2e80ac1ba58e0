package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/merlin/pkg/llm"
	"github.com/entrhq/merlin/pkg/types"
)

func sseServer(t *testing.T, events []string, inspect func(body map[string]interface{})) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &body))
		if inspect != nil {
			inspect(body)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			io.WriteString(w, "data: "+e+"\n\n")
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
}

func TestProvider_CompleteSplitsThinking(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"content":"<think>length was 5"},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"content":"</think>{\"action\":\"submit\","},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"content":"\"answer\":\"OCEAN\"}"},"finish_reason":"stop"}]}`,
	}, func(body map[string]interface{}) {
		assert.Equal(t, "llama3", body["model"])
		assert.Equal(t, 0.2, body["temperature"])
		assert.Equal(t, true, body["stream"])
	})
	defer server.Close()

	p, err := NewProvider("test-key", WithBaseURL(server.URL+"/"), WithModel("llama3"), WithTemperature(0.2))
	require.NoError(t, err)

	msg, err := p.Complete(context.Background(), []*types.Message{
		types.NewSystemMessage("sys"),
		types.NewUserMessage("next?"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, `{"action":"submit","answer":"OCEAN"}`, msg.Content)
	assert.Equal(t, "length was 5", msg.Metadata[llm.MetadataThinking])
}

func TestProvider_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "rate limited")
	}))
	defer server.Close()

	p, err := NewProvider("test-key", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	require.Error(t, err)
	var apiErr *openai.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "429")
}

func TestProvider_PlainAnswer(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"{\"action\":\"ask\","},"finish_reason":null}]}`,
		`{"choices":[]}`,
		`{"choices":[{"index":0,"delta":{"content":"\"question\":\"How long is it?\"}"},"finish_reason":"stop"}]}`,
	}, func(body map[string]interface{}) {
		_, hasTemp := body["temperature"]
		assert.False(t, hasTemp, "temperature omitted unless set")
	})
	defer server.Close()

	p, err := NewProvider("test-key", WithBaseURL(server.URL))
	require.NoError(t, err)

	msg, err := p.Complete(context.Background(), []*types.Message{types.NewUserMessage("next?")})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"ask","question":"How long is it?"}`, msg.Content)
	assert.NotContains(t, msg.Metadata, llm.MetadataThinking)
}

func TestNewProvider_RequiresKey(t *testing.T) {
	_, err := NewProvider("")
	assert.Error(t, err)
}

func TestNewProvider_Defaults(t *testing.T) {
	p, err := NewProvider("k")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.Model())
	assert.Equal(t, DefaultBaseURL, p.BaseURL())

	p, err = NewProvider("k", WithModel("qwen2.5:7b"), WithBaseURL("http://127.0.0.1:11434/v1"))
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:7b", p.Model())
	assert.Equal(t, "http://127.0.0.1:11434/v1", p.BaseURL())
}
