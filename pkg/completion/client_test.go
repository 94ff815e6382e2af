package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/answer-cli/internal/resilience"
)

const streamBody = "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n"

func TestStream_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.True(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[0].Role)
		assert.Equal(t, "explain", req.Messages[0].Content)
		assert.Equal(t, 256, req.MaxTokens)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(streamBody))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithModel("gpt-test"), WithMaxTokens(256))
	body, err := client.Stream(context.Background(), Request{Prompt: "explain", Token: "tok"})
	require.NoError(t, err)
	defer body.Close()

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, streamBody, string(got))
}

func TestStream_ProjectSuffix(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok:my-project", r.Header.Get("Authorization"))
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithProject("my-project"))
	body, err := client.Stream(context.Background(), Request{Prompt: "p", Token: "tok"})
	require.NoError(t, err)
	body.Close()
}

func TestStream_Unauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid token"}}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Stream(context.Background(), Request{Prompt: "p", Token: "bad"})

	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.True(t, statusErr.Auth())
	assert.Contains(t, statusErr.Body, "invalid token")
	assert.False(t, resilience.IsTransient(err))
}

func TestStream_TransientStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Stream(context.Background(), Request{Prompt: "p", Token: "tok"})

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.False(t, statusErr.Auth())
	assert.Contains(t, err.Error(), "429")
}

func TestStream_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Stream(context.Background(), Request{Prompt: "p", Token: "tok"})

	require.Error(t, err)
	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))
}
