package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChatClientComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"action\":\"enter\"}"}}]}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{
		BaseURL:      srv.URL + "/v1/chat/completions/",
		APIKey:       "sk-test",
		Model:        "gpt-x",
		ExtraHeaders: map[string]string{"X-Extra": "yes"},
	}
	out, err := c.Complete(context.Background(), ChatPayload{System: "sys", User: "usr", ExpectJSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"enter"}`, out)
	assert.Equal(t, "gpt-x", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "usr", got.Messages[1].Content)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
}

func TestOpenAIChatClientRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, Model: "m", MaxRetries: 1}
	out, err := c.Complete(context.Background(), ChatPayload{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIChatClientNoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, Model: "m"}
	_, err := c.Complete(context.Background(), ChatPayload{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400: bad model")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIChatClientHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := &OpenAIChatClient{BaseURL: srv.URL, Model: "m"}
	start := time.Now()
	_, err := c.Complete(ctx, ChatPayload{User: "hi"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBuildProvider(t *testing.T) {
	p, err := BuildProvider(ModelCfg{Provider: "openai", Model: "gpt-x"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-x", p.ID())
	assert.Equal(t, "gpt-x", p.Model())

	_, err = BuildProvider(ModelCfg{Provider: "bedrock"}, 0)
	assert.Error(t, err)
}
