package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAIClient_Complete(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"art\":\"zahnarzt\"}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{
		Provider: ProviderOpenAI,
		BaseURL:  server.URL + "/v1",
		APIKey:   "test-key",
		Model:    "gpt-4o-mini",
	}, zap.NewNop())

	out, err := client.Complete(context.Background(), Request{
		Prompt: "prompt",
		Image:  &Image{MediaType: "image/jpeg", Data: "/9j/"},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"art":"zahnarzt"}`, out)
	assert.Equal(t, "gpt-4o-mini", captured["model"])

	msg := captured["messages"].([]any)[0].(map[string]any)
	parts := msg["content"].([]any)
	require.Len(t, parts, 2)
	imagePart := parts[0].(map[string]any)
	assert.Equal(t, "data:image/jpeg;base64,/9j/", imagePart["image_url"].(map[string]any)["url"])
}

func TestOpenAIClient_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusBadGateway, ErrServiceError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"error"}}`))
			}))
			defer server.Close()

			client := NewOpenAIClient(Config{BaseURL: server.URL + "/v1", APIKey: "k"}, zap.NewNop())
			_, err := client.Complete(context.Background(), Request{Prompt: "p"})

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}
