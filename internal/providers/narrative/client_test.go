package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"finish_reason": "stop", "message": map[string]string{"content": content}},
		},
	})
	return string(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.ProviderConfig{BaseURL: server.URL, APIKey: "key", Model: "test-model"},
		WithHTTPClient(server.Client()))
}

func TestClient_Generate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "bundle text", req.Messages[1].Content)
		assert.Equal(t, jsonResponseType, req.ResponseFormat["type"])

		_, _ = w.Write([]byte(completion("```json\n" +
			`{"script":"HOST_A: Hello.\nHOST_B: Hi.","headline":"Morning brief","description":"Two updates."}` +
			"\n```")))
	})

	script, err := client.Generate(context.Background(), "You write briefings.", "bundle text")
	require.NoError(t, err)
	assert.Equal(t, "Morning brief", script.Headline)
	assert.Equal(t, "Two updates.", script.Description)
	assert.Contains(t, script.Script, "HOST_B: Hi.")
}

func TestClient_Generate_EmptyContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completion("")))
	})

	_, err := client.Generate(context.Background(), "system", "bundle")
	require.Error(t, err)

	var genErr *domain.GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, Capability, genErr.Capability)
	assert.False(t, domain.IsRetryable(err))
}

func TestClient_Generate_RateLimitedIsRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Generate(context.Background(), "system", "bundle")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestParseScript(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{name: "valid", content: `{"script":"HOST_A: Hi.","headline":"H","description":"D"}`},
		{name: "missing description is allowed", content: `{"script":"HOST_A: Hi.","headline":"H"}`},
		{name: "empty script", content: `{"script":"  ","headline":"H"}`, wantErr: true},
		{name: "missing headline", content: `{"script":"HOST_A: Hi."}`, wantErr: true},
		{name: "not json", content: `I cannot help with that.`, wantErr: true},
		{name: "wrong shape", content: `{"script":["HOST_A: Hi."],"headline":"H"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript(tt.content)
			if tt.wantErr {
				var genErr *domain.GenerationError
				assert.True(t, errors.As(err, &genErr))
				return
			}
			assert.NoError(t, err)
		})
	}
}
