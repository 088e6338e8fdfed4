package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"saferoute/signals"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, content string, seen *ChatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":"boom"}`))
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestScoreText(t *testing.T) {
	var seen ChatRequest
	srv := chatServer(t, http.StatusOK, `{"plausibility": 72.6}`, &seen)
	defer srv.Close()

	c := NewClient("test-key", "gpt-4o").WithEndpoint(srv.URL)
	score, err := c.ScoreText(context.Background(), signals.TextInput{
		Category:    "accident",
		Description: "Two cars collided at the junction",
		Severity:    "high",
	})
	require.NoError(t, err)
	assert.Equal(t, 73, score)

	assert.Equal(t, "gpt-4o", seen.Model)
	require.Len(t, seen.Messages, 1)
	assert.Contains(t, seen.Messages[0].Content[0].Text, "Two cars collided")
	assert.Contains(t, seen.Messages[0].Content[0].Text, "Location: not provided")
	assert.Equal(t, "json_object", seen.ResponseFormat.Type)
}

func TestScoreTextErrors(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		content string
	}{
		{"API error", http.StatusInternalServerError, ""},
		{"Not JSON", http.StatusOK, "about 70"},
		{"Out of range", http.StatusOK, `{"plausibility": 140}`},
		{"Negative", http.StatusOK, `{"plausibility": -1}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := chatServer(t, tc.status, tc.content, nil)
			defer srv.Close()

			_, err := NewClient("test-key", "gpt-4o").WithEndpoint(srv.URL).ScoreText(context.Background(), signals.TextInput{})
			assert.Error(t, err)
		})
	}
}

func TestMissingKeyIsUnavailable(t *testing.T) {
	c := NewClient("", "gpt-4o")

	_, err := c.ScoreText(context.Background(), signals.TextInput{})
	assert.ErrorIs(t, err, signals.ErrUnavailable)

	_, err = c.AnalyzeImage(context.Background(), []byte{0xff, 0xd8})
	assert.ErrorIs(t, err, signals.ErrUnavailable)
}

func TestAnalyzeImage(t *testing.T) {
	var seen ChatRequest
	content := `{"score": 64, "labels": [{"name": "Car", "confidence": 0.9}, {"name": "road", "confidence": 0.7}], "objects": ["car"], "safety_rating": "UNSAFE"}`
	srv := chatServer(t, http.StatusOK, content, &seen)
	defer srv.Close()

	a, err := NewClient("test-key", "gpt-4o").WithEndpoint(srv.URL).AnalyzeImage(context.Background(), []byte("\x89PNG\r\n\x1a\n0000"))
	require.NoError(t, err)

	assert.True(t, a.Success)
	assert.Equal(t, 64.0, a.Score)
	assert.Equal(t, []string{"Car", "road"}, a.LabelNames())
	assert.Equal(t, signals.SafetyUnsafe, a.SafetyRating)
	assert.Equal(t, 1, a.SafetyViolations())

	require.Len(t, seen.Messages[0].Content, 2)
	assert.Equal(t, "image_url", seen.Messages[0].Content[1].Type)
	assert.Contains(t, seen.Messages[0].Content[1].ImageURL.URL, "data:image/png;base64,")
}

func TestAnalyzeImageUnknownSafetyRating(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"score": 50, "safety_rating": "maybe"}`, nil)
	defer srv.Close()

	a, err := NewClient("test-key", "gpt-4o").WithEndpoint(srv.URL).AnalyzeImage(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, signals.SafetyUnknown, a.SafetyRating)
	assert.Equal(t, 0, a.SafetyViolations())
}

func TestContextCancellation(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"plausibility": 50}`, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("test-key", "gpt-4o").WithEndpoint(srv.URL).ScoreText(ctx, signals.TextInput{})
	assert.Error(t, err)
}
