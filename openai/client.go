package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"saferoute/signals"

	"github.com/apex/log"
)

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

type Message struct {
	Role    string        `json:"role"`
	Content []ContentItem `json:"content"`
}

type ContentItem struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client represents an OpenAI API client. It implements both signals.TextScorer
// and signals.ImageAnalyzer.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewClient creates a new OpenAI client
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultEndpoint,
		client:   &http.Client{},
	}
}

// WithEndpoint points the client at a different chat-completions URL
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

const textPrompt = `You review incident reports submitted by road users.
Rate how plausible the following report is on a scale from 0 (clearly fabricated or nonsensical) to 100 (specific, consistent and believable).

Category: %s
Severity: %s
Location: %s
Photo attached: %t
Description:
%s

Please output the answer as JSON:
{
  "plausibility": [0-100]
}`

type textResult struct {
	Plausibility float64 `json:"plausibility"`
}

// ScoreText rates the plausibility of a report's text
func (c *Client) ScoreText(ctx context.Context, in signals.TextInput) (int, error) {
	location := in.LocationLabel
	if location == "" {
		location = "not provided"
	}
	prompt := fmt.Sprintf(textPrompt, in.Category, in.Severity, location, in.HasPhoto, in.Description)

	content, err := c.complete(ctx, []ContentItem{{Type: "text", Text: prompt}})
	if err != nil {
		return 0, err
	}

	var result textResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		log.Errorf("Failed to parse plausibility response %s: %v", content, err)
		return 0, fmt.Errorf("failed to parse plausibility response: %w", err)
	}
	if math.IsNaN(result.Plausibility) || result.Plausibility < 0 || result.Plausibility > 100 {
		return 0, fmt.Errorf("plausibility %v out of range", result.Plausibility)
	}
	return int(math.Round(result.Plausibility)), nil
}

const imagePrompt = `You check photos attached to road incident reports.
Rate how credible this photo is as evidence of a real incident (0-100), list the content labels and objects you detect, and rate whether the image is safe to show publicly.

Please output the answer as JSON:
{
  "score": [0-100],
  "labels": [{"name": "string", "confidence": [0.0-1.0]}],
  "objects": ["string"],
  "safety_rating": "safe"|"unsafe"|"unknown"
}`

// AnalyzeImage rates a photo and returns the detected content
func (c *Client) AnalyzeImage(ctx context.Context, image []byte) (*signals.ImageAnalysis, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(image), base64.StdEncoding.EncodeToString(image))

	content, err := c.complete(ctx, []ContentItem{
		{Type: "text", Text: imagePrompt},
		{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}},
	})
	if err != nil {
		return nil, err
	}

	var result signals.ImageAnalysis
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		log.Errorf("Failed to parse image analysis response %s: %v", content, err)
		return nil, fmt.Errorf("failed to parse image analysis response: %w", err)
	}
	switch strings.ToLower(result.SafetyRating) {
	case signals.SafetySafe, signals.SafetyUnsafe:
		result.SafetyRating = strings.ToLower(result.SafetyRating)
	default:
		result.SafetyRating = signals.SafetyUnknown
	}
	result.Success = true
	return &result, nil
}

func (c *Client) complete(ctx context.Context, content []ContentItem) (string, error) {
	if c.apiKey == "" {
		return "", signals.ErrUnavailable
	}

	reqBody := ChatRequest{
		Model:          c.model,
		Messages:       []Message{{Role: "user", Content: content}},
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}
