// Package client talks to an OpenAI-compatible chat completions endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/contextswitch/internal/compression/domain"
	"github.com/smallbiznis/contextswitch/internal/config"
	obstracing "github.com/smallbiznis/contextswitch/internal/observability/tracing"
)

const systemPrompt = `You are a context compression assistant. Your task is to compress conversation history into a compact, AI-readable format that preserves all essential information needed to continue the conversation.

Output a structured summary with:
1. PROJECT_CONTEXT: Brief description of what's being worked on
2. KEY_DECISIONS: Important decisions made during the conversation
3. CURRENT_STATE: Where things currently stand
4. CODE_ARTIFACTS: Any important code snippets or file paths mentioned
5. PENDING_TASKS: What still needs to be done
6. CRITICAL_DETAILS: Any specific values, names, or technical details that must be preserved

Be concise but complete. The output should allow another AI to seamlessly continue this conversation.`

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 4 << 10

type Client struct {
	endpoint    string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	http        *http.Client
}

func NewFromConfig(cfg config.Config) domain.Compressor {
	c := cfg.Compress
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return New(c.Endpoint, c.APIKey, c.Model, c.MaxTokens, c.Temperature,
		obstracing.WrapHTTPClient(&http.Client{Timeout: timeout}))
}

func New(endpoint, apiKey, model string, maxTokens int, temperature float64, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Client{
		endpoint:    strings.TrimSpace(endpoint),
		apiKey:      strings.TrimSpace(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		http:        httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) Compress(ctx context.Context, projectName, conversation string) (string, error) {
	if c.endpoint == "" || c.apiKey == "" {
		return "", fmt.Errorf("%w: compressor not configured", domain.ErrCompressorUnavailable)
	}
	if strings.TrimSpace(projectName) == "" {
		projectName = domain.UnknownProject
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Compress this conversation from project \"%s\":\n\n%s", projectName, conversation)},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCompressorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var upstream errorResponse
		message := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &upstream) == nil && upstream.Error.Message != "" {
			message = upstream.Error.Message
		}
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrCompressorUnavailable, resp.StatusCode, message)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrCompressorUnavailable, err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("compressor returned no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", domain.ErrEmptyCompression
	}
	return text, nil
}
