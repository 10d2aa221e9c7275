package summarize

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
)

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

const systemPrompt = "You are an experienced game automation operator. " +
	"Analyze the webhook JSON push you are given: if it contains errors, " +
	"warnings or abnormal behavior, briefly state the cause and a likely fix; " +
	"otherwise summarize the core content. Reply with plain text only, no " +
	"Markdown, no emoji."

// openAIClient talks to any OpenAI-compatible chat-completions endpoint.
type openAIClient struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
}

func newOpenAIClient(cfg Config) Summarizer {
	ep := strings.TrimSpace(cfg.Endpoint)
	if ep == "" {
		ep = defaultEndpoint
	}
	return &openAIClient{
		endpoint: ep,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		// Per-call deadlines come from the caller's context; this is a
		// backstop for dialing stalls.
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openAIClient) Summarize(ctx context.Context, payload string, maxTokens int) (string, error) {
	prompt := fmt.Sprintf(
		"Analyze this webhook push data. Keep the answer concise, strictly under %d characters.\n\nData:\n%s",
		maxTokens, payload)

	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summarizer backend: status %d: %s", resp.StatusCode, firstLine(raw))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("summarizer backend: decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("summarizer backend: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("summarizer backend: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
