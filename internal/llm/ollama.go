package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2:latest"
)

// OllamaConfig holds configuration for the Ollama chat client.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Ollama calls /api/chat without streaming.
type Ollama struct {
	client  *http.Client
	baseURL string
	model   string
	timeout time.Duration
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

// ollamaOptions always carries temperature, since 0 must reach the server.
// top_p is left to the server default unless set.
type ollamaOptions struct {
	Temperature float64  `json:"temperature"`
	TopP        *float64 `json:"top_p,omitempty"`
}

type ollamaChatResponse struct {
	Message *ollamaReplyMessage `json:"message"`
	Done    bool                `json:"done"`
}

// ollamaReplyMessage tells a missing content key apart from an empty one.
type ollamaReplyMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// NewOllama creates an Ollama chat client, filling defaults for empty fields.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Ollama{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// Chat sends the transcript and returns the assistant's reply.
func (o *Ollama) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	options := ollamaOptions{Temperature: opts.Temperature}
	if opts.TopP > 0 {
		options.TopP = &opts.TopP
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Message == nil || out.Message.Content == nil {
		return "", ErrEmptyReply
	}
	return *out.Message.Content, nil
}

// Model returns the model name.
func (o *Ollama) Model() string {
	return o.model
}

var _ ChatModel = (*Ollama)(nil)
