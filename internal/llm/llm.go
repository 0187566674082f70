// Package llm talks to chat-completion models.
package llm

import (
	"context"
	"errors"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTimeout bounds a single chat call.
const DefaultTimeout = 120 * time.Second

// ErrEmptyReply is returned when the response carries no message content.
var ErrEmptyReply = errors.New("model returned no reply")

// Message is one entry of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the sampling parameters sent with every call. Temperature is
// always transmitted, zero included; a zero TopP leaves the server default.
type Options struct {
	Temperature float64
	TopP        float64
}

// ChatModel produces the assistant's next message for a transcript.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
