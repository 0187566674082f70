// Package chat runs one conversational turn: session memory, retrieval,
// prompt selection and the model call.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bull/ffi-copilot/internal/llm"
	"github.com/bull/ffi-copilot/internal/memory"
)

var (
	ErrNoUserText = errors.New("no user message (message or messages missing)")
	ErrUpstream   = errors.New("language model request failed")
)

// upstreamError carries the model client's error. It matches ErrUpstream
// and keeps the cause's message unchanged.
type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string        { return e.err.Error() }
func (e *upstreamError) Unwrap() error        { return e.err }
func (e *upstreamError) Is(target error) bool { return target == ErrUpstream }

// Request is an incoming chat turn. Message wins over the last entry of
// Messages; an empty SessionID starts a new session.
type Request struct {
	Messages  []llm.Message `json:"messages"`
	Message   string        `json:"message,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
}

type Response struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// ContextRetriever returns formatted document context, "" when none.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) string
}

type Service struct {
	store     *memory.Store
	compactor *memory.Compactor
	retriever ContextRetriever
	model     llm.ChatModel
	logger    *slog.Logger
	newID     func() string
}

func NewService(store *memory.Store, compactor *memory.Compactor, retriever ContextRetriever, model llm.ChatModel, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		compactor: compactor,
		retriever: retriever,
		model:     model,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Reply runs one turn and persists the user message and the reply. Nothing
// is persisted when the model call fails.
func (s *Service) Reply(ctx context.Context, req Request) (*Response, error) {
	// 1. Resolve the user text
	userText := strings.TrimSpace(req.Message)
	if userText == "" && len(req.Messages) > 0 {
		userText = strings.TrimSpace(req.Messages[len(req.Messages)-1].Content)
	}
	if userText == "" {
		return nil, ErrNoUserText
	}

	// 2. Session
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = s.newID()
	}
	if err := s.store.Touch(ctx, sessionID); err != nil {
		return nil, err
	}

	// 3. Fold old turns into the summary if the session grew too long
	if _, err := s.compactor.MaybeCompact(ctx, sessionID); err != nil {
		s.logger.Warn("Session compaction failed", "session", sessionID, "error", err)
	}

	summary, err := s.store.Summary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.LastMessages(ctx, sessionID, s.compactor.KeepLast())
	if err != nil {
		return nil, err
	}

	// 4. Retrieval decides between strict and fallback mode
	docContext := s.retriever.Retrieve(ctx, userText)
	messages, opts := buildMessages(docContext, summary, history, userText)

	// 5. Model call
	reply, err := s.model.Chat(ctx, messages, opts)
	if err != nil {
		return nil, &upstreamError{err: err}
	}
	reply = strings.TrimSpace(reply)

	// 6. Persist the turn
	if err := s.store.AppendMessages(ctx, sessionID,
		memory.Message{Role: memory.RoleUser, Content: userText},
		memory.Message{Role: memory.RoleAssistant, Content: reply},
	); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	s.logger.Debug("Chat turn complete",
		"session", sessionID,
		"strict", strings.TrimSpace(docContext) != "",
		"history", len(history),
	)
	return &Response{SessionID: sessionID, Reply: reply}, nil
}

// buildMessages assembles system prompt, optional session memory, history
// and the user message, and picks the sampling options for the mode.
func buildMessages(docContext, summary string, history []memory.Message, userText string) ([]llm.Message, llm.Options) {
	var (
		system string
		opts   = llm.Options{TopP: topP}
	)
	if strings.TrimSpace(docContext) != "" {
		system = strictPrompt(docContext, userText)
		opts.Temperature = strictTemperature
	} else {
		system = fallbackPrompt(userText)
		opts.Temperature = fallbackTemperature
	}

	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.System(system))
	if strings.TrimSpace(summary) != "" {
		messages = append(messages, llm.System(sessionMemoryPrefix+summary))
	}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.User(userText))
	return messages, opts
}
