package service

import (
	"context"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	domaintool "github.com/ngoclaw/ngoclaw/gateway/internal/domain/tool"
)

// LLMClient is the dynamic-dispatch abstraction both the driver LLM and
// any sub-LLM are called through. Every provider (openai, anthropic,
// gemini) and the failover Router implement it.
type LLMClient interface {
	Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
	GenerateStream(ctx context.Context, req *LLMRequest, deltas chan<- StreamChunk) (*LLMResponse, error)
}

// StreamChunk is one incremental piece of a streamed completion.
type StreamChunk struct {
	DeltaText     string
	DeltaToolCall *entity.ToolCallInfo
	FinishReason  string
}

// ContentPart is one part of a multi-part message (used for media; the
// RLM engine itself only ever sends plain text parts).
type ContentPart struct {
	Type     string // "text" | "image" | "file"
	Text     string
	MediaURL string
	MimeType string
	Data     []byte
}

// LLMMessage is one turn in a conversation sent to a provider.
type LLMMessage struct {
	Role       string // "system" | "user" | "assistant" | "tool"
	Content    string
	Parts      []ContentPart
	ToolCalls  []entity.ToolCallInfo // always empty in this engine; kept for provider wire compatibility
	ToolCallID string
	Name       string
}

// TextContent returns Content, or the concatenation of text Parts when
// Content is empty and Parts carry text.
func (m LLMMessage) TextContent() string {
	if m.Content != "" {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// HasMedia reports whether the message carries any non-text part.
func (m LLMMessage) HasMedia() bool {
	for _, p := range m.Parts {
		if p.Type != "text" {
			return true
		}
	}
	return false
}

// LLMRequest is a single completion request.
type LLMRequest struct {
	Messages    []LLMMessage
	Tools       []domaintool.Definition // always empty in this engine; code blocks replace function-calling
	Model       string
	MaxTokens   int
	Temperature float64
}

// LLMResponse is a single non-streaming completion result.
type LLMResponse struct {
	Content    string
	ToolCalls  []entity.ToolCallInfo // always empty; see LLMRequest.Tools
	ModelUsed  string
	TokensUsed int
}
