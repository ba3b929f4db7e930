package entity

import "time"

// EngineEventType defines the type of event emitted during an RLM
// iteration loop. Consumers (HTTP streaming handlers, CLI progress
// printer) subscribe to a channel of these events.
type EngineEventType string

const (
	EventTextDelta    EngineEventType = "text_delta"
	EventCodeExecuted EngineEventType = "code_executed"
	EventSubcall      EngineEventType = "subcall"
	EventThinking     EngineEventType = "thinking"
	EventStepDone     EngineEventType = "step_done"
	EventDone         EngineEventType = "done"
	EventError        EngineEventType = "error"
)

// EngineEvent represents a single event in the RLM iteration loop.
type EngineEvent struct {
	Type      EngineEventType `json:"type"`
	Content   string          `json:"content,omitempty"`
	Subcall   *SubcallEvent   `json:"subcall,omitempty"`
	StepInfo  *StepInfo       `json:"step_info,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SubcallEvent describes a sub-LLM invocation within the iteration loop.
type SubcallEvent struct {
	Instruction string        `json:"instruction"`
	ContentLen  int           `json:"content_len"`
	Output      string        `json:"output,omitempty"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// StepInfo provides metadata about the current iteration.
type StepInfo struct {
	Iteration  int    `json:"iteration"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
	State      string `json:"state,omitempty"`
}

// ToolCallInfo is retained only so the LLM provider implementations'
// request/response marshaling code continues to compile. The RLM engine
// never populates LLMRequest.Tools or reads LLMResponse.ToolCalls — code
// blocks replace function-calling in this architecture.
type ToolCallInfo struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}
