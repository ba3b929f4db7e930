package entity

import "time"

// StepType enumerates the typed steps an RLM trace records. The set is
// closed — Trace Writer callers must use one of these constants.
type StepType string

const (
	StepIterationStart  StepType = "iteration_start"
	StepDriverRequest   StepType = "driver_request"
	StepDriverResponse  StepType = "driver_response"
	StepCodeExecuted    StepType = "code_executed"
	StepCodeOutput      StepType = "code_output"
	StepSubcallRequest  StepType = "subcall_request"
	StepSubcallResponse StepType = "subcall_response"
	StepFinalAnswer     StepType = "final_answer"
	StepVerification    StepType = "verification"
	StepCancelled       StepType = "cancelled"
	StepExecutorReacq   StepType = "executor_reacquired"
)

// TraceStep is one ordered, append-only entry in a query's trace. StepIndex
// is monotonic within a TraceID; implementations must never reorder or
// rewrite a step once appended.
type TraceStep struct {
	TraceID    string
	StepIndex  int
	Type       StepType
	Timestamp  time.Time
	Iteration  int
	TokensUsed int
	// Payload carries step-specific structured data (code text, captured
	// output, sub-call instruction, final answer string, etc.) serialized
	// by the writer's backing store.
	Payload map[string]any
}

// CodeBlock is a fenced `repl` region extracted from a driver response.
type CodeBlock struct {
	Source string
}

// CaptureRecord is the result of executing one CodeBlock.
type CaptureRecord struct {
	Code      string
	Stdout    string
	Truncated bool
	RawChars  int
	Exception *ExecException

	// Final is set when the code block called FINAL(expr) or
	// FINAL_VAR(name); FinalIsVar distinguishes which form was used
	// (informational only — both resolve to a string answer by the time
	// they reach here).
	Final      *string
	FinalIsVar bool
}

// ExecException describes a raised exception captured from sandbox
// execution. It is feedback, not an engine failure.
type ExecException struct {
	Type      string
	Message   string
	Traceback string
}

// SubCallRecord is the result of one llm_query/llm_query_batched invocation.
type SubCallRecord struct {
	Instruction   string
	ContentLen    int
	SubModelID    string
	TokensUsed    int
	Response      string
	SizeRejected  bool
}
