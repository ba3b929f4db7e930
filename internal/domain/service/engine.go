package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// EngineConfig tunes one Engine's behavior across every query it runs.
// Per-query overrides live on entity.QueryOptions; these are the
// engine-wide defaults and operational ceilings.
type EngineConfig struct {
	Model       string  // default driver model identifier
	SubModel    string  // default sub-LLM model identifier
	Temperature float64

	MaxRetries    int           // driver-call retries (default 3)
	RetryBaseWait time.Duration // base backoff (default 2s, exponential)

	MaxTokenBudget   int64         // 0 disables
	MaxRunDuration   time.Duration // 0 disables
	ContextMaxTokens int
	ContextWarnRatio float64
	ContextHardRatio float64

	LoopWindowSize      int // sliding window for exact-match loop detection
	LoopDetectThreshold int // identical blocks in window to trigger reflection
}

// DefaultEngineConfig returns production-ready defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Temperature:         0,
		MaxRetries:          3,
		RetryBaseWait:       2 * time.Second,
		ContextMaxTokens:    128000,
		ContextWarnRatio:    0.7,
		ContextHardRatio:    0.85,
		LoopWindowSize:      6,
		LoopDetectThreshold: 3,
	}
}

// Engine drives the iteration loop between a driver LLM and the sandbox
// executor: it composes messages, parses responses, dispatches code
// blocks, services the executor-death recovery path, and resolves
// FINAL/FINAL_VAR into a verified answer.
type Engine struct {
	llm    LLMClient // driver model
	subLLM LLMClient // sub-LLM used by the gateway; may be the same client

	pool   ExecutorPool
	tracer TraceWriter
	hooks  EngineHook
	config EngineConfig
	logger *zap.Logger
}

// NewEngine builds an Engine. hooks may be nil (treated as NoOpHook);
// tracer may be nil (treated as NoOpTraceWriter).
func NewEngine(driver, subLLM LLMClient, pool ExecutorPool, tracer TraceWriter, hooks EngineHook, config EngineConfig, logger *zap.Logger) *Engine {
	if hooks == nil {
		hooks = NoOpHook{}
	}
	if tracer == nil {
		tracer = NoOpTraceWriter{}
	}
	return &Engine{
		llm:    driver,
		subLLM: subLLM,
		pool:   pool,
		tracer: tracer,
		hooks:  hooks,
		config: config,
		logger: logger,
	}
}

// Run executes one query end to end and returns its result. The
// returned error is non-nil only when the query never starts: an invalid
// query, a failed envelope-token generation, or a failure to acquire an
// executor or load documents into it. Cancellation, provider failure,
// iteration exhaustion and unrecovered executor death are reported
// through QueryResult.Terminal instead.
func (e *Engine) Run(ctx context.Context, query entity.Query) (*entity.QueryResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	traceID := query.ID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ctx = WithTraceID(ctx, traceID)
	recorder := NewTraceRecorder(e.tracer, traceID, e.logger)
	eventCh := make(chan entity.EngineEvent, 64)
	defer close(eventCh)
	go func() {
		for range eventCh {
			// Drained here so emitEvent's non-blocking send never backs
			// up; Run does not hand this channel to its caller.
		}
	}()

	envelopeToken, err := NewEnvelopeToken()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	gateway := NewGateway(e.subLLM, e.config.SubModel, query.Options.MaxSubcallChars, envelopeToken, e.logger)

	sm := NewStateMachine(query.Options.MaxIterations, e.logger)
	sm.OnTransition(func(from, to EngineState, snap StateSnapshot) { e.hooks.OnStateChange(from, to, snap) })

	costGuard := NewCostGuard(e.config.MaxTokenBudget, e.config.MaxRunDuration, e.logger)
	contextGuard := NewContextGuard(e.config.ContextMaxTokens, e.config.ContextWarnRatio, e.config.ContextHardRatio, e.logger)
	loopDetector := NewLoopDetector(e.config.LoopWindowSize, e.config.LoopDetectThreshold, e.logger)

	start := time.Now()

	subcallHandler := e.instrumentedSubcallHandler(gateway, recorder)

	exec, err := e.pool.Acquire(ctx, subcallHandler)
	if err != nil {
		return nil, fmt.Errorf("engine: acquire executor: %w", err)
	}
	defer func() {
		if exec != nil {
			exec.Release(ctx)
		}
	}()

	if err := exec.LoadDocuments(ctx, query.Documents); err != nil {
		return nil, fmt.Errorf("engine: load documents: %w", err)
	}

	_ = sm.Transition(StateAwaitingDriver)

	messages := []LLMMessage{
		{Role: "system", Content: BuildSystemMessage(query.Documents, envelopeToken)},
		{Role: "user", Content: BuildFirstUserMessage(query.Question)},
		{Role: "assistant", Content: BuildInitialAssistantMessage(query.Documents)},
	}

	result := &entity.QueryResult{QueryID: query.ID, TraceID: traceID}
	var answer string
	var resolved bool

	for iteration := 1; iteration <= query.Options.MaxIterations; iteration++ {
		sm.SetIteration(iteration)

		select {
		case <-ctx.Done():
			result.Terminal = entity.TerminalCancelled
			_ = sm.Transition(StateTerminalCancel)
			recorder.Record(ctx, entity.TraceStep{Type: entity.StepCancelled, Iteration: iteration})
			return e.finish(ctx, result, "", start, recorder, query), nil
		default:
		}

		if cgErr := costGuard.CheckBudget(); cgErr != nil {
			e.logger.Warn("run duration budget exceeded, treating as iteration exhaustion", zap.Error(cgErr))
			break
		}
		if check := contextGuard.Check(messages); check.NeedCompaction {
			e.logger.Warn("driver conversation exceeds hard context ratio; continuing without compaction",
				zap.Int("estimated_tokens", check.EstimatedTokens))
		}

		recorder.Record(ctx, entity.TraceStep{Type: entity.StepIterationStart, Iteration: iteration})

		req := &LLMRequest{Messages: messages, Model: e.pickModel(query), Temperature: e.config.Temperature}
		e.hooks.BeforeDriverCall(ctx, req, iteration)
		recorder.Record(ctx, entity.TraceStep{Type: entity.StepDriverRequest, Iteration: iteration})

		resp, err := e.callDriverWithRetry(ctx, req, iteration, eventCh)
		if err != nil {
			e.hooks.OnError(ctx, err, iteration)
			result.Terminal = entity.TerminalProviderFailed
			_ = sm.Transition(StateTerminalError)
			recorder.Record(ctx, entity.TraceStep{Type: entity.StepDriverResponse, Iteration: iteration, Payload: map[string]any{"error": err.Error()}})
			return e.finish(ctx, result, "", start, recorder, query), nil
		}
		e.hooks.AfterDriverCall(ctx, resp, iteration)
		sm.AddTokens(resp.TokensUsed)
		_ = costGuard.AddTokens(int64(resp.TokensUsed))
		result.Usage.TotalTokens += resp.TokensUsed
		usageModel := resp.ModelUsed
		if usageModel == "" {
			usageModel = req.Model
		}
		if result.Usage.ByModel == nil {
			result.Usage.ByModel = map[string]int{}
		}
		result.Usage.ByModel[usageModel] += resp.TokensUsed
		recorder.Record(ctx, entity.TraceStep{Type: entity.StepDriverResponse, Iteration: iteration, TokensUsed: resp.TokensUsed,
			Payload: map[string]any{"content": resp.Content}})

		messages = append(messages, LLMMessage{Role: "assistant", Content: resp.Content})

		parsed := ParseResponse(resp.Content)
		if !parsed.HasCodeOrExplicitFinal() {
			messages = append(messages, LLMMessage{Role: "user", Content: "Write a repl block or call FINAL(...) — a narration-only response does not advance the query."})
			continue
		}

		_ = sm.Transition(StateExecutingBlocks)

		var lastCapture entity.CaptureRecord
		var finalAnswer string
		var gotFinal bool
		var executorDied bool

		for _, code := range parsed.CodeBlocks {
			if ctx.Err() != nil {
				result.Terminal = entity.TerminalCancelled
				_ = sm.Transition(StateTerminalCancel)
				recorder.Record(ctx, entity.TraceStep{Type: entity.StepCancelled, Iteration: iteration})
				return e.finish(ctx, result, "", start, recorder, query), nil
			}
			if !e.hooks.BeforeCodeBlock(ctx, code, iteration) {
				continue
			}

			execCtx, cancelExec := ctx, context.CancelFunc(func() {})
			if secs := query.Options.ExecTimeoutSeconds; secs > 0 {
				execCtx, cancelExec = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
			}
			capture, execErr := exec.RunExec(execCtx, code)
			cancelExec()
			if execErr != nil && ctx.Err() != nil {
				// Cancelled mid-exec: the child may be in any state, so it is
				// destroyed rather than reset, and the query ends cancelled.
				exec.Destroy()
				exec = nil
				result.Terminal = entity.TerminalCancelled
				_ = sm.Transition(StateTerminalCancel)
				recorder.Record(ctx, entity.TraceStep{Type: entity.StepCancelled, Iteration: iteration})
				return e.finish(ctx, result, "", start, recorder, query), nil
			}
			if execErr != nil {
				e.logger.Error("sandbox executor failed, attempting recovery", zap.Error(execErr))
				exec.Destroy()
				exec = nil

				recorder.Record(ctx, entity.TraceStep{Type: entity.StepExecutorReacq, Iteration: iteration,
					Payload: map[string]any{"reason": execErr.Error()}})

				newExec, acqErr := e.pool.Acquire(ctx, subcallHandler)
				if acqErr != nil {
					e.hooks.OnError(ctx, acqErr, iteration)
					result.Terminal = entity.TerminalExecutorFailed
					_ = sm.Transition(StateTerminalError)
					return e.finish(ctx, result, "", start, recorder, query), nil
				}
				if loadErr := newExec.LoadDocuments(ctx, query.Documents); loadErr != nil {
					newExec.Destroy()
					e.hooks.OnError(ctx, loadErr, iteration)
					result.Terminal = entity.TerminalExecutorFailed
					_ = sm.Transition(StateTerminalError)
					return e.finish(ctx, result, "", start, recorder, query), nil
				}
				exec = newExec
				executorDied = true
				break
			}

			lastCapture = capture
			success := capture.Exception == nil
			e.hooks.AfterCodeBlock(ctx, code, capture.Stdout, success)
			recorder.Record(ctx, entity.TraceStep{Type: entity.StepCodeExecuted, Iteration: iteration,
				Payload: map[string]any{"code": code}})
			recorder.Record(ctx, entity.TraceStep{Type: entity.StepCodeOutput, Iteration: iteration,
				Payload: map[string]any{"stdout": capture.Stdout, "truncated": capture.Truncated}})

			if reflection := loopDetector.Record(code); reflection != "" {
				messages = append(messages, LLMMessage{Role: "user", Content: reflection})
			}

			if capture.Final != nil {
				finalAnswer = *capture.Final
				gotFinal = true
				break
			}
		}

		if executorDied {
			messages = append(messages, LLMMessage{Role: "user", Content: "Your sandbox state was lost and has been reset with documents reloaded. Re-derive any intermediate results you need before continuing."})
			continue
		}

		if !gotFinal && parsed.BareFinalIdentifier != "" {
			// A bare FINAL(identifier) in the response's plain text is
			// looked up in the namespace now that every block above has
			// run; a name with no bound value is taken as literal text.
			finalAnswer = parsed.BareFinalIdentifier
			if capture, lookupErr := exec.RunExec(ctx, fmt.Sprintf("FINAL_VAR(%q)", parsed.BareFinalIdentifier)); lookupErr == nil && capture.Final != nil && *capture.Final != "" {
				finalAnswer = *capture.Final
			}
			gotFinal = true
		}

		if gotFinal {
			if iteration == 1 {
				// FINAL reached on the very first iteration hasn't given
				// the driver a chance to inspect any document content —
				// discard it and make the driver try again before accepting
				// an answer.
				e.logger.Warn("discarding FINAL reached on iteration 1, re-prompting driver")
				messages = append(messages, LLMMessage{Role: "user", Content: "FINAL was called on the very first iteration, before any document content was inspected. Read the relevant context before answering — call FINAL again only once you've verified the answer against the documents."})
				_ = sm.Transition(StateAwaitingDriver)
				continue
			}
			answer = finalAnswer
			resolved = true
			break
		}

		feedback := BuildIterationFeedback(query.Question, lastCapture.Code, e.renderOutput(lastCapture), envelopeToken, lastCapture.Exception != nil)
		messages = append(messages, LLMMessage{Role: "user", Content: feedback})
		_ = sm.Transition(StateAwaitingDriver)
	}

	if !resolved {
		messages = append(messages, LLMMessage{Role: "user", Content: BuildBudgetExhaustedMessage()})
		req := &LLMRequest{Messages: messages, Model: e.pickModel(query), Temperature: e.config.Temperature}
		if resp, err := e.callDriverWithRetry(ctx, req, query.Options.MaxIterations, eventCh); err == nil {
			parsed := ParseResponse(resp.Content)
			if parsed.BareFinalIdentifier == "" && len(parsed.CodeBlocks) > 0 {
				if capture, execErr := exec.RunExec(ctx, parsed.CodeBlocks[0]); execErr == nil && capture.Final != nil {
					answer = *capture.Final
					resolved = true
				}
			}
		}
		if !resolved {
			result.Terminal = entity.TerminalBudgetExhausted
			_ = sm.Transition(StateTerminalBudget)
			return e.finish(ctx, result, answer, start, recorder, query), nil
		}
	}

	_ = sm.Transition(StateVerifying)
	result.Terminal = entity.TerminalOK
	_ = sm.Transition(StateTerminalOK)

	return e.finish(ctx, result, answer, start, recorder, query), nil
}

// finish fills in the shared tail of QueryResult (answer, citation
// verification, duration) and fires OnComplete.
func (e *Engine) finish(ctx context.Context, result *entity.QueryResult, answer string, start time.Time, recorder *TraceRecorder, query entity.Query) *entity.QueryResult {
	result.Answer = answer
	result.Duration = time.Since(start)

	if answer != "" && query.Options.VerifyCitationsEnabled() {
		v := VerifyCitations(answer, query.Documents)
		result.Verification = &v
		recorder.Record(ctx, entity.TraceStep{Type: entity.StepVerification,
			Payload: map[string]any{"citations": len(v.Citations), "quotes": len(v.Quotes)}})
	}

	if answer != "" {
		recorder.Record(ctx, entity.TraceStep{Type: entity.StepFinalAnswer, Payload: map[string]any{"answer": answer}})
	}

	e.hooks.OnComplete(ctx, result)
	return result
}

// pickModel resolves the driver model for a query: per-query override
// if set, else the engine-wide default.
func (e *Engine) pickModel(query entity.Query) string {
	if query.ModelID != "" {
		return query.ModelID
	}
	return e.config.Model
}

// renderOutput renders a CaptureRecord's stdout, or its exception
// message when one was raised, as the text fed back to the driver.
func (e *Engine) renderOutput(capture entity.CaptureRecord) string {
	if capture.Exception != nil {
		return fmt.Sprintf("%s: %s\n%s", capture.Exception.Type, capture.Exception.Message, capture.Exception.Traceback)
	}
	return capture.Stdout
}

// instrumentedSubcallHandler wraps a gateway's batched query path with
// per-request tracing and hook invocation, without changing the
// SubcallHandler signature the sandbox pool expects. Each request gets a
// StepSubcallRequest trace step and a BeforeSubcall hook check before
// dispatch, and a StepSubcallResponse step plus AfterSubcall hook call once
// its result is known; a vetoed request never reaches the gateway at all.
func (e *Engine) instrumentedSubcallHandler(gateway *Gateway, recorder *TraceRecorder) SubcallHandler {
	return func(ctx context.Context, reqs []entity.SubQuery) []entity.SubQueryResult {
		results := make([]entity.SubQueryResult, len(reqs))
		pending := make([]entity.SubQuery, 0, len(reqs))
		pendingIdx := make([]int, 0, len(reqs))

		for i, req := range reqs {
			recorder.Record(ctx, entity.TraceStep{Type: entity.StepSubcallRequest,
				Payload: map[string]any{"instruction": req.Instruction, "content_len": len(req.Content)}})

			if !e.hooks.BeforeSubcall(ctx, req.Instruction, len(req.Content)) {
				results[i] = entity.SubQueryResult{Error: "subcall rejected by policy hook"}
				e.hooks.AfterSubcall(ctx, req.Instruction, "", false)
				recorder.Record(ctx, entity.TraceStep{Type: entity.StepSubcallResponse,
					Payload: map[string]any{"error": results[i].Error}})
				continue
			}
			pending = append(pending, req)
			pendingIdx = append(pendingIdx, i)
		}

		if len(pending) > 0 {
			e.logger.Debug("dispatching subcall batch",
				zap.String("trace_id", TraceIDFromContext(ctx)), zap.Int("count", len(pending)))

			batched := gateway.QueryBatched(ctx, pending)
			for j, res := range batched {
				i := pendingIdx[j]
				results[i] = res
				success := res.Error == "" && !res.SizeRejected
				e.hooks.AfterSubcall(ctx, pending[j].Instruction, res.Response, success)
				recorder.Record(ctx, entity.TraceStep{Type: entity.StepSubcallResponse, TokensUsed: res.TokensUsed,
					Payload: map[string]any{"size_rejected": res.SizeRejected, "error": res.Error}})
			}
		}

		return results
	}
}
