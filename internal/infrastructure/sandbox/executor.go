package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"go.uber.org/zap"
)

// SubcallHandler is an alias of the engine's domain-level port so this
// package's exported signatures stay identical to what the engine
// expects, without the engine ever importing this package. Wire-level
// translation to and from the framed protocol happens inside RunExec.
type SubcallHandler = service.SubcallHandler

// Executor owns one acquired Child for the lifetime of a query and
// enforces the wall-clock, payload-size, and output-buffer ceilings
// the spec assigns to the host side of the sandbox boundary.
type Executor struct {
	pool    *Pool
	child   *Child
	cfg     *Config
	logger  *zap.Logger
	subcall SubcallHandler
}

var _ service.SandboxExecutor = (*Executor)(nil)

// Acquire obtains a fresh Executor handle for one query from the pool.
func Acquire(ctx context.Context, pool *Pool, subcall SubcallHandler, logger *zap.Logger) (*Executor, error) {
	c, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Executor{pool: pool, child: c, cfg: pool.cfg, logger: logger, subcall: subcall}, nil
}

// Release returns the underlying child to the pool via reset.
func (e *Executor) Release(ctx context.Context) {
	e.pool.Release(ctx, e.child)
}

// Destroy discards the underlying child outright — used on
// cancellation, where the child may be mid-exec in an unknown state
// and must not be reset-and-reused.
func (e *Executor) Destroy() {
	e.pool.Destroy(e.child)
}

// Ping health-checks the child.
func (e *Executor) Ping(ctx context.Context) error {
	resp, err := e.child.Call(ctx, Message{Command: CmdPing})
	if err != nil {
		return fmt.Errorf("sandbox: ping: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("%w: unexpected ping status %q", entity.ErrSandboxProtocol, resp.Status)
	}
	return nil
}

// LoadDocuments binds `context` in the child's namespace.
func (e *Executor) LoadDocuments(ctx context.Context, docs entity.DocumentSet) error {
	payload := make([]DocPayload, len(docs))
	for i, d := range docs {
		payload[i] = DocPayload{Index: d.Index, Content: d.Content}
	}
	resp, err := e.child.Call(ctx, Message{Command: CmdLoadDocuments, Documents: payload})
	if err != nil {
		return fmt.Errorf("sandbox: load_documents: %w", err)
	}
	if resp.Loaded != len(docs) {
		return fmt.Errorf("%w: loaded %d of %d documents", entity.ErrSandboxProtocol, resp.Loaded, len(docs))
	}
	return nil
}

// RunExec executes one code block, enforcing the configured wall-clock
// timeout and servicing any nested subcall_request frames the child
// emits before it returns its final capture. Protocol failures (I/O,
// framing, oversize frame) are returned as errors; exceptions raised by
// the user code itself are not — they come back inside the capture.
func (e *Executor) RunExec(ctx context.Context, code string) (entity.CaptureRecord, error) {
	timeout := e.cfg.ExecTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.child.Send(Message{Command: CmdExec, Code: code, ExecTimeoutS: int(timeout.Seconds())}); err != nil {
		e.child.MarkDead()
		return entity.CaptureRecord{}, fmt.Errorf("sandbox: send exec: %w", err)
	}

	for {
		type recvResult struct {
			msg Message
			err error
		}
		ch := make(chan recvResult, 1)
		go func() {
			msg, err := e.child.Recv()
			ch <- recvResult{msg, err}
		}()

		var resp Message
		select {
		case r := <-ch:
			if r.err != nil {
				e.child.MarkDead()
				return entity.CaptureRecord{}, fmt.Errorf("sandbox: recv exec: %w", r.err)
			}
			resp = r.msg
		case <-execCtx.Done():
			e.child.MarkDead()
			return entity.CaptureRecord{}, fmt.Errorf("%w: exec exceeded %s wall clock", entity.ErrSandboxProtocol, timeout)
		}

		switch resp.Command {
		case CmdSubcallRequest:
			reqs := make([]entity.SubQuery, len(resp.Subcalls))
			for i, s := range resp.Subcalls {
				reqs[i] = entity.SubQuery{Instruction: s.Instruction, Content: s.Content, ModelOverride: s.ModelOverride}
			}
			domainResults := e.subcall(execCtx, reqs)
			results := make([]SubcallResult, len(domainResults))
			for i, r := range domainResults {
				results[i] = SubcallResult{Response: r.Response, TokensUsed: r.TokensUsed, SizeRejected: r.SizeRejected, Error: r.Error}
			}
			if err := e.child.Send(Message{Command: CmdSubcallResult, SubcallResults: results}); err != nil {
				e.child.MarkDead()
				return entity.CaptureRecord{}, fmt.Errorf("sandbox: send subcall_response: %w", err)
			}
			continue // child resumes exec; wait for its next frame
		case CmdExec:
			return e.toCaptureRecord(code, resp.Capture), nil
		default:
			e.child.MarkDead()
			return entity.CaptureRecord{}, fmt.Errorf("%w: unexpected reply command %q to exec", entity.ErrSandboxProtocol, resp.Command)
		}
	}
}

// toCaptureRecord truncates captured stdout to MaxOutputChars, appending
// the spec's exact truncation sentinel when truncation occurs.
func (e *Executor) toCaptureRecord(code string, cap *CapturePayload) entity.CaptureRecord {
	if cap == nil {
		return entity.CaptureRecord{Code: code}
	}

	stdout := cap.Stdout
	truncated := cap.Truncated
	maxChars := e.cfg.MaxOutputChars
	if maxChars <= 0 {
		maxChars = 20000
	}
	if len(stdout) > maxChars {
		truncated = true
		stdout = fmt.Sprintf("%s\n\n[Output truncated to %d of %d characters. Use llm_query() to analyze content you cannot see.]",
			stdout[:maxChars], maxChars, len(cap.Stdout))
	}

	rec := entity.CaptureRecord{
		Code:      code,
		Stdout:    stdout,
		Truncated: truncated,
		RawChars:  cap.RawChars,
	}
	if cap.Exception != nil {
		rec.Exception = &entity.ExecException{
			Type:      cap.Exception.Type,
			Message:   cap.Exception.Message,
			Traceback: cap.Exception.Traceback,
		}
	}
	if cap.Final != nil {
		rec.Final = cap.Final
		rec.FinalIsVar = cap.FinalIsVar
	}
	return rec
}

// Reset clears the child's namespace directly, outside the pool's
// Release path. The engine's executor-death recovery does not call it:
// it acquires a fresh executor and loads the documents into that.
func (e *Executor) Reset(ctx context.Context) error {
	resp, err := e.child.Call(ctx, Message{Command: CmdReset})
	if err != nil {
		return fmt.Errorf("sandbox: reset: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("%w: reset failed", entity.ErrSandboxProtocol)
	}
	return nil
}
