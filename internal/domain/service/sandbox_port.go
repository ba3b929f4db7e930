package service

import (
	"context"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
)

// SubcallHandler services llm_query/llm_query_batched requests forwarded
// out of a running code block. The Sub-LLM Gateway's QueryBatched method
// satisfies this directly.
type SubcallHandler func(ctx context.Context, reqs []entity.SubQuery) []entity.SubQueryResult

// SandboxExecutor is one acquired sandbox child for the lifetime of a
// query, as the engine needs it. Implemented by the sandbox
// infrastructure package; the engine depends only on this port.
type SandboxExecutor interface {
	LoadDocuments(ctx context.Context, docs entity.DocumentSet) error
	RunExec(ctx context.Context, code string) (entity.CaptureRecord, error)
	Reset(ctx context.Context) error
	Release(ctx context.Context)
	Destroy()
}

// ExecutorPool hands out SandboxExecutors bound to one query's subcall
// handler. Implemented by the sandbox infrastructure package's pool.
type ExecutorPool interface {
	Acquire(ctx context.Context, subcall SubcallHandler) (SandboxExecutor, error)
}
