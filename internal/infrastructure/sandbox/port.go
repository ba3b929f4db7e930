package sandbox

import (
	"context"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"go.uber.org/zap"
)

// PoolPort adapts a Pool to the engine's service.ExecutorPool port, so
// the domain layer depends only on that interface and never on this
// package directly.
type PoolPort struct {
	pool   *Pool
	logger *zap.Logger
}

// NewPoolPort wraps a Pool for injection into service.NewEngine.
func NewPoolPort(pool *Pool, logger *zap.Logger) *PoolPort {
	return &PoolPort{pool: pool, logger: logger}
}

// Acquire satisfies service.ExecutorPool.
func (p *PoolPort) Acquire(ctx context.Context, subcall service.SubcallHandler) (service.SandboxExecutor, error) {
	exec, err := Acquire(ctx, p.pool, subcall, p.logger)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

var _ service.ExecutorPool = (*PoolPort)(nil)
