package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// Pool is a bounded set of warmed sandbox children so queries do not
// pay child-start cost per question. Mutated under a single lock that
// protects the idle/busy sets, per the engine's shared-resource model.
type Pool struct {
	cfg    *Config
	logger *zap.Logger

	mu      sync.Mutex
	idle    []*Child
	busy    map[*Child]bool
	size    int
	maxSize int
	stopped bool
}

// NewPool creates a pool with no pre-warmed children; children are
// started lazily on first Acquire up to maxSize.
func NewPool(cfg *Config, maxSize int, logger *zap.Logger) *Pool {
	return &Pool{
		cfg:     cfg,
		logger:  logger,
		busy:    make(map[*Child]bool),
		maxSize: maxSize,
	}
}

// Acquire hands out an idle child, starting a fresh one if none is idle
// and the pool has headroom. Fails with entity.ErrNoExecutorAvailable
// once Stop has been called or the pool is exhausted.
func (p *Pool) Acquire(ctx context.Context) (*Child, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, entity.ErrNoExecutorAvailable
	}

	if len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.busy[c] = true
		p.mu.Unlock()
		return c, nil
	}

	if p.maxSize > 0 && p.size >= p.maxSize {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pool exhausted (size=%d)", entity.ErrNoExecutorAvailable, p.maxSize)
	}
	p.size++
	p.mu.Unlock()

	c, err := StartChild(p.cfg, p.logger)
	if err != nil {
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		return nil, fmt.Errorf("sandbox: acquire: %w", err)
	}

	p.mu.Lock()
	p.busy[c] = true
	p.mu.Unlock()

	return c, nil
}

// Release returns a child to the idle set after a successful reset. If
// reset fails (the child died or its socket is half-closed), the child
// is destroyed and a fresh slot opens for a future Acquire.
func (p *Pool) Release(ctx context.Context, c *Child) {
	if c.Alive() {
		if _, err := c.Call(ctx, Message{Command: CmdReset}); err == nil {
			p.mu.Lock()
			delete(p.busy, c)
			if !p.stopped {
				p.idle = append(p.idle, c)
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			c.Destroy()
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return
		}
	}

	p.Destroy(c)
}

// Destroy kills a busy child outright rather than recycling it — used
// both for failed resets and for cancellation, where the child may be
// in an unknown state and must not be reset-and-reused.
func (p *Pool) Destroy(c *Child) {
	c.Destroy()
	p.mu.Lock()
	delete(p.busy, c)
	p.size--
	p.mu.Unlock()
}

// Stop marks the pool stopped and destroys every idle child. Busy
// children are destroyed as their holders release them.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		c.Destroy()
	}
}

// Stats reports the current idle/busy counts for observability.
type Stats struct {
	Idle int
	Busy int
	Size int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), Busy: len(p.busy), Size: p.size}
}
