package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// callDriverWithRetry calls the driver LLM with automatic retry and
// exponential backoff. On transient errors (timeout, network, 5xx) it
// retries up to MaxRetries times. Text deltas are emitted to eventCh as
// EventTextDelta events as they arrive.
func (e *Engine) callDriverWithRetry(ctx context.Context, req *LLMRequest, iteration int, eventCh chan<- entity.EngineEvent) (*LLMResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := e.config.RetryBaseWait * time.Duration(1<<(attempt-1))

			e.logger.Info("retrying driver call",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", e.config.MaxRetries),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)

			e.emitEvent(eventCh, entity.EngineEvent{
				Type:    entity.EventThinking,
				Content: fmt.Sprintf("driver call failed, retrying (%d/%d) in %s...", attempt, e.config.MaxRetries, wait),
			})

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		deltaCh := make(chan StreamChunk, 128)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for chunk := range deltaCh {
				if chunk.DeltaText != "" {
					e.emitEvent(eventCh, entity.EngineEvent{
						Type:    entity.EventTextDelta,
						Content: chunk.DeltaText,
					})
				}
			}
		}()

		// Per-call timeout: prevents a single stalled SSE stream from
		// hanging the whole query; retries handle the transient case.
		callCtx, callCancel := context.WithTimeout(ctx, 3*time.Minute)

		resp, err := e.llm.GenerateStream(callCtx, req, deltaCh)

		callCancel()
		close(deltaCh)
		<-done

		if err == nil {
			if attempt > 0 {
				e.logger.Info("driver retry succeeded",
					zap.Int("attempt", attempt),
					zap.Int("iteration", iteration),
				)
			}
			return resp, nil
		}

		lastErr = err
		classified := ClassifyError(err, "driver", req.Model)
		e.logger.Warn("driver streaming call failed",
			zap.Int("attempt", attempt),
			zap.Int("iteration", iteration),
			zap.String("error_kind", classified.Kind.String()),
			zap.Error(err),
		)

		// A call cut off by its own per-call timeout, while the query's
		// context is still live, is retried like any transient error.
		perCallTimeout := callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		if !classified.IsRetryable() && !perCallTimeout {
			return nil, fmt.Errorf("non-retryable driver error: %w", classified)
		}
	}

	return nil, fmt.Errorf("driver call failed after %d retries: %w", e.config.MaxRetries, lastErr)
}
