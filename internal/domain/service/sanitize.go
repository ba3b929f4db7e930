package service

import (
	"fmt"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// truncateOutputNotice is the exact sentinel text appended to any captured
// stdout/subcall response that exceeds its configured character ceiling.
// Sandboxed code is expected to pattern-match on this text and fall back
// to llm_query() for content it can no longer see directly.
const truncateOutputNotice = "[Output truncated to %d of %d characters. Use llm_query() to analyze content you cannot see.]"

// truncateOutput trims captured stdout (or a sub-LLM response body) to
// maxChars, appending the standard truncation notice when it does.
func truncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	truncated := output[:maxChars]
	return fmt.Sprintf("%s\n\n"+truncateOutputNotice, truncated, maxChars, len(output))
}

// emitEvent sends an event to the event channel with a timestamp, dropping
// it (with a warning) rather than blocking the iteration loop if the
// consumer isn't keeping up.
func (e *Engine) emitEvent(ch chan<- entity.EngineEvent, event entity.EngineEvent) {
	event.Timestamp = time.Now()
	select {
	case ch <- event:
	default:
		e.logger.Warn("event channel full, dropping event",
			zap.String("type", string(event.Type)),
		)
	}
}
