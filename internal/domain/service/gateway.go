package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentSubcalls bounds how many sub-queries of one
// llm_query_batched call run at once — the one place in the engine where
// real parallelism happens.
const maxConcurrentSubcalls = 8

// NewEnvelopeToken generates a fresh per-query boundary token with at
// least 128 bits of entropy, hex-encoded so it is safe to embed directly
// in an XML-like tag name.
func NewEnvelopeToken() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("gateway: generate envelope token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// wrapUntrusted wraps document content forwarded to a sub-LLM in a
// boundary tag carrying the query's envelope token, so a prompt embedded
// in the content cannot forge a closing tag it doesn't know the value of.
func wrapUntrusted(token, content string) string {
	return fmt.Sprintf("<untrusted_document_content_%s>\n%s\n</untrusted_document_content_%s>", token, content, token)
}

// Gateway is the sandboxed code's only path to another LLM call. It
// enforces the per-call character ceiling and wraps forwarded document
// content in the query's envelope before it ever reaches a provider.
type Gateway struct {
	client        LLMClient
	subModelID    string
	maxChars      int
	envelopeToken string
	logger        *zap.Logger
}

// NewGateway builds a Gateway bound to one query's envelope token and
// character ceiling.
func NewGateway(client LLMClient, subModelID string, maxChars int, envelopeToken string, logger *zap.Logger) *Gateway {
	if maxChars <= 0 {
		maxChars = entity.DefaultMaxSubcallChars
	}
	return &Gateway{
		client:        client,
		subModelID:    subModelID,
		maxChars:      maxChars,
		envelopeToken: envelopeToken,
		logger:        logger,
	}
}

// Query services one llm_query call: instruction plus optional document
// content, wrapped in the envelope, sent to the configured sub-model.
func (g *Gateway) Query(ctx context.Context, req entity.SubQuery) entity.SubQueryResult {
	total := len(req.Instruction) + len(req.Content)
	if total > g.maxChars {
		return entity.SubQueryResult{
			SizeRejected: true,
			Error:        fmt.Sprintf("llm_query call of %d characters exceeds the maximum of %d", total, g.maxChars),
		}
	}

	prompt := req.Instruction
	if req.Content != "" {
		prompt = req.Instruction + "\n\n" + wrapUntrusted(g.envelopeToken, req.Content)
	}

	model := g.subModelID
	if req.ModelOverride != "" {
		model = req.ModelOverride
	}

	resp, err := g.client.Generate(ctx, &LLMRequest{
		Messages: []LLMMessage{{Role: "user", Content: prompt}},
		Model:    model,
	})
	if err != nil {
		return entity.SubQueryResult{Error: err.Error()}
	}
	return entity.SubQueryResult{Response: resp.Content, TokensUsed: resp.TokensUsed}
}

// QueryBatched services one llm_query_batched call: every subcall runs
// concurrently (bounded by maxConcurrentSubcalls) and results are
// rejoined in the original input order regardless of completion order.
func (g *Gateway) QueryBatched(ctx context.Context, reqs []entity.SubQuery) []entity.SubQueryResult {
	results := make([]entity.SubQueryResult, len(reqs))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentSubcalls)

	for i, req := range reqs {
		i, req := i, req
		group.Go(func() error {
			results[i] = g.Query(gctx, req)
			return nil
		})
	}
	// Errors are carried per-result via SubQueryResult.Error, never
	// propagated through the group — one failed sub-query must not
	// cancel its siblings.
	_ = group.Wait()

	return results
}
