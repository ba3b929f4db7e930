package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// fakeLLMClient counts every call it receives and echoes a deterministic
// response derived from the prompt, so tests can assert on call counts,
// ordering and envelope contents without a real provider.
type fakeLLMClient struct {
	calls int32
}

func (f *fakeLLMClient) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	prompt := req.Messages[0].Content
	return &LLMResponse{Content: "echo: " + prompt, TokensUsed: 10}, nil
}

func (f *fakeLLMClient) GenerateStream(ctx context.Context, req *LLMRequest, deltas chan<- StreamChunk) (*LLMResponse, error) {
	return f.Generate(ctx, req)
}

func TestNewEnvelopeToken_Produces128BitHexToken(t *testing.T) {
	token, err := NewEnvelopeToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(token) != 32 {
		t.Fatalf("expected 32 hex characters (128 bits), got %d: %q", len(token), token)
	}
	for _, r := range token {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("token contains non-hex character: %q", token)
		}
	}
}

func TestNewEnvelopeToken_DiffersAcrossCalls(t *testing.T) {
	a, err := NewEnvelopeToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewEnvelopeToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Fatal("expected two distinct tokens across calls")
	}
}

func TestWrapUntrusted_ProducesMatchingBoundaryTags(t *testing.T) {
	wrapped := wrapUntrusted("cafe1234", "some document text")
	wantOpen := "<untrusted_document_content_cafe1234>"
	wantClose := "</untrusted_document_content_cafe1234>"
	if !strings.Contains(wrapped, wantOpen) {
		t.Fatalf("missing opening tag, got: %s", wrapped)
	}
	if !strings.Contains(wrapped, wantClose) {
		t.Fatalf("missing closing tag, got: %s", wrapped)
	}
	if !strings.Contains(wrapped, "some document text") {
		t.Fatalf("expected wrapped content to be preserved, got: %s", wrapped)
	}
}

func TestGateway_Query_WrapsContentInEnvelope(t *testing.T) {
	client := &fakeLLMClient{}
	gw := NewGateway(client, "sub-model", 0, "tok1", zap.NewNop())

	result := gw.Query(context.Background(), entity.SubQuery{Instruction: "summarize", Content: "secret doc text"})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if !strings.Contains(result.Response, "untrusted_document_content_tok1") {
		t.Fatalf("expected envelope tag in the prompt echoed back, got: %s", result.Response)
	}
	if !strings.Contains(result.Response, "secret doc text") {
		t.Fatalf("expected document content forwarded, got: %s", result.Response)
	}
}

func TestGateway_Query_NoContentOmitsEnvelope(t *testing.T) {
	client := &fakeLLMClient{}
	gw := NewGateway(client, "sub-model", 0, "tok1", zap.NewNop())

	result := gw.Query(context.Background(), entity.SubQuery{Instruction: "just a question"})
	if strings.Contains(result.Response, "untrusted_document_content_tok1") {
		t.Fatalf("should not wrap when no content is supplied, got: %s", result.Response)
	}
}

func TestGateway_Query_RejectsOversizeCall(t *testing.T) {
	client := &fakeLLMClient{}
	gw := NewGateway(client, "sub-model", 10, "tok1", zap.NewNop())

	result := gw.Query(context.Background(), entity.SubQuery{Instruction: "this instruction is far longer than ten characters"})
	if !result.SizeRejected {
		t.Fatal("expected oversize call to be rejected")
	}
	if client.calls != 0 {
		t.Fatal("rejected call must never reach the underlying LLM client")
	}
}

func TestGateway_Query_UsesModelOverride(t *testing.T) {
	client := &fakeLLMClientCapturingModel{}
	gw := NewGateway(client, "default-model", 0, "tok1", zap.NewNop())

	gw.Query(context.Background(), entity.SubQuery{Instruction: "hi", ModelOverride: "special-model"})
	if client.lastModel != "special-model" {
		t.Fatalf("expected model override to be used, got %q", client.lastModel)
	}
}

type fakeLLMClientCapturingModel struct {
	lastModel string
}

func (f *fakeLLMClientCapturingModel) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	f.lastModel = req.Model
	return &LLMResponse{Content: "ok"}, nil
}

func (f *fakeLLMClientCapturingModel) GenerateStream(ctx context.Context, req *LLMRequest, deltas chan<- StreamChunk) (*LLMResponse, error) {
	return f.Generate(ctx, req)
}

func TestGateway_QueryBatched_PreservesOrderAndRunsAll(t *testing.T) {
	client := &fakeLLMClient{}
	gw := NewGateway(client, "sub-model", 0, "tok1", zap.NewNop())

	reqs := make([]entity.SubQuery, 20)
	for i := range reqs {
		reqs[i] = entity.SubQuery{Instruction: fmt.Sprintf("question %d", i)}
	}

	results := gw.QueryBatched(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	for i, r := range results {
		want := fmt.Sprintf("question %d", i)
		if !strings.Contains(r.Response, want) {
			t.Fatalf("result %d out of order or mismatched: %s", i, r.Response)
		}
	}
	if client.calls != int32(len(reqs)) {
		t.Fatalf("expected %d underlying calls, got %d", len(reqs), client.calls)
	}
}

func TestGateway_QueryBatched_OneFailureDoesNotSinkSiblings(t *testing.T) {
	client := &fakeLLMClient{}
	gw := NewGateway(client, "sub-model", 10, "tok1", zap.NewNop())

	reqs := []entity.SubQuery{
		{Instruction: "this one is far too long to fit the ceiling"},
		{Instruction: "ok"},
	}
	results := gw.QueryBatched(context.Background(), reqs)
	if !results[0].SizeRejected {
		t.Fatal("expected first request to be size-rejected")
	}
	if results[1].Error != "" || results[1].SizeRejected {
		t.Fatalf("expected second request to succeed independently, got %+v", results[1])
	}
}
