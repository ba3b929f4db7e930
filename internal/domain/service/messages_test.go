package service

import (
	"strconv"
	"strings"
	"testing"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
)

func sampleDocs() entity.DocumentSet {
	return entity.DocumentSet{
		{ID: "a", Index: 0, Content: "alpha"},
		{ID: "b", Index: 1, Content: "beta beta"},
	}
}

func TestBuildSystemMessage_MentionsDocumentCountAndEnvelopeToken(t *testing.T) {
	msg := BuildSystemMessage(sampleDocs(), "deadbeef")
	if !strings.Contains(msg, strconv.Itoa(len(sampleDocs()))+" documents") {
		t.Fatalf("expected document count in system message, got: %s", msg)
	}
	if !strings.Contains(msg, "untrusted_document_content_deadbeef") {
		t.Fatalf("expected envelope token name in system message, got: %s", msg)
	}
}

func TestBuildFirstUserMessage_IncludesQuestionAndNoShortcutWarning(t *testing.T) {
	msg := BuildFirstUserMessage("What is in the documents?")
	if !strings.Contains(msg, "What is in the documents?") {
		t.Fatal("expected question text in first user message")
	}
	if !strings.Contains(msg, "Do not call FINAL") {
		t.Fatal("expected guard against premature FINAL in first user message")
	}
}

func TestBuildInitialAssistantMessage_ListsPerDocumentSizes(t *testing.T) {
	msg := BuildInitialAssistantMessage(sampleDocs())
	if !strings.Contains(msg, "context[0]=5") {
		t.Fatalf("expected context[0] size of 5, got: %s", msg)
	}
	if !strings.Contains(msg, "context[1]=9") {
		t.Fatalf("expected context[1] size of 9, got: %s", msg)
	}
}

func TestBuildIterationFeedback_WrapsCodeAndRestatesQuestion(t *testing.T) {
	msg := BuildIterationFeedback("original question", "print(1)", "1", "tok", false)
	if !strings.Contains(msg, "print(1)") {
		t.Fatal("expected code to appear in iteration feedback")
	}
	if !strings.Contains(msg, "Original question: original question") {
		t.Fatal("expected original question restated in iteration feedback")
	}
}

func TestBuildBudgetExhaustedMessage_AsksForFinal(t *testing.T) {
	msg := BuildBudgetExhaustedMessage()
	if !strings.Contains(msg, "FINAL(") {
		t.Fatal("expected budget-exhausted message to request a FINAL call")
	}
}
