// Package sandbox implements the host side of the length-prefixed framed
// wire protocol between the Executor and its isolated sandbox children,
// plus the process pool that amortizes child-start cost across queries.
package sandbox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameBytes is the default ceiling on a single frame's payload size.
// Oversize frames close the connection and surface a protocol error —
// framing is fail-closed, never best-effort.
const MaxFrameBytes = 50 * 1024 * 1024

// Command selects the operation a Message requests or reports on. The
// wire payload always carries exactly one command at its top level.
type Command string

const (
	CmdPing           Command = "ping"
	CmdLoadDocuments  Command = "load_documents"
	CmdExec           Command = "exec"
	CmdReset          Command = "reset"
	CmdShutdown       Command = "shutdown"
	CmdSubcallRequest Command = "subcall_request"  // child -> host, mid-exec
	CmdSubcallResult  Command = "subcall_response"  // host -> child, reply
)

// DocPayload is one document as carried over the wire.
type DocPayload struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// SubcallPayload is one llm_query/llm_query_batched request forwarded
// from the sandbox to the host for dispatch to the Sub-LLM Gateway.
type SubcallPayload struct {
	Instruction   string `json:"instruction"`
	Content       string `json:"content,omitempty"`
	ModelOverride string `json:"model_override,omitempty"`
}

// SubcallResult is one sub-LLM call's outcome, returned to the sandbox.
type SubcallResult struct {
	Response     string `json:"response"`
	TokensUsed   int    `json:"tokens_used"`
	SizeRejected bool   `json:"size_rejected,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ExceptionPayload describes a raised exception captured from sandbox
// execution — feedback for the driver, not an engine failure.
type ExceptionPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// CapturePayload is the result of one `exec` command.
type CapturePayload struct {
	Stdout     string             `json:"stdout"`
	Truncated  bool               `json:"truncated"`
	RawChars   int                `json:"raw_chars"`
	Exception  *ExceptionPayload  `json:"exception,omitempty"`
	Final      *string            `json:"final,omitempty"`
	FinalIsVar bool               `json:"final_is_var,omitempty"`
}

// Message is the single wire envelope for every frame in both
// directions. Only the fields relevant to Command are populated; JSON
// `omitempty` keeps idle frames small.
type Message struct {
	Command Command `json:"command"`

	// load_documents request
	Documents []DocPayload `json:"documents,omitempty"`

	// exec request
	Code         string `json:"code,omitempty"`
	ExecTimeoutS int    `json:"exec_timeout_s,omitempty"`

	// subcall_request (child -> host)
	Subcalls []SubcallPayload `json:"subcalls,omitempty"`

	// subcall_response (host -> child)
	SubcallResults []SubcallResult `json:"subcall_results,omitempty"`

	// generic response fields
	Status  string          `json:"status,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Loaded  int             `json:"loaded,omitempty"`
	Capture *CapturePayload `json:"capture,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// JSON-encoded message. Returns an error (without partial writes beyond
// what io.Writer already committed) if the encoded payload exceeds
// maxFrameBytes.
func WriteFrame(w io.Writer, msg Message, maxFrameBytes int) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sandbox: marshal frame: %w", err)
	}
	if maxFrameBytes > 0 && len(payload) > maxFrameBytes {
		return fmt.Errorf("sandbox: frame of %d bytes exceeds maximum %d", len(payload), maxFrameBytes)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("sandbox: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("sandbox: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and decodes it as a
// Message. A frame whose declared length exceeds maxFrameBytes is a
// protocol violation — the caller must close the connection rather
// than attempt to read and discard it.
func ReadFrame(r io.Reader, maxFrameBytes int) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if maxFrameBytes > 0 && int(n) > maxFrameBytes {
		return Message{}, fmt.Errorf("sandbox: incoming frame of %d bytes exceeds maximum %d", n, maxFrameBytes)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("sandbox: read frame payload: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("sandbox: unmarshal frame: %w", err)
	}
	return msg, nil
}
