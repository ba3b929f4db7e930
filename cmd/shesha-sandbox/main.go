// Command shesha-sandbox is the in-process interpreter child (component
// A of the execution engine): it speaks the host's length-prefixed
// framed protocol over stdin/stdout and executes `repl` code blocks
// against a persistent goja namespace seeded with `context`, `llm_query`,
// `llm_query_batched`, `FINAL`, and `FINAL_VAR`.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dop251/goja"

	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/sandbox"
)

const maxStdoutBufferChars = 2_000_000

func main() {
	n := &namespace{stdin: os.Stdin, stdout: os.Stdout, maxFrameBytes: sandbox.MaxFrameBytes}
	n.reset()

	if err := n.serve(); err != nil && err != io.EOF {
		fmt.Fprintf(os.Stderr, "shesha-sandbox: %v\n", err)
		os.Exit(1)
	}
}

// namespace owns the persistent goja runtime for one sandbox child. It
// survives across exec commands within a query and is rebuilt from
// scratch on reset.
type namespace struct {
	vm     *goja.Runtime
	stdout io.Writer
	stdin  io.Reader

	maxFrameBytes int
	buf           strings.Builder
}

// finalSignal is the value passed to goja's Interrupt mechanism by FINAL
// and FINAL_VAR to halt script execution once a final answer is set.
type finalSignal struct {
	value string
	isVar bool
}

func (n *namespace) serve() error {
	for {
		msg, err := sandbox.ReadFrame(n.stdin, n.maxFrameBytes)
		if err != nil {
			return err
		}

		switch msg.Command {
		case sandbox.CmdPing:
			if err := n.reply(sandbox.Message{Command: sandbox.CmdPing, Status: "ok"}); err != nil {
				return err
			}
		case sandbox.CmdLoadDocuments:
			n.loadDocuments(msg.Documents)
			if err := n.reply(sandbox.Message{Command: sandbox.CmdLoadDocuments, Loaded: len(msg.Documents)}); err != nil {
				return err
			}
		case sandbox.CmdReset:
			n.reset()
			if err := n.reply(sandbox.Message{Command: sandbox.CmdReset, OK: true}); err != nil {
				return err
			}
		case sandbox.CmdExec:
			capture := n.exec(msg.Code)
			if err := n.reply(sandbox.Message{Command: sandbox.CmdExec, Capture: capture}); err != nil {
				return err
			}
		case sandbox.CmdShutdown:
			return nil
		default:
			if err := n.reply(sandbox.Message{Command: msg.Command, Error: fmt.Sprintf("unknown command %q", msg.Command)}); err != nil {
				return err
			}
		}
	}
}

func (n *namespace) reply(msg sandbox.Message) error {
	return sandbox.WriteFrame(n.stdout, msg, n.maxFrameBytes)
}

// reset discards the current runtime and builds a fresh one with the
// standard built-ins plus print, console.log, llm_query,
// llm_query_batched, FINAL and FINAL_VAR bound — `context` is reattached
// by the next load_documents call.
func (n *namespace) reset() {
	n.vm = goja.New()
	n.vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	n.buf.Reset()

	n.vm.Set("print", n.jsPrint)
	n.vm.Set("console", map[string]interface{}{"log": n.jsPrint})
	n.vm.Set("llm_query", n.jsLLMQuery)
	n.vm.Set("llm_query_batched", n.jsLLMQueryBatched)
	n.vm.Set("FINAL", n.jsFinal)
	n.vm.Set("FINAL_VAR", n.jsFinalVar)
}

func (n *namespace) loadDocuments(docs []sandbox.DocPayload) {
	ordered := make([]string, len(docs))
	for _, d := range docs {
		if d.Index >= 0 && d.Index < len(ordered) {
			ordered[d.Index] = d.Content
		}
	}
	n.vm.Set("context", ordered)
}

// jsPrint appends stdout, bounded so a runaway loop can't exhaust host
// memory before the exec timeout fires; the host applies its own,
// typically tighter, truncation ceiling on top of this.
func (n *namespace) jsPrint(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = arg.String()
	}
	if n.buf.Len() < maxStdoutBufferChars {
		n.buf.WriteString(strings.Join(parts, " "))
		n.buf.WriteByte('\n')
	}
	return goja.Undefined()
}

func (n *namespace) jsFinal(call goja.FunctionCall) goja.Value {
	value := ""
	if len(call.Arguments) > 0 {
		value = call.Arguments[0].String()
	}
	n.vm.Interrupt(finalSignal{value: value, isVar: false})
	return goja.Undefined()
}

func (n *namespace) jsFinalVar(call goja.FunctionCall) goja.Value {
	name := ""
	if len(call.Arguments) > 0 {
		name = call.Arguments[0].String()
	}
	bound := n.vm.Get(name)
	value := ""
	if bound != nil && !goja.IsUndefined(bound) && !goja.IsNull(bound) {
		value = bound.String()
	}
	n.vm.Interrupt(finalSignal{value: value, isVar: true})
	return goja.Undefined()
}

// exec runs one code block to completion, capturing stdout, any raised
// exception, and a final value if FINAL/FINAL_VAR halted execution.
func (n *namespace) exec(code string) *sandbox.CapturePayload {
	n.buf.Reset()
	cap := &sandbox.CapturePayload{}

	_, err := n.vm.RunString(code)
	cap.Stdout = n.buf.String()
	cap.RawChars = len(cap.Stdout)

	if err != nil {
		if interrupted, ok := err.(*goja.InterruptedError); ok {
			if sig, ok := interrupted.Value().(finalSignal); ok {
				value := sig.value
				cap.Final = &value
				cap.FinalIsVar = sig.isVar
				return cap
			}
		}
		cap.Exception = toException(err)
	}
	return cap
}

func toException(err error) *sandbox.ExceptionPayload {
	if jsErr, ok := err.(*goja.Exception); ok {
		return &sandbox.ExceptionPayload{Type: "Error", Message: jsErr.Error(), Traceback: jsErr.String()}
	}
	return &sandbox.ExceptionPayload{Type: "Error", Message: err.Error()}
}

func (n *namespace) jsLLMQuery(call goja.FunctionCall) goja.Value {
	instruction := argString(call, 0)
	content := argString(call, 1)
	modelOverride := argString(call, 2)

	results := n.roundTrip([]sandbox.SubcallPayload{{Instruction: instruction, Content: content, ModelOverride: modelOverride}})
	return n.resultToValue(results[0])
}

func (n *namespace) jsLLMQueryBatched(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		panic(n.vm.NewTypeError("llm_query_batched requires an array of requests"))
	}
	exported := call.Arguments[0].Export()
	items, ok := exported.([]interface{})
	if !ok {
		panic(n.vm.NewTypeError("llm_query_batched requires an array of requests"))
	}

	reqs := make([]sandbox.SubcallPayload, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			panic(n.vm.NewTypeError("each llm_query_batched request must be an object"))
		}
		reqs = append(reqs, sandbox.SubcallPayload{
			Instruction:   stringField(m, "instruction"),
			Content:       stringField(m, "content"),
			ModelOverride: stringField(m, "model_override"),
		})
	}

	results := n.roundTrip(reqs)
	values := make([]interface{}, len(results))
	for i, r := range results {
		values[i] = n.resultToValue(r)
	}
	return n.vm.ToValue(values)
}

// roundTrip sends a subcall_request frame and blocks for the matching
// subcall_response, exactly mirroring the host's Executor.RunExec loop.
func (n *namespace) roundTrip(reqs []sandbox.SubcallPayload) []sandbox.SubcallResult {
	if err := n.reply(sandbox.Message{Command: sandbox.CmdSubcallRequest, Subcalls: reqs}); err != nil {
		panic(n.vm.NewGoError(fmt.Errorf("sandbox: send subcall_request: %w", err)))
	}
	resp, err := sandbox.ReadFrame(n.stdin, n.maxFrameBytes)
	if err != nil {
		panic(n.vm.NewGoError(fmt.Errorf("sandbox: read subcall_response: %w", err)))
	}
	if resp.Command != sandbox.CmdSubcallResult {
		panic(n.vm.NewGoError(fmt.Errorf("sandbox: expected subcall_response, got %q", resp.Command)))
	}
	return resp.SubcallResults
}

func (n *namespace) resultToValue(r sandbox.SubcallResult) goja.Value {
	if r.Error != "" {
		panic(n.vm.NewGoError(fmt.Errorf("%s", r.Error)))
	}
	return n.vm.ToValue(r.Response)
}

func argString(call goja.FunctionCall, i int) string {
	if i >= len(call.Arguments) {
		return ""
	}
	v := call.Arguments[i]
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
