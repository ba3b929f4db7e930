package sandbox

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	original := Message{
		Command: CmdExec,
		Code:    "print(context[0])",
		Capture: &CapturePayload{Stdout: "hello\n", RawChars: 6},
	}

	if err := WriteFrame(&buf, original, MaxFrameBytes); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	decoded, err := ReadFrame(&buf, MaxFrameBytes)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if decoded.Command != CmdExec || decoded.Code != original.Code {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if decoded.Capture == nil || decoded.Capture.Stdout != "hello\n" {
		t.Fatalf("expected capture payload to survive round trip, got %+v", decoded.Capture)
	}
}

func TestWriteReadFrame_MultipleFramesOnSameStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Message{Command: CmdPing}, MaxFrameBytes); err != nil {
		t.Fatalf("unexpected error writing first frame: %v", err)
	}
	if err := WriteFrame(&buf, Message{Command: CmdReset}, MaxFrameBytes); err != nil {
		t.Fatalf("unexpected error writing second frame: %v", err)
	}

	first, err := ReadFrame(&buf, MaxFrameBytes)
	if err != nil {
		t.Fatalf("unexpected error reading first frame: %v", err)
	}
	if first.Command != CmdPing {
		t.Fatalf("expected first frame to be ping, got %q", first.Command)
	}

	second, err := ReadFrame(&buf, MaxFrameBytes)
	if err != nil {
		t.Fatalf("unexpected error reading second frame: %v", err)
	}
	if second.Command != CmdReset {
		t.Fatalf("expected second frame to be reset, got %q", second.Command)
	}
}

func TestWriteFrame_RejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	huge := Message{Command: CmdExec, Code: strings.Repeat("x", 1000)}

	err := WriteFrame(&buf, huge, 10)
	if err == nil {
		t.Fatal("expected error when payload exceeds maxFrameBytes")
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no bytes written on rejected oversize frame, got %d", buf.Len())
	}
}

func TestReadFrame_RejectsOversizeDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 1000)
	buf.Write(lenBuf[:])
	buf.WriteString(strings.Repeat("y", 1000))

	_, err := ReadFrame(&buf, 10)
	if err == nil {
		t.Fatal("expected error when declared frame length exceeds maxFrameBytes")
	}
}

func TestReadFrame_PropagatesShortReadAsError(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 100)
	buf.Write(lenBuf[:])
	buf.WriteString("too short")

	_, err := ReadFrame(&buf, MaxFrameBytes)
	if err == nil {
		t.Fatal("expected error when stream ends before declared payload length is satisfied")
	}
}

func TestWriteFrame_UnboundedWhenMaxFrameBytesIsZero(t *testing.T) {
	var buf bytes.Buffer
	msg := Message{Command: CmdExec, Code: strings.Repeat("z", 100)}
	if err := WriteFrame(&buf, msg, 0); err != nil {
		t.Fatalf("expected no ceiling enforcement when maxFrameBytes is 0, got: %v", err)
	}
}
