package service

import (
	"regexp"
	"strings"
)

// codeFenceRe matches fenced ```repl ... ``` blocks, capturing the source
// between the fences. Matching is non-greedy and DOTALL so a block can
// span multiple lines.
var codeFenceRe = regexp.MustCompile("(?s)```repl\\s*\\n(.*?)```")

// bareFinalRe matches a bare FINAL(identifier) appearing as plain text,
// i.e. outside any fenced code block — the fallback form described in
// the engine's response-parsing rules. Only a simple identifier is
// accepted; anything more complex must be inside a repl block.
var bareFinalRe = regexp.MustCompile(`FINAL\(\s*([A-Za-z_][A-Za-z0-9_]*)\s*\)`)

// ParsedResponse is the structured result of parsing one driver response.
type ParsedResponse struct {
	// CodeBlocks holds the source of every fenced `repl` block, in order.
	CodeBlocks []string

	// BareFinalIdentifier, when non-empty, is the identifier named by a
	// bare FINAL(identifier) found in the response's plain text (outside
	// any code block). It must only be honored once all CodeBlocks for
	// this response have executed.
	BareFinalIdentifier string
}

// ParseResponse extracts all `repl` code blocks and detects a bare
// fallback FINAL(identifier) reference in the surrounding plain text.
func ParseResponse(response string) ParsedResponse {
	var parsed ParsedResponse

	matches := codeFenceRe.FindAllStringSubmatchIndex(response, -1)
	for _, m := range matches {
		parsed.CodeBlocks = append(parsed.CodeBlocks, response[m[2]:m[3]])
	}

	plainText := stripCodeFences(response)
	if bm := bareFinalRe.FindStringSubmatch(plainText); bm != nil {
		parsed.BareFinalIdentifier = bm[1]
	}

	return parsed
}

// stripCodeFences removes fenced ```repl blocks from the response,
// leaving only the plain-text narration a driver wrote around them —
// the surface the bare-FINAL fallback is scanned against.
func stripCodeFences(response string) string {
	return codeFenceRe.ReplaceAllString(response, "")
}

// HasCodeOrExplicitFinal reports whether a response contains either an
// executable code block or a detectable bare-FINAL reference. A response
// with neither is narration-only and must be re-prompted rather than
// silently treated as a final answer.
func (p ParsedResponse) HasCodeOrExplicitFinal() bool {
	return len(p.CodeBlocks) > 0 || p.BareFinalIdentifier != ""
}

// BuildReplResultPrompt renders a CaptureRecord (see entity.CaptureRecord)
// as the user-role feedback text the driver sees for one executed code
// block: the verbatim code, then the captured output or exception under
// a boundary-tagged envelope.
func BuildReplResultPrompt(code, output string, boundaryToken string, hasException bool) string {
	var b strings.Builder
	b.WriteString("Executed:\n```repl\n")
	b.WriteString(code)
	b.WriteString("\n```\n\n")
	if hasException {
		b.WriteString("Result (exception):\n")
	} else {
		b.WriteString("Result:\n")
	}
	b.WriteString("<repl_output_")
	b.WriteString(boundaryToken)
	b.WriteString(">\n")
	b.WriteString(output)
	b.WriteString("\n</repl_output_")
	b.WriteString(boundaryToken)
	b.WriteString(">")
	return b.String()
}
