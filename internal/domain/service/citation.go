package service

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
)

// Citation patterns recognized by the verifier. Implementers historically
// vary here (see spec's Open Questions); this set covers the three
// conventions named explicitly: "Doc N", "context[N]", and a bracketed
// "[N]" numeric-citation convention. Unknown patterns are simply not
// matched — fail-soft, never a false positive.
var citationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDoc\s+(\d+)\b`),
	regexp.MustCompile(`\bcontext\[(\d+)\]`),
	regexp.MustCompile(`\[(\d+)\]`),
}

// quoteRe matches double-quoted or backtick-quoted substrings of at
// least 10 characters.
var quoteRe = regexp.MustCompile("\"([^\"]{10,})\"|`([^`]{10,})`")

// VerifyCitations mechanically checks every cited document index and
// every quoted substring in the final answer against the still-loaded
// document set. It never calls an LLM and never fails the query — any
// internal error is swallowed into an "unavailable" result.
func VerifyCitations(answer string, docs entity.DocumentSet) (result entity.Verification) {
	defer func() {
		if r := recover(); r != nil {
			result = entity.Verification{Unavailable: true, Reason: "internal error during verification"}
		}
	}()

	indexed := make(map[int]entity.Document, len(docs))
	for _, d := range docs {
		indexed[d.Index] = d
	}

	seen := make(map[int]bool)
	for _, re := range citationPatterns {
		for _, m := range re.FindAllStringSubmatch(answer, -1) {
			idx, err := strconv.Atoi(m[1])
			if err != nil || seen[idx] {
				continue
			}
			seen[idx] = true
			if _, ok := indexed[idx]; ok {
				result.Citations = append(result.Citations, entity.CitationFinding{
					DocumentIndex: idx,
					Valid:         true,
				})
			} else {
				result.Citations = append(result.Citations, entity.CitationFinding{
					DocumentIndex: idx,
					Valid:         false,
					Reason:        "cited document index out of range",
				})
			}
		}
	}

	for _, m := range quoteRe.FindAllStringSubmatch(answer, -1) {
		quote := m[1]
		if quote == "" {
			quote = m[2]
		}
		result.Quotes = append(result.Quotes, verifyQuote(quote, docs))
	}

	return result
}

// verifyQuote truncates a quote to 60 characters and tests
// case-insensitive substring presence against each loaded document,
// attributing the first document that contains it.
func verifyQuote(quote string, docs entity.DocumentSet) entity.QuoteFinding {
	truncated := quote
	if len(truncated) > 60 {
		truncated = truncated[:60]
	}
	needle := strings.ToLower(truncated)

	for _, d := range docs {
		if strings.Contains(strings.ToLower(d.Content), needle) {
			return entity.QuoteFinding{Quote: truncated, Valid: true, DocumentIndex: d.Index}
		}
	}
	return entity.QuoteFinding{Quote: truncated, Valid: false, Reason: "quote not found in any loaded document"}
}
