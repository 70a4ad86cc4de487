// Package protocol parses free-text human replies into typed directives.
//
// Humans respond to checkpoint comments using line-leading structured
// prefixes:
//
//	DECISION: use the async variant
//	APPROVAL: Yes
//	FEEDBACK: please add tests for the error path
//
// The parser scans for prefixes in a fixed priority order and commits to the
// first one found. This is a deliberately lossy, best-effort interface to an
// unstructured channel: parsing never fails, and unrecognized text degrades
// to a general response. Callers that need to honor multiple directives in
// one message must inspect the raw text themselves.
package protocol

import "strings"

// ResponseType classifies a parsed human reply.
type ResponseType string

const (
	TypeDecision ResponseType = "decision"
	TypeCode     ResponseType = "code"
	TypeGuidance ResponseType = "guidance"
	TypeApproval ResponseType = "approval"
	TypeQuestion ResponseType = "question"
	TypeGeneral  ResponseType = "general"
)

// Response is the typed result of parsing a human reply.
// It is derived deterministically from the raw text and never mutated.
type Response struct {
	// Type is the directive kind matched by the first recognized prefix.
	Type ResponseType `json:"type"`

	// Content is the extracted payload for the matched directive.
	Content string `json:"content"`

	// Approved is set for approval responses: true iff the approval text
	// contains "yes" (case-insensitive).
	Approved bool `json:"approved,omitempty"`

	// Feedback carries the FEEDBACK block accompanying an approval, if any.
	Feedback string `json:"feedback,omitempty"`
}

// feedbackPrefix is a companion to APPROVAL:, not a standalone directive.
const feedbackPrefix = "FEEDBACK:"

// prefixes in priority order. The first one present anywhere in the text
// determines the response type.
var prefixes = []struct {
	prefix string
	typ    ResponseType
}{
	{"DECISION:", TypeDecision},
	{"CODE:", TypeCode},
	{"GUIDANCE:", TypeGuidance},
	{"APPROVAL:", TypeApproval},
	{"QUESTION:", TypeQuestion},
}

// allPrefixes terminates block capture: a captured block runs until the next
// line that starts a different recognized prefix.
var allPrefixes = []string{
	"DECISION:", "CODE:", "GUIDANCE:", "APPROVAL:", "QUESTION:", feedbackPrefix,
}

// Parse converts a raw human reply into a typed response. It never fails:
// empty input yields an empty general response, and text with no recognized
// prefix yields a general response carrying the trimmed original text.
func Parse(text string) *Response {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &Response{Type: TypeGeneral, Content: ""}
	}

	lines := strings.Split(text, "\n")

	for _, p := range prefixes {
		idx := findPrefixLine(lines, p.prefix)
		if idx < 0 {
			continue
		}

		resp := &Response{
			Type:    p.typ,
			Content: captureBlock(lines, idx, p.prefix),
		}

		if p.typ == TypeApproval {
			resp.Approved = strings.Contains(strings.ToLower(resp.Content), "yes")
			if fi := findPrefixLine(lines, feedbackPrefix); fi >= 0 {
				resp.Feedback = captureBlock(lines, fi, feedbackPrefix)
			}
		}

		return resp
	}

	return &Response{Type: TypeGeneral, Content: trimmed}
}

// findPrefixLine returns the index of the first line starting with the given
// prefix (case-insensitive, leading whitespace ignored), or -1.
func findPrefixLine(lines []string, prefix string) int {
	for i, line := range lines {
		if hasPrefixFold(line, prefix) {
			return i
		}
	}
	return -1
}

// captureBlock collects the text of a directive: the remainder of the prefix
// line plus all following lines up to (not including) the next line that
// starts a different recognized prefix. Lines are trimmed and joined with
// single spaces.
func captureBlock(lines []string, start int, prefix string) string {
	first := strings.TrimSpace(lines[start])
	parts := []string{strings.TrimSpace(first[len(prefix):])}

	for _, line := range lines[start+1:] {
		if startsOtherPrefix(line, prefix) {
			break
		}
		parts = append(parts, strings.TrimSpace(line))
	}

	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// startsOtherPrefix reports whether the line begins a recognized prefix
// different from the one currently being captured.
func startsOtherPrefix(line, current string) bool {
	for _, p := range allPrefixes {
		if p == current {
			continue
		}
		if hasPrefixFold(line, p) {
			return true
		}
	}
	return false
}

func hasPrefixFold(line, prefix string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	if len(trimmed) < len(prefix) {
		return false
	}
	return strings.EqualFold(trimmed[:len(prefix)], prefix)
}
