// judge.go classifies agent output by the trailing finish marker. The agent
// signals loop policy by ending its stdout with a JSON object of the form
// {"result": "completed"|"continue"|"answer_required"}. Both functions here
// are pure: the orchestration loop's termination depends on them.
package assistant

import (
	"encoding/json"
	"strings"
)

// Verdict is the loop-policy classification of one agent turn.
type Verdict string

const (
	// VerdictCompleted means the task is done; the loop stops.
	VerdictCompleted Verdict = "completed"

	// VerdictContinue means the agent wants another turn without new
	// human input.
	VerdictContinue Verdict = "continue"

	// VerdictAnswerRequired means a human has to respond next. This is
	// also the default on any parse failure: stopping and yielding to a
	// human is safer than looping or dropping a turn.
	VerdictAnswerRequired Verdict = "answer_required"
)

// finishMarker is the wire shape of the trailing control object.
type finishMarker struct {
	Result string `json:"result"`
}

// Judge classifies agent output. It locates the last JSON object literal at
// the end of the text (tolerant of trailing whitespace), parses it, and
// validates the result field. Any failure yields VerdictAnswerRequired.
func Judge(output string) Verdict {
	marker, _, ok := splitMarker(output)
	if !ok {
		return VerdictAnswerRequired
	}
	return marker
}

// StripMarker removes the finish marker from agent output, returning the
// human-visible text with surrounding whitespace trimmed. Output without a
// valid marker is returned trimmed but otherwise untouched: the marker is a
// control signal, not conversational content, and must never reach the chat.
func StripMarker(output string) string {
	_, visible, ok := splitMarker(output)
	if !ok {
		return strings.TrimSpace(output)
	}
	return visible
}

// splitMarker finds and validates the trailing marker. Returns the verdict,
// the remaining visible text, and whether a valid marker was found.
func splitMarker(output string) (Verdict, string, bool) {
	trimmed := strings.TrimRight(output, " \t\r\n")
	if !strings.HasSuffix(trimmed, "}") {
		return "", "", false
	}

	start := strings.LastIndex(trimmed, "{")
	if start < 0 {
		return "", "", false
	}

	var marker finishMarker
	if err := json.Unmarshal([]byte(trimmed[start:]), &marker); err != nil {
		return "", "", false
	}

	switch Verdict(marker.Result) {
	case VerdictCompleted, VerdictContinue, VerdictAnswerRequired:
		return Verdict(marker.Result), strings.TrimSpace(trimmed[:start]), true
	default:
		return "", "", false
	}
}
