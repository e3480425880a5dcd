package assistant

import (
	"strings"
	"testing"
)

func TestJudgeVerdicts(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   Verdict
	}{
		{"completed", "Done!\n{\"result\": \"completed\"}", VerdictCompleted},
		{"continue", "Working on it.\n{\"result\": \"continue\"}", VerdictContinue},
		{"answer required", "Which one?\n{\"result\": \"answer_required\"}", VerdictAnswerRequired},
		{"no marker at all", "Just a plain reply with no JSON.", VerdictAnswerRequired},
		{"malformed json", "Reply.\n{\"result\": \"completed\"", VerdictAnswerRequired},
		{"unknown verdict value", "Reply.\n{\"result\": \"maybe_later\"}", VerdictAnswerRequired},
		{"marker not at end", "{\"result\": \"completed\"}\nTrailing prose after it.", VerdictAnswerRequired},
		{"empty output", "", VerdictAnswerRequired},
		{"marker with trailing whitespace", "Hi.\n{\"result\": \"completed\"}  \n", VerdictCompleted},
		{"marker only", "{\"result\": \"completed\"}", VerdictCompleted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Judge(tc.output); got != tc.want {
				t.Errorf("Judge(%q) = %q, want %q", tc.output, got, tc.want)
			}
		})
	}
}

func TestStripMarkerRemovesTrailingJSON(t *testing.T) {
	got := StripMarker("Hello\n{\"result\": \"completed\"}")
	if got != "Hello" {
		t.Errorf("StripMarker = %q, want %q", got, "Hello")
	}
}

func TestStripMarkerKeepsNonMarkerText(t *testing.T) {
	in := "Here is a JSON sample: {\"result\": 42} and some prose."
	got := StripMarker(in)
	if got != strings.TrimSpace(in) {
		t.Errorf("StripMarker modified non-marker text: %q", got)
	}
}

func TestStripMarkerKeepsEarlierBraces(t *testing.T) {
	in := "The config is {\"a\": 1}.\nAll set.\n{\"result\": \"completed\"}"
	got := StripMarker(in)
	want := "The config is {\"a\": 1}.\nAll set."
	if got != want {
		t.Errorf("StripMarker = %q, want %q", got, want)
	}
}
