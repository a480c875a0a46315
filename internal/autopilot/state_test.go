package autopilot

import "testing"

func TestParseStateDefaults(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "not json"},
		{"empty object", "{}"},
		{"wrong types", `{"node":7,"answers":"x","questionIndex":"two"}`},
		{"negative index", `{"node":"q1","questionIndex":-3}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := ParseState([]byte(tc.raw))
			if state.Node != NodeStart {
				t.Fatalf("node = %q, want %q", state.Node, NodeStart)
			}
			if state.QuestionIndex != 0 {
				t.Fatalf("questionIndex = %d, want 0", state.QuestionIndex)
			}
			if state.Answers == nil {
				t.Fatal("answers must never be nil")
			}
		})
	}
}

func TestParseStateRoundTrip(t *testing.T) {
	original := State{Node: NodePricing, Answers: map[string]string{"intent": "pricing"}, QuestionIndex: 2}
	parsed := ParseState(original.Marshal())
	if parsed.Node != NodePricing || parsed.QuestionIndex != 2 || parsed.Answers["intent"] != "pricing" {
		t.Fatalf("round trip lost data: %+v", parsed)
	}
}

func TestMergeAnswersOverrides(t *testing.T) {
	state := State{Answers: map[string]string{"intent": "other", "kept": "yes"}}
	state.MergeAnswers(map[string]string{"intent": "pricing", "new": "value"})
	if state.Answers["intent"] != "pricing" {
		t.Fatalf("new key must override, got %q", state.Answers["intent"])
	}
	if state.Answers["kept"] != "yes" || state.Answers["new"] != "value" {
		t.Fatalf("merge dropped keys: %+v", state.Answers)
	}
}
