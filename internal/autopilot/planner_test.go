package autopilot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"leadflow_backend/platform/ai"
	"leadflow_backend/platform/logger"
)

type fakeProvider struct {
	raw      string
	err      error
	received []ai.Message
}

func (f *fakeProvider) Complete(_ context.Context, messages []ai.Message) (ai.Completion, error) {
	f.received = messages
	if f.err != nil {
		return ai.Completion{}, f.err
	}
	return ai.Completion{RawText: f.raw, Model: "test-model", LatencyMs: 42}, nil
}

func aiScenario(maxQuestions int) *Scenario {
	return &Scenario{
		Mode:         ModeAI,
		MaxQuestions: maxQuestions,
		AIPrompt:     "Esti asistentul de vanzari pentru AcmeDental. Califica leadul politicos.",
	}
}

func planInput(scenario *Scenario, state State, reply string) PlanInput {
	return PlanInput{
		Scenario: scenario,
		Lead:     LeadInfo{FirstName: "Maria", LastName: "Pop", Phone: "+40712345678"},
		State:    state,
		Reply:    reply,
	}
}

func TestPlannerFallbackOnCallFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}
	planner := NewPlanner(provider, logger.New("development"))

	tr := planner.Plan(context.Background(), planInput(aiScenario(3), InitialState(), "pret"))

	if !tr.FallbackUsed {
		t.Fatal("expected fallbackUsed=true")
	}
	if tr.Meta != nil {
		t.Fatalf("call failure carries no planner metadata, got %+v", tr.Meta)
	}
	if !strings.Contains(tr.Text, "AcmeDental") {
		t.Fatalf("fallback must use company from prompt, got %q", tr.Text)
	}
	if tr.AnswersUpdate["intent"] != IntentPricing {
		t.Fatalf("fallback intent detection broken: %+v", tr.AnswersUpdate)
	}
}

func TestPlannerFallbackIsDeterministic(t *testing.T) {
	provider := &fakeProvider{err: errors.New("timeout")}
	planner := NewPlanner(provider, logger.New("development"))
	in := planInput(aiScenario(3), InitialState(), "vreau pret")

	first := planner.Plan(context.Background(), in)
	second := planner.Plan(context.Background(), in)
	if first.Text != second.Text || first.Node != second.Node || first.QuestionIndex != second.QuestionIndex {
		t.Fatalf("fallback not deterministic: %+v vs %+v", first, second)
	}
}

func TestPlannerFallbackOnMalformedJSON(t *testing.T) {
	provider := &fakeProvider{raw: "sorry, I cannot produce JSON today"}
	planner := NewPlanner(provider, logger.New("development"))

	tr := planner.Plan(context.Background(), planInput(aiScenario(3), InitialState(), "pret"))

	if !tr.FallbackUsed {
		t.Fatal("expected fallback on malformed output")
	}
	if tr.Meta == nil || tr.Meta.JSONValid {
		t.Fatalf("malformed output must be observable in metadata, got %+v", tr.Meta)
	}
	if tr.Meta.Model != "test-model" || tr.Meta.LatencyMs != 42 {
		t.Fatalf("metadata should carry call telemetry, got %+v", tr.Meta)
	}
	if !strings.Contains(tr.Text, "AcmeDental") {
		t.Fatalf("fallback text must mention company, got %q", tr.Text)
	}
}

func TestPlannerFallbackOnSchemaViolation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty nextText", `{"nextText":"","intent":"pricing","answers":{},"shouldHandover":false,"handoverReason":null}`},
		{"bad intent", `{"nextText":"ok","intent":"sales","answers":{},"shouldHandover":false,"handoverReason":null}`},
		{"overlong nextText", `{"nextText":"` + strings.Repeat("a", 700) + `","intent":"other","answers":{},"shouldHandover":false,"handoverReason":null}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &fakeProvider{raw: tc.raw}
			planner := NewPlanner(provider, logger.New("development"))
			tr := planner.Plan(context.Background(), planInput(aiScenario(3), InitialState(), "pret"))
			if !tr.FallbackUsed || tr.Meta == nil || tr.Meta.JSONValid {
				t.Fatalf("expected observable fallback, got %+v", tr)
			}
		})
	}
}

func TestPlannerParsesFencedJSON(t *testing.T) {
	provider := &fakeProvider{raw: "Here is the plan:\n```json\n{\"nextText\":\"Ce serviciu va intereseaza?\",\"intent\":\"pricing\",\"answers\":{\"budget\":\"necunoscut\"},\"shouldHandover\":false,\"handoverReason\":null}\n```"}
	planner := NewPlanner(provider, logger.New("development"))

	tr := planner.Plan(context.Background(), planInput(aiScenario(3), InitialState(), "pret"))

	if tr.FallbackUsed {
		t.Fatalf("expected planned transition, got fallback: %+v", tr)
	}
	if tr.Meta == nil || !tr.Meta.JSONValid {
		t.Fatalf("expected jsonValid metadata, got %+v", tr.Meta)
	}
	if tr.Text != "Ce serviciu va intereseaza?" {
		t.Fatalf("unexpected text %q", tr.Text)
	}
	if tr.Node != NodePricing || tr.QuestionIndex != 1 || tr.Terminal {
		t.Fatalf("unexpected transition: %+v", tr)
	}
	if tr.AnswersUpdate["budget"] != "necunoscut" || tr.AnswersUpdate["intent"] != IntentPricing {
		t.Fatalf("answers not folded: %+v", tr.AnswersUpdate)
	}
}

func TestPlannerBudgetOverridesModel(t *testing.T) {
	// The model refuses to hand over, but the reply exhausts the budget.
	provider := &fakeProvider{raw: `{"nextText":"Inca o intrebare?","intent":"other","answers":{},"shouldHandover":false,"handoverReason":null}`}
	planner := NewPlanner(provider, logger.New("development"))

	state := State{Node: NodeOther, Answers: map[string]string{}, QuestionIndex: 2}
	tr := planner.Plan(context.Background(), planInput(aiScenario(3), state, "da, multumesc"))

	if tr.Node != NodeHandover || !tr.Terminal {
		t.Fatalf("budget must force handover, got %+v", tr)
	}
	if tr.QuestionIndex != 3 {
		t.Fatalf("questionIndex = %d, want 3", tr.QuestionIndex)
	}
}

func TestPlannerFoldsHandoverReason(t *testing.T) {
	provider := &fakeProvider{raw: `{"nextText":"Va preluam imediat.","intent":"booking","answers":{},"shouldHandover":true,"handoverReason":"cere o programare urgenta"}`}
	planner := NewPlanner(provider, logger.New("development"))

	tr := planner.Plan(context.Background(), planInput(aiScenario(5), InitialState(), "2"))

	if !tr.Terminal || tr.Node != NodeHandover {
		t.Fatalf("expected handover, got %+v", tr)
	}
	if tr.AnswersUpdate["handoverReason"] != "cere o programare urgenta" {
		t.Fatalf("handoverReason not folded into answers: %+v", tr.AnswersUpdate)
	}
}

func TestPlannerPromptContainsBudgetAndReply(t *testing.T) {
	provider := &fakeProvider{raw: `{"nextText":"ok","intent":"other","answers":{},"shouldHandover":false,"handoverReason":null}`}
	planner := NewPlanner(provider, logger.New("development"))

	state := State{Node: NodeOther, Answers: map[string]string{"intent": "other"}, QuestionIndex: 1}
	in := planInput(aiScenario(4), state, "un raspuns oarecare")
	in.RecentOutbound = []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}
	planner.Plan(context.Background(), in)

	if len(provider.received) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(provider.received))
	}
	system, user := provider.received[0], provider.received[1]
	if system.Role != ai.RoleSystem || user.Role != ai.RoleUser {
		t.Fatalf("unexpected roles: %q %q", system.Role, user.Role)
	}
	if !strings.Contains(system.Content, "Mai ai 3 intrebari") {
		t.Fatalf("system message missing remaining budget: %q", system.Content)
	}
	if !strings.Contains(user.Content, "un raspuns oarecare") {
		t.Fatal("user message missing verbatim reply")
	}
	if strings.Contains(user.Content, "m1") || !strings.Contains(user.Content, "m7") {
		t.Fatal("outbound history not capped to the most recent entries")
	}
}

func TestExtractCompanyName(t *testing.T) {
	cases := []struct {
		prompt string
		want   string
	}{
		{"Esti asistent pentru AcmeDental. Fii politicos.", "AcmeDental"},
		{"You are the assistant for Smile Clinic and nothing else", "Smile Clinic"},
		{"context:\ncompany: Zahnarzt Manoli\nrest", "Zahnarzt Manoli"},
		{"settings\ncompany_name = DentoPlus\n", "DentoPlus"},
		{"niciun nume aici", DefaultCompanyName},
		{"", DefaultCompanyName},
	}
	for _, tc := range cases {
		if got := ExtractCompanyName(tc.prompt); got != tc.want {
			t.Fatalf("ExtractCompanyName(%q) = %q, want %q", tc.prompt, got, tc.want)
		}
	}
}

func TestResolvePrompt(t *testing.T) {
	template := "Esti {agent_name} de la {company_name}. Oferta: {offer_summary}. Max {maxQuestions} intrebari pentru {lead_name}. Link: {calendar_link_raw}. {company_description}"
	resolved := ResolvePrompt(template, PromptVars{
		AgentName:    "  Ana  ",
		CompanyName:  "AcmeDental",
		LeadName:     "Maria Pop",
		MaxQuestions: 3,
	})
	if strings.Contains(resolved, "{") {
		t.Fatalf("placeholder leaked: %q", resolved)
	}
	for _, want := range []string{"Ana", "AcmeDental", "Maria Pop", "Max 3 intrebari"} {
		if !strings.Contains(resolved, want) {
			t.Fatalf("missing %q in %q", want, resolved)
		}
	}
}

func TestPromptPreviewTruncates(t *testing.T) {
	long := strings.Repeat("x", previewMaxChars+100)
	preview := PromptPreview(long)
	if len([]rune(preview)) != previewMaxChars+3 {
		t.Fatalf("unexpected preview length %d", len([]rune(preview)))
	}
	if !strings.HasSuffix(preview, "...") {
		t.Fatal("preview must end with ellipsis")
	}
	short := "short prompt"
	if PromptPreview(short) != short {
		t.Fatal("short prompts pass through unchanged")
	}
}
