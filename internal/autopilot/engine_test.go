package autopilot

import (
	"context"
	"testing"

	"leadflow_backend/platform/ai"
	"leadflow_backend/platform/logger"
)

type countingProvider struct {
	fakeProvider
	calls int
}

func (c *countingProvider) Complete(ctx context.Context, messages []ai.Message) (ai.Completion, error) {
	c.calls++
	return c.fakeProvider.Complete(ctx, messages)
}

func newEngine(provider ai.Provider) *Engine {
	log := logger.New("development")
	return NewEngine(NewPlanner(provider, log), log)
}

func TestEngineHandoverBoundaryRegardlessOfMode(t *testing.T) {
	// The reply pushing questionIndex from 2 to 3 hands over in both modes.
	state := State{Node: NodeOther, Answers: map[string]string{}, QuestionIndex: 2}

	rules := aiScenario(3)
	rules.Mode = ModeRules
	tr := newEngine(&fakeProvider{}).Step(context.Background(), planInput(rules, state, "da, multumesc"))
	if tr.Node != NodeHandover || !tr.Terminal || tr.QuestionIndex != 3 {
		t.Fatalf("rules mode: %+v", tr)
	}

	aiProvider := &fakeProvider{raw: `{"nextText":"Inca ceva?","intent":"other","answers":{},"shouldHandover":false,"handoverReason":null}`}
	tr = newEngine(aiProvider).Step(context.Background(), planInput(aiScenario(3), state, "da, multumesc"))
	if tr.Node != NodeHandover || !tr.Terminal || tr.QuestionIndex != 3 {
		t.Fatalf("ai mode: %+v", tr)
	}
}

func TestEngineAbsorbingNodeSkipsPlanner(t *testing.T) {
	provider := &countingProvider{}
	engine := newEngine(provider)

	state := State{Node: NodeHandover, Answers: map[string]string{}, QuestionIndex: 3}
	tr := engine.Step(context.Background(), planInput(aiScenario(3), state, "inca o intrebare"))

	if provider.calls != 0 {
		t.Fatalf("absorbing node must not call the provider, calls=%d", provider.calls)
	}
	if tr.Node != NodeHandover || tr.Terminal {
		t.Fatalf("unexpected transition: %+v", tr)
	}
}

func TestEngineUnknownModeFallsBackToRules(t *testing.T) {
	provider := &countingProvider{}
	scenario := aiScenario(3)
	scenario.Mode = "EXPERIMENTAL"

	tr := newEngine(provider).Step(context.Background(), planInput(scenario, InitialState(), "pret"))
	if provider.calls != 0 {
		t.Fatal("unknown mode must not call the provider")
	}
	if tr.AnswersUpdate["intent"] != IntentPricing {
		t.Fatalf("rules behavior expected, got %+v", tr)
	}
}
