package autopilot

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"leadflow_backend/platform/ai"
	"leadflow_backend/platform/logger"
)

const (
	maxNextTextChars   = 600
	historyOutboundMax = 5
	historyTimelineMax = 10
)

// LeadInfo is the lead identity snapshot given to the planner.
type LeadInfo struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// TimelineEntry is one recent event-log record summarized for the prompt.
type TimelineEntry struct {
	EventType  string
	OccurredAt time.Time
}

// PlanInput carries everything one planning call needs.
type PlanInput struct {
	Scenario       *Scenario
	Lead           LeadInfo
	State          State
	Reply          string
	RecentOutbound []string
	RecentTimeline []TimelineEntry
}

// Planner calls the chat-completion provider and validates its structured
// output, degrading to the deterministic rules transition on any failure.
type Planner struct {
	provider ai.Provider
	log      *logger.Logger
}

func NewPlanner(provider ai.Provider, log *logger.Logger) *Planner {
	return &Planner{provider: provider, log: log}
}

// planOutput is the JSON contract the model must produce.
type planOutput struct {
	NextText       string            `json:"nextText"`
	Intent         string            `json:"intent"`
	Answers        map[string]string `json:"answers"`
	ShouldHandover bool              `json:"shouldHandover"`
	HandoverReason *string           `json:"handoverReason"`
}

// Plan processes one reply in AI mode. It never returns an error: provider
// failures and malformed output fall back to the rules transition, with the
// failure recorded in the transition's planner metadata when the call itself
// succeeded.
func (p *Planner) Plan(ctx context.Context, in PlanInput) Transition {
	company := in.Scenario.Company()
	resolved := ResolvePrompt(in.Scenario.AIPrompt, promptVarsFor(in.Scenario, in.Lead))

	completion, err := p.provider.Complete(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: buildSystemMessage(resolved, in)},
		{Role: ai.RoleUser, Content: buildUserMessage(in)},
	})
	if err != nil {
		p.log.Error("autopilot planner call failed, using rules fallback", "error", err)
		return p.fallback(in, company, nil)
	}

	output, ok := parsePlanOutput(completion.RawText)
	meta := &PlannerMeta{Model: completion.Model, LatencyMs: completion.LatencyMs, JSONValid: ok}
	if !ok {
		p.log.AICall(completion.Model, completion.LatencyMs, false, true)
		return p.fallback(in, company, meta)
	}
	p.log.AICall(completion.Model, completion.LatencyMs, true, false)

	// The question budget is authoritative here, not in the model.
	nextIndex := in.State.QuestionIndex + 1
	shouldHandover := output.ShouldHandover || nextIndex >= in.Scenario.MaxQuestions

	answers := output.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	if output.Intent != "" {
		answers["intent"] = output.Intent
	}
	if output.HandoverReason != nil && strings.TrimSpace(*output.HandoverReason) != "" {
		answers["handoverReason"] = strings.TrimSpace(*output.HandoverReason)
	}

	node := intentNode(output.Intent)
	if shouldHandover {
		node = NodeHandover
	}
	return Transition{
		Node:          node,
		QuestionIndex: nextIndex,
		Text:          strings.TrimSpace(output.NextText),
		Intent:        output.Intent,
		AnswersUpdate: answers,
		Terminal:      shouldHandover,
		Meta:          meta,
	}
}

// fallback produces the deterministic rules transition, parameterized by the
// company name extracted from the scenario prompt.
func (p *Planner) fallback(in PlanInput, company string, meta *PlannerMeta) Transition {
	t := rulesStep(in.State, in.Reply, in.Scenario.MaxQuestions, company, in.Lead.FirstName)
	t.FallbackUsed = true
	t.Meta = meta
	return t
}

func promptVarsFor(s *Scenario, lead LeadInfo) PromptVars {
	leadName := strings.TrimSpace(strings.TrimSpace(lead.FirstName) + " " + strings.TrimSpace(lead.LastName))
	return PromptVars{
		AgentName:          s.AgentName,
		CompanyName:        s.CompanyName,
		CompanyDescription: s.CompanyDescription,
		OfferSummary:       s.OfferSummary,
		CalendarLinkRaw:    s.CalendarLinkRaw,
		LeadName:           leadName,
		MaxQuestions:       s.MaxQuestions,
	}
}

// Company prefers the scenario's explicit company name, then a name
// extracted from the prompt text, then the generic default.
func (s *Scenario) Company() string {
	if name := strings.TrimSpace(s.CompanyName); name != "" {
		return name
	}
	return ExtractCompanyName(s.AIPrompt)
}

var (
	companyForRe   = regexp.MustCompile(`\b(?:for|pentru)\s+([A-Z][\pL\pN]*(?:\s+[A-Z][\pL\pN]*)*)`)
	companyColonRe = regexp.MustCompile(`(?i)company:\s*([^\n\r]+)`)
	companyEqRe    = regexp.MustCompile(`(?i)company_name\s*=\s*([^\n\r]+)`)
)

// ExtractCompanyName pulls a company name out of free prompt text.
func ExtractCompanyName(prompt string) string {
	if m := companyForRe.FindStringSubmatch(prompt); m != nil {
		return strings.TrimRight(strings.TrimSpace(m[1]), ".,;:!?")
	}
	if m := companyColonRe.FindStringSubmatch(prompt); m != nil {
		if name := strings.TrimRight(strings.TrimSpace(m[1]), ".,;:!?"); name != "" {
			return name
		}
	}
	if m := companyEqRe.FindStringSubmatch(prompt); m != nil {
		if name := strings.TrimRight(strings.TrimSpace(m[1]), ".,;:!?"); name != "" {
			return name
		}
	}
	return DefaultCompanyName
}

func buildSystemMessage(resolvedScript string, in PlanInput) string {
	remaining := in.Scenario.MaxQuestions - in.State.QuestionIndex
	var sb strings.Builder
	sb.WriteString("Esti un asistent de vanzari care califica leaduri prin mesaje scurte.\n")
	sb.WriteString("Raspunde DOAR cu un obiect JSON cu exact aceasta forma:\n")
	sb.WriteString(`{"nextText":"<mesaj catre lead, 1-600 caractere>","intent":"pricing|booking|other","answers":{"cheie":"valoare"},"shouldHandover":true|false,"handoverReason":"<motiv>" sau null}`)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Mai ai %d intrebari disponibile. Daca bugetul este 0 sau intentia ramane neclara, seteaza shouldHandover=true.\n\n", remaining)
	sb.WriteString("Scriptul tenantului:\n")
	sb.WriteString(resolvedScript)
	return sb.String()
}

func buildUserMessage(in PlanInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Lead: %s %s (email: %s, telefon: %s)\n",
		in.Lead.FirstName, in.Lead.LastName, in.Lead.Email, in.Lead.Phone)
	fmt.Fprintf(&sb, "Nod curent: %s, intrebarea %d din %d\n",
		in.State.Node, in.State.QuestionIndex, in.Scenario.MaxQuestions)

	if len(in.State.Answers) > 0 {
		answers, _ := json.Marshal(in.State.Answers)
		fmt.Fprintf(&sb, "Raspunsuri structurate: %s\n", answers)
	}

	outbound := in.RecentOutbound
	if len(outbound) > historyOutboundMax {
		outbound = outbound[len(outbound)-historyOutboundMax:]
	}
	if len(outbound) > 0 {
		sb.WriteString("Mesaje trimise recent (cel mai recent ultimul):\n")
		for _, text := range outbound {
			fmt.Fprintf(&sb, "- %s\n", truncateWithEllipsis(text, 200))
		}
	}

	timeline := in.RecentTimeline
	if len(timeline) > historyTimelineMax {
		timeline = timeline[len(timeline)-historyTimelineMax:]
	}
	if len(timeline) > 0 {
		sb.WriteString("Istoric recent:\n")
		for _, entry := range timeline {
			fmt.Fprintf(&sb, "- %s la %s\n", entry.EventType, entry.OccurredAt.Format(time.RFC3339))
		}
	}

	fmt.Fprintf(&sb, "\nRaspunsul nou al leadului: %q\n", in.Reply)
	return sb.String()
}

// parsePlanOutput parses the raw model text: direct parse first, then the
// first balanced JSON object embedded in surrounding prose or code fences.
func parsePlanOutput(raw string) (planOutput, bool) {
	var out planOutput
	if err := json.Unmarshal([]byte(raw), &out); err == nil && validPlanOutput(out) {
		return out, true
	}

	candidate, ok := extractJSONObject(raw)
	if !ok {
		return planOutput{}, false
	}
	out = planOutput{}
	if err := json.Unmarshal([]byte(candidate), &out); err != nil || !validPlanOutput(out) {
		return planOutput{}, false
	}
	return out, true
}

func validPlanOutput(out planOutput) bool {
	text := strings.TrimSpace(out.NextText)
	if text == "" || len([]rune(text)) > maxNextTextChars {
		return false
	}
	switch out.Intent {
	case IntentPricing, IntentBooking, IntentOther:
	default:
		return false
	}
	return true
}

// extractJSONObject returns the first balanced {...} substring, tracking
// string literals and escapes so braces inside values do not break the scan.
func extractJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
