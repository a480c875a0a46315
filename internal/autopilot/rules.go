package autopilot

import (
	"fmt"
	"strings"
)

// Coarse intents detected from a reply.
const (
	IntentPricing = "pricing"
	IntentBooking = "booking"
	IntentOther   = "other"
)

// DefaultCompanyName is used when no company can be resolved from the
// scenario or its prompt.
const DefaultCompanyName = "echipa noastra"

// Transition is the outcome of processing one inbound reply.
type Transition struct {
	Node          string
	QuestionIndex int
	Text          string
	Intent        string
	AnswersUpdate map[string]string
	Terminal      bool
	FallbackUsed  bool
	Meta          *PlannerMeta
}

// PlannerMeta is AI-call telemetry attached to AI-mode transitions.
type PlannerMeta struct {
	Model     string `json:"model"`
	LatencyMs int64  `json:"latencyMs"`
	JSONValid bool   `json:"jsonValid"`
}

// DetectIntent classifies a free-text reply by keyword matching.
func DetectIntent(reply string) string {
	lowered := strings.ToLower(reply)
	switch {
	case strings.Contains(lowered, "1") || strings.Contains(lowered, "pret") || strings.Contains(lowered, "preț"):
		return IntentPricing
	case strings.Contains(lowered, "2") || strings.Contains(lowered, "program"):
		return IntentBooking
	default:
		return IntentOther
	}
}

func intentNode(intent string) string {
	switch intent {
	case IntentPricing:
		return NodePricing
	case IntentBooking:
		return NodeBooking
	default:
		return NodeOther
	}
}

func followUpText(intent, company string) string {
	switch intent {
	case IntentPricing:
		return fmt.Sprintf("Super! %s iti pregateste o oferta de pret. Ce serviciu te intereseaza?", company)
	case IntentBooking:
		return fmt.Sprintf("Perfect! Ce zi si interval orar ti s-ar potrivi pentru o programare la %s?", company)
	default:
		return fmt.Sprintf("Multumim pentru mesaj! Ca %s sa te ajute rapid, ne poti da mai multe detalii?", company)
	}
}

func handoverText(company, firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		return fmt.Sprintf("Multumim! Un coleg de la %s te va contacta in scurt timp.", company)
	}
	return fmt.Sprintf("Multumim, %s! Un coleg de la %s te va contacta in scurt timp.", name, company)
}

func acknowledgeText(company string) string {
	return fmt.Sprintf("Am notat mesajul tau. Un coleg de la %s revine imediat.", company)
}

// GreetingText is the first outbound message queued at lead ingestion.
func GreetingText(company, firstName string) string {
	name := strings.TrimSpace(firstName)
	greeting := "Buna!"
	if name != "" {
		greeting = fmt.Sprintf("Buna, %s!", name)
	}
	return fmt.Sprintf("%s Iti scriem de la %s. Raspunde cu 1 pentru preturi sau cu 2 pentru o programare.", greeting, company)
}

// rulesStep is the deterministic transition function shared by RULES mode
// and the AI planner's fallback path.
func rulesStep(state State, reply string, maxQuestions int, company, firstName string) Transition {
	if company == "" {
		company = DefaultCompanyName
	}

	// Absorbing node: further replies only acknowledge.
	if state.Node == NodeHandover {
		return Transition{
			Node:          NodeHandover,
			QuestionIndex: state.QuestionIndex,
			Text:          acknowledgeText(company),
			Intent:        IntentOther,
			AnswersUpdate: map[string]string{},
		}
	}

	nextIndex := state.QuestionIndex + 1
	budgetExhausted := nextIndex >= maxQuestions

	if state.Node == NodeStart {
		intent := DetectIntent(reply)
		update := map[string]string{"intent": intent}
		if budgetExhausted {
			return Transition{
				Node:          NodeHandover,
				QuestionIndex: nextIndex,
				Text:          handoverText(company, firstName),
				Intent:        intent,
				AnswersUpdate: update,
				Terminal:      true,
			}
		}
		return Transition{
			Node:          intentNode(intent),
			QuestionIndex: nextIndex,
			Text:          followUpText(intent, company),
			Intent:        intent,
			AnswersUpdate: update,
		}
	}

	// Intermediate node: store the raw reply under the node it answers.
	update := map[string]string{state.Node: strings.TrimSpace(reply)}
	if budgetExhausted {
		return Transition{
			Node:          NodeHandover,
			QuestionIndex: nextIndex,
			Text:          handoverText(company, firstName),
			Intent:        IntentOther,
			AnswersUpdate: update,
			Terminal:      true,
		}
	}
	return Transition{
		Node:          state.Node,
		QuestionIndex: nextIndex,
		Text:          fmt.Sprintf("Am notat. Mai sunt detalii utile pentru %s?", company),
		Intent:        IntentOther,
		AnswersUpdate: update,
	}
}
