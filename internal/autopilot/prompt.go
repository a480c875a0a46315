package autopilot

import (
	"strconv"
	"strings"
)

const previewMaxChars = 800

// PromptVars are the scenario context fields substituted into the tenant's
// prompt template.
type PromptVars struct {
	AgentName          string
	CompanyName        string
	CompanyDescription string
	OfferSummary       string
	CalendarLinkRaw    string
	LeadName           string
	MaxQuestions       int
}

// ResolvePrompt substitutes {variable} placeholders in the template. Missing
// values become empty strings; placeholder text never leaks into the output.
func ResolvePrompt(template string, vars PromptVars) string {
	replacer := strings.NewReplacer(
		"{agent_name}", strings.TrimSpace(vars.AgentName),
		"{company_name}", strings.TrimSpace(vars.CompanyName),
		"{company_description}", strings.TrimSpace(vars.CompanyDescription),
		"{offer_summary}", strings.TrimSpace(vars.OfferSummary),
		"{calendar_link_raw}", strings.TrimSpace(vars.CalendarLinkRaw),
		"{lead_name}", strings.TrimSpace(vars.LeadName),
		"{maxQuestions}", strconv.Itoa(vars.MaxQuestions),
	)
	return replacer.Replace(template)
}

// PromptPreview truncates a resolved prompt for audit-trail logging so large
// scripts do not bloat the event log.
func PromptPreview(resolved string) string {
	return truncateWithEllipsis(resolved, previewMaxChars)
}

func truncateWithEllipsis(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
