package routing

import (
	"strings"

	"github.com/valtricai/consulting-engine/server/ai"
	"github.com/valtricai/consulting-engine/server/retrieval"
	"github.com/valtricai/consulting-engine/server/vector"
)

// systemPrompt is the base consulting instruction shared by every tier.
const systemPrompt = `You are a warm, experienced business advisor for small and mid-sized companies. Deliver concise, professional, actionable guidance across strategy, operations, growth, finance, hiring, tooling, and workflows. Assume limited time and resources; prefer pragmatic, stepwise recommendations with simple metrics and low-lift options.

Behaviors:
- Lead with the answer or decision; rationale follows.
- Use the lightest adequate response; expand only when complexity or stakes require.
- Quantify when possible; mark assumptions; avoid unfounded claims.
- Surface key risks with brief mitigations when stakes are high.
- Legal or financial determinations: general information only; recommend qualified professionals.
- Ground answers in the provided reference material when it is relevant; do not invent citations.
- One necessary question max per turn. Tone: clear, calm, directive, never curt.`

// personaBlocks are appended to the system prompt to shape tone and
// altitude per caller-selected persona.
var personaBlocks = map[Persona]string{
	PersonaAssociate:     "You are a Junior Consultant. Enthusiastic, detail-oriented, asks clarifying questions. Focus on tactical execution and operational details.",
	PersonaPartner:       "You are a Senior Consultant. Confident, strategic, balanced perspective. Balance strategic thinking with practical implementation.",
	PersonaSeniorPartner: "You are an Executive Consultant. Authoritative, big-picture focused, concise. Emphasize strategic implications and executive-level decisions.",
}

// formatEvidence serializes fused evidence as labeled text blocks. The
// global corpus renders under [Frameworks], the tenant corpus under
// [Client]. Returns "" when there is nothing to ground on.
func formatEvidence(evidence *retrieval.FusedEvidence) string {
	if evidence == nil || len(evidence.Candidates) == 0 {
		return ""
	}

	var frameworks, client []string
	for _, c := range evidence.Candidates {
		switch c.Source {
		case vector.SourceGlobal:
			frameworks = append(frameworks, "- "+c.Text)
		case vector.SourceTenant:
			client = append(client, "- "+c.Text)
		}
	}

	var b strings.Builder
	b.WriteString("Reference material:\n")
	if len(frameworks) > 0 {
		b.WriteString("\n[Frameworks]\n")
		b.WriteString(strings.Join(frameworks, "\n"))
		b.WriteString("\n")
	}
	if len(client) > 0 {
		b.WriteString("\n[Client]\n")
		b.WriteString(strings.Join(client, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// buildMessages assembles the provider message list: system instruction
// (base prompt + persona block + evidence), prior turns, then the query.
func buildMessages(query string, persona Persona, evidence *retrieval.FusedEvidence, history []ai.Message) []ai.Message {
	system := systemPrompt + "\n\n" + personaBlocks[persona]
	if ctx := formatEvidence(evidence); ctx != "" {
		system += "\n\n" + ctx
	}

	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, ai.Message{Role: "user", Content: query})
	return messages
}
