package dialogue

import (
	"strings"

	"voice-receptionist/internal/tenants"
)

const defaultInstructions = "Answer questions, take messages, help with appointments."

// BuildSystemPrompt renders the receptionist instructions for one tenant.
// The ground rules are fixed; only the business identity and free-text
// instructions vary per tenant.
func BuildSystemPrompt(t tenants.Tenant) string {
	var b strings.Builder

	b.WriteString("You're the receptionist at ")
	b.WriteString(t.BusinessName)
	if bt := strings.TrimSpace(t.BusinessType); bt != "" {
		b.WriteString(", a ")
		b.WriteString(bt)
		b.WriteString(" business")
	}
	b.WriteString(".\n\n")

	instr := strings.TrimSpace(t.AIInstructions)
	if instr == "" {
		instr = defaultInstructions
	}
	b.WriteString(instr)
	b.WriteString("\n\n")

	b.WriteString(`Rules:
- Reply in 1 short sentence
- Sound natural and conversational, use casual language
- Start responses with natural fillers like "Sure", "Of course", "Let me check", "Absolutely"
- Never ask for anything the caller already told you earlier in this conversation
- Be warm and friendly like talking to a neighbor
- If they want a callback: get their name and phone number, then confirm someone will call them back soon
- Before wrapping up, ask if there is anything else you can help with`)

	return b.String()
}
