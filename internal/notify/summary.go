package notify

import (
	"strings"
	"unicode/utf8"

	"voice-receptionist/internal/calls"
)

const (
	summaryPrefix   = "Caller said: "
	summaryFallback = "Call received - check transcript for details"
	summaryMaxRunes = 200
)

// Intents recorded on the call row. Dashboards filter on these strings.
const (
	IntentAppointment = "appointment"
	IntentQuote       = "quote"
	IntentEmergency   = "emergency"
	IntentInquiry     = "inquiry"
	IntentGeneral     = "general"
)

// Checked in order; the first intent with a matching keyword wins.
var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{IntentEmergency, []string{"emergency", "urgent", "asap", "flood", "leak", "burst", "no heat", "no power"}},
	{IntentAppointment, []string{"appointment", "schedule", "book", "reschedule", "cancel my", "available", "availability"}},
	{IntentQuote, []string{"quote", "estimate", "price", "how much", "cost"}},
	{IntentInquiry, []string{"hours", "open", "closed", "located", "address", "where are you", "do you"}},
}

var callbackPhrases = []string{
	"call me back", "call back", "callback", "give me a call", "reach me", "get back to me", "return my call",
}

// Summarize derives the stored summary from a finished call's transcript.
func Summarize(entries []calls.Entry) calls.Summary {
	s := calls.Summary{Text: summaryFallback, Intent: IntentGeneral}

	if first, ok := calls.FirstCallerMessage(entries); ok {
		s.Text = summaryPrefix + truncate(strings.TrimSpace(first), summaryMaxRunes)
	}

	var said strings.Builder
	for _, e := range entries {
		if e.Speaker != calls.SpeakerCaller || e.Message == calls.NoSpeech {
			continue
		}
		said.WriteString(strings.ToLower(e.Message))
		said.WriteByte(' ')
	}
	text := said.String()

	s.Intent = classifyIntent(text)
	s.CallbackRequested = containsAny(text, callbackPhrases)
	return s
}

func classifyIntent(lowered string) string {
	for _, k := range intentKeywords {
		if containsAny(lowered, k.keywords) {
			return k.intent
		}
	}
	return IntentGeneral
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
