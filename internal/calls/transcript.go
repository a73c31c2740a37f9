package calls

import "strings"

// FlattenTranscript renders entries as the human-readable transcript:
// "Caller: ...\nAI: ..." with a blank line between turns.
func FlattenTranscript(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			if e.Speaker == SpeakerCaller {
				b.WriteString("\n\n")
			} else {
				b.WriteString("\n")
			}
		}
		b.WriteString(e.Speaker.Label())
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (s Speaker) Label() string {
	switch s {
	case SpeakerCaller:
		return "Caller"
	case SpeakerAgent:
		return "AI"
	default:
		return string(s)
	}
}

// LastAgentMessage returns the most recent agent utterance, if any.
func LastAgentMessage(entries []Entry) (string, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Speaker == SpeakerAgent {
			return entries[i].Message, true
		}
	}
	return "", false
}

// FirstCallerMessage returns the earliest caller utterance, if any. Silent
// turns do not count.
func FirstCallerMessage(entries []Entry) (string, bool) {
	for _, e := range entries {
		if e.Speaker == SpeakerCaller && e.Message != NoSpeech {
			return e.Message, true
		}
	}
	return "", false
}
