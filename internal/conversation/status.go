package conversation

import (
	"strings"

	"voice-receptionist/internal/calls"
)

// terminalStatus maps a provider call status onto the stored one. ok is false
// for progress statuses (queued, ringing, in-progress) and unknown values.
func terminalStatus(providerStatus string) (calls.CallStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "completed":
		return calls.CallStatusCompleted, true
	case "failed", "busy":
		return calls.CallStatusFailed, true
	case "no-answer", "canceled":
		return calls.CallStatusNoAnswer, true
	default:
		return "", false
	}
}
