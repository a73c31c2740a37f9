package telephony

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Parsers are provider-adapter-only; no business decisions here.

var ErrInvalidWebhook = errors.New("invalid webhook payload")

func ParseTwilioInboundCall(r *http.Request) (InboundCall, error) {
	if err := r.ParseForm(); err != nil {
		return InboundCall{}, err
	}
	in := InboundCall{
		ProviderCallID: strings.TrimSpace(r.PostFormValue("CallSid")),
		From:           normalizePhone(r.PostFormValue("From")),
		To:             normalizePhone(r.PostFormValue("To")),
	}
	if in.ProviderCallID == "" {
		return InboundCall{}, errors.Join(ErrInvalidWebhook, errors.New("CallSid missing"))
	}
	return in, nil
}

// ParseTwilioGather reads a Gather callback. The turn comes from the action
// URL query, the rest from the form body.
func ParseTwilioGather(r *http.Request) (SpeechResult, error) {
	if err := r.ParseForm(); err != nil {
		return SpeechResult{}, err
	}
	res := SpeechResult{
		ProviderCallID: strings.TrimSpace(r.PostFormValue("CallSid")),
		Speech:         strings.TrimSpace(r.PostFormValue("SpeechResult")),
	}
	if res.ProviderCallID == "" {
		return SpeechResult{}, errors.Join(ErrInvalidWebhook, errors.New("CallSid missing"))
	}

	turn, err := strconv.Atoi(r.URL.Query().Get("turn"))
	if err != nil || turn < 0 {
		return SpeechResult{}, errors.Join(ErrInvalidWebhook, errors.New("turn missing or invalid"))
	}
	res.Turn = turn

	if v := strings.TrimSpace(r.PostFormValue("Confidence")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			res.Confidence = f
		}
	}
	return res, nil
}

func ParseTwilioStatus(r *http.Request) (StatusUpdate, error) {
	if err := r.ParseForm(); err != nil {
		return StatusUpdate{}, err
	}
	u := StatusUpdate{
		ProviderCallID: strings.TrimSpace(r.PostFormValue("CallSid")),
		Status:         strings.TrimSpace(r.PostFormValue("CallStatus")),
		RecordingURL:   strings.TrimSpace(r.PostFormValue("RecordingUrl")),
	}
	if u.ProviderCallID == "" {
		return StatusUpdate{}, errors.Join(ErrInvalidWebhook, errors.New("CallSid missing"))
	}
	if v := strings.TrimSpace(r.PostFormValue("CallDuration")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return StatusUpdate{}, errors.Join(ErrInvalidWebhook, errors.New("CallDuration invalid"))
		}
		u.DurationSeconds = n
	}
	return u, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}
