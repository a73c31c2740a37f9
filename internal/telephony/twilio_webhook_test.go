package telephony

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func formRequest(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseTwilioInboundCall(t *testing.T) {
	r := formRequest(PathVoice, "CallSid=CA123&From=%2B15551234567&To=%2B15557654321")

	in, err := ParseTwilioInboundCall(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if in.ProviderCallID != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if in.From != "+15551234567" || in.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", in.From, in.To)
	}

	if _, err := ParseTwilioInboundCall(formRequest(PathVoice, "From=x")); !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("expected invalid webhook, got %v", err)
	}
}

func TestParseTwilioGather(t *testing.T) {
	r := formRequest(PathGather+"?turn=2", "CallSid=CA1&SpeechResult=+I+need+a+callback+&Confidence=0.91")
	res, err := ParseTwilioGather(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Turn != 2 || res.Speech != "I need a callback" || res.Confidence != 0.91 {
		t.Fatalf("unexpected result: %+v", res)
	}

	empty, err := ParseTwilioGather(formRequest(PathGather+"?turn=0", "CallSid=CA1"))
	if err != nil || empty.Speech != "" {
		t.Fatalf("expected empty speech accepted, got %+v %v", empty, err)
	}

	if _, err := ParseTwilioGather(formRequest(PathGather, "CallSid=CA1")); !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("expected missing turn rejected, got %v", err)
	}
}

func TestParseTwilioStatus(t *testing.T) {
	r := formRequest(PathStatus, "CallSid=CA1&CallStatus=completed&CallDuration=42&RecordingUrl=https%3A%2F%2Frec%2F1")
	u, err := ParseTwilioStatus(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if u.Status != "completed" || u.DurationSeconds != 42 || u.RecordingURL != "https://rec/1" {
		t.Fatalf("unexpected update: %+v", u)
	}

	if _, err := ParseTwilioStatus(formRequest(PathStatus, "CallSid=CA1&CallDuration=-3")); !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("expected bad duration rejected, got %v", err)
	}
}
