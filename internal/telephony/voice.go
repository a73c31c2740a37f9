package telephony

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Webhook routes, relative to the public base URL.
const (
	PathVoice  = "/webhooks/twilio/voice"
	PathGather = "/webhooks/twilio/gather"
	PathStatus = "/webhooks/twilio/status"
	PathAudio  = "/webhooks/twilio/audio"
)

// InboundCall is the provider's "call arrived" event.
type InboundCall struct {
	ProviderCallID string `json:"provider_call_id"`
	From           string `json:"from"`
	To             string `json:"to"`
}

// SpeechResult is the provider's recognition result for one listen.
// Turn echoes the turn the listen was issued for; Speech is empty when
// nothing was heard.
type SpeechResult struct {
	ProviderCallID string  `json:"provider_call_id"`
	Turn           int     `json:"turn"`
	Speech         string  `json:"speech"`
	Confidence     float64 `json:"confidence"`
}

// StatusUpdate is a call-status callback. Status is the provider's raw value.
type StatusUpdate struct {
	ProviderCallID  string `json:"provider_call_id"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
	RecordingURL    string `json:"recording_url"`
}

// Instruction is one speak/listen/hangup directive.
type Instruction interface {
	kind() string
}

// Speak plays synthesized audio (AudioURL) or has the platform read Text.
// Exactly one must be set.
type Speak struct {
	AudioURL string
	Text     string
}

// Listen waits for caller speech and posts the result to ActionURL.
type Listen struct {
	TimeoutSeconds int
	SpeechTimeout  string
	ActionURL      string
}

type Hangup struct{}

func (Speak) kind() string  { return "speak" }
func (Listen) kind() string { return "listen" }
func (Hangup) kind() string { return "hangup" }

// VoiceResponse is the ordered instruction list returned for one webhook.
type VoiceResponse struct {
	Instructions []Instruction
}

func NewResponse() *VoiceResponse { return &VoiceResponse{} }

func (r *VoiceResponse) Play(audioURL string) *VoiceResponse {
	r.Instructions = append(r.Instructions, Speak{AudioURL: audioURL})
	return r
}

func (r *VoiceResponse) Say(text string) *VoiceResponse {
	r.Instructions = append(r.Instructions, Speak{Text: text})
	return r
}

func (r *VoiceResponse) Speak(s Speak) *VoiceResponse {
	r.Instructions = append(r.Instructions, s)
	return r
}

func (r *VoiceResponse) Listen(l Listen) *VoiceResponse {
	r.Instructions = append(r.Instructions, l)
	return r
}

func (r *VoiceResponse) Hangup() *VoiceResponse {
	r.Instructions = append(r.Instructions, Hangup{})
	return r
}

var ErrInvalidResponse = errors.New("invalid voice response")

// Validate enforces sequencing: a response ends with exactly one listen or
// hangup, nothing follows it, and a listen is directly preceded by a speak.
func (r VoiceResponse) Validate() error {
	if len(r.Instructions) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidResponse)
	}
	last := len(r.Instructions) - 1
	for i, in := range r.Instructions {
		switch v := in.(type) {
		case Speak:
			if (v.AudioURL == "") == (v.Text == "") {
				return fmt.Errorf("%w: speak %d needs exactly one of audio or text", ErrInvalidResponse, i)
			}
			if i == last {
				return fmt.Errorf("%w: speak must be followed by listen or hangup", ErrInvalidResponse)
			}
		case Listen:
			if i != last {
				return fmt.Errorf("%w: nothing may follow listen", ErrInvalidResponse)
			}
			if i == 0 {
				return fmt.Errorf("%w: listen must be preceded by speak", ErrInvalidResponse)
			}
			if _, ok := r.Instructions[i-1].(Speak); !ok {
				return fmt.Errorf("%w: listen must be preceded by speak", ErrInvalidResponse)
			}
			if v.ActionURL == "" || v.TimeoutSeconds <= 0 {
				return fmt.Errorf("%w: listen needs action url and timeout", ErrInvalidResponse)
			}
		case Hangup:
			if i != last {
				return fmt.Errorf("%w: nothing may follow hangup", ErrInvalidResponse)
			}
		default:
			return fmt.Errorf("%w: unknown instruction %T", ErrInvalidResponse, in)
		}
	}
	return nil
}

// Kinds lists instruction kinds in order, e.g. ["speak", "listen"].
func (r VoiceResponse) Kinds() []string {
	out := make([]string, 0, len(r.Instructions))
	for _, in := range r.Instructions {
		out = append(out, in.kind())
	}
	return out
}

// Speaks returns the speak instructions in order.
func (r VoiceResponse) Speaks() []Speak {
	var out []Speak
	for _, in := range r.Instructions {
		if s, ok := in.(Speak); ok {
			out = append(out, s)
		}
	}
	return out
}

// ListenInstruction returns the trailing listen, if any.
func (r VoiceResponse) ListenInstruction() (Listen, bool) {
	if len(r.Instructions) == 0 {
		return Listen{}, false
	}
	l, ok := r.Instructions[len(r.Instructions)-1].(Listen)
	return l, ok
}

func (r VoiceResponse) EndsWithHangup() bool {
	if len(r.Instructions) == 0 {
		return false
	}
	_, ok := r.Instructions[len(r.Instructions)-1].(Hangup)
	return ok
}

// GatherURL is the listen action for the given turn.
func GatherURL(baseURL string, turn int) string {
	return strings.TrimRight(baseURL, "/") + PathGather + "?turn=" + strconv.Itoa(turn)
}

// AudioURL is the media fetch URL for a signed media token.
func AudioURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + PathAudio + "?token=" + url.QueryEscape(token)
}
