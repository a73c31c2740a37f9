package telephony

import (
	"bytes"
	"encoding/xml"
)

// TwiML is a minimal Twilio Markup Language renderer for VoiceResponse.
// It avoids any provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName             xml.Name `xml:"Gather"`
	Input               string   `xml:"input,attr"`
	Action              string   `xml:"action,attr"`
	Method              string   `xml:"method,attr"`
	Timeout             int      `xml:"timeout,attr"`
	SpeechTimeout       string   `xml:"speechTimeout,attr,omitempty"`
	ActionOnEmptyResult bool     `xml:"actionOnEmptyResult,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type RenderOptions struct {
	// SayVoice is the platform voice for text speaks, e.g. Polly.Joanna.
	SayVoice string
}

// RenderTwiML validates the response and maps it to TwiML.
// Listen becomes an empty speech Gather that posts even when nothing was
// heard, so silence reaches the speech handler instead of falling through.
func RenderTwiML(res VoiceResponse, opts RenderOptions) (string, error) {
	if err := res.Validate(); err != nil {
		return "", err
	}

	var r twimlResponse
	for _, in := range res.Instructions {
		switch v := in.(type) {
		case Speak:
			if v.AudioURL != "" {
				r.Verbs = append(r.Verbs, twimlPlay{URL: v.AudioURL})
			} else {
				r.Verbs = append(r.Verbs, twimlSay{Voice: opts.SayVoice, Text: v.Text})
			}
		case Listen:
			r.Verbs = append(r.Verbs, twimlGather{
				Input:               "speech",
				Action:              v.ActionURL,
				Method:              "POST",
				Timeout:             v.TimeoutSeconds,
				SpeechTimeout:       v.SpeechTimeout,
				ActionOnEmptyResult: true,
			})
		case Hangup:
			r.Verbs = append(r.Verbs, twimlHangup{})
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
