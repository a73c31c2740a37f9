package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// SignatureValidator checks X-Twilio-Signature on provider webhooks.
//
// The signed payload is the full request URL followed by every POST parameter,
// sorted by name, as name+value with no separators. The signature is
// base64(HMAC-SHA1(auth token, payload)).
type SignatureValidator struct {
	authToken []byte
}

var ErrInvalidSignature = errors.New("invalid provider signature")

func NewSignatureValidator(authToken string) (*SignatureValidator, error) {
	if authToken == "" {
		return nil, errors.New("TWILIO_AUTH_TOKEN is required")
	}
	return &SignatureValidator{authToken: []byte(authToken)}, nil
}

func (v *SignatureValidator) Compute(fullURL string, params url.Values) string {
	var b strings.Builder
	b.WriteString(fullURL)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, val := range vals {
			b.WriteString(k)
			b.WriteString(val)
		}
	}

	mac := hmac.New(sha1.New, v.authToken)
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (v *SignatureValidator) Validate(fullURL string, params url.Values, signature string) error {
	if signature == "" {
		return ErrInvalidSignature
	}
	expected := v.Compute(fullURL, params)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
