package auth

import (
	"errors"
	"fmt"
	"time"

	"voice-receptionist/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const mediaAudience = "media"

// MediaClaims authorize the telephony edge to fetch one synthesized utterance.
// The audio endpoint synthesizes only what a token names, so it is not an open
// TTS proxy.
type MediaClaims struct {
	jwt.RegisteredClaims

	CallID string `json:"call_id"`
	Voice  string `json:"voice,omitempty"`
	Text   string `json:"text"`
}

type MediaTokenManager struct {
	secret []byte
	ttl    time.Duration
}

var ErrInvalidMediaToken = errors.New("invalid media token")

func NewMediaTokenManager(cfg config.MediaConfig) (*MediaTokenManager, error) {
	if cfg.SigningSecret == "" {
		return nil, errors.New("MEDIA_SIGNING_SECRET is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MediaTokenManager{secret: []byte(cfg.SigningSecret), ttl: ttl}, nil
}

func (m *MediaTokenManager) Issue(now time.Time, callID, voice, text string) (string, error) {
	if callID == "" || text == "" {
		return "", fmt.Errorf("%w: call id and text are required", ErrInvalidMediaToken)
	}
	claims := MediaClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{mediaAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		CallID: callID,
		Voice:  voice,
		Text:   text,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

func (m *MediaTokenManager) Verify(tokenString string, now time.Time) (MediaClaims, error) {
	var claims MediaClaims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(mediaAudience),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return MediaClaims{}, fmt.Errorf("%w: %v", ErrInvalidMediaToken, err)
	}

	if claims.CallID == "" {
		return MediaClaims{}, fmt.Errorf("%w: call_id missing", ErrInvalidMediaToken)
	}
	if claims.Text == "" {
		return MediaClaims{}, fmt.Errorf("%w: text missing", ErrInvalidMediaToken)
	}
	return claims, nil
}
