package speech

import (
	"context"
	"errors"
)

// Voice is a TTS voice profile name. Empty means the synthesizer default.
type Voice string

// Synthesizer converts one utterance to encoded audio (mp3).
// Output for identical input is not guaranteed to be byte-identical.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

var (
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")
	ErrCacheMiss            = errors.New("speech cache miss")
)
