package speech

import (
	"context"
	"fmt"
	"io"
	"strings"

	"voice-receptionist/internal/config"

	"github.com/sashabaranov/go-openai"
)

// SpeechClient is the subset of *openai.Client used for TTS.
type SpeechClient interface {
	CreateSpeech(ctx context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error)
}

type OpenAISynthesizer struct {
	client       SpeechClient
	model        string
	defaultVoice Voice
	speed        float64
}

func NewOpenAISynthesizer(client SpeechClient, cfg config.OpenAIConfig) *OpenAISynthesizer {
	return &OpenAISynthesizer{
		client:       client,
		model:        cfg.TTSModel,
		defaultVoice: Voice(cfg.TTSVoice),
		speed:        cfg.TTSSpeed,
	}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesisUnavailable)
	}
	if voice == "" {
		voice = s.defaultVoice
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          s.speed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrSynthesisUnavailable, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrSynthesisUnavailable)
	}
	return audio, nil
}
