package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/config"
	"voice-receptionist/internal/tenants"

	"github.com/sashabaranov/go-openai"
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// Message is one prior utterance in the conversation, oldest first.
type Message struct {
	Role Role
	Text string
}

// Policy decides the agent's next utterance.
type Policy interface {
	Respond(ctx context.Context, t tenants.Tenant, history []Message, latest string) (string, error)
}

var ErrDialogueUnavailable = errors.New("dialogue unavailable")

// ChatClient is the subset of *openai.Client the policy needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Settings struct {
	Model           string
	MaxTokens       int
	Temperature     float32
	PresencePenalty float32
}

func SettingsFromConfig(cfg config.OpenAIConfig) Settings {
	return Settings{
		Model:           cfg.ChatModel,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		PresencePenalty: cfg.PresencePenalty,
	}
}

// OpenAIPolicy answers with a single chat completion.
type OpenAIPolicy struct {
	client   ChatClient
	settings Settings
}

func NewOpenAIPolicy(client ChatClient, s Settings) *OpenAIPolicy {
	return &OpenAIPolicy{client: client, settings: s}
}

// NewOpenAIClient builds the shared API client; BaseURL overrides the
// default endpoint (proxies, tests).
func NewOpenAIClient(cfg config.OpenAIConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

func (p *OpenAIPolicy) Respond(ctx context.Context, t tenants.Tenant, history []Message, latest string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:           p.settings.Model,
		Messages:        BuildMessages(t, history, latest),
		MaxTokens:       p.settings.MaxTokens,
		Temperature:     p.settings.Temperature,
		PresencePenalty: p.settings.PresencePenalty,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDialogueUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrDialogueUnavailable)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrDialogueUnavailable)
	}
	return text, nil
}

// BuildMessages lays out system prompt, prior turns and the latest caller
// utterance in chat order.
func BuildMessages(t tenants.Tenant, history []Message, latest string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: BuildSystemPrompt(t),
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAgent {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: latest,
	})
	return msgs
}

// HistoryFromEntries converts stored transcript entries, already in canonical
// order, into policy history.
func HistoryFromEntries(entries []calls.Entry) []Message {
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		role := RoleCaller
		if e.Speaker == calls.SpeakerAgent {
			role = RoleAgent
		}
		out = append(out, Message{Role: role, Text: e.Message})
	}
	return out
}
