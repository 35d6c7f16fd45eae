package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"ringtalk/internal/config"
	"ringtalk/internal/models"
)

// Generator produces the AI side of a practice conversation. The call
// lifecycle depends only on this interface, so a provider-backed model and
// the canned fallback are interchangeable.
type Generator interface {
	// OpeningLine produces the first AI utterance for a fresh session.
	OpeningLine(ctx context.Context, scenario string) (string, error)
	// Reply produces the next AI utterance given the full ordered turn
	// history and the latest user utterance.
	Reply(ctx context.Context, scenario string, history []models.Turn, userText string) (string, error)
}

// FromConfig picks the configured provider, or the canned generator when no
// provider credential is present. A missing credential is deliberately not a
// startup error.
func FromConfig(cfg *config.Config) (Generator, error) {
	name := cfg.BasicConfig.Provider
	if name == "" {
		return NewCannedGenerator(), nil
	}
	provCfg, ok := cfg.Providers[name]
	if !ok || provCfg.APIKey == "" {
		return NewCannedGenerator(), nil
	}
	return NewChatGenerator(name, provCfg)
}

// ChatGenerator drives a hosted chat model through the eino model interface.
type ChatGenerator struct {
	chatModel model.ToolCallingChatModel
}

// NewChatGenerator builds a generator for the named provider.
func NewChatGenerator(provider string, provCfg config.ProviderConfig) (*ChatGenerator, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 1024,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &ChatGenerator{chatModel: chatModel}, nil
}

func systemPrompt(scenario string) string {
	return fmt.Sprintf(
		"You are a friendly conversation partner in a voice practice call. "+
			"The scenario is %q. Stay in character, keep replies short and "+
			"spoken-sounding, one or two sentences, and gently keep the "+
			"conversation going.", scenario)
}

// OpeningLine asks the model for the line that opens the call.
func (g *ChatGenerator) OpeningLine(ctx context.Context, scenario string) (string, error) {
	messages := []*schema.Message{
		{Role: schema.System, Content: systemPrompt(scenario)},
		{Role: schema.User, Content: "Open the call with a natural greeting that fits the scenario."},
	}
	resp, err := g.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate opening line: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("generate opening line: empty response")
	}
	return text, nil
}

// Reply asks the model for the next line given everything said so far.
func (g *ChatGenerator) Reply(ctx context.Context, scenario string, history []models.Turn, userText string) (string, error) {
	messages := make([]*schema.Message, 0, 2*len(history)+2)
	messages = append(messages, &schema.Message{Role: schema.System, Content: systemPrompt(scenario)})
	for _, turn := range history {
		if turn.UserText != nil {
			messages = append(messages, &schema.Message{Role: schema.User, Content: *turn.UserText})
		}
		messages = append(messages, &schema.Message{Role: schema.Assistant, Content: turn.AIText})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: userText})

	resp, err := g.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("generate reply: empty response")
	}
	return text, nil
}
