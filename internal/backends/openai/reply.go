package openai

import (
	"context"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"voicegate-server-go/internal/backends"
	"voicegate-server-go/internal/platform/config"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

const defaultSystemPrompt = "You are a polite phone receptionist. Answer in one or two short " +
	"spoken sentences. Never use markdown, lists, or emoji; the reply is read aloud to a caller."

// ReplyGenerator produces the assistant's next utterance through the
// chat completion endpoint.
type ReplyGenerator struct {
	client       *goopenai.Client
	model        string
	systemPrompt string
	maxTokens    int
	logger       *logging.Logger
}

func NewReplyGenerator(cfg config.BackendConfig, logger *logging.Logger) (backends.ReplyGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.KindConfig, "openai.reply", "missing API key")
	}

	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.ModelName
	if model == "" {
		model = goopenai.GPT4oMini
	}

	prompt := defaultSystemPrompt
	if v, ok := cfg.Extra["system_prompt"].(string); ok && v != "" {
		prompt = v
	}
	maxTokens := 150
	if v, ok := cfg.Extra["max_tokens"].(int); ok && v > 0 {
		maxTokens = v
	}

	return &ReplyGenerator{
		client:       goopenai.NewClientWithConfig(clientConfig),
		model:        model,
		systemPrompt: prompt,
		maxTokens:    maxTokens,
		logger:       logger,
	}, nil
}

func (g *ReplyGenerator) Name() string { return "openai" }

func (g *ReplyGenerator) Reply(ctx context.Context, history []backends.Turn, userText string) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", errors.New(errors.KindInvalid, "openai.reply", "empty caller utterance")
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: g.systemPrompt,
	})
	for _, turn := range history {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: userText,
	})

	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		return "", errors.Wrap(errors.KindBackend, "openai.reply", "chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.KindBackend, "openai.reply", "empty completion response")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (g *ReplyGenerator) Close() error { return nil }
