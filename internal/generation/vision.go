package generation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const UnknownFighter = "a mysterious fighter"

const describePrompt = "Describe the character in this image in 1 sentence. Focus on visual traits like clothing, hair, and accessories."

type Describer interface {
	Describe(ctx context.Context, imageURL string) (string, error)
}

// ChatVision describes an image with an OpenAI-compatible vision model.
type ChatVision struct {
	client openai.Client
	cfg    ChatConfig
}

func NewChatVision(cfg ChatConfig) *ChatVision {
	if cfg.Model == "" {
		cfg.Model = "meta/llama-3.2-11b-vision-instruct"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &ChatVision{client: openai.NewClient(opts...), cfg: cfg}
}

func (v *ChatVision) Describe(ctx context.Context, imageURL string) (string, error) {
	if imageURL == "" {
		return "", errors.New("no image to describe")
	}
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	resp, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(describePrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: imageURL}),
			}),
		},
		Model:       openai.ChatModel(v.cfg.Model),
		MaxTokens:   openai.Int(v.cfg.MaxTokens),
		Temperature: openai.Float(v.cfg.Temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return cleanDescription(resp.Choices[0].Message.Content), nil
}

func cleanDescription(s string) string {
	s = strings.ReplaceAll(s, "The character is ", "")
	s = strings.ReplaceAll(s, "The image shows ", "")
	return strings.TrimSpace(s)
}

// describeOrDefault never fails; a missing describer or a failed call yields
// UnknownFighter.
func describeOrDefault(ctx context.Context, d Describer, imageURL string) string {
	if d == nil || imageURL == "" {
		return UnknownFighter
	}
	desc, err := d.Describe(ctx, imageURL)
	if err != nil || desc == "" {
		slog.Warn("avatar description failed", "error", err)
		return UnknownFighter
	}
	return desc
}
