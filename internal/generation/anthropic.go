package generation

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rcliao/ham/internal/hamerr"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// Anthropic generates with the Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	system    string
}

func NewAnthropic(apiKey, model, baseURL string, maxTokens int64, system string, httpClient *http.Client) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: model, maxTokens: maxTokens, system: system}
}

func (a *Anthropic) Generate(ctx context.Context, query string, c map[string]any) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt(a.system, c)}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(query))},
	})
	if err != nil {
		return "", classify("generation.anthropic", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", hamerr.New(hamerr.KindInvalid, "generation.anthropic", "empty response")
	}
	return text, nil
}
