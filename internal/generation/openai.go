package generation

import (
	"context"
	"net/http"
	"strings"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/rcliao/ham/internal/hamerr"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI generates with chat completions. Any compatible endpoint works
// through baseURL.
type OpenAI struct {
	client    openaigo.Client
	model     string
	maxTokens int64
	system    string
}

func NewOpenAI(apiKey, model, baseURL string, maxTokens int64, system string, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey)), option.WithMaxRetries(1)}
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{client: openaigo.NewClient(opts...), model: model, maxTokens: maxTokens, system: system}
}

func (o *OpenAI) Generate(ctx context.Context, query string, c map[string]any) (string, error) {
	params := openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(o.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(systemPrompt(o.system, c)),
			openaigo.UserMessage(query),
		},
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openaigo.Int(o.maxTokens)
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify("generation.openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", hamerr.New(hamerr.KindInvalid, "generation.openai", "no choices in response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", hamerr.New(hamerr.KindInvalid, "generation.openai", "empty response")
	}
	return text, nil
}
