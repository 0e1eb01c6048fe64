package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIClient implements Client using the official OpenAI Go package's
// Responses API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a raw OpenAI client. Retry middleware is applied
// at a higher level.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements Client. The Responses API takes a single input string,
// so the conversation is flattened with role prefixes.
func (o *OpenAIClient) Complete(ctx context.Context, in Request) (Response, error) {
	if len(in.Messages) == 0 {
		return Response{}, NewError(ErrorTypeBadPrompt, "message list cannot be empty")
	}

	var input strings.Builder
	if in.System != "" {
		fmt.Fprintf(&input, "System: %s\n\n", in.System)
	}
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case RoleAssistant:
			fmt.Fprintf(&input, "Assistant: %s\n\n", msg.Content)
		default:
			input.WriteString(msg.Content)
			input.WriteString("\n\n")
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input.String())},
		Temperature:     openai.Float(float64(in.Temperature)),
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return Response{}, ClassifyError(err)
	}
	if resp == nil {
		return Response{}, NewError(ErrorTypeEmptyResponse, "nil response from OpenAI API")
	}

	text := resp.OutputText()
	if text == "" {
		return Response{}, NewError(ErrorTypeEmptyResponse, "response contained no output text")
	}

	return Response{
		Content: text,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// ModelName implements Client.
func (o *OpenAIClient) ModelName() string {
	return o.model
}
