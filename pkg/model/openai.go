package model

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

// openAIClient implements Client for OpenAI
type openAIClient struct {
	client    openai.Client
	model     string
	maxTokens int
}

func newOpenAIClient(cfg Config) *openAIClient {
	return &openAIClient{
		client:    openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Provider returns the provider name
func (c *openAIClient) Provider() string {
	return "openai"
}

// Stream sends the prompt and replays the response as an event stream
func (c *openAIClient) Stream(ctx context.Context, prompt Prompt) (*Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: buildOpenAIMessages(prompt),
	}

	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	if len(prompt.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range prompt.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]

	items := []ResponseItem{}
	if choice.Message.Content != "" {
		items = append(items, AssistantMessage(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		items = append(items, FunctionCallItem(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	usage := TokenUsage{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
	}

	log.Debug().
		Str("model", c.model).
		Int("items", len(items)).
		Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).
		Msg("OpenAI response received")

	stream := NewStream(len(items) + 1)
	for i := range items {
		item := items[i]
		stream.Push(StreamEvent{Kind: EventItemDone, Item: &item})
	}
	stream.Push(StreamEvent{Kind: EventCompleted, Usage: &usage})
	stream.Close()

	return stream, nil
}

// buildOpenAIMessages converts a transcript to OpenAI chat messages. Tool
// invocations are folded into the assistant message that precedes them.
func buildOpenAIMessages(prompt Prompt) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if prompt.Instructions != "" {
		messages = append(messages, openai.SystemMessage(prompt.Instructions))
	}

	pendingContent := ""
	pendingCalls := []openai.ChatCompletionMessageToolCall{}
	flush := func() {
		if pendingContent == "" && len(pendingCalls) == 0 {
			return
		}
		if len(pendingCalls) == 0 {
			messages = append(messages, openai.AssistantMessage(pendingContent))
		} else {
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   pendingContent,
				ToolCalls: pendingCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		}
		pendingContent = ""
		pendingCalls = []openai.ChatCompletionMessageToolCall{}
	}

	for _, item := range prompt.Input {
		switch item.Kind {
		case ItemMessage:
			if item.Role == RoleAssistant {
				flush()
				pendingContent = item.Content
			} else {
				flush()
				messages = append(messages, openai.UserMessage(item.Content))
			}
		case ItemFunctionCall:
			pendingCalls = append(pendingCalls, openai.ChatCompletionMessageToolCall{
				ID:   item.Call.CallID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunction{
					Name:      item.Call.Name,
					Arguments: item.Call.Arguments,
				},
			})
		case ItemFunctionCallOutput:
			flush()
			messages = append(messages, openai.ToolMessage(item.Output.CallID, item.Output.Content))
		case ItemReasoning:
			// Reasoning is never resent
		}
	}
	flush()

	return messages
}
