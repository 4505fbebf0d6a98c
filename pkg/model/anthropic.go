package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
)

// anthropicClient implements Client for Anthropic Claude
type anthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

func newAnthropicClient(cfg Config) *anthropicClient {
	return &anthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Provider returns the provider name
func (c *anthropicClient) Provider() string {
	return "anthropic"
}

// Stream sends the prompt and replays the response as an event stream
func (c *anthropicClient) Stream(ctx context.Context, prompt Prompt) (*Stream, error) {
	anthropicMessages, err := buildAnthropicMessages(prompt)
	if err != nil {
		return nil, err
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  anthropicMessages,
		MaxTokens: int64(c.maxTokens),
	}

	if prompt.Instructions != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: prompt.Instructions},
		}
	}

	if len(prompt.Tools) > 0 {
		tools := []anthropic.ToolUnionParam{}
		for _, tool := range prompt.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.InputSchema["properties"],
				},
			}

			if required, ok := tool.InputSchema["required"]; ok {
				if reqSlice, ok := required.([]interface{}); ok {
					strSlice := make([]string, len(reqSlice))
					for i, v := range reqSlice {
						strSlice[i] = v.(string)
					}
					toolParam.InputSchema.Required = strSlice
				}
			}

			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		reqParams.Tools = tools
	}

	response, err := c.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	items := []ResponseItem{}
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			items = append(items, AssistantMessage(b.Text))
		case anthropic.ToolUseBlock:
			items = append(items, FunctionCallItem(b.ID, b.Name, b.JSON.Input.Raw()))
		}
	}

	usage := TokenUsage{
		InputTokens:  int(response.Usage.InputTokens),
		OutputTokens: int(response.Usage.OutputTokens),
	}

	log.Debug().
		Str("model", c.model).
		Int("items", len(items)).
		Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).
		Msg("Anthropic response received")

	stream := NewStream(len(items) + 1)
	for i := range items {
		item := items[i]
		stream.Push(StreamEvent{Kind: EventItemDone, Item: &item})
	}
	stream.Push(StreamEvent{Kind: EventCompleted, Usage: &usage})
	stream.Close()

	return stream, nil
}

// buildAnthropicMessages converts a transcript to Anthropic messages. Tool
// invocations are folded into the assistant message that precedes them.
func buildAnthropicMessages(prompt Prompt) ([]anthropic.MessageParam, error) {
	messages := []anthropic.MessageParam{}

	pendingBlocks := []anthropic.ContentBlockParamUnion{}
	flush := func() {
		if len(pendingBlocks) == 0 {
			return
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleAssistant,
			Content: pendingBlocks,
		})
		pendingBlocks = []anthropic.ContentBlockParamUnion{}
	}

	for _, item := range prompt.Input {
		switch item.Kind {
		case ItemMessage:
			if item.Role == RoleAssistant {
				flush()
				pendingBlocks = append(pendingBlocks, anthropic.NewTextBlock(item.Content))
			} else {
				flush()
				messages = append(messages, anthropic.NewUserMessage(
					anthropic.NewTextBlock(item.Content),
				))
			}
		case ItemFunctionCall:
			var input map[string]interface{}
			if err := json.Unmarshal([]byte(item.Call.Arguments), &input); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments for %s: %w", item.Call.Name, err)
			}
			pendingBlocks = append(pendingBlocks, anthropic.NewToolUseBlock(item.Call.CallID, input, item.Call.Name))
		case ItemFunctionCallOutput:
			flush()
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(item.Output.CallID, item.Output.Content, !item.Output.Success),
			))
		case ItemReasoning:
			// Reasoning is never resent
		}
	}
	flush()

	return messages, nil
}
