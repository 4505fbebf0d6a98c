// Package model provides a provider-agnostic client for turn-based LLM
// conversations with tool calling.
package model

import "time"

// ItemKind discriminates conversation items
type ItemKind string

const (
	// ItemMessage is a plain text message from a role
	ItemMessage ItemKind = "message"

	// ItemFunctionCall is a tool invocation requested by the model
	ItemFunctionCall ItemKind = "function_call"

	// ItemFunctionCallOutput is the recorded result of a tool invocation
	ItemFunctionCallOutput ItemKind = "function_call_output"

	// ItemReasoning is model reasoning text, never resent to the provider
	ItemReasoning ItemKind = "reasoning"
)

// Role identifies the author of a message item
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FunctionCall is a tool invocation requested by the model
type FunctionCall struct {
	// CallID correlates the call with its output item
	CallID string `json:"call_id"`

	// Name is the tool name
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload
	Arguments string `json:"arguments"`
}

// FunctionCallOutput records a tool invocation result
type FunctionCallOutput struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	Success bool   `json:"success"`
}

// ResponseItem is one entry in a conversation transcript
type ResponseItem struct {
	Kind    ItemKind            `json:"kind"`
	Role    Role                `json:"role,omitempty"`
	Content string              `json:"content,omitempty"`
	Call    *FunctionCall       `json:"call,omitempty"`
	Output  *FunctionCallOutput `json:"output,omitempty"`
}

// UserMessage builds a user message item
func UserMessage(content string) ResponseItem {
	return ResponseItem{Kind: ItemMessage, Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message item
func AssistantMessage(content string) ResponseItem {
	return ResponseItem{Kind: ItemMessage, Role: RoleAssistant, Content: content}
}

// FunctionCallItem builds a tool invocation item
func FunctionCallItem(callID, name, arguments string) ResponseItem {
	return ResponseItem{
		Kind: ItemFunctionCall,
		Call: &FunctionCall{CallID: callID, Name: name, Arguments: arguments},
	}
}

// FunctionCallOutputItem builds a tool result item
func FunctionCallOutputItem(callID, content string, success bool) ResponseItem {
	return ResponseItem{
		Kind:   ItemFunctionCallOutput,
		Output: &FunctionCallOutput{CallID: callID, Content: content, Success: success},
	}
}

// AbortedFunctionCallOutput builds the synthetic output recorded for a tool
// call that never produced a real result before its turn ended.
func AbortedFunctionCallOutput(callID string) ResponseItem {
	return FunctionCallOutputItem(callID, "aborted", false)
}

// ToolSpec describes one tool offered to the model
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Prompt is one model request: instructions, transcript, and available tools
type Prompt struct {
	Instructions string
	Input        []ResponseItem
	Tools        []ToolSpec
}

// TokenUsage reports token consumption for one completed request
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns combined input and output tokens
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage report into this one
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// StreamEventKind discriminates stream events
type StreamEventKind string

const (
	// EventItemDone carries one finished conversation item
	EventItemDone StreamEventKind = "item_done"

	// EventCompleted terminates a successful stream and carries usage
	EventCompleted StreamEventKind = "completed"
)

// StreamEvent is one event observed while consuming a model response
type StreamEvent struct {
	Kind  StreamEventKind
	Item  *ResponseItem
	Usage *TokenUsage
}

// RateLimitSnapshot reports provider rate-limit state when known
type RateLimitSnapshot struct {
	ResetAt time.Time
}
