package models

import "time"

// ModelResponseLog is the durable record of one chat-bridge call: the
// request sent, the raw response received, and — once the validator has
// run — the verdict stamped onto it. The row must exist before a verdict
// can be stamped, so callers always flush the request/response pair
// before looking the row up to attach a verdict.
type ModelResponseLog struct {
	ID            string     `json:"id"`
	OperationKey  string     `json:"operation_key"`
	ModelName     string     `json:"model_name"`
	RequestJSON   string     `json:"request_json"`
	ResponseJSON  string     `json:"response_json"`
	Attempt       int        `json:"attempt"`
	Verdict       string     `json:"verdict,omitempty"`
	VerdictDetail string     `json:"verdict_detail,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	VerdictAt     *time.Time `json:"verdict_at,omitempty"`
}

// ToolCall is a single structured function-call request emitted by a
// model's response, matching both OpenAI's and Ollama's native
// tool_calls[] wire shape.
type ToolCall struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// ConversationMessage is one turn of a chat-bridge conversation: a role,
// textual content, and — for assistant turns produced mid ReAct loop —
// any tool calls the model requested, or for tool-role turns, the result
// being fed back for the matching call id.
type ConversationMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// GenerateResult is what the chat bridge returns for a single completion
// call: the assistant's text (if any), any tool calls it requested,
// which candidate model actually answered (set by the fallback
// controller once a candidate succeeds), and the id of the
// ModelResponseLog row the bridge flushed before returning — the only
// handle a later verdict-stamping step has to find that row again.
type GenerateResult struct {
	Content   string
	ToolCalls []ToolCall
	ModelUsed string
	LogID     string
}
