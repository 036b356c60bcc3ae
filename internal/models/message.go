package models

// Role identifies which variant of the message union a stored entry holds.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a conversation history. The concrete types below are
// the only implementations; persistence dispatches on the stored variant tag,
// never on the Go type name.
type Message interface {
	Role() Role
	Text() string
}

// SystemMessage carries the persona instructions injected at the head of a
// conversation.
type SystemMessage struct {
	Content string
}

func (m SystemMessage) Role() Role   { return RoleSystem }
func (m SystemMessage) Text() string { return m.Content }

// UserMessage is a single user utterance.
type UserMessage struct {
	Content string
}

func (m UserMessage) Role() Role   { return RoleUser }
func (m UserMessage) Text() string { return m.Content }

// AssistantMessage is a model reply, optionally carrying the tool calls it
// requested and provider metadata.
type AssistantMessage struct {
	Content   string
	ToolCalls []ToolCall
	Metadata  map[string]any
}

func (m AssistantMessage) Role() Role   { return RoleAssistant }
func (m AssistantMessage) Text() string { return m.Content }

// ToolResultMessage holds the responses produced for a preceding assistant
// tool-call round.
type ToolResultMessage struct {
	Responses []ToolResponse
}

func (m ToolResultMessage) Role() Role   { return RoleTool }
func (m ToolResultMessage) Text() string { return "" }

// ToolCall records one tool invocation requested by the assistant.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolResponse records the outcome of one tool call.
type ToolResponse struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	ResponseData string `json:"responseData,omitempty"`
}
