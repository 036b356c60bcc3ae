package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stored variant tags. Earlier schema versions wrote the same tags, so these
// must not change without a migration.
const (
	tagSystem    = "SYSTEM"
	tagUser      = "USER"
	tagAssistant = "ASSISTANT"
	tagTool      = "TOOL"
)

// DecodeError reports a stored entry whose variant tag is not recognized, or a
// blob that is not a message array at all.
type DecodeError struct {
	Tag string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("decode message: unknown variant tag %q", e.Tag)
	}
	return fmt.Sprintf("decode messages: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// envelope is the persisted shape of a single message.
type envelope struct {
	MessageType string         `json:"messageType"`
	Text        string         `json:"text"`
	ToolCalls   []ToolCall     `json:"toolCalls,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Responses   []ToolResponse `json:"responses,omitempty"`
}

// rawEnvelope is the lenient decoding counterpart: optional fields stay raw so
// malformed ones degrade to empty values instead of failing the whole history.
type rawEnvelope struct {
	MessageType string          `json:"messageType"`
	Text        *string         `json:"text"`
	Content     *string         `json:"content"`
	ToolCalls   json.RawMessage `json:"toolCalls"`
	Metadata    json.RawMessage `json:"metadata"`
	Responses   json.RawMessage `json:"responses"`
}

// EncodeMessages serializes a history to the stored blob form.
func EncodeMessages(msgs []Message) (string, error) {
	envelopes := make([]envelope, 0, len(msgs))
	for _, msg := range msgs {
		env := envelope{Text: msg.Text()}
		switch m := msg.(type) {
		case SystemMessage:
			env.MessageType = tagSystem
		case UserMessage:
			env.MessageType = tagUser
		case AssistantMessage:
			env.MessageType = tagAssistant
			env.ToolCalls = m.ToolCalls
			env.Metadata = m.Metadata
		case ToolResultMessage:
			env.MessageType = tagTool
			env.Responses = m.Responses
		default:
			return "", fmt.Errorf("encode message: unsupported type %T", msg)
		}
		envelopes = append(envelopes, env)
	}
	data, err := json.Marshal(envelopes)
	if err != nil {
		return "", fmt.Errorf("encode messages: %w", err)
	}
	return string(data), nil
}

// DecodeMessages parses a stored blob back into a history. Missing optional
// fields decode to empty values; only an unrecognized variant tag (or a blob
// that is not an array of objects) is an error. The leniency keeps histories
// written under earlier schemas readable.
func DecodeMessages(blob string) ([]Message, error) {
	if strings.TrimSpace(blob) == "" {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal([]byte(blob), &raws); err != nil {
		return nil, &DecodeError{Err: err}
	}

	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var env rawEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, &DecodeError{Err: err}
		}

		text := ""
		if env.Text != nil {
			text = *env.Text
		} else if env.Content != nil {
			text = *env.Content
		}

		switch strings.ToUpper(env.MessageType) {
		case tagSystem:
			msgs = append(msgs, SystemMessage{Content: text})
		case tagUser:
			msgs = append(msgs, UserMessage{Content: text})
		case tagAssistant:
			msgs = append(msgs, AssistantMessage{
				Content:   text,
				ToolCalls: decodeToolCalls(env.ToolCalls),
				Metadata:  decodeMetadata(env.Metadata),
			})
		case tagTool:
			msgs = append(msgs, ToolResultMessage{Responses: decodeResponses(env.Responses)})
		default:
			return nil, &DecodeError{Tag: env.MessageType}
		}
	}
	return msgs, nil
}

func decodeToolCalls(raw json.RawMessage) []ToolCall {
	if len(raw) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	var calls []ToolCall
	for _, entry := range entries {
		var call ToolCall
		if err := json.Unmarshal(entry, &call); err != nil {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

func decodeMetadata(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	return meta
}

func decodeResponses(raw json.RawMessage) []ToolResponse {
	if len(raw) == 0 {
		return nil
	}
	var responses []ToolResponse
	if err := json.Unmarshal(raw, &responses); err != nil {
		return nil
	}
	return responses
}
