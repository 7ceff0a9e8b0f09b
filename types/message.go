// Package types provides core types used across the gateway.
// This package has ZERO dependencies on other gateway packages to avoid circular imports.
// All other packages should import types from here.
package types

import (
	"encoding/json"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a tool invocation request from the LLM.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ImageContent represents image data for multimodal messages.
type ImageContent struct {
	Type string `json:"type"` // "url" or "base64"
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"` // base64 encoded
}

// ContentPart is one element of a multipart message content array, used when
// a client sends `content` as `[{type:"text",...},{type:"image_url",...}]`
// instead of a plain string.
type ContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ImageContent `json:"image_url,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	Parts      []ContentPart  `json:"-"` // populated when the wire form of Content was an array
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Images     []ImageContent `json:"images,omitempty"`
	Metadata   any            `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
}

// messageWire mirrors Message but lets Content arrive as either a JSON string
// or an array of {type, text|image_url} parts, matching the OpenAI chat
// message contract.
type messageWire struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// UnmarshalJSON accepts both string and multipart-array content, flattening
// multipart text into Content and retaining the raw parts in Parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Role = wire.Role
	m.Name = wire.Name
	m.ToolCalls = wire.ToolCalls
	m.ToolCallID = wire.ToolCallID

	if len(wire.Content) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(wire.Content, &asString); err == nil {
		m.Content = asString
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(wire.Content, &parts); err != nil {
		return err
	}
	m.Parts = parts
	var sb []byte
	for _, p := range parts {
		if p.Type == "text" {
			sb = append(sb, p.Text...)
		}
	}
	m.Content = string(sb)
	return nil
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolMessage creates a new tool result message.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: toolCallID,
		Timestamp:  time.Now(),
	}
}

// WithToolCalls adds tool calls to the message.
func (m Message) WithToolCalls(calls []ToolCall) Message {
	m.ToolCalls = calls
	return m
}

// WithImages adds images to the message.
func (m Message) WithImages(images []ImageContent) Message {
	m.Images = images
	return m
}

// WithMetadata adds metadata to the message.
func (m Message) WithMetadata(metadata any) Message {
	m.Metadata = metadata
	return m
}
