package family

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/dban0001/llmgateway/catalog"
	"github.com/dban0001/llmgateway/llm"
)

// anthropicFamily is the Claude wire dialect: system prompt carried as a
// top-level field rather than a message, x-api-key/anthropic-version
// headers, max_tokens required, and an SSE event stream shaped differently
// from openai-family's. Grounded on providers/anthropic/provider.go, kept
// read-only; translation/parsing are extracted here, dispatch stays in the
// handler per spec §9.
type anthropicFamily struct{}

const anthropicVersion = "2023-06-01"

type anthropicMessage struct {
	Role    string              `json:"role"`
	Content []anthropicContent  `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicWireRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

func splitAnthropicMessages(msgs []llm.Message) (string, []anthropicMessage) {
	var system string
	var out []anthropicMessage

	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}

		if m.Role == llm.RoleTool {
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
			continue
		}

		am := anthropicMessage{Role: string(m.Role)}
		if m.Content != "" {
			am.Content = append(am.Content, anthropicContent{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			am.Content = append(am.Content, anthropicContent{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: tc.Arguments,
			})
		}
		if len(am.Content) > 0 {
			out = append(out, am)
		}
	}
	return system, out
}

func convertAnthropicTools(tools []llm.ToolSchema) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

func (anthropicFamily) TranslateRequest(req *llm.ChatRequest, providerModelName string, scheme catalog.AuthScheme, token string) ([]byte, http.Header, error) {
	system, messages := splitAnthropicMessages(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	wire := anthropicWireRequest{
		Model:       providerModelName,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Tools:       convertAnthropicTools(req.Tools),
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, nil, err
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("anthropic-version", anthropicVersion)
	headers.Set("x-api-key", token)
	return body, headers, nil
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicWireResponse struct {
	ID         string              `json:"id"`
	Role       string              `json:"role"`
	Content    []anthropicContent  `json:"content"`
	Model      string              `json:"model"`
	StopReason string              `json:"stop_reason"`
	Usage      *anthropicUsage     `json:"usage,omitempty"`
}

func (anthropicFamily) ParseUnary(statusCode int, body []byte) (*llm.ChatResponse, error) {
	var wire anthropicWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}

	msg := llm.Message{Role: llm.RoleAssistant}
	for _, c := range wire.Content {
		switch c.Type {
		case "text":
			msg.Content += c.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Input})
		}
	}

	resp := &llm.ChatResponse{
		ID:     wire.ID,
		Object: "chat.completion",
		Model:  wire.Model,
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: mapFinishReason(wire.StopReason),
			Message:      msg,
		}},
	}
	if resp.ID == "" {
		resp.ID = syntheticID()
	}
	if wire.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		}
	}
	return resp, nil
}

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index,omitempty"`
	Delta        *anthropicDelta        `json:"delta,omitempty"`
	ContentBlock *anthropicContent      `json:"content_block,omitempty"`
	Message      *anthropicWireResponse `json:"message,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// anthropicStreamParser replays the message_start / content_block_start /
// content_block_delta / content_block_stop / message_delta / message_stop
// event sequence into normalized StreamChunks.
type anthropicStreamParser struct {
	reader       *bufio.Reader
	currentID    string
	currentModel string
	tools        map[int]*llm.ToolCall
	pending      []*llm.StreamChunk
	done         bool
}

func (anthropicFamily) NewStreamParser(r io.Reader) StreamParser {
	return &anthropicStreamParser{
		reader: bufio.NewReader(r),
		tools:  make(map[int]*llm.ToolCall),
	}
}

func (p *anthropicStreamParser) Next() (*llm.StreamChunk, error) {
	if len(p.pending) > 0 {
		c := p.pending[0]
		p.pending = p.pending[1:]
		return c, nil
	}
	if p.done {
		return nil, io.EOF
	}

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				p.done = true
				return nil, io.EOF
			}
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			p.done = true
			return nil, io.EOF
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				p.currentID = event.Message.ID
				p.currentModel = event.Message.Model
			}
			continue

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				p.tools[event.Index] = &llm.ToolCall{
					ID:        event.ContentBlock.ID,
					Name:      event.ContentBlock.Name,
					Arguments: []byte(""),
				}
			}
			continue

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			chunk := &llm.StreamChunk{ID: p.currentID, Model: p.currentModel, Index: event.Index, Delta: llm.Message{Role: llm.RoleAssistant}}
			switch event.Delta.Type {
			case "text_delta":
				chunk.Delta.Content = event.Delta.Text
				return chunk, nil
			case "input_json_delta":
				if tc, ok := p.tools[event.Index]; ok {
					tc.Arguments = append(tc.Arguments, []byte(event.Delta.PartialJSON)...)
				}
				continue
			default:
				continue
			}

		case "content_block_stop":
			if tc, ok := p.tools[event.Index]; ok {
				delete(p.tools, event.Index)
				return &llm.StreamChunk{
					ID: p.currentID, Model: p.currentModel, Index: event.Index,
					Delta: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{*tc}},
				}, nil
			}
			continue

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				return &llm.StreamChunk{
					ID: p.currentID, Model: p.currentModel,
					FinishReason: mapFinishReason(event.Delta.StopReason),
				}, nil
			}
			continue

		case "message_stop":
			p.done = true
			if event.Usage != nil {
				return &llm.StreamChunk{
					ID: p.currentID, Model: p.currentModel,
					Usage: &llm.ChatUsage{
						PromptTokens:     event.Usage.InputTokens,
						CompletionTokens: event.Usage.OutputTokens,
						TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
					},
				}, nil
			}
			return nil, io.EOF

		default:
			continue
		}
	}
}
