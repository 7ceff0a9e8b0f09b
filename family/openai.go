package family

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dban0001/llmgateway/catalog"
	"github.com/dban0001/llmgateway/llm"
)

// openAIFamily is the pass-through dialect used by OpenAI, DeepSeek,
// Perplexity, Groq, Together, Inference.net, Alibaba, xAI, Moonshot, and
// operator-defined custom endpoints (spec §4.7). Grounded on the wire
// shapes the teacher's now-deleted llm/providers/openaicompat package
// produced — themselves already OpenAI-compatible, so this is closer to
// re-deriving the contract from spec §6.1 than adapting teacher code.
type openAIFamily struct{}

type openAIWireRequest struct {
	Model            string          `json:"model"`
	Messages         []llm.Message   `json:"messages"`
	Stream           bool            `json:"stream,omitempty"`
	Temperature      *float32        `json:"temperature,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	TopP             *float32        `json:"top_p,omitempty"`
	FrequencyPenalty *float32        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32        `json:"presence_penalty,omitempty"`
	ResponseFormat   *llm.ResponseFormat `json:"response_format,omitempty"`
	Tools            []llm.ToolSchema    `json:"tools,omitempty"`
	ToolChoice       any                  `json:"tool_choice,omitempty"`
	ReasoningEffort  string               `json:"reasoning_effort,omitempty"`
}

func (openAIFamily) TranslateRequest(req *llm.ChatRequest, providerModelName string, scheme catalog.AuthScheme, token string) ([]byte, http.Header, error) {
	wire := openAIWireRequest{
		Model:            providerModelName,
		Messages:         req.Messages,
		Stream:           req.Stream,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		ResponseFormat:   req.ResponseFormat,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
		ReasoningEffort:  req.ReasoningEffort,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, nil, err
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	switch scheme {
	case catalog.AuthBearer:
		headers.Set("Authorization", "Bearer "+token)
	case catalog.AuthHeader:
		headers.Set("x-api-key", token)
	}
	return body, headers, nil
}

type openAIWireChoice struct {
	Index        int        `json:"index"`
	FinishReason string     `json:"finish_reason"`
	Message      llm.Message `json:"message"`
}

type openAIWireUsage struct {
	PromptTokens        int  `json:"prompt_tokens"`
	CompletionTokens    int  `json:"completion_tokens"`
	TotalTokens         int  `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details,omitempty"`
}

type openAIWireResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIWireChoice `json:"choices"`
	Usage   *openAIWireUsage   `json:"usage"`
}

func (openAIFamily) ParseUnary(statusCode int, body []byte) (*llm.ChatResponse, error) {
	var wire openAIWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	resp := &llm.ChatResponse{
		ID:      wire.ID,
		Object:  "chat.completion",
		Model:   wire.Model,
		Created: wire.Created,
	}
	if resp.ID == "" {
		resp.ID = syntheticID()
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	for _, c := range wire.Choices {
		resp.Choices = append(resp.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: mapFinishReason(c.FinishReason),
			Message:      c.Message,
		})
	}
	if wire.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
		if wire.Usage.PromptTokensDetails != nil {
			resp.Usage.CachedTokens = wire.Usage.PromptTokensDetails.CachedTokens
		}
		if wire.Usage.CompletionTokensDetails != nil {
			resp.Usage.ReasoningTokens = wire.Usage.CompletionTokensDetails.ReasoningTokens
		}
	}
	return resp, nil
}

// openAIStreamParser consumes `data: <json>` SSE lines delimited by `\n`,
// terminating on `data: [DONE]` (spec §4.8).
type openAIStreamParser struct {
	scanner *bufio.Scanner
	tools   map[int]*llm.ToolCall
}

func (openAIFamily) NewStreamParser(r io.Reader) StreamParser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &openAIStreamParser{scanner: sc, tools: make(map[int]*llm.ToolCall)}
}

type openAIWireChunkChoice struct {
	Index        int         `json:"index"`
	Delta        openAIDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openAIDelta struct {
	Role      string              `json:"role,omitempty"`
	Content   string              `json:"content,omitempty"`
	ToolCalls []openAIDeltaToolCall `json:"tool_calls,omitempty"`
}

type openAIDeltaToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAIWireChunk struct {
	ID      string                  `json:"id"`
	Model   string                  `json:"model"`
	Created int64                   `json:"created"`
	Choices []openAIWireChunkChoice `json:"choices"`
	Usage   *openAIWireUsage        `json:"usage"`
}

func (p *openAIStreamParser) Next() (*llm.StreamChunk, error) {
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil, io.EOF
		}

		var wire openAIWireChunk
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			continue
		}

		chunk := &llm.StreamChunk{ID: wire.ID, Model: wire.Model, Created: wire.Created}
		if wire.Usage != nil {
			chunk.Usage = &llm.ChatUsage{
				PromptTokens:     wire.Usage.PromptTokens,
				CompletionTokens: wire.Usage.CompletionTokens,
				TotalTokens:      wire.Usage.TotalTokens,
			}
		}
		if len(wire.Choices) == 0 {
			if chunk.Usage != nil {
				return chunk, nil
			}
			continue
		}

		c := wire.Choices[0]
		chunk.Index = c.Index
		chunk.Delta = llm.Message{Role: llm.RoleAssistant, Content: c.Delta.Content}
		if c.FinishReason != "" {
			chunk.FinishReason = mapFinishReason(c.FinishReason)
		}

		for _, tc := range c.Delta.ToolCalls {
			acc, ok := p.tools[tc.Index]
			if !ok {
				acc = &llm.ToolCall{Arguments: []byte("")}
				p.tools[tc.Index] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = tc.Function.Name
			}
			acc.Arguments = append(acc.Arguments, []byte(tc.Function.Arguments)...)
			chunk.Delta.ToolCalls = []llm.ToolCall{*acc}
		}

		return chunk, nil
	}
	if err := p.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

var syntheticIDCounter uint64

func syntheticID() string {
	syntheticIDCounter++
	return "chatcmpl-" + strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(syntheticIDCounter, 36)
}
