package family

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/catalog"
	"github.com/dban0001/llmgateway/llm"
)

// googleFamily is the Gemini dialect: contents/parts message shape, a
// separate systemInstruction field, role "model" instead of "assistant",
// and (per spec §4.8) a non-SSE stream of concatenated JSON objects rather
// than `data:`-framed lines. Grounded on providers/gemini/provider.go, kept
// read-only.
type googleFamily struct{}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiWireRequest struct {
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

func convertGeminiContents(msgs []llm.Message) (*geminiContent, []geminiContent) {
	var systemInstruction *geminiContent
	var contents []geminiContent

	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			systemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}

		role := string(m.Role)
		if role == "assistant" {
			role = "model"
		}
		content := geminiContent{Role: role}

		if m.Content != "" {
			content.Parts = append(content.Parts, geminiPart{Text: m.Content})
		}

		for _, tc := range m.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Arguments, &args); err == nil {
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: args},
				})
			}
		}

		if m.Role == llm.RoleTool && m.ToolCallID != "" {
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]any{"result": m.Content}
			}
			content.Parts = append(content.Parts, geminiPart{
				FunctionResponse: &geminiFunctionResponse{Name: m.Name, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}

	return systemInstruction, contents
}

func convertGeminiTools(tools []llm.ToolSchema) []geminiTool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]geminiFunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		if err := json.Unmarshal(t.Parameters, &params); err == nil {
			declarations = append(declarations, geminiFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: params})
		}
	}
	if len(declarations) == 0 {
		return nil
	}
	return []geminiTool{{FunctionDeclarations: declarations}}
}

func (googleFamily) TranslateRequest(req *llm.ChatRequest, providerModelName string, scheme catalog.AuthScheme, token string) ([]byte, http.Header, error) {
	systemInstruction, contents := convertGeminiContents(req.Messages)

	wire := geminiWireRequest{
		Contents:          contents,
		Tools:             convertGeminiTools(req.Tools),
		SystemInstruction: systemInstruction,
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens > 0 {
		wire.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, nil, err
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if scheme == catalog.AuthBearer {
		headers.Set("Authorization", "Bearer "+token)
	}
	// AuthQueryParam (AI Studio's ?key=) is appended to the endpoint URL by
	// the dispatcher, not carried as a header.
	return body, headers, nil
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiWireResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ResponseID    string               `json:"responseId,omitempty"`
}

func (googleFamily) ParseUnary(statusCode int, body []byte) (*llm.ChatResponse, error) {
	var wire geminiWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}

	choices := make([]llm.ChatChoice, 0, len(wire.Candidates))
	for _, c := range wire.Candidates {
		msg := llm.Message{Role: llm.RoleAssistant}
		for _, part := range c.Content.Parts {
			if part.Text != "" {
				msg.Content += part.Text
			}
			if part.FunctionCall != nil {
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{Name: part.FunctionCall.Name, Arguments: argsJSON})
			}
		}
		choices = append(choices, llm.ChatChoice{Index: c.Index, FinishReason: mapFinishReason(c.FinishReason), Message: msg})
	}

	resp := &llm.ChatResponse{ID: wire.ResponseID, Object: "chat.completion", Choices: choices}
	if resp.ID == "" {
		resp.ID = syntheticID()
	}
	if wire.UsageMetadata != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     wire.UsageMetadata.PromptTokenCount,
			CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      wire.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}

// geminiStreamMaxObject caps a single concatenated-JSON object at 10 MiB;
// a malformed or runaway upstream object beyond that is dropped rather than
// grown without bound.
const geminiStreamMaxObject = 10 << 20

// googleStreamParser is new code: Gemini's streaming response is neither
// SSE nor newline-delimited JSON in the general case (upstream may split
// or coalesce objects across read boundaries), so this scans forward from
// the first '{' counting braces (ignoring those inside string literals)
// until the object closes, buffering more input as needed, bounded by
// geminiStreamMaxObject. The scan loop has no teacher counterpart.
type googleStreamParser struct {
	r       io.Reader
	buf     []byte
	pending []*llm.StreamChunk
	eof     bool
	logger  *zap.Logger
}

func (googleFamily) NewStreamParser(r io.Reader) StreamParser {
	return &googleStreamParser{r: r, buf: make([]byte, 0, 4096), logger: pkgLogger}
}

func (p *googleStreamParser) Next() (*llm.StreamChunk, error) {
	for {
		if len(p.pending) > 0 {
			c := p.pending[0]
			p.pending = p.pending[1:]
			return c, nil
		}

		obj, ok, err := p.nextObject()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, io.EOF
		}

		var wire geminiWireResponse
		if err := json.Unmarshal(obj, &wire); err != nil {
			continue
		}
		p.pending = toGoogleChunks(wire)
		if len(p.pending) == 0 {
			continue
		}
	}
}

func toGoogleChunks(wire geminiWireResponse) []*llm.StreamChunk {
	var chunks []*llm.StreamChunk
	for _, c := range wire.Candidates {
		chunk := &llm.StreamChunk{Index: c.Index, Delta: llm.Message{Role: llm.RoleAssistant}}
		if c.FinishReason != "" {
			chunk.FinishReason = mapFinishReason(c.FinishReason)
		}
		for _, part := range c.Content.Parts {
			if part.Text != "" {
				chunk.Delta.Content += part.Text
			}
			if part.FunctionCall != nil {
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, llm.ToolCall{Name: part.FunctionCall.Name, Arguments: argsJSON})
			}
		}
		chunks = append(chunks, chunk)
	}
	if wire.UsageMetadata != nil {
		chunks = append(chunks, &llm.StreamChunk{
			Usage: &llm.ChatUsage{
				PromptTokens:     wire.UsageMetadata.PromptTokenCount,
				CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      wire.UsageMetadata.TotalTokenCount,
			},
		})
	}
	return chunks
}

// nextObject locates the next top-level '{'...'}' JSON object in the
// stream, growing p.buf by reading more bytes as needed, up to
// geminiStreamMaxObject. Separator bytes (commas, brackets, whitespace
// Gemini wraps the stream in) are skipped.
func (p *googleStreamParser) nextObject() ([]byte, bool, error) {
	readChunk := make([]byte, 4096)

	for {
		if start, end, ok := scanBalancedObject(p.buf); ok {
			obj := append([]byte(nil), p.buf[start:end]...)
			p.buf = p.buf[end:]
			return obj, true, nil
		}
		if len(p.buf) > geminiStreamMaxObject {
			p.logger.Warn("gemini stream object exceeded max size, dropping buffer",
				zap.Int("buffered_bytes", len(p.buf)),
				zap.Int("max_object_bytes", geminiStreamMaxObject),
			)
			p.buf = nil
		}
		if p.eof {
			return nil, false, nil
		}
		n, err := p.r.Read(readChunk)
		if n > 0 {
			p.buf = append(p.buf, readChunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				p.eof = true
				continue
			}
			return nil, false, err
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// scanBalancedObject finds the first complete, brace-balanced JSON object
// in buf, respecting string quoting/escapes so braces inside string
// literals don't unbalance the count.
func scanBalancedObject(buf []byte) (start, end int, ok bool) {
	start = indexByte(buf, '{')
	if start < 0 {
		return 0, 0, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(buf); i++ {
		c := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1, true
			}
		}
	}
	return 0, 0, false
}
