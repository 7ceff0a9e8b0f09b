package family

import (
	"encoding/json"
	"strings"

	"github.com/dban0001/llmgateway/llm"
)

// mistralFamily is openai-family plus one wire quirk: when a JSON response
// format was requested, some Mistral models wrap the JSON payload in a
// ```json fenced code block instead of emitting bare JSON. ParseUnary
// unwraps the fence so the json_object contract still holds.
type mistralFamily struct {
	openAIFamily
}

func (m mistralFamily) ParseUnary(statusCode int, body []byte) (*llm.ChatResponse, error) {
	resp, err := m.openAIFamily.ParseUnary(statusCode, body)
	if err != nil {
		return nil, err
	}
	for i := range resp.Choices {
		resp.Choices[i].Message.Content = unwrapJSONFence(resp.Choices[i].Message.Content)
	}
	return resp, nil
}

func unwrapJSONFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var js json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &js); err != nil {
		return content
	}
	return trimmed
}
