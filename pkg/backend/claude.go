package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// ClaudeBaseURL is the built-in upstream for the claude backend.
const ClaudeBaseURL = "https://api.anthropic.com"

// ClaudeProvider parses Anthropic Messages API request/response shapes.
// message_start carries model + input tokens, message_delta carries
// output tokens.
type ClaudeProvider struct{}

func (ClaudeProvider) Name() string           { return "claude" }
func (ClaudeProvider) DefaultBaseURL() string { return ClaudeBaseURL }
func (ClaudeProvider) SSEFormat() string      { return "anthropic" }

func (ClaudeProvider) ParseRequestMetadata(body []byte) RequestMetadata {
	var meta RequestMetadata
	var req struct {
		Model  string `json:"model"`
		System any    `json:"system"`
		Tools  []any  `json:"tools"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return meta
	}
	meta.Model = req.Model
	meta.HasSystemPrompt = req.System != nil
	meta.HasTools = len(req.Tools) > 0
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			meta.UserMessageCount++
		case "assistant":
			meta.AssistantMessageCount++
		}
	}
	return meta
}

func (ClaudeProvider) ParseResponseMetadata(body []byte, streaming bool) ResponseMetadata {
	var meta ResponseMetadata
	if streaming {
		scanner := bufio.NewScanner(bytes.NewReader(body))
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			var evt struct {
				Type    string          `json:"type"`
				Message json.RawMessage `json:"message"`
				Usage   *struct {
					InputTokens              int64 `json:"input_tokens"`
					OutputTokens             int64 `json:"output_tokens"`
					CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
					CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
				} `json:"usage"`
				Delta *struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				continue
			}
			switch evt.Type {
			case "message_start":
				var msg struct {
					Usage *struct {
						InputTokens              int64 `json:"input_tokens"`
						CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
						CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
					} `json:"usage"`
				}
				if json.Unmarshal(evt.Message, &msg) == nil && msg.Usage != nil {
					meta.InputTokens = msg.Usage.InputTokens
					meta.CacheReadTokens = msg.Usage.CacheReadInputTokens
					meta.CacheCreationTokens = msg.Usage.CacheCreationInputTokens
				}
			case "message_delta":
				if evt.Usage != nil {
					meta.OutputTokens = evt.Usage.OutputTokens
				}
				if evt.Delta != nil && evt.Delta.StopReason != "" {
					meta.StopReason = evt.Delta.StopReason
				}
			case "content_block_start":
				if bytes.Contains([]byte(data), []byte(`"type":"thinking"`)) {
					meta.HasThinking = true
				}
			}
		}
		return meta
	}

	var resp struct {
		StopReason string `json:"stop_reason"`
		Usage      *struct {
			InputTokens              int64 `json:"input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
			CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		} `json:"usage"`
		Content []struct {
			Type string `json:"type"`
		} `json:"content"`
	}
	if json.Unmarshal(body, &resp) != nil {
		return meta
	}
	meta.StopReason = resp.StopReason
	if resp.Usage != nil {
		meta.InputTokens = resp.Usage.InputTokens
		meta.OutputTokens = resp.Usage.OutputTokens
		meta.CacheReadTokens = resp.Usage.CacheReadInputTokens
		meta.CacheCreationTokens = resp.Usage.CacheCreationInputTokens
	}
	for _, c := range resp.Content {
		if c.Type == "thinking" {
			meta.HasThinking = true
		}
	}
	return meta
}

func (ClaudeProvider) ShouldLog(body []byte) bool {
	var req struct {
		Model    string `json:"model"`
		Messages []any  `json:"messages"`
	}
	if json.Unmarshal(body, &req) != nil {
		return false
	}
	return req.Model != "" && req.Messages != nil
}

func (ClaudeProvider) ExtraMetadata(requestBody, responseBody []byte, headers map[string][]string) map[string]any {
	return nil
}
