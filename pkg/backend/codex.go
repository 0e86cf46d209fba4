package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// CodexBaseURL is the built-in upstream for the codex backend.
const CodexBaseURL = "https://chatgpt.com/backend-api/codex"

// CodexProvider parses the Codex Responses API shape: an "input" array
// of typed items instead of Claude's flat "messages" array, and
// function-call tracking across response.output_item.added /
// response.function_call_arguments.delta SSE events.
type CodexProvider struct{}

func (CodexProvider) Name() string           { return "codex" }
func (CodexProvider) DefaultBaseURL() string { return CodexBaseURL }
func (CodexProvider) SSEFormat() string      { return "codex" }

func (CodexProvider) ParseRequestMetadata(body []byte) RequestMetadata {
	var meta RequestMetadata
	var req struct {
		Model        string `json:"model"`
		Instructions *string `json:"instructions"`
		Tools        []any  `json:"tools"`
		Input        []struct {
			Type string `json:"type"`
			Role string `json:"role"`
		} `json:"input"`
	}
	if json.Unmarshal(body, &req) != nil {
		return meta
	}
	meta.Model = req.Model
	meta.HasSystemPrompt = req.Instructions != nil
	meta.HasTools = len(req.Tools) > 0
	for _, item := range req.Input {
		if item.Type != "message" {
			continue
		}
		switch item.Role {
		case "user":
			meta.UserMessageCount++
		case "assistant":
			meta.AssistantMessageCount++
		}
	}
	return meta
}

func (CodexProvider) ParseResponseMetadata(body []byte, streaming bool) ResponseMetadata {
	var meta ResponseMetadata
	if !streaming {
		var resp struct {
			Status string `json:"status"`
			Output []struct {
				Type string `json:"type"`
			} `json:"output"`
			Usage *struct {
				InputTokens        int64 `json:"input_tokens"`
				OutputTokens       int64 `json:"output_tokens"`
				InputTokensDetails *struct {
					CachedTokens int64 `json:"cached_tokens"`
				} `json:"input_tokens_details"`
			} `json:"usage"`
		}
		if json.Unmarshal(body, &resp) != nil {
			return meta
		}
		meta.StopReason = resp.Status
		for _, o := range resp.Output {
			if o.Type == "reasoning" {
				meta.HasThinking = true
			}
		}
		if resp.Usage != nil {
			meta.InputTokens = resp.Usage.InputTokens
			meta.OutputTokens = resp.Usage.OutputTokens
			if resp.Usage.InputTokensDetails != nil {
				meta.CacheReadTokens = resp.Usage.InputTokensDetails.CachedTokens
			}
		}
		return meta
	}

	meta.HasThinking = bytes.Contains(body, []byte(`"type":"reasoning"`))

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		var evt struct {
			Type     string `json:"type"`
			Response *struct {
				Status string `json:"status"`
				Usage  *struct {
					InputTokens        int64 `json:"input_tokens"`
					OutputTokens       int64 `json:"output_tokens"`
					InputTokensDetails *struct {
						CachedTokens int64 `json:"cached_tokens"`
					} `json:"input_tokens_details"`
				} `json:"usage"`
			} `json:"response"`
		}
		if json.Unmarshal([]byte(data), &evt) != nil {
			continue
		}
		if evt.Type == "response.completed" && evt.Response != nil {
			meta.StopReason = evt.Response.Status
			if evt.Response.Usage != nil {
				meta.InputTokens = evt.Response.Usage.InputTokens
				meta.OutputTokens = evt.Response.Usage.OutputTokens
				if evt.Response.Usage.InputTokensDetails != nil {
					meta.CacheReadTokens = evt.Response.Usage.InputTokensDetails.CachedTokens
				}
			}
		}
	}
	return meta
}

func (CodexProvider) ShouldLog(body []byte) bool {
	var req struct {
		Model string `json:"model"`
		Input []any  `json:"input"`
	}
	if json.Unmarshal(body, &req) != nil {
		return false
	}
	return req.Model != "" && req.Input != nil
}

// ExtraMetadata surfaces conversation/session header correlation ids,
// function-call counts, and any reasoning summaries observed in a
// streamed response.
func (CodexProvider) ExtraMetadata(requestBody, responseBody []byte, headers map[string][]string) map[string]any {
	extra := map[string]any{}

	if vals := headers["Conversation_id"]; len(vals) > 0 {
		extra["conversation_id"] = vals[0]
	}
	if vals := headers["Session_id"]; len(vals) > 0 {
		extra["session_id"] = vals[0]
	}

	var req struct {
		Input []struct {
			Type string `json:"type"`
		} `json:"input"`
		PromptCacheKey string `json:"prompt_cache_key"`
	}
	if json.Unmarshal(requestBody, &req) == nil {
		calls := 0
		reasoning := false
		for _, item := range req.Input {
			if item.Type == "function_call" {
				calls++
			}
			if item.Type == "reasoning" {
				reasoning = true
			}
		}
		if calls > 0 {
			extra["function_call_count"] = calls
		}
		if reasoning {
			extra["has_reasoning_input"] = true
		}
		if req.PromptCacheKey != "" {
			extra["prompt_cache_key"] = req.PromptCacheKey
		}
	}

	var summaries []string
	scanner := bufio.NewScanner(bytes.NewReader(responseBody))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, "reasoning_summary_text.done") {
			continue
		}
		var evt struct {
			Text string `json:"text"`
		}
		if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt) == nil && evt.Text != "" {
			summaries = append(summaries, evt.Text)
		}
	}
	if len(summaries) > 0 {
		extra["reasoning_summaries"] = summaries
	}

	if len(extra) == 0 {
		return nil
	}
	return extra
}
