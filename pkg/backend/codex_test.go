package backend

import "testing"

func TestCodexParseRequestMetadata(t *testing.T) {
	body := []byte(`{"model":"codex-mini","instructions":"be terse","tools":[{"name":"shell"}],
		"input":[{"type":"message","role":"user"},{"type":"message","role":"assistant"},{"type":"reasoning","role":""}]}`)

	meta := CodexProvider{}.ParseRequestMetadata(body)
	if meta.Model != "codex-mini" {
		t.Fatalf("expected model extracted, got %q", meta.Model)
	}
	if !meta.HasSystemPrompt {
		t.Fatalf("expected HasSystemPrompt true when instructions present")
	}
	if !meta.HasTools {
		t.Fatalf("expected HasTools true")
	}
	if meta.UserMessageCount != 1 || meta.AssistantMessageCount != 1 {
		t.Fatalf("expected 1 user / 1 assistant message item, got %d/%d", meta.UserMessageCount, meta.AssistantMessageCount)
	}
}

func TestCodexParseResponseMetadataBuffered(t *testing.T) {
	body := []byte(`{"status":"completed","output":[{"type":"reasoning"},{"type":"message"}],
		"usage":{"input_tokens":30,"output_tokens":40,"input_tokens_details":{"cached_tokens":6}}}`)

	meta := CodexProvider{}.ParseResponseMetadata(body, false)
	if meta.StopReason != "completed" {
		t.Fatalf("expected status extracted as stop reason, got %q", meta.StopReason)
	}
	if !meta.HasThinking {
		t.Fatalf("expected HasThinking true for a reasoning output item")
	}
	if meta.InputTokens != 30 || meta.OutputTokens != 40 || meta.CacheReadTokens != 6 {
		t.Fatalf("expected usage extracted, got in=%d out=%d cache=%d", meta.InputTokens, meta.OutputTokens, meta.CacheReadTokens)
	}
}

func TestCodexParseResponseMetadataStreaming(t *testing.T) {
	sse := `data: {"type":"response.output_item.added","item":{"type":"reasoning"}}` + "\n\n" +
		`data: {"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":12,"output_tokens":8,"input_tokens_details":{"cached_tokens":2}}}}` + "\n\n"

	meta := CodexProvider{}.ParseResponseMetadata([]byte(sse), true)
	if !meta.HasThinking {
		t.Fatalf("expected HasThinking true from a reasoning item in the raw stream")
	}
	if meta.StopReason != "completed" {
		t.Fatalf("expected stop reason from response.completed, got %q", meta.StopReason)
	}
	if meta.InputTokens != 12 || meta.OutputTokens != 8 || meta.CacheReadTokens != 2 {
		t.Fatalf("expected usage from response.completed, got in=%d out=%d cache=%d", meta.InputTokens, meta.OutputTokens, meta.CacheReadTokens)
	}
}

func TestCodexShouldLog(t *testing.T) {
	if !(CodexProvider{}.ShouldLog([]byte(`{"model":"codex-mini","input":[]}`))) {
		t.Fatalf("expected ShouldLog true for a well-formed request")
	}
	if (CodexProvider{}.ShouldLog([]byte(`{}`))) {
		t.Fatalf("expected ShouldLog false when model/input are absent")
	}
}

func TestCodexExtraMetadataHeadersAndCounts(t *testing.T) {
	req := []byte(`{"input":[{"type":"function_call"},{"type":"function_call"},{"type":"reasoning"}],"prompt_cache_key":"abc"}`)
	resp := []byte(`data: {"type":"response.reasoning_summary_text.done","text":"thought about it"}` + "\n\n")
	headers := map[string][]string{
		"Conversation_id": {"conv-1"},
		"Session_id":      {"sess-1"},
	}

	extra := CodexProvider{}.ExtraMetadata(req, resp, headers)
	if extra == nil {
		t.Fatalf("expected non-nil extra metadata")
	}
	if extra["conversation_id"] != "conv-1" || extra["session_id"] != "sess-1" {
		t.Fatalf("expected header-derived ids, got %v", extra)
	}
	if extra["function_call_count"] != 2 {
		t.Fatalf("expected function_call_count 2, got %v", extra["function_call_count"])
	}
	if extra["has_reasoning_input"] != true {
		t.Fatalf("expected has_reasoning_input true, got %v", extra["has_reasoning_input"])
	}
	if extra["prompt_cache_key"] != "abc" {
		t.Fatalf("expected prompt_cache_key passed through, got %v", extra["prompt_cache_key"])
	}
	summaries, ok := extra["reasoning_summaries"].([]string)
	if !ok || len(summaries) != 1 || summaries[0] != "thought about it" {
		t.Fatalf("expected one reasoning summary extracted, got %v", extra["reasoning_summaries"])
	}
}

func TestCodexExtraMetadataNilWhenEmpty(t *testing.T) {
	if got := (CodexProvider{}.ExtraMetadata([]byte(`{}`), nil, nil)); got != nil {
		t.Fatalf("expected nil extra metadata when nothing is found, got %v", got)
	}
}
