package backend

import "testing"

func TestGenericProviderExtractsModelOnly(t *testing.T) {
	meta := GenericProvider{}.ParseRequestMetadata([]byte(`{"model":"llama-70b","whatever":"shape"}`))
	if meta.Model != "llama-70b" {
		t.Fatalf("expected model extracted, got %q", meta.Model)
	}
	if meta.HasSystemPrompt || meta.HasTools || meta.UserMessageCount != 0 {
		t.Fatalf("expected no other fields populated for an unknown shape, got %+v", meta)
	}
}

func TestGenericProviderMalformedBodyIsNotAnError(t *testing.T) {
	meta := GenericProvider{}.ParseRequestMetadata([]byte(`not json at all`))
	if meta.Model != "" {
		t.Fatalf("expected empty model for malformed body, got %q", meta.Model)
	}
}

func TestGenericProviderAlwaysLogsAndHasNoMetadata(t *testing.T) {
	if !(GenericProvider{}.ShouldLog(nil)) {
		t.Fatalf("expected GenericProvider to always log")
	}
	if got := (GenericProvider{}.ParseResponseMetadata(nil, false)); got != (ResponseMetadata{}) {
		t.Fatalf("expected zero-value response metadata, got %+v", got)
	}
	if got := (GenericProvider{}.ExtraMetadata(nil, nil, nil)); got != nil {
		t.Fatalf("expected nil extra metadata, got %v", got)
	}
}

func TestLookupFallsBackToGeneric(t *testing.T) {
	if _, ok := Lookup("claude").(ClaudeProvider); !ok {
		t.Fatalf("expected claude to resolve to ClaudeProvider")
	}
	if _, ok := Lookup("codex").(CodexProvider); !ok {
		t.Fatalf("expected codex to resolve to CodexProvider")
	}
	if _, ok := Lookup("some-custom-backend").(GenericProvider); !ok {
		t.Fatalf("expected an unknown name to fall back to GenericProvider")
	}
}
