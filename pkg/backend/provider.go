// Package backend implements per-vendor request/response metadata
// extraction and the Backend Registry that maps incoming path prefixes
// to upstream routes.
package backend

// RequestMetadata is what a Provider extracts from the original
// (pre-redaction) request JSON, before it is sent upstream.
type RequestMetadata struct {
	Model                string
	HasSystemPrompt      bool
	HasTools             bool
	UserMessageCount     int
	AssistantMessageCount int
}

// ResponseMetadata is what a Provider extracts from the (restored)
// response, streaming or not.
type ResponseMetadata struct {
	InputTokens        int64
	OutputTokens       int64
	CacheReadTokens    int64
	CacheCreationTokens int64
	StopReason         string
	HasThinking        bool
}

// Provider implements backend-specific parsing so the Proxy Server can
// stay generic across vendors.
type Provider interface {
	Name() string
	DefaultBaseURL() string
	ParseRequestMetadata(body []byte) RequestMetadata
	ParseResponseMetadata(body []byte, streaming bool) ResponseMetadata
	ShouldLog(body []byte) bool
	// ExtraMetadata returns backend-specific JSON-able fields to fold
	// into RequestLogRecord.Extra, or nil if there is nothing to add.
	ExtraMetadata(requestBody, responseBody []byte, headers map[string][]string) map[string]any
	// SSEFormat identifies which streaming event shape ParseResponseMetadata
	// understands, for the proxy's shared SSE relay.
	SSEFormat() string
}

// Providers by name, used by custom routes that want to reuse a
// built-in's parsing behavior under a different path prefix.
func Lookup(name string) Provider {
	switch name {
	case "claude":
		return ClaudeProvider{}
	case "codex":
		return CodexProvider{}
	default:
		return GenericProvider{}
	}
}
