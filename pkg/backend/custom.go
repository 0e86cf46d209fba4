package backend

import "encoding/json"

// GenericProvider is used for custom routes added through
// add_custom_backend that don't match a known vendor shape. It still
// extracts a best-effort model name so logging isn't blank, but
// declines usage/thinking extraction since the wire format is unknown.
type GenericProvider struct{}

func (GenericProvider) Name() string           { return "custom" }
func (GenericProvider) DefaultBaseURL() string { return "" }
func (GenericProvider) SSEFormat() string      { return "" }

func (GenericProvider) ParseRequestMetadata(body []byte) RequestMetadata {
	var req struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &req)
	return RequestMetadata{Model: req.Model}
}

func (GenericProvider) ParseResponseMetadata(body []byte, streaming bool) ResponseMetadata {
	return ResponseMetadata{}
}

func (GenericProvider) ShouldLog(body []byte) bool { return true }

func (GenericProvider) ExtraMetadata(requestBody, responseBody []byte, headers map[string][]string) map[string]any {
	return nil
}
