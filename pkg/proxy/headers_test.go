package proxy

import (
	"net/http"
	"testing"

	"github.com/greyhawk/ocular/pkg/models"
)

func TestPrepareUpstreamHeadersStripsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "keep-alive")
	src.Set("X-Api-Key", "client-key")
	src.Set("Proxy-Authorization", "Basic xyz")
	src.Set("Content-Type", "application/json")

	out := prepareUpstreamHeaders(src, models.BackendRoute{HeaderPolicy: models.HeaderPassThrough}, "api.example.com")
	if out.Get("Connection") != "" {
		t.Fatalf("expected Connection to be stripped")
	}
	if out.Get("Proxy-Authorization") != "" {
		t.Fatalf("expected Proxy-Authorization to be stripped")
	}
	if out.Get("X-Api-Key") != "client-key" {
		t.Fatalf("expected pass-through to keep X-Api-Key, got %q", out.Get("X-Api-Key"))
	}
	if out.Get("Host") != "api.example.com" {
		t.Fatalf("expected Host rewritten, got %q", out.Get("Host"))
	}
}

func TestPrepareUpstreamHeadersStripAuthHostRewrite(t *testing.T) {
	src := http.Header{}
	src.Set("Authorization", "Bearer client-token")
	src.Set("X-Api-Key", "client-key")

	route := models.BackendRoute{
		HeaderPolicy: models.HeaderStripAuthHostRewrite,
		Settings:     models.BackendSettings{UpstreamAPIKey: "upstream-secret"},
	}
	out := prepareUpstreamHeaders(src, route, "upstream.example.com")
	if out.Get("X-Api-Key") != "" {
		t.Fatalf("expected client X-Api-Key to be stripped")
	}
	if out.Get("Authorization") != "Bearer upstream-secret" {
		t.Fatalf("expected upstream credential substituted, got %q", out.Get("Authorization"))
	}
}

func TestPrepareUpstreamHeadersCustom(t *testing.T) {
	route := models.BackendRoute{
		HeaderPolicy: models.HeaderCustom,
		Settings:     models.BackendSettings{CustomHeaders: map[string]string{"X-Internal-Token": "abc123"}},
	}
	out := prepareUpstreamHeaders(http.Header{}, route, "internal.example.com")
	if out.Get("X-Internal-Token") != "abc123" {
		t.Fatalf("expected custom header set, got %q", out.Get("X-Internal-Token"))
	}
}

func TestFilterResponseHeadersDropsContentLengthWhenTransformed(t *testing.T) {
	src := http.Header{}
	src.Set("Content-Length", "123")
	src.Set("Content-Encoding", "gzip")
	src.Set("X-Request-Id", "abc")

	out := filterResponseHeaders(src, true)
	if out.Get("Content-Length") != "" || out.Get("Content-Encoding") != "" {
		t.Fatalf("expected Content-Length/Content-Encoding dropped when body is transformed")
	}
	if out.Get("X-Request-Id") != "abc" {
		t.Fatalf("expected unrelated headers preserved")
	}

	out = filterResponseHeaders(src, false)
	if out.Get("Content-Length") != "123" {
		t.Fatalf("expected Content-Length preserved when body is untouched")
	}
}
