// Package proxy implements the reverse-proxy HTTP server: request
// routing to a BackendRoute, per-request DLP redaction and streaming
// restoration, rate limiting, and async request logging.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/greyhawk/ocular/pkg/backend"
	"github.com/greyhawk/ocular/pkg/config"
	"github.com/greyhawk/ocular/pkg/dlp"
	"github.com/greyhawk/ocular/pkg/logstore"
	"github.com/greyhawk/ocular/pkg/models"
	"github.com/greyhawk/ocular/pkg/ratelimit"
)

// Server is the Ocular reverse proxy.
type Server struct {
	cfg      *config.Config
	patterns *dlp.Store
	registry *backend.Registry
	limiter  *ratelimit.Limiter
	logs     *logstore.Store
	client   *http.Client
	mux      *http.ServeMux
}

// New creates a proxy Server wired with all dependencies.
func New(cfg *config.Config, patterns *dlp.Store, registry *backend.Registry, limiter *ratelimit.Limiter, logs *logstore.Store) *Server {
	s := &Server{
		cfg:      cfg,
		patterns: patterns,
		registry: registry,
		limiter:  limiter,
		logs:     logs,
		client: &http.Client{
			Timeout: cfg.Upstream.TotalTimeout,
			Transport: &http.Transport{
				IdleConnTimeout:       cfg.Upstream.IdleTimeout,
				ResponseHeaderTimeout: cfg.Upstream.TotalTimeout,
			},
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("/", s.handleRoot)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the proxy server with graceful shutdown support.
// The 5s shutdown budget matches the Control Surface's restart_proxy
// drain deadline.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("ocular proxy listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported on /")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		return
	}
	s.handleProxy(w, r)
}

// handleProxy implements the request pipeline: route resolution, rate
// limiting, request-body DLP, the upstream call, response restoration,
// and async logging.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	routes := s.registry.Snapshot()
	route, remainder, ok := backend.Resolve(routes, r.URL.Path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "route_not_found", "no backend matches "+r.URL.Path)
		return
	}

	if allowed, retryAfter := s.limiter.Allow(route.Name, route.Settings.RateLimitRequests, route.Settings.RateLimitMinutes); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.999)))
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded for backend "+route.Name)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "read_error", err.Error())
		return
	}

	provider := backend.Lookup(route.Name)
	shouldLog := provider.ShouldLog(body)
	reqMeta := provider.ParseRequestMetadata(body)

	// A body over MaxBodySize skips DLP scanning but is still forwarded
	// whole: the cap bounds how much the DLP engine buffers, not what
	// the client can send.
	oversize := int64(len(body)) > s.cfg.MaxBodySize

	contentType := r.Header.Get("Content-Type")
	isJSON := strings.Contains(contentType, "json")

	patterns := s.patterns.Snapshot()
	patternNames, patternKinds := buildPatternMeta(patterns)

	dlpAction := "passed"
	outboundBody := body
	rm := models.NewRedactionMap()
	var matches []leafMatch

	switch {
	case !route.Settings.DLPEnabled:
		dlpAction = "disabled"
	case oversize:
		dlpAction = "passed_oversize"
	case !isJSON:
		dlpAction = "passed_not_json"
	case strings.Contains(string(body), models.PlaceholderSentinelOpen):
		// Per the placeholder-collision open question: never substitute
		// into a body that already contains the sentinel syntax, since
		// that could corrupt an unrelated literal on restoration. Pass
		// it through unredacted instead of guessing.
		dlpAction = "passed_placeholder_collision"
		log.Printf("proxy: request %s body already contains placeholder sentinel, skipping DLP", requestID)
	default:
		redacted, m, dlpErr := applyRequestDLP(patterns, body, rm)
		if dlpErr != nil {
			if be, ok := dlpErr.(*dlp.BlockedError); ok {
				if shouldLog {
					s.logBlocked(requestID, route, r, start, be.PatternIDs, []byte(be.Redacted))
				}
				writeBlocked(w, be.PatternIDs)
				return
			}
			dlpAction = "passed_not_json"
		} else {
			outboundBody = redacted
			matches = m
			if len(matches) > 0 {
				dlpAction = "redacted"
			} else {
				dlpAction = "no_match"
			}
		}
	}

	target, err := url.Parse(route.UpstreamBaseURL)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "upstream_unreachable", "invalid upstream base url")
		return
	}

	upstreamURL := route.UpstreamBaseURL + remainder
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Upstream.TotalTimeout)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, bytes.NewReader(outboundBody))
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "upstream_unreachable", err.Error())
		return
	}
	upstreamReq.Header = prepareUpstreamHeaders(r.Header, route, target.Host)
	upstreamReq.ContentLength = int64(len(outboundBody))
	if !rm.Empty() {
		// The restorer operates on plain text; ask the upstream not to
		// compress so restoration never has to undo gzip/br framing.
		upstreamReq.Header.Set("Accept-Encoding", "identity")
	}

	resp, err := s.client.Do(upstreamReq)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "upstream_unreachable", err.Error())
		if shouldLog {
			s.appendLog(requestID, route, r, start, http.StatusBadGateway, false, reqMeta, backend.ResponseMetadata{},
				dlpAction, matches, patternNames, patternKinds, upstreamReq.Header, outboundBody, nil, nil, nil)
		}
		return
	}
	defer resp.Body.Close()

	// The response is only parsed as SSE when both the upstream actually
	// sent event-stream framing and the resolved provider declares an
	// SSE format it understands; a custom backend with no SSEFormat
	// still gets relayed byte-for-byte but never has its body picked
	// apart looking for a shape it was never taught.
	streaming := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
	sseAware := streaming && provider.SSEFormat() != ""
	respHeaders := filterResponseHeaders(resp.Header, !rm.Empty())
	for k, vals := range respHeaders {
		w.Header()[k] = vals
	}

	var respMeta backend.ResponseMetadata
	var rawResponse, clientResponse []byte

	if streaming {
		w.WriteHeader(resp.StatusCode)
		raw, restored := relayStream(w, resp, rm)
		rawResponse = raw
		clientResponse = restored
		respMeta = provider.ParseResponseMetadata(rawResponse, sseAware)
	} else {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			log.Printf("proxy: reading upstream body for %s: %v", requestID, readErr)
		}
		rawResponse = raw
		out := raw
		if !rm.Empty() {
			restorer := dlp.NewRestorer(rm)
			buf := restorer.Write(raw)
			buf = append(buf, restorer.Flush()...)
			out = buf
		}
		clientResponse = out
		w.Header().Set("Content-Length", strconv.Itoa(len(out)))
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(out)
		respMeta = provider.ParseResponseMetadata(raw, false)
	}

	if shouldLog {
		s.appendLog(requestID, route, r, start, resp.StatusCode, streaming, reqMeta, respMeta, dlpAction, matches, patternNames, patternKinds,
			upstreamReq.Header, outboundBody, respHeaders, clientResponse,
			provider.ExtraMetadata(body, rawResponse, r.Header))
	}
}

func (s *Server) logBlocked(requestID string, route models.BackendRoute, r *http.Request, start time.Time, patternIDs []int64, redactedBody []byte) {
	rec := models.RequestLogRecord{
		RequestID:      requestID,
		Timestamp:      time.Now(),
		RequestHeaders: r.Header,
		RequestBody:    redactedBody,
		Backend:        route.Name,
		Method:         r.Method,
		Path:           r.URL.Path,
		StatusCode:     http.StatusForbidden,
		LatencyMS:      time.Since(start).Milliseconds(),
		Blocked:        true,
		Extra:          map[string]any{"dlp_action": "blocked", "blocked_pattern_ids": patternIDs},
	}
	go s.logs.Append(context.Background(), rec)
}

func (s *Server) appendLog(requestID string, route models.BackendRoute, r *http.Request, start time.Time, status int, streaming bool,
	reqMeta backend.RequestMetadata, respMeta backend.ResponseMetadata, dlpAction string, matches []leafMatch,
	patternNames map[int64]string, patternKinds map[int64]models.PatternKind,
	requestHeaders http.Header, requestBody []byte, responseHeaders http.Header, responseBody []byte,
	providerExtra map[string]any) {

	extra := map[string]any{
		"dlp_action":              dlpAction,
		"has_system_prompt":       reqMeta.HasSystemPrompt,
		"has_tools":               reqMeta.HasTools,
		"user_message_count":      reqMeta.UserMessageCount,
		"assistant_message_count": reqMeta.AssistantMessageCount,
		"has_thinking":            respMeta.HasThinking,
		"stop_reason":             respMeta.StopReason,
		"cache_read_tokens":       respMeta.CacheReadTokens,
		"cache_creation_tokens":   respMeta.CacheCreationTokens,
	}
	for k, v := range providerExtra {
		extra[k] = v
	}

	rec := models.RequestLogRecord{
		RequestID:       requestID,
		Timestamp:       time.Now(),
		Backend:         route.Name,
		Model:           reqMeta.Model,
		Method:          r.Method,
		Path:            r.URL.Path,
		StatusCode:      status,
		LatencyMS:       time.Since(start).Milliseconds(),
		IsStreaming:     streaming,
		InputTokens:     respMeta.InputTokens,
		OutputTokens:    respMeta.OutputTokens,
		DetectionsHit:   len(matches),
		RequestHeaders:  requestHeaders,
		RequestBody:     requestBody,
		ResponseHeaders: responseHeaders,
		ResponseBody:    responseBody,
		Extra:           extra,
		Detections:      detectionRecords(requestID, patternNames, patternKinds, matches, time.Now()),
	}
	go s.logs.Append(context.Background(), rec)
}

func buildPatternMeta(patterns []*dlp.CompiledPattern) (map[int64]string, map[int64]models.PatternKind) {
	names := make(map[int64]string, len(patterns))
	kinds := make(map[int64]models.PatternKind, len(patterns))
	for _, cp := range patterns {
		names[cp.ID] = cp.Name
		kinds[cp.ID] = cp.Kind
	}
	return names, kinds
}
