// Package proxy forwards authenticated requests to upstream providers.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/router-for-me/AutoRouter/internal/registry"
	log "github.com/sirupsen/logrus"
)

// Transport defaults for the shared outbound client.
const (
	defaultDialTimeout         = 30 * time.Second
	defaultKeepAlive           = 30 * time.Second
	defaultTLSHandshakeTimeout = 15 * time.Second
	defaultIdleConnTimeout     = 90 * time.Second
	defaultMaxIdleConns        = 200
	defaultMaxIdleConnsPerHost = 50
)

// Request is an inbound request ready to be forwarded.
type Request struct {
	Method string
	// Path is the escaped path below the proxy prefix; it is forwarded verbatim.
	Path      string
	RawQuery  string
	Header    http.Header
	Body      []byte
	RequestID string
}

// Response is the upstream response. Exactly one of Body and Stream is set.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     *Stream

	usage    Usage
	hasUsage bool
	model    string
}

// IsStream reports whether the response is an event stream.
func (r *Response) IsStream() bool {
	return r != nil && r.Stream != nil
}

// Usage returns extracted token counts; for streams, whatever was parsed so far.
func (r *Response) Usage() Usage {
	if r == nil {
		return Usage{}
	}
	if r.Stream != nil {
		return r.Stream.Usage()
	}
	return r.usage
}

// Model returns the model name reported by the upstream, if any.
func (r *Response) Model() string {
	if r == nil {
		return ""
	}
	if r.Stream != nil {
		return r.Stream.Model()
	}
	return r.model
}

// Engine sends requests upstream over one shared HTTP client.
type Engine struct {
	client *http.Client
}

// NewEngine constructs an Engine. A nil transport selects the default pooled transport.
func NewEngine(transport http.RoundTripper) *Engine {
	if transport == nil {
		transport = newTransport()
	}
	return &Engine{
		// No client timeout: only the time to response headers is bounded, per upstream.
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAlive,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

// Close releases idle pooled connections.
func (e *Engine) Close() {
	if e == nil || e.client == nil {
		return
	}
	e.client.CloseIdleConnections()
}

// Forward sends req to the upstream described by cfg.
// The upstream timeout bounds connecting and waiting for response headers; reading
// the body is not bounded. Streams must be closed by the caller.
func (e *Engine) Forward(ctx context.Context, req Request, cfg registry.Config) (*Response, error) {
	header, errHeader := outboundHeaders(req.Header, cfg)
	if errHeader != nil {
		return nil, errHeader
	}
	target := JoinURL(cfg.BaseURL, req.Path)
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	callCtx, cancel := context.WithCancel(ctx)
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	outReq, errReq := http.NewRequestWithContext(callCtx, req.Method, target, body)
	if errReq != nil {
		cancel()
		return nil, fmt.Errorf("proxy: build request: %w", errReq)
	}
	outReq.Header = header

	var timedOut atomic.Bool
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = registry.DefaultTimeout
	}
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	fields := log.Fields{
		"request_id": req.RequestID,
		"upstream":   cfg.Name,
		"method":     req.Method,
		"path":       req.Path,
	}
	log.WithFields(fields).Debug("forwarding request")

	resp, errDo := e.client.Do(outReq)
	if !timer.Stop() && errDo == nil {
		// The timer fired as headers arrived; the body is already cancelled.
		_ = resp.Body.Close()
		errDo = context.DeadlineExceeded
	}
	if errDo != nil {
		cancel()
		upstreamErr := classify(cfg.Name, errDo, timedOut.Load())
		log.WithFields(fields).WithError(errDo).Warn("upstream request failed")
		return nil, upstreamErr
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     responseHeaders(resp.Header),
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		out.Stream = newStream(resp.Body, cancel)
		log.WithFields(fields).WithField("status", resp.StatusCode).Debug("streaming upstream response")
		return out, nil
	}

	defer cancel()
	defer func() { _ = resp.Body.Close() }()
	payload, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, classify(cfg.Name, errRead, false)
	}
	out.Body = payload
	if isJSON(resp.Header.Get("Content-Type")) {
		out.usage, out.hasUsage = ExtractUsage(payload)
		out.model = ExtractModel(payload)
	}
	if out.hasUsage {
		log.WithFields(fields).WithFields(log.Fields{
			"prompt_tokens":     out.usage.PromptTokens,
			"completion_tokens": out.usage.CompletionTokens,
			"total_tokens":      out.usage.TotalTokens,
		}).Debug("upstream usage")
	}
	return out, nil
}

func mediaType(contentType string) string {
	mt, _, errParse := mime.ParseMediaType(contentType)
	if errParse != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt
}

func isEventStream(contentType string) bool {
	return mediaType(contentType) == "text/event-stream"
}

func isJSON(contentType string) bool {
	mt := mediaType(contentType)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
