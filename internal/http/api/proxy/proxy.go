// Package proxy serves the authenticated forwarding surface.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/AutoRouter/internal/access"
	"github.com/router-for-me/AutoRouter/internal/apierr"
	"github.com/router-for-me/AutoRouter/internal/metrics"
	"github.com/router-for-me/AutoRouter/internal/models"
	relay "github.com/router-for-me/AutoRouter/internal/proxy"
	"github.com/router-for-me/AutoRouter/internal/registry"
	"github.com/router-for-me/AutoRouter/internal/usage"
	log "github.com/sirupsen/logrus"
)

const (
	// HeaderRequestID carries the correlation id in both directions.
	HeaderRequestID = "X-Request-Id"

	listUpstreamsPath = "/v1/upstreams"
)

// Verifier authenticates the inbound Authorization header.
type Verifier interface {
	Verify(ctx context.Context, authorization string) (*models.ClientKey, error)
}

// Forwarder sends a request to a resolved upstream.
type Forwarder interface {
	Forward(ctx context.Context, req relay.Request, cfg registry.Config) (*relay.Response, error)
}

// Options configures the proxy surface.
type Options struct {
	Prefix         string
	UpstreamHeader string
	Metrics        *metrics.Collector
	// MaxBodyBytes caps the buffered request body. Zero or less disables the cap.
	MaxBodyBytes int64
}

// Handler composes authentication, upstream resolution, permission checks,
// forwarding, and request logging.
type Handler struct {
	registry       *registry.Holder
	verifier       Verifier
	forwarder      Forwarder
	recorder       usage.Recorder
	metrics        *metrics.Collector
	prefix         string
	upstreamHeader string
	maxBodyBytes   int64
}

// NewHandler constructs a Handler.
func NewHandler(holder *registry.Holder, verifier Verifier, forwarder Forwarder, recorder usage.Recorder, opts Options) *Handler {
	if recorder == nil {
		recorder = usage.Discard{}
	}
	prefix := "/" + strings.Trim(strings.TrimSpace(opts.Prefix), "/")
	upstreamHeader := strings.TrimSpace(opts.UpstreamHeader)
	if upstreamHeader == "" {
		upstreamHeader = "X-Upstream-Name"
	}
	return &Handler{
		registry:       holder,
		verifier:       verifier,
		forwarder:      forwarder,
		recorder:       recorder,
		metrics:        opts.Metrics,
		prefix:         prefix,
		upstreamHeader: upstreamHeader,
		maxBodyBytes:   opts.MaxBodyBytes,
	}
}

// RegisterProxyRoutes mounts the proxy under the configured prefix.
// The upstream listing shares the catch-all route because gin cannot mix
// a wildcard with static siblings.
func RegisterProxyRoutes(r *gin.Engine, h *Handler) {
	if r == nil || h == nil {
		return
	}
	r.Any(h.prefix+"/*path", h.Proxy)
}

// ListUpstreams returns upstream names, providers, and the default flag. No secrets.
func (h *Handler) ListUpstreams(c *gin.Context) {
	reg := h.registry.Load()
	infos := reg.List()
	if infos == nil {
		infos = []registry.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"upstreams": infos})
}

// relativePath returns the request path below the prefix in its escaped form,
// so encoded separators such as %2F and %3F reach the upstream unchanged.
func (h *Handler) relativePath(c *gin.Context) string {
	escaped := c.Request.URL.EscapedPath()
	if h.prefix != "/" {
		if !strings.HasPrefix(escaped, h.prefix) {
			return c.Param("path")
		}
		escaped = strings.TrimPrefix(escaped, h.prefix)
	}
	if !strings.HasPrefix(escaped, "/") {
		escaped = "/" + escaped
	}
	return escaped
}

// Proxy handles one inbound request end to end.
func (h *Handler) Proxy(c *gin.Context) {
	relPath := h.relativePath(c)
	if c.Request.Method == http.MethodGet && strings.TrimSuffix(relPath, "/") == listUpstreamsPath {
		h.ListUpstreams(c)
		return
	}

	start := time.Now()
	doneInflight := h.metrics.TrackInflight()
	defer doneInflight()

	ctx := c.Request.Context()
	requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(HeaderRequestID, requestID)

	key, errVerify := h.verifier.Verify(ctx, c.GetHeader("Authorization"))
	if errVerify != nil {
		h.rejectAuth(c, errVerify)
		return
	}

	cfg, ok := h.resolve(c)
	if !ok {
		return
	}

	if !key.AuthorizedFor(cfg.ID) {
		log.WithFields(log.Fields{
			"request_id": requestID,
			"key_prefix": key.KeyPrefix,
			"upstream":   cfg.Name,
		}).Info("client key not authorized for upstream")
		apierr.Abort(c, apierr.KindForbidden, "api key is not authorized for upstream "+cfg.Name, nil)
		return
	}

	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}
	body, errRead := io.ReadAll(c.Request.Body)
	if errRead != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(errRead, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, apierr.Body(apierr.KindInvalidRequest,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), nil))
			return
		}
		apierr.Abort(c, apierr.KindInvalidRequest, "failed to read request body", nil)
		return
	}

	keyID, upstreamID := key.ID, cfg.ID
	event := usage.Event{
		ClientKeyID: &keyID,
		UpstreamID:  &upstreamID,
		Method:      c.Request.Method,
		Path:        relPath,
		Model:       relay.ExtractModel(body),
	}

	resp, errForward := h.forwarder.Forward(ctx, relay.Request{
		Method:    c.Request.Method,
		Path:      relPath,
		RawQuery:  c.Request.URL.RawQuery,
		Header:    c.Request.Header,
		Body:      body,
		RequestID: requestID,
	}, cfg)
	if errForward != nil {
		h.failForward(c, cfg, event, start, errForward)
		return
	}

	if resp.IsStream() {
		h.writeStream(c, cfg, event, start, resp)
		return
	}
	h.writeBuffered(c, cfg, event, start, resp)
}

func (h *Handler) rejectAuth(c *gin.Context, err error) {
	var authErr *access.Error
	if !errors.As(err, &authErr) {
		log.WithError(err).Error("credential verification failed")
		apierr.Abort(c, apierr.KindInternal, "failed to verify api key", nil)
		return
	}
	h.metrics.ObserveAuthFailure(string(authErr.Kind))
	apierr.Abort(c, apierr.Kind(authErr.Kind), authErr.Message, nil)
}

func (h *Handler) resolve(c *gin.Context) (registry.Config, bool) {
	reg := h.registry.Load()
	name := strings.TrimSpace(c.GetHeader(h.upstreamHeader))
	cfg, errResolve := reg.Resolve(name)
	if errResolve == nil {
		return cfg, true
	}

	var notFound *registry.NotFoundError
	switch {
	case errors.As(errResolve, &notFound):
		apierr.Abort(c, apierr.KindUpstreamNotFound, "upstream "+notFound.Name+" not found", gin.H{
			"available_upstreams": notFound.Available,
		})
	case errors.Is(errResolve, registry.ErrEmpty):
		apierr.Abort(c, apierr.KindNoUpstreams, "no upstreams are configured", nil)
	default:
		log.WithError(errResolve).Error("resolve upstream failed")
		apierr.Abort(c, apierr.KindInternal, "failed to resolve upstream", nil)
	}
	return registry.Config{}, false
}

func (h *Handler) failForward(c *gin.Context, cfg registry.Config, event usage.Event, start time.Time, err error) {
	kind := apierr.KindInternal
	message := "internal error while forwarding request"
	switch {
	case errors.Is(err, relay.ErrUpstreamTimeout):
		kind = apierr.KindGatewayTimeout
		message = "upstream " + cfg.Name + " timed out"
		h.metrics.ObserveUpstreamError(cfg.Name, "timeout")
	case errors.Is(err, relay.ErrUpstreamConnection):
		kind = apierr.KindBadGateway
		message = "failed to connect to upstream " + cfg.Name
		h.metrics.ObserveUpstreamError(cfg.Name, "connection")
	default:
		h.metrics.ObserveUpstreamError(cfg.Name, "other")
		log.WithError(err).WithField("upstream", cfg.Name).Error("forward request failed")
	}

	event.StatusCode = kind.Status()
	event.Error = err.Error()
	h.finish(c.Request.Context(), cfg, event, start)
	apierr.Abort(c, kind, message, nil)
}

func (h *Handler) writeBuffered(c *gin.Context, cfg registry.Config, event usage.Event, start time.Time, resp *relay.Response) {
	applyUsage(&event, resp)
	event.StatusCode = resp.StatusCode
	h.finish(c.Request.Context(), cfg, event, start)

	copyHeaders(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	if _, errWrite := c.Writer.Write(resp.Body); errWrite != nil {
		log.WithError(errWrite).WithField("upstream", cfg.Name).Debug("write response body failed")
	}
}

func (h *Handler) writeStream(c *gin.Context, cfg registry.Config, event usage.Event, start time.Time, resp *relay.Response) {
	stream := resp.Stream
	defer func() { _ = stream.Close() }()

	copyHeaders(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	var streamErr error
	for {
		if ctx.Err() != nil {
			streamErr = ctx.Err()
			break
		}
		chunk, errNext := stream.Next()
		if len(chunk) > 0 {
			if _, errWrite := c.Writer.Write(chunk); errWrite != nil {
				streamErr = errWrite
				break
			}
			c.Writer.Flush()
		}
		if errNext != nil {
			if !errors.Is(errNext, io.EOF) {
				streamErr = errNext
			}
			break
		}
	}
	if streamErr != nil {
		log.WithError(streamErr).WithField("upstream", cfg.Name).Info("stream ended early")
		event.Error = streamErr.Error()
	}

	applyUsage(&event, resp)
	event.StatusCode = resp.StatusCode
	h.finish(ctx, cfg, event, start)
}

func (h *Handler) finish(ctx context.Context, cfg registry.Config, event usage.Event, start time.Time) {
	event.Duration = time.Since(start)
	h.metrics.ObserveRequest(cfg.Name, event.StatusCode, event.Duration, event.PromptTokens, event.CompletionTokens)
	// Recorder failures are logged by the recorder and never change the response.
	_ = h.recorder.Record(ctx, event)
}

func applyUsage(event *usage.Event, resp *relay.Response) {
	u := resp.Usage()
	event.PromptTokens = u.PromptTokens
	event.CompletionTokens = u.CompletionTokens
	event.TotalTokens = u.TotalTokens
	if event.Model == "" {
		event.Model = resp.Model()
	}
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
