/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/apiutils"
	"github.com/vault-appliance/vault/pkg/audit"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

// maxProxyBodyBytes bounds the inference request bodies we are willing to
// replay toward the engine.
const maxProxyBodyBytes = 32 << 20

// Proxy forwards OpenAI-compatible requests to the local inference engine.
// Responses are piped through chunk by chunk so SSE streams, including the
// terminal "data: [DONE]" frame, reach the client exactly as the engine
// emitted them.
type Proxy struct {
	baseURL string
	client  *http.Client
	// health probes are short regardless of the streaming read budget
	healthClient *http.Client
	healthPath   string
}

func NewProxy(baseURL, healthPath string, connectTimeout, readTimeout time.Duration) *Proxy {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Proxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				ResponseHeaderTimeout: readTimeout,
				MaxIdleConns:          32,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		healthClient: &http.Client{
			Timeout:   connectTimeout,
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
		healthPath: healthPath,
	}
}

func (p *Proxy) BaseURL() string {
	return p.baseURL
}

// Health probes the engine health endpoint and reports reachability plus the
// observed latency in milliseconds.
func (p *Proxy) Health(ctx context.Context) (bool, float64) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+p.healthPath, nil)
	if err != nil {
		return false, 0
	}
	start := time.Now()
	rsp, err := p.healthClient.Do(req)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return false, latency
	}
	defer rsp.Body.Close()
	_, _ = io.Copy(io.Discard, rsp.Body)
	return rsp.StatusCode < http.StatusInternalServerError, latency
}

// hop-by-hop headers are stripped in both directions.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// ProxyInference is the byte pipe behind every /v1 route.
func (h *Handler) ProxyInference(c *gin.Context) {
	ctx := c.Request.Context()
	path := c.Request.URL.Path

	var body []byte
	if c.Request.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBodyBytes+1))
		if err != nil {
			apiutils.AbortWithApiError(c, commonerrors.NewBadRequest(err.Error()))
			return
		}
		if len(body) > maxProxyBodyBytes {
			apiutils.AbortWithApiError(c, commonerrors.NewRequestEntityTooLarge("request body exceeds 32 MiB"))
			return
		}
	}

	target := h.proxy.baseURL + path
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}
	req, err := http.NewRequestWithContext(ctx, c.Request.Method, target, bytes.NewReader(body))
	if err != nil {
		apiutils.AbortWithApiError(c, commonerrors.NewInternalError(err.Error()))
		return
	}
	copyProxyHeaders(req.Header, c.Request.Header)

	start := time.Now()
	rsp, err := h.proxy.client.Do(req)
	if err != nil {
		proxyRequests.WithLabelValues(path, "unreachable").Inc()
		apiutils.AbortWithApiError(c, commonerrors.NewUnavailable(
			fmt.Sprintf("inference engine unreachable: %v", err)))
		return
	}
	defer rsp.Body.Close()

	copyProxyHeaders(c.Writer.Header(), rsp.Header)
	c.Writer.WriteHeader(rsp.StatusCode)

	streaming := strings.HasPrefix(rsp.Header.Get("Content-Type"), "text/event-stream")
	var usage tokenUsage
	if streaming {
		pipeStream(c.Writer, rsp.Body)
	} else {
		usage = pipeBuffered(c.Writer, rsp.Body)
	}

	latency := time.Since(start)
	proxyRequests.WithLabelValues(path, strconv.Itoa(rsp.StatusCode)).Inc()
	proxyLatency.WithLabelValues(path).Observe(latency.Seconds())
	if usage.Input > 0 || usage.Output > 0 {
		proxyTokens.WithLabelValues("input").Add(float64(usage.Input))
		proxyTokens.WithLabelValues("output").Add(float64(usage.Output))
	}

	opts := []audit.Option{
		audit.WithRequest(c.Request.Method, path),
		audit.WithStatus(rsp.StatusCode, latency),
	}
	if model := modelFromBody(body); model != "" {
		opts = append(opts, audit.WithModel(model))
	}
	if usage.Input > 0 || usage.Output > 0 {
		opts = append(opts, audit.WithTokens(usage.Input, usage.Output))
	}
	h.audit.Record(ctx, "inference.request", opts...)
}

func copyProxyHeaders(dst, src http.Header) {
	for k, vv := range src {
		// The engine trusts the appliance; upstream credentials stay here.
		if k == "Authorization" {
			continue
		}
		dst[k] = append([]string(nil), vv...)
	}
	for _, k := range hopHeaders {
		dst.Del(k)
	}
}

// pipeStream copies the SSE body chunk by chunk, flushing after every read so
// frames are never held back by buffering.
func pipeStream(w gin.ResponseWriter, body io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			w.Flush()
		}
		if err != nil {
			if err != io.EOF {
				klog.ErrorS(err, "inference stream interrupted")
			}
			return
		}
	}
}

type tokenUsage struct {
	Input  int64
	Output int64
}

// pipeBuffered forwards a non-streaming response and pulls the usage block
// out of it for accounting.
func pipeBuffered(w gin.ResponseWriter, body io.Reader) tokenUsage {
	data, err := io.ReadAll(body)
	if err != nil {
		klog.ErrorS(err, "failed to read engine response")
		return tokenUsage{}
	}
	if _, err = w.Write(data); err != nil {
		return tokenUsage{}
	}
	var envelope struct {
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err = json.Unmarshal(data, &envelope); err != nil {
		return tokenUsage{}
	}
	return tokenUsage{Input: envelope.Usage.PromptTokens, Output: envelope.Usage.CompletionTokens}
}

func modelFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var envelope struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Model
}
