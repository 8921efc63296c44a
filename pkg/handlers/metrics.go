/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_proxy_requests_total",
		Help: "Inference requests forwarded to the engine, by path and status.",
	}, []string{"path", "status"})

	proxyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_proxy_request_seconds",
		Help:    "Wall time of forwarded inference requests.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"path"})

	proxyTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_proxy_tokens_total",
		Help: "Token usage reported by non-streaming engine responses.",
	}, []string{"direction"})
)
