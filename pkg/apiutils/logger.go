/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package apiutils

import (
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

// Logger is the request log middleware. Errors attached to the context by
// handlers are included so one line carries the whole request outcome.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		if len(c.Errors) > 0 {
			klog.Infof("%s %s %d %v %s", c.Request.Method, path, status, latency, c.Errors.String())
			return
		}
		klog.Infof("%s %s %d %v", c.Request.Method, path, status, latency)
	}
}
