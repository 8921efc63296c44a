/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package apiutils

import (
	"github.com/gin-gonic/gin"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

// ErrorResponse is the envelope every failing endpoint returns. The HTTP
// status mirrors error.status.
type ErrorResponse struct {
	Error *commonerrors.Error `json:"error"`
}

// AbortWithApiError attaches err to the gin context and writes the envelope.
func AbortWithApiError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	typed := commonerrors.AsError(err)
	c.AbortWithStatusJSON(typed.Status, ErrorResponse{Error: typed})
}
