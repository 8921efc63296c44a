/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package apiutils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAbortWithApiErrorTypedEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/vault/training/jobs/missing", nil)

	AbortWithApiError(c, commonerrors.NewNotFoundWithCode(commonerrors.JobNotFound, "job missing is not found"))

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, fmt.Sprintf(
		`{"error":{"code":%q,"message":"job missing is not found","status":404}}`,
		commonerrors.JobNotFound), w.Body.String())
	assert.True(t, c.IsAborted())
}

func TestAbortWithApiErrorUntypedBecomesInternal(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/vault/system/health", nil)

	AbortWithApiError(c, fmt.Errorf("dial tcp: connection refused"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), commonerrors.InternalError)
}

func TestAbortWithApiErrorNilIsNoop(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	AbortWithApiError(c, nil)

	assert.False(t, c.IsAborted())
	assert.Empty(t, w.Body.String())
}
