/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the typed error carried through every subsystem. Status is the HTTP
// status the handler layer mirrors into the response envelope.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("code %s, message %s", e.Code, e.Message)
}

func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func NewBadRequest(message string) *Error {
	return New(BadRequest, http.StatusBadRequest, message)
}

func NewUnprocessable(message string) *Error {
	return New(Unprocessable, http.StatusUnprocessableEntity, message)
}

func NewUnauthorized(message string) *Error {
	return New(Unauthorized, http.StatusUnauthorized, message)
}

func NewForbidden(message string) *Error {
	return New(Forbidden, http.StatusForbidden, message)
}

func NewNotFound(message string) *Error {
	return New(NotFound, http.StatusNotFound, message)
}

func NewNotFoundWithCode(code, message string) *Error {
	return New(code, http.StatusNotFound, message)
}

func NewAlreadyExist(message string) *Error {
	return New(AlreadyExist, http.StatusConflict, message)
}

func NewConflict(message string) *Error {
	return New(Conflict, http.StatusConflict, message)
}

func NewConflictWithCode(code, message string) *Error {
	return New(code, http.StatusConflict, message)
}

func NewUnavailable(message string) *Error {
	return New(Unavailable, http.StatusServiceUnavailable, message)
}

func NewInternalError(message string) *Error {
	return New(InternalError, http.StatusInternalServerError, message)
}

func NewRequestEntityTooLarge(message string) *Error {
	return New(RequestEntityTooLarge, http.StatusRequestEntityTooLarge, message)
}

// AsError extracts a *Error from err, wrapping unknown errors as internal.
func AsError(err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return NewInternalError(err.Error())
}

func statusOf(err error) int {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Status
	}
	return http.StatusInternalServerError
}

func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

func IsConflict(err error) bool {
	return statusOf(err) == http.StatusConflict
}

func IsBadRequest(err error) bool {
	return statusOf(err) == http.StatusBadRequest
}

func IsForbidden(err error) bool {
	return statusOf(err) == http.StatusForbidden
}

func IsUnauthorized(err error) bool {
	return statusOf(err) == http.StatusUnauthorized
}

func IsUnavailable(err error) bool {
	return statusOf(err) == http.StatusServiceUnavailable
}
