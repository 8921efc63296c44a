/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultMaxTry  = 2
)

type Result struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

type Interface interface {
	Get(ctx context.Context, url string, headers ...string) (*Result, error)
	Post(ctx context.Context, url string, body interface{}, headers ...string) (*Result, error)
	Put(ctx context.Context, url string, body interface{}, headers ...string) (*Result, error)
	Delete(ctx context.Context, url string, headers ...string) (*Result, error)
	Do(req *http.Request) (*Result, error)
}

type client struct {
	*http.Client
}

// New builds a client with an explicit connect timeout and an overall
// request deadline. The zero values fall back to the defaults.
func New(connectTimeout, requestTimeout time.Duration) Interface {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultTimeout
	}
	return &client{
		Client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				MaxIdleConns:    64,
				MaxConnsPerHost: 32,
				IdleConnTimeout: 1 * time.Minute,
			},
		},
	}
}

func (c *client) Get(ctx context.Context, url string, headers ...string) (*Result, error) {
	return c.do(ctx, url, http.MethodGet, nil, headers...)
}

func (c *client) Post(ctx context.Context, url string, body interface{}, headers ...string) (*Result, error) {
	return c.do(ctx, url, http.MethodPost, body, headers...)
}

func (c *client) Put(ctx context.Context, url string, body interface{}, headers ...string) (*Result, error) {
	return c.do(ctx, url, http.MethodPut, body, headers...)
}

func (c *client) Delete(ctx context.Context, url string, headers ...string) (*Result, error) {
	return c.do(ctx, url, http.MethodDelete, nil, headers...)
}

func (c *client) do(ctx context.Context, url, method string, body interface{}, headers ...string) (*Result, error) {
	req, err := BuildRequest(ctx, url, method, body, headers...)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do sends the request, retrying transport-level failures up to DefaultMaxTry
// attempts. The response body is read fully and closed.
func (c *client) Do(req *http.Request) (*Result, error) {
	var rsp *http.Response
	var err error
	for i := 0; i < DefaultMaxTry; i++ {
		if rsp, err = c.Client.Do(req); err == nil {
			break
		} else if i == DefaultMaxTry-1 {
			return nil, err
		}
	}
	if rsp == nil {
		return nil, fmt.Errorf("no result")
	}
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, err
	}
	return &Result{StatusCode: rsp.StatusCode, Body: data, Header: rsp.Header}, nil
}

// BuildRequest assembles a request with JSON content type and header pairs
// (key, value). The scheme defaults to http for bare host:port targets.
func BuildRequest(ctx context.Context, url, method string, body interface{}, headers ...string) (*http.Request, error) {
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	reader, err := cvtIOReader(body)
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(headers); i += 2 {
		request.Header.Set(headers[i], headers[i+1])
	}
	if request.Header.Get("Content-Type") == "" {
		request.Header.Set("Content-Type", "application/json")
	}
	return request, nil
}

func cvtIOReader(body interface{}) (io.Reader, error) {
	if body == nil {
		return nil, nil
	}
	switch v := body.(type) {
	case string:
		return strings.NewReader(v), nil
	case io.Reader:
		return v, nil
	case []byte:
		return bytes.NewReader(v), nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
}
