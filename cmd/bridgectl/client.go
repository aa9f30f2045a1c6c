// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBridge/pkg/extensions"
	"github.com/AleutianAI/AleutianBridge/services/bridge/compat"
	"github.com/AleutianAI/AleutianBridge/services/bridge/handlers"
	"github.com/AleutianAI/AleutianBridge/services/bridge/legacy"
	"github.com/AleutianAI/AleutianBridge/services/bridge/migration"
	"github.com/gorilla/websocket"
)

const maxResponseBytes = 4 << 20

// apiError is a non-2xx answer from the admin API.
type apiError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
}

// errorBody mirrors handlers.ErrorResponse with the details left raw.
type errorBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

// adminClient calls the bridge operator API.
type adminClient struct {
	base    string
	token   string
	http    *http.Client
	timeout time.Duration
}

func newAdminClient(base, token string, timeout time.Duration) *adminClient {
	return &adminClient{
		base:    strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (c *adminClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+"/admin"+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Error
			apiErr.Details = eb.Details
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

func (c *adminClient) Progress(ctx context.Context) (migration.Progress, error) {
	var p migration.Progress
	err := c.do(ctx, http.MethodGet, "/migration", nil, &p)
	return p, err
}

func (c *adminClient) Compatibility(ctx context.Context) (compat.Report, error) {
	var r compat.Report
	err := c.do(ctx, http.MethodPost, "/compatibility", nil, &r)
	return r, err
}

// Transition runs one migration transition. A rejected transition still
// returns the server's Result when the error carries one, so the caller
// can show the failing report or the restored flags.
func (c *adminClient) Transition(ctx context.Context, name string, in any) (migration.Result, error) {
	var res migration.Result
	err := c.do(ctx, http.MethodPost, "/migration/"+name, in, &res)

	var apiErr *apiError
	if errors.As(err, &apiErr) && len(apiErr.Details) > 0 && string(apiErr.Details) != "null" {
		_ = json.Unmarshal(apiErr.Details, &res)
	}
	return res, err
}

func (c *adminClient) LegacyStats(ctx context.Context) (legacy.Stats, error) {
	var s legacy.Stats
	err := c.do(ctx, http.MethodGet, "/legacy/stats", nil, &s)
	return s, err
}

func (c *adminClient) ResetUsage(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/legacy/usage/reset", nil, nil)
}

func (c *adminClient) Audit(ctx context.Context, eventType string, limit int) ([]extensions.AuditEvent, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("event_type", eventType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Events []extensions.AuditEvent `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Events, err
}

func (c *adminClient) Diagnostics(ctx context.Context) (handlers.DiagnosticsResponse, error) {
	var d handlers.DiagnosticsResponse
	err := c.do(ctx, http.MethodGet, "/diagnostics", nil, &d)
	return d, err
}

// Watch streams migration progress until fn returns false, ctx ends or the
// server closes the stream. A normal close is not an error.
func (c *adminClient) Watch(ctx context.Context, fn func(migration.Progress) bool) error {
	wsURL, err := url.Parse(c.base + "/admin/migration/watch")
	if err != nil {
		return fmt.Errorf("build watch url: %w", err)
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	ws, resp, err := dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return &apiError{Status: resp.StatusCode, Message: "watch rejected"}
		}
		return fmt.Errorf("bridge unreachable at %s: %w", c.base, err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = ws.Close()
	})
	defer stop()

	for {
		var p migration.Progress
		if err := ws.ReadJSON(&p); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("watch stream: %w", err)
		}
		if !fn(p) {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		}
	}
}
