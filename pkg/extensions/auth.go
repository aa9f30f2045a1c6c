// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions holds the pluggable security hooks of the bridge:
// operator authentication and the audit trail for administrative actions.
//
// Both hooks ship with permissive defaults so a local install works without
// any identity infrastructure. Deployments replace them through the
// interfaces below.
package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"

	"github.com/awnumar/memguard"
)

// ErrUnauthorized is returned when authentication fails. Providers should
// wrap it with their own context.
var ErrUnauthorized = errors.New("unauthorized")

// RoleAdmin is granted to operators allowed to drive migrations.
const RoleAdmin = "admin"

// AuthInfo identifies the caller of an administrative endpoint.
type AuthInfo struct {
	// UserID is never empty for a successful authentication.
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
}

// HasRole reports whether the caller holds role.
func (a *AuthInfo) HasRole(role string) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Roles, role)
}

// AuthProvider validates a bearer token.
//
// # Description
//
// Implementations must be safe for concurrent use. A rejected token returns
// an error wrapping ErrUnauthorized; any other error is treated as a
// provider failure.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every token as the local operator.
//
// Used when no admin token is configured.
type NopAuthProvider struct{}

// Validate always succeeds.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-operator", Roles: []string{RoleAdmin}}, nil
}

// TokenAuthProvider accepts a single shared operator token.
//
// The token is held in an encrypted memguard enclave and only decrypted
// into locked memory for the duration of a comparison.
//
// # Thread Safety
//
// Immutable after construction.
type TokenAuthProvider struct {
	token  *memguard.Enclave
	userID string
}

// NewTokenAuthProvider creates a provider for token. The caller identity
// reported on success is userID, or "operator" when empty. An empty token
// rejects every request.
func NewTokenAuthProvider(token, userID string) *TokenAuthProvider {
	if userID == "" {
		userID = "operator"
	}
	p := &TokenAuthProvider{userID: userID}
	if token != "" {
		p.token = memguard.NewEnclave([]byte(token))
	}
	return p
}

// Validate compares token in constant time.
func (p *TokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" || p.token == nil {
		return nil, ErrUnauthorized
	}
	buf, err := p.token.Open()
	if err != nil {
		return nil, fmt.Errorf("open admin token: %w", err)
	}
	defer buf.Destroy()

	if subtle.ConstantTimeCompare([]byte(token), buf.Bytes()) != 1 {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{UserID: p.userID, Roles: []string{RoleAdmin}}, nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*TokenAuthProvider)(nil)
)
