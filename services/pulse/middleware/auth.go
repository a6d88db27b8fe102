// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the pulse service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, validates it using the configured AuthProvider, and stores
// the resulting owner id in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store owner id in context
//	           │
//	           ▼
//	       Handler (retrieves via GetOwnerID)
//
// # Open Behavior
//
// With NopAuthProvider (default), all requests resolve to the
// "local-user" owner, optionally overridden by an X-Pulse-Owner header
// so a shared dev instance can keep dashboards apart. Deployments that
// need real isolation configure StaticTokenProvider.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
)

// ownerIDKey is the context key for the resolved owner id. A typed key
// string prevents collisions with other context values.
const ownerIDKey = "pulse_owner_id"

// LocalOwner is the owner id every request resolves to when no auth
// provider is configured.
const LocalOwner = "local-user"

// ownerHeader lets unauthenticated deployments partition sessions per
// caller.
const ownerHeader = "X-Pulse-Owner"

// AuthProvider validates a bearer token and resolves the owning user.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (ownerID string, err error)
}

// NopAuthProvider accepts every request as LocalOwner, including
// requests with no token at all.
type NopAuthProvider struct{}

func (NopAuthProvider) Validate(context.Context, string) (string, error) {
	return LocalOwner, nil
}

// StaticTokenProvider resolves owners from a fixed token table.
type StaticTokenProvider struct {
	owners map[string]string
}

// NewStaticTokenProvider parses a "token:owner,token:owner" spec, the
// format of the PULSE_API_TOKENS environment variable.
func NewStaticTokenProvider(spec string) (*StaticTokenProvider, error) {
	owners := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, owner, found := strings.Cut(pair, ":")
		if !found || token == "" || owner == "" {
			return nil, fmt.Errorf("invalid token spec entry %q, want token:owner", pair)
		}
		owners[token] = owner
	}
	if len(owners) == 0 {
		return nil, fmt.Errorf("token spec contains no entries")
	}
	return &StaticTokenProvider{owners: owners}, nil
}

func (p *StaticTokenProvider) Validate(_ context.Context, token string) (string, error) {
	owner, ok := p.owners[token]
	if !ok {
		return "", datatypes.ErrUnauthorized
	}
	return owner, nil
}

// SetOwnerID stores the resolved owner in the Gin context.
func SetOwnerID(c *gin.Context, ownerID string) {
	c.Set(ownerIDKey, ownerID)
}

// GetOwnerID retrieves the resolved owner, or "" when the middleware
// did not run.
func GetOwnerID(c *gin.Context) string {
	if v, exists := c.Get(ownerIDKey); exists {
		if ownerID, ok := v.(string); ok {
			return ownerID
		}
	}
	return ""
}

// AuthMiddleware authenticates requests and resolves their owner.
//
// The open-mode owner header is only honored for LocalOwner results;
// a token-authenticated owner can never be overridden by a header.
func AuthMiddleware(provider AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		ownerID, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, datatypes.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		if ownerID == LocalOwner {
			if header := strings.TrimSpace(c.GetHeader(ownerHeader)); header != "" {
				ownerID = header
			}
		}

		SetOwnerID(c, ownerID)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". Returns ""
// when the header is missing or malformed. The scheme comparison is
// case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
