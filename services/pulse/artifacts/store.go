// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifacts stores raw pipeline blobs (audit reports, telemetry
// exports, AI responses) and hands back durable fetchable URLs.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store uploads one JSON blob under a kind folder and returns a durable
// URL for it. Objects are timestamp-addressed; uploads never overwrite.
type Store interface {
	PutJSON(ctx context.Context, kind string, payload any) (string, error)
}

// LocalStore writes artifacts into a local directory. Used for
// development and tests; the returned URL is a file:// reference.
type LocalStore struct {
	dir string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// PutJSON marshals the payload and writes it under dir/kind/.
func (s *LocalStore) PutJSON(_ context.Context, kind string, payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal artifact: %w", err)
	}

	kindDir := filepath.Join(s.dir, kind)
	if err := os.MkdirAll(kindDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create artifact kind directory: %w", err)
	}

	name := fmt.Sprintf("%d.json", time.Now().UnixNano())
	path := filepath.Join(kindDir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs, nil
}
