// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PULSE_CONFIG", "PULSE_PORT", "PULSE_DATA_DIR", "WEAVIATE_HOST",
		"WEAVIATE_SCHEME", "PULSE_GCS_BUCKET", "PULSE_GCS_KEY_PATH",
		"PULSE_ARTIFACT_DIR", "PULSE_ALERT_WEBHOOK_URL", "PULSE_API_TOKENS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "localhost:8080", cfg.Weaviate.Host)
	assert.Equal(t, "http", cfg.Weaviate.Scheme)
	assert.Empty(t, cfg.Artifacts.GCSBucket)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9100"
weaviate:
  host: weaviate.internal:8080
alerts:
  webhook_url: https://hooks.example.com/abc
`), 0o600))
	t.Setenv("PULSE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "weaviate.internal:8080", cfg.Weaviate.Host)
	assert.Equal(t, "https://hooks.example.com/abc", cfg.Alerts.WebhookURL)
	// Untouched values keep their defaults.
	assert.Equal(t, "http", cfg.Weaviate.Scheme)
}

func TestLoad_EnvWinsOverYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9100\"\n"), 0o600))
	t.Setenv("PULSE_CONFIG", path)
	t.Setenv("PULSE_PORT", "9200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9200", cfg.Server.Port)
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\tnot yaml"), 0o600))
	t.Setenv("PULSE_CONFIG", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PULSE_CONFIG", "/does/not/exist.yaml")

	_, err := Load()
	assert.Error(t, err)
}
