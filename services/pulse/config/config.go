// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the pulse service configuration. Defaults come
// first, an optional YAML file (PULSE_CONFIG) overrides them, and
// environment variables win over both.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config contains all pulse service configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Server contains HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Store contains BadgerDB session store settings.
	Store StoreConfig `yaml:"store"`

	// Weaviate contains vector store connection settings.
	Weaviate WeaviateConfig `yaml:"weaviate"`

	// Artifacts contains artifact storage settings.
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Alerts contains alert webhook settings.
	Alerts AlertsConfig `yaml:"alerts"`

	// Auth contains API token settings.
	Auth AuthConfig `yaml:"auth"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// StoreConfig contains BadgerDB settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WeaviateConfig contains vector store connection settings.
type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
}

// ArtifactsConfig selects the artifact backend. A configured GCS
// bucket wins; otherwise artifacts land in the local directory.
type ArtifactsConfig struct {
	GCSBucket string `yaml:"gcs_bucket"`
	GCSKey    string `yaml:"gcs_key_path"`
	LocalDir  string `yaml:"local_dir"`
}

// AlertsConfig contains alert webhook settings. An empty URL disables
// alerting.
type AlertsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// AuthConfig contains the static API token table. Empty means open
// mode.
type AuthConfig struct {
	Tokens string `yaml:"tokens"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Server:    ServerConfig{Port: "8000"},
		Store:     StoreConfig{Path: "/data/pulse/sessions"},
		Weaviate:  WeaviateConfig{Host: "localhost:8080", Scheme: "http"},
		Artifacts: ArtifactsConfig{LocalDir: "/data/pulse/artifacts"},
	}
}

// envOverrides maps environment variables onto config fields.
var envOverrides = []struct {
	key   string
	apply func(cfg *Config, value string)
}{
	{"PULSE_PORT", func(cfg *Config, v string) { cfg.Server.Port = v }},
	{"PULSE_DATA_DIR", func(cfg *Config, v string) { cfg.Store.Path = v }},
	{"WEAVIATE_HOST", func(cfg *Config, v string) { cfg.Weaviate.Host = v }},
	{"WEAVIATE_SCHEME", func(cfg *Config, v string) { cfg.Weaviate.Scheme = v }},
	{"PULSE_GCS_BUCKET", func(cfg *Config, v string) { cfg.Artifacts.GCSBucket = v }},
	{"PULSE_GCS_KEY_PATH", func(cfg *Config, v string) { cfg.Artifacts.GCSKey = v }},
	{"PULSE_ARTIFACT_DIR", func(cfg *Config, v string) { cfg.Artifacts.LocalDir = v }},
	{"PULSE_ALERT_WEBHOOK_URL", func(cfg *Config, v string) { cfg.Alerts.WebhookURL = v }},
	{"PULSE_API_TOKENS", func(cfg *Config, v string) { cfg.Auth.Tokens = v }},
}

// Load builds the effective configuration: defaults, then the optional
// PULSE_CONFIG YAML file, then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("PULSE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	for _, override := range envOverrides {
		if value := os.Getenv(override.key); value != "" {
			override.apply(&cfg, value)
		}
	}

	if cfg.Server.Port == "" {
		return Config{}, fmt.Errorf("server port must not be empty")
	}
	return cfg, nil
}
