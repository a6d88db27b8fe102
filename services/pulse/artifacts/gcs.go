// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore uploads artifacts to a Google Cloud Storage bucket and
// returns public-style object URLs.
type GCSStore struct {
	storageClient *storage.Client
	BucketName    string
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore authenticates with a service account key file. Pass an
// empty saKeyPath to use application default credentials.
func NewGCSStore(ctx context.Context, bucketName, saKeyPath string) (*GCSStore, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSStore{
		storageClient: storageClient,
		BucketName:    bucketName,
	}, nil
}

// PutJSON uploads the payload as <kind>/<unix-nanos>.json.
func (s *GCSStore) PutJSON(ctx context.Context, kind string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal artifact: %w", err)
	}

	objectPath := fmt.Sprintf("%s/%d.json", kind, time.Now().UnixNano())
	obj := s.storageClient.Bucket(s.BucketName).Object(objectPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if err := writeAndClose(writer, data); err != nil {
		return "", fmt.Errorf("failed to write GCS object %s: %w", objectPath, err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.BucketName, objectPath), nil
}

// writeAndClose always closes the writer, so a failed write still
// releases the underlying upload session.
func writeAndClose(w io.WriteCloser, data []byte) error {
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Close releases the underlying storage client.
func (s *GCSStore) Close() error {
	return s.storageClient.Close()
}
