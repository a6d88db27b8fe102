// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
)

// OwnerAverages are the completed-session score means for one owner.
type OwnerAverages struct {
	AvgPerformance float64
	AvgSeo         float64
}

// SessionStore is the persistence contract consumed by the pipeline.
// The pipeline owns all state-machine rules; the store applies writes
// verbatim.
type SessionStore interface {
	Create(ctx context.Context, session *datatypes.Session) (string, error)
	FindByID(ctx context.Context, id string) (*datatypes.Session, error)
	Update(ctx context.Context, id string, update datatypes.SessionUpdate) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]datatypes.Session, error)
	FindLatestCompletedForURL(ctx context.Context, ownerID, targetURL, excludeID string) (*datatypes.Session, error)
	AggregateAverages(ctx context.Context, ownerID string) (OwnerAverages, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	Delete(ctx context.Context, id string) error
}

const (
	sessionKeyPrefix = "session/"
	ownerKeyPrefix   = "owner/"
)

// BadgerSessionStore implements SessionStore on an embedded BadgerDB.
type BadgerSessionStore struct {
	db *badger.DB
}

// Compile-time interface implementation check.
var _ SessionStore = (*BadgerSessionStore)(nil)

// NewBadgerSessionStore wraps an opened Badger instance. The caller
// retains ownership of db and must Close() it at shutdown.
func NewBadgerSessionStore(db *badger.DB) *BadgerSessionStore {
	return &BadgerSessionStore{db: db}
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// ownerKey is a secondary index entry: owner/<ownerID>/<sessionID> → nil.
func ownerKey(ownerID, id string) []byte {
	return []byte(ownerKeyPrefix + ownerID + "/" + id)
}

// Create assigns an id and timestamps and persists the session together
// with its owner index entry in one transaction.
func (s *BadgerSessionStore) Create(_ context.Context, session *datatypes.Session) (string, error) {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(sessionKey(session.ID), payload); err != nil {
			return err
		}
		return txn.Set(ownerKey(session.OwnerID, session.ID), nil)
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}
	return session.ID, nil
}

// FindByID loads one session. Missing ids map to datatypes.ErrNotFound.
func (s *BadgerSessionStore) FindByID(_ context.Context, id string) (*datatypes.Session, error) {
	var session datatypes.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datatypes.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return &session, nil
}

// Update applies a partial write read-modify-write inside a single
// transaction, so a stage transition and its metric fields land
// together or not at all.
func (s *BadgerSessionStore) Update(_ context.Context, id string, update datatypes.SessionUpdate) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}

		var session datatypes.Session
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		}); err != nil {
			return err
		}

		applyUpdate(&session, update)
		session.UpdatedAt = time.Now().UTC()

		payload, err := json.Marshal(&session)
		if err != nil {
			return err
		}
		return txn.Set(sessionKey(id), payload)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return nil
}

func applyUpdate(session *datatypes.Session, update datatypes.SessionUpdate) {
	if update.Status != nil {
		session.Status = *update.Status
	}
	if update.Performance != nil {
		session.Metrics.Performance = update.Performance
	}
	if update.SEO != nil {
		session.Metrics.SEO = update.SEO
	}
	if update.API != nil {
		session.Metrics.API = update.API
	}
	if update.AI != nil {
		session.Metrics.AI = update.AI
	}
	if update.AuditReportURL != nil {
		session.Artifacts.AuditReportURL = *update.AuditReportURL
	}
	if update.EndpointsURL != nil {
		session.Artifacts.EndpointsURL = *update.EndpointsURL
	}
	if update.LLMResponseURL != nil {
		session.Artifacts.LLMResponseURL = *update.LLMResponseURL
	}
	if update.Error != nil {
		session.Error = update.Error
	}
}

// forEachOwned iterates every session of one owner via the owner index.
func (s *BadgerSessionStore) forEachOwned(ownerID string, fn func(session *datatypes.Session) error) error {
	prefix := []byte(ownerKeyPrefix + ownerID + "/")
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			item, err := txn.Get(sessionKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue // index entry outlived the session
			}
			if err != nil {
				return err
			}
			var session datatypes.Session
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &session)
			}); err != nil {
				return err
			}
			if err := fn(&session); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListByOwner returns the owner's sessions newest first. limit <= 0
// returns all of them.
func (s *BadgerSessionStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]datatypes.Session, error) {
	var sessions []datatypes.Session
	err := s.forEachOwned(ownerID, func(session *datatypes.Session) error {
		sessions = append(sessions, *session)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for owner %s: %w", ownerID, err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// FindLatestCompletedForURL returns the most recent completed session
// for the same owner and target URL, excluding excludeID. Returns
// (nil, nil) when there is no prior run; trend context is optional.
func (s *BadgerSessionStore) FindLatestCompletedForURL(ctx context.Context, ownerID, targetURL, excludeID string) (*datatypes.Session, error) {
	sessions, err := s.ListByOwner(ctx, ownerID, 0)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		session := &sessions[i]
		if session.ID == excludeID {
			continue
		}
		if session.Status == datatypes.StatusCompleted && session.TargetURL == targetURL {
			return session, nil
		}
	}
	return nil, nil
}

// AggregateAverages computes the mean performance and SEO scores across
// the owner's completed sessions.
func (s *BadgerSessionStore) AggregateAverages(_ context.Context, ownerID string) (OwnerAverages, error) {
	var perfSum, seoSum float64
	var count int

	err := s.forEachOwned(ownerID, func(session *datatypes.Session) error {
		if session.Status != datatypes.StatusCompleted || session.Metrics.Performance == nil {
			return nil
		}
		perfSum += session.Metrics.Performance.Score
		if session.Metrics.SEO != nil {
			seoSum += session.Metrics.SEO.Score
		}
		count++
		return nil
	})
	if err != nil {
		return OwnerAverages{}, fmt.Errorf("failed to aggregate averages for owner %s: %w", ownerID, err)
	}

	if count == 0 {
		return OwnerAverages{}, nil
	}
	return OwnerAverages{
		AvgPerformance: perfSum / float64(count),
		AvgSeo:         seoSum / float64(count),
	}, nil
}

// CountByOwner returns the owner's total session count.
func (s *BadgerSessionStore) CountByOwner(_ context.Context, ownerID string) (int, error) {
	count := 0
	err := s.forEachOwned(ownerID, func(*datatypes.Session) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions for owner %s: %w", ownerID, err)
	}
	return count, nil
}

// Delete removes the session and its owner index entry. Deleting a
// missing session is a no-op; cleanup is a maintenance concern.
func (s *BadgerSessionStore) Delete(ctx context.Context, id string) error {
	session, err := s.FindByID(ctx, id)
	if errors.Is(err, datatypes.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(sessionKey(id)); err != nil {
			return err
		}
		return txn.Delete(ownerKey(session.OwnerID, id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}
