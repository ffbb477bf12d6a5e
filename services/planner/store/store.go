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

// Storage layout:
//
//	run/v1/{runID}              → JSON datatypes.Run
//	phase/v1/{runID}/{phase}    → JSON datatypes.PhaseRecord
//	report/v1/{reportID}        → JSON datatypes.Report       TTL: report TTL
//	share/v1/{token}            → report ID (raw string)      TTL: report TTL
//	inv/v1/{itemID}             → JSON datatypes.InventoryItem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
)

const (
	runKeyPrefix    = "run/v1/"
	phaseKeyPrefix  = "phase/v1/"
	reportKeyPrefix = "report/v1/"
	shareKeyPrefix  = "share/v1/"
	invKeyPrefix    = "inv/v1/"
)

// ErrNotFound is returned when a requested record does not exist or its
// TTL has expired.
var ErrNotFound = errors.New("store: not found")

// Store provides typed access to planner state on top of the DB wrapper.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db        *DB
	reportTTL time.Duration
}

// New creates a Store. The caller owns the DB lifecycle.
//
// Inputs:
//   - db: Opened DB wrapper. Must not be nil.
//   - reportTTL: Lifetime for reports and share tokens. Pass 0 to keep
//     them indefinitely.
func New(db *DB, reportTTL time.Duration) *Store {
	if db == nil {
		panic("store.New: db must not be nil")
	}
	return &Store{db: db, reportTTL: reportTTL}
}

// =============================================================================
// Runs
// =============================================================================

// SaveRun writes the run record, stamping UpdatedAt.
func (s *Store) SaveRun(ctx context.Context, run *datatypes.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("store: run must have an ID")
	}
	run.UpdatedAt = time.Now().UTC()
	return s.putJSON(ctx, runKeyPrefix+run.ID, run, 0)
}

// GetRun loads a run by ID. Returns ErrNotFound if absent.
func (s *Store) GetRun(ctx context.Context, id string) (*datatypes.Run, error) {
	var run datatypes.Run
	if err := s.getJSON(ctx, runKeyPrefix+id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*datatypes.Run, error) {
	var runs []*datatypes.Run
	err := s.scanJSON(ctx, runKeyPrefix, func(raw []byte) error {
		var run datatypes.Run
		if err := json.Unmarshal(raw, &run); err != nil {
			return err
		}
		runs = append(runs, &run)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// =============================================================================
// Phase Records
// =============================================================================

// SavePhaseRecord writes the per-phase execution record.
func (s *Store) SavePhaseRecord(ctx context.Context, rec *datatypes.PhaseRecord) error {
	if rec == nil || rec.RunID == "" || rec.Phase == "" {
		return fmt.Errorf("store: phase record must have run ID and phase")
	}
	key := phaseKeyPrefix + rec.RunID + "/" + string(rec.Phase)
	return s.putJSON(ctx, key, rec, 0)
}

// GetPhaseRecord loads one phase record. Returns ErrNotFound if absent.
func (s *Store) GetPhaseRecord(ctx context.Context, runID string, phase datatypes.PhaseName) (*datatypes.PhaseRecord, error) {
	var rec datatypes.PhaseRecord
	if err := s.getJSON(ctx, phaseKeyPrefix+runID+"/"+string(phase), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPhaseRecords returns all phase records for a run, in workflow order.
func (s *Store) ListPhaseRecords(ctx context.Context, runID string) ([]*datatypes.PhaseRecord, error) {
	byPhase := make(map[datatypes.PhaseName]*datatypes.PhaseRecord)
	err := s.scanJSON(ctx, phaseKeyPrefix+runID+"/", func(raw []byte) error {
		var rec datatypes.PhaseRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		byPhase[rec.Phase] = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []*datatypes.PhaseRecord
	for _, phase := range datatypes.PhaseOrder {
		if rec, ok := byPhase[phase]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// =============================================================================
// Reports
// =============================================================================

// SaveReport writes the report and, when it carries a share token, the
// token→report mapping. Both expire together via TTL.
func (s *Store) SaveReport(ctx context.Context, report *datatypes.Report) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("store: report must have an ID")
	}
	if err := s.putJSON(ctx, reportKeyPrefix+report.ID, report, s.reportTTL); err != nil {
		return err
	}
	if report.ShareToken != "" {
		return s.putRaw(ctx, shareKeyPrefix+report.ShareToken, []byte(report.ID), s.reportTTL)
	}
	return nil
}

// GetReport loads a report by ID. Returns ErrNotFound if absent or expired.
func (s *Store) GetReport(ctx context.Context, id string) (*datatypes.Report, error) {
	var report datatypes.Report
	if err := s.getJSON(ctx, reportKeyPrefix+id, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// GetReportByShareToken resolves a share token to its report.
func (s *Store) GetReportByShareToken(ctx context.Context, token string) (*datatypes.Report, error) {
	raw, err := s.getRaw(ctx, shareKeyPrefix+token)
	if err != nil {
		return nil, err
	}
	return s.GetReport(ctx, string(raw))
}

// RotateShareToken replaces the report's share token with the given one.
// Any previously issued token stops resolving.
func (s *Store) RotateShareToken(ctx context.Context, reportID, token string) (*datatypes.Report, error) {
	report, err := s.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.ShareToken != "" {
		if err := s.deleteKey(ctx, shareKeyPrefix+report.ShareToken); err != nil {
			return nil, err
		}
	}
	report.ShareToken = token
	if err := s.SaveReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// RevokeShareToken removes the report's share token. Revoking an unshared
// report is not an error.
func (s *Store) RevokeShareToken(ctx context.Context, reportID string) error {
	report, err := s.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.ShareToken == "" {
		return nil
	}
	if err := s.deleteKey(ctx, shareKeyPrefix+report.ShareToken); err != nil {
		return err
	}
	report.ShareToken = ""
	return s.SaveReport(ctx, report)
}

// =============================================================================
// Inventory
// =============================================================================

// PutInventoryItem creates or updates an inventory item.
func (s *Store) PutInventoryItem(ctx context.Context, item *datatypes.InventoryItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("store: inventory item must have an ID")
	}
	return s.putJSON(ctx, invKeyPrefix+item.ID, item, 0)
}

// GetInventoryItem loads one inventory item. Returns ErrNotFound if absent.
func (s *Store) GetInventoryItem(ctx context.Context, id string) (*datatypes.InventoryItem, error) {
	var item datatypes.InventoryItem
	if err := s.getJSON(ctx, invKeyPrefix+id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListInventory returns all inventory items sorted by name.
func (s *Store) ListInventory(ctx context.Context) ([]*datatypes.InventoryItem, error) {
	var items []*datatypes.InventoryItem
	err := s.scanJSON(ctx, invKeyPrefix, func(raw []byte) error {
		var item datatypes.InventoryItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return err
		}
		items = append(items, &item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}

// DeleteInventoryItem removes an item. Deleting a missing item is not an
// error.
func (s *Store) DeleteInventoryItem(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(invKeyPrefix + id))
	})
}

// =============================================================================
// Encoding Helpers
// =============================================================================

func (s *Store) deleteKey(ctx context.Context, key string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *Store) putJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", key, err)
	}
	return s.putRaw(ctx, key, raw, ttl)
}

func (s *Store) putRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), raw)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.getRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("store: decoding %s: %w", key, err)
	}
	return nil
}

func (s *Store) getRaw(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: get %s: %w", key, err)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// scanJSON iterates all values under prefix, passing each raw value to fn.
func (s *Store) scanJSON(ctx context.Context, prefix string, fn func(raw []byte) error) error {
	return s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("store: scan %s: %w", prefix, err)
			}
			if err := fn(raw); err != nil {
				return err
			}
		}
		return nil
	})
}
