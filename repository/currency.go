// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/pricing"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

// currencyRateKey is the settings key caching the last conversion rate.
const currencyRateKey = "currency_rate"

// ConvertCurrency multiplies the target price columns of every index
// entry in a list by rate, preserving each original value verbatim under
// the reserved metadata key so the conversion stays exactly reversible.
// The conversion is deterministic, so both modes apply it to the mirror
// themselves: online after the backend confirms, offline alongside one
// queued procedure call that replays it list-wide. Returns the number of
// entries touched locally.
func (r *Repository) ConvertCurrency(ctx context.Context, listID string, targetKeys []string, rate float64) (int, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("conversion rate must be positive")
	}
	return r.applyCurrency(ctx, listID, targetKeys, rate, false)
}

// RevertCurrency restores the pre-conversion values of the target price
// columns for every index entry in a list. Returns the number of entries
// touched locally.
func (r *Repository) RevertCurrency(ctx context.Context, listID string, targetKeys []string) (int, error) {
	return r.applyCurrency(ctx, listID, targetKeys, 0, true)
}

// CachedCurrencyRate returns the last conversion rate applied, if any.
func (r *Repository) CachedCurrencyRate(ctx context.Context) (float64, bool, error) {
	return r.store.GetSettingFloat(ctx, currencyRateKey)
}

func (r *Repository) applyCurrency(ctx context.Context, listID string, targetKeys []string, rate float64, revert bool) (int, error) {
	if listID == "" {
		return 0, fmt.Errorf("list id is required")
	}
	if len(targetKeys) == 0 {
		return 0, fmt.Errorf("at least one target key is required")
	}
	online := r.online()

	listRec, err := r.store.Get(ctx, domain.TableProductLists, listID)
	if err != nil {
		return 0, err
	}
	var list domain.ProductList
	if err := domain.FromRecord(listRec, &list); err != nil {
		return 0, fmt.Errorf("decode product list %s: %w", listID, err)
	}

	if online {
		req := remote.CurrencyRequest{ListID: listID, TargetKeys: targetKeys, Rate: rate}
		var callErr error
		if revert {
			_, callErr = r.backend.RevertCurrency(ctx, req)
		} else {
			_, callErr = r.backend.ConvertCurrency(ctx, req)
		}
		if callErr != nil {
			return 0, callErr
		}
		touched, err := r.convertMirror(ctx, list, targetKeys, rate, revert, false)
		if err != nil {
			r.logger.Error("mirror update failed after currency change", "list_id", listID, "error", err)
		}
		r.finishCurrency(ctx, listID, rate, revert)
		return touched, nil
	}

	touched, err := r.convertMirror(ctx, list, targetKeys, rate, revert, true)
	if err != nil {
		return 0, err
	}
	r.finishCurrency(ctx, listID, rate, revert)
	return touched, nil
}

// convertMirror applies the conversion to every mirrored index entry of
// the list in one transaction. When queue is set, a single procedure
// operation is enqueued in the same transaction to replay it list-wide.
func (r *Repository) convertMirror(ctx context.Context, list domain.ProductList, targetKeys []string, rate float64, revert, queue bool) (int, error) {
	tables := []string{domain.TableProductIndex, domain.TablePendingOps}
	touched := 0
	err := r.store.Transaction(ctx, tables, func(ctx context.Context, tx *localstore.Tx) error {
		rows, err := tx.Query(ctx, domain.TableProductIndex, map[string]any{"list_id": list.ID})
		if err != nil {
			return err
		}
		for _, row := range rows {
			var entry domain.ProductIndexEntry
			if err := domain.FromRecord(row, &entry); err != nil {
				return fmt.Errorf("decode index entry: %w", err)
			}
			if revert {
				pricing.RevertEntry(&entry, targetKeys)
			} else {
				pricing.ConvertEntry(&entry, list.Mapping, targetKeys, rate)
			}
			rec, err := domain.ToRecord(entry)
			if err != nil {
				return err
			}
			if err := tx.Put(ctx, domain.TableProductIndex, rec); err != nil {
				return err
			}
			touched++
		}
		if queue {
			rpc := domain.RPCCurrencyConvert
			if revert {
				rpc = domain.RPCCurrencyRevert
			}
			payload, err := json.Marshal(map[string]any{
				"id":                   list.ID,
				domain.PayloadFieldRPC: rpc,
				"list_id":              list.ID,
				"target_keys":          targetKeys,
				"rate":                 rate,
			})
			if err != nil {
				return fmt.Errorf("encode currency payload: %w", err)
			}
			op := domain.PendingOperation{
				Table:    domain.TableProductIndex,
				Kind:     domain.OpUpdate,
				RecordID: list.ID,
				Payload:  payload,
			}
			if _, err := tx.Enqueue(ctx, op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return touched, nil
}

// finishCurrency caches the rate and announces the price change. Both are
// conveniences layered over an already-committed conversion, so failures
// only log.
func (r *Repository) finishCurrency(ctx context.Context, listID string, rate float64, revert bool) {
	if !revert {
		if err := r.store.PutSettingFloat(ctx, currencyRateKey, rate); err != nil {
			r.logger.Warn("failed to cache currency rate", "error", err)
		}
	}
	r.events.emitPrices(PriceUpdate{ListID: listID})
}
