// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/pricing"
)

// AdjustStock applies signed quantity deltas to products in one
// transaction, clamped at zero, and propagates each resulting quantity to
// the product's index row and to personal-stock links (which clamp
// independently). An op_id seen before replays its recorded result
// instead of applying again; an unknown product yields Applied=false and
// is not recorded, so a later redelivery can still land.
func (s *Service) AdjustStock(ctx context.Context, userID string, adjustments []StockAdjustment) (*AdjustOutcome, error) {
	out := &AdjustOutcome{}
	if len(adjustments) == 0 {
		return out, nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, adj := range adjustments {
			if adj.ProductID == "" {
				return fmt.Errorf("adjustment is missing a product id")
			}
			if adj.OpID != "" {
				prev, ok, err := s.replayedResult(ctx, tx, userID, adj.OpID)
				if err != nil {
					return err
				}
				if ok {
					out.Results = append(out.Results, prev)
					out.Processed++
					continue
				}
			}

			var oldQty float64
			err := tx.QueryRow(ctx,
				`SELECT quantity FROM products WHERE user_id = $1 AND id = $2 FOR UPDATE`,
				userID, adj.ProductID).Scan(&oldQty)
			if errors.Is(err, pgx.ErrNoRows) {
				out.Results = append(out.Results, StockAdjustResult{
					ProductID: adj.ProductID, Delta: adj.Delta, Applied: false,
				})
				continue
			}
			if err != nil {
				return fmt.Errorf("lock product %s: %w", adj.ProductID, err)
			}

			newQty := oldQty + adj.Delta
			if newQty < 0 {
				newQty = 0
			}
			if err := s.writeQuantityTx(ctx, tx, userID, adj.ProductID, newQty, adj.Delta); err != nil {
				return err
			}

			result := StockAdjustResult{
				ProductID: adj.ProductID, OldQty: oldQty, NewQty: newQty,
				Delta: adj.Delta, Applied: true,
			}
			if adj.OpID != "" {
				if err := s.recordResult(ctx, tx, userID, adj.OpID, result); err != nil {
					return err
				}
			}
			out.Results = append(out.Results, result)
			out.Processed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateSearch(ctx, userID, domain.TableProductIndex)
	return out, nil
}

// replayedResult looks up a previously recorded adjustment result.
func (s *Service) replayedResult(ctx context.Context, tx pgx.Tx, userID, opID string) (StockAdjustResult, bool, error) {
	var raw []byte
	err := tx.QueryRow(ctx,
		`SELECT result FROM applied_ops WHERE user_id = $1 AND op_id = $2`,
		userID, opID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockAdjustResult{}, false, nil
	}
	if err != nil {
		return StockAdjustResult{}, false, fmt.Errorf("look up op %s: %w", opID, err)
	}
	var result StockAdjustResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return StockAdjustResult{}, false, fmt.Errorf("decode recorded result for op %s: %w", opID, err)
	}
	return result, true, nil
}

func (s *Service) recordResult(ctx context.Context, tx pgx.Tx, userID, opID string, result StockAdjustResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result for op %s: %w", opID, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO applied_ops (user_id, op_id, result) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, op_id) DO NOTHING`,
		userID, opID, raw)
	if err != nil {
		return fmt.Errorf("record op %s: %w", opID, err)
	}
	return nil
}

// writeQuantityTx lands a confirmed quantity on the product and its index
// row, and moves personal-stock links by the same delta with their own
// zero clamp. Docs are patched alongside the promoted columns.
func (s *Service) writeQuantityTx(ctx context.Context, tx pgx.Tx, userID, productID string, newQty, delta float64) error {
	for _, table := range []string{domain.TableProducts, domain.TableProductIndex} {
		_, err := tx.Exec(ctx, `
			UPDATE `+table+`
			SET quantity = $3,
			    doc = jsonb_set(doc, '{quantity}', to_jsonb($3::double precision)),
			    updated_at = now()
			WHERE user_id = $1 AND id = $2`, userID, productID, newQty)
		if err != nil {
			return fmt.Errorf("update %s quantity for %s: %w", table, productID, err)
		}
	}
	_, err := tx.Exec(ctx, `
		UPDATE my_stock
		SET quantity = GREATEST(quantity + $3, 0),
		    doc = jsonb_set(doc, '{quantity}', to_jsonb(GREATEST(quantity + $3, 0))),
		    updated_at = now()
		WHERE user_id = $1 AND product_id = $2`, userID, productID, delta)
	if err != nil {
		return fmt.Errorf("update personal stock for %s: %w", productID, err)
	}
	return nil
}

// MyStockAdd links products into the user's personal catalog.
func (s *Service) MyStockAdd(ctx context.Context, userID string, entries []domain.Record) (int, error) {
	return s.BulkUpsert(ctx, userID, domain.TableMyStock, entries)
}

// MyStockRemove unlinks personal-stock entries by product id and returns
// the removed count.
func (s *Service) MyStockRemove(ctx context.Context, userID string, productIDs []string) (int, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM my_stock WHERE user_id = $1 AND product_id = ANY($2)`,
		userID, productIDs)
	if err != nil {
		return 0, fmt.Errorf("remove personal stock: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ConvertCurrency multiplies the target price columns of one list's index
// entries by rate, preserving each original value for an exact revert.
// Entries already converted are skipped, so redelivery cannot compound.
func (s *Service) ConvertCurrency(ctx context.Context, userID string, req CurrencyRequest) (int, error) {
	if req.Rate <= 0 {
		return 0, fmt.Errorf("conversion rate must be positive, got %v", req.Rate)
	}
	return s.applyCurrency(ctx, userID, req, true)
}

// RevertCurrency restores the preserved originals on the target columns.
func (s *Service) RevertCurrency(ctx context.Context, userID string, req CurrencyRequest) (int, error) {
	return s.applyCurrency(ctx, userID, req, false)
}

func (s *Service) applyCurrency(ctx context.Context, userID string, req CurrencyRequest, convert bool) (int, error) {
	updated := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var listDoc []byte
		err := tx.QueryRow(ctx,
			`SELECT doc FROM product_lists WHERE user_id = $1 AND id = $2`,
			userID, req.ListID).Scan(&listDoc)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load list %s: %w", req.ListID, err)
		}
		var list domain.ProductList
		if err := json.Unmarshal(listDoc, &list); err != nil {
			return fmt.Errorf("decode list %s: %w", req.ListID, err)
		}

		rows, err := tx.Query(ctx,
			`SELECT id, doc FROM product_index WHERE user_id = $1 AND list_id = $2 FOR UPDATE`,
			userID, req.ListID)
		if err != nil {
			return fmt.Errorf("load index entries of %s: %w", req.ListID, err)
		}
		type pending struct {
			id  string
			rec domain.Record
		}
		var changed []pending
		for rows.Next() {
			var id string
			var doc []byte
			if err := rows.Scan(&id, &doc); err != nil {
				rows.Close()
				return fmt.Errorf("scan index entry: %w", err)
			}
			var entry domain.ProductIndexEntry
			if err := json.Unmarshal(doc, &entry); err != nil {
				rows.Close()
				return fmt.Errorf("decode index entry %s: %w", id, err)
			}
			var touched bool
			if convert {
				touched = pricing.ConvertEntry(&entry, list.Mapping, req.TargetKeys, req.Rate)
			} else {
				touched = pricing.RevertEntry(&entry, req.TargetKeys)
			}
			if !touched {
				continue
			}
			rec, err := domain.ToRecord(entry)
			if err != nil {
				rows.Close()
				return fmt.Errorf("encode index entry %s: %w", id, err)
			}
			changed = append(changed, pending{id: id, rec: rec})
		}
		if rows.Err() != nil {
			return fmt.Errorf("iterate index entries: %w", rows.Err())
		}
		rows.Close()

		for _, p := range changed {
			if err := s.upsertRowTx(ctx, tx, userID, domain.TableProductIndex, p.id, p.rec); err != nil {
				return err
			}
		}
		updated = len(changed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.invalidateSearch(ctx, userID, domain.TableProductIndex)
	return updated, nil
}

// searchLimit bounds result pages.
const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchProducts ranks index entries for the user: exact code match
// first, then name prefix, then substring anywhere in name or code, with
// ties broken by name. Total counts all matches before paging. Pages are
// served from the cache when one is configured.
func (s *Service) SearchProducts(ctx context.Context, userID string, q SearchQuery) (*SearchResult, error) {
	if q.Limit <= 0 {
		q.Limit = defaultSearchLimit
	}
	if q.Limit > maxSearchLimit {
		q.Limit = maxSearchLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	fingerprint := searchFingerprint(q)
	if s.cache != nil {
		if cached, ok := s.cache.GetSearch(ctx, userID, fingerprint); ok {
			return cached, nil
		}
	}

	term := strings.ToLower(strings.TrimSpace(q.Term))
	escaped := likeEscaper.Replace(term)
	args := pgx.NamedArgs{
		"user":     userID,
		"term":     term,
		"prefix":   escaped + "%",
		"contains": "%" + escaped + "%",
		"limit":    q.Limit,
		"offset":   q.Offset,
	}

	var from strings.Builder
	from.WriteString(`
		FROM product_index i`)
	if q.Supplier != "" {
		from.WriteString(`
		JOIN product_lists l
		  ON l.user_id = i.user_id AND l.id = i.list_id
		 AND lower(l.supplier) = lower(@supplier)`)
		args["supplier"] = q.Supplier
	}
	from.WriteString(`
		WHERE i.user_id = @user
		  AND (lower(i.code) = @term
		       OR lower(i.name) LIKE @contains ESCAPE '\'
		       OR lower(i.code) LIKE @contains ESCAPE '\')`)
	if q.ListID != "" {
		from.WriteString(`
		  AND i.list_id = @list`)
		args["list"] = q.ListID
	}

	pageSQL := `
		SELECT i.doc, count(*) OVER () AS total,
		       CASE
		         WHEN lower(i.code) = @term THEN 0
		         WHEN lower(i.name) LIKE @prefix ESCAPE '\' THEN 1
		         ELSE 2
		       END AS rank` + from.String() + `
		ORDER BY rank, lower(i.name), i.id
		LIMIT @limit OFFSET @offset`

	rows, err := s.pool.Query(ctx, pageSQL, args)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	result := &SearchResult{Rows: []domain.Record{}}
	for rows.Next() {
		var doc []byte
		var total int64
		var rank int
		if err := rows.Scan(&doc, &total, &rank); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		rec, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, rec)
		result.Total = int(total)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate search rows: %w", rows.Err())
	}

	// A page past the end carries no window rows, so the total has to be
	// counted separately to stay truthful.
	if len(result.Rows) == 0 && q.Offset > 0 {
		var total int64
		countSQL := `SELECT count(*)` + from.String()
		if err := s.pool.QueryRow(ctx, countSQL, args).Scan(&total); err != nil {
			return nil, fmt.Errorf("count search matches: %w", err)
		}
		result.Total = int(total)
	}

	if s.cache != nil {
		s.cache.PutSearch(ctx, userID, fingerprint, result)
	}
	return result, nil
}

// searchFingerprint folds a query into a stable cache key component.
func searchFingerprint(q SearchQuery) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d|%d",
		strings.ToLower(strings.TrimSpace(q.Term)), q.ListID, q.Supplier, q.Limit, q.Offset))
	return fmt.Sprintf("%x", sum[:12])
}
