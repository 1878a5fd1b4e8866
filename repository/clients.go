// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

// Clients is the delivery-client aggregate handle.
type Clients struct {
	r *Repository
}

// Clients returns the delivery-client aggregate.
func (r *Repository) Clients() *Clients { return &Clients{r: r} }

// List returns all clients sorted by name.
func (c *Clients) List(ctx context.Context) ([]domain.DeliveryClient, error) {
	rows, err := c.r.fetchRows(ctx, c.r.online(), domain.TableClients, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeliveryClient, 0, len(rows))
	for _, row := range rows {
		var cl domain.DeliveryClient
		if err := domain.FromRecord(row, &cl); err != nil {
			return nil, fmt.Errorf("decode client: %w", err)
		}
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Get returns one client by id.
func (c *Clients) Get(ctx context.Context, id string) (*domain.DeliveryClient, error) {
	rec, err := c.r.fetchRow(ctx, c.r.online(), domain.TableClients, id)
	if err != nil {
		return nil, err
	}
	var cl domain.DeliveryClient
	if err := domain.FromRecord(rec, &cl); err != nil {
		return nil, fmt.Errorf("decode client %s: %w", id, err)
	}
	return &cl, nil
}

// Create stores a new client. An empty ID is assigned.
func (c *Clients) Create(ctx context.Context, client domain.DeliveryClient) (*domain.DeliveryClient, error) {
	if strings.TrimSpace(client.Name) == "" {
		return nil, fmt.Errorf("client name is required")
	}
	if client.ID == "" {
		client.ID = c.r.newID()
	}
	now := c.r.now()
	client.CreatedAt = now
	client.UpdatedAt = now
	rec, err := domain.ToRecord(client)
	if err != nil {
		return nil, err
	}
	stored, err := c.r.putRow(ctx, c.r.online(), domain.TableClients, domain.OpInsert, rec)
	if err != nil {
		return nil, err
	}
	var out domain.DeliveryClient
	if err := domain.FromRecord(stored, &out); err != nil {
		return nil, fmt.Errorf("decode client %s: %w", client.ID, err)
	}
	return &out, nil
}

// Update overwrites an existing client. The creation stamp is preserved
// from the stored row.
func (c *Clients) Update(ctx context.Context, client domain.DeliveryClient) (*domain.DeliveryClient, error) {
	if client.ID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if strings.TrimSpace(client.Name) == "" {
		return nil, fmt.Errorf("client name is required")
	}
	current, err := c.r.store.Get(ctx, domain.TableClients, client.ID)
	if err != nil {
		return nil, err
	}
	var existing domain.DeliveryClient
	if err := domain.FromRecord(current, &existing); err != nil {
		return nil, fmt.Errorf("decode client %s: %w", client.ID, err)
	}
	client.CreatedAt = existing.CreatedAt
	client.UpdatedAt = c.r.now()
	rec, err := domain.ToRecord(client)
	if err != nil {
		return nil, err
	}
	stored, err := c.r.putRow(ctx, c.r.online(), domain.TableClients, domain.OpUpdate, rec)
	if err != nil {
		return nil, err
	}
	var out domain.DeliveryClient
	if err := domain.FromRecord(stored, &out); err != nil {
		return nil, fmt.Errorf("decode client %s: %w", client.ID, err)
	}
	return &out, nil
}

// Delete removes a client and detaches it from any delivery notes that
// reference it. Notes survive with a nil client; nothing cascades.
func (c *Clients) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("client id is required")
	}
	attached, err := c.r.store.Query(ctx, domain.TableDeliveryNotes, map[string]any{"client_id": id})
	if err != nil {
		return err
	}

	if c.r.online() {
		err := c.r.backend.DeleteRow(ctx, domain.TableClients, id)
		if err != nil && !remote.IsNotFound(err) {
			return err
		}
		// The server detached (or the row was already gone); mirror the
		// same outcome locally without queueing anything.
		return c.r.detachAndDeleteClient(ctx, id, attached, false)
	}
	return c.r.detachAndDeleteClient(ctx, id, attached, true)
}

// detachAndDeleteClient commits the local side of a client deletion in one
// transaction: null out client_id on attached notes, drop the client row,
// and, when queued, record the deletion for replay. The server performs
// the same detach on its side, so note updates are never queued.
func (r *Repository) detachAndDeleteClient(ctx context.Context, id string, attached []domain.Record, queue bool) error {
	tables := []string{domain.TableClients, domain.TableDeliveryNotes, domain.TablePendingOps}
	return r.store.Transaction(ctx, tables, func(ctx context.Context, tx *localstore.Tx) error {
		for _, note := range attached {
			note["client_id"] = nil
			if err := tx.Put(ctx, domain.TableDeliveryNotes, note); err != nil {
				return err
			}
		}
		if err := tx.Delete(ctx, domain.TableClients, id); err != nil {
			return err
		}
		if queue {
			if _, err := tx.Enqueue(ctx, deleteOp(domain.TableClients, id)); err != nil {
				return err
			}
		}
		return nil
	})
}
