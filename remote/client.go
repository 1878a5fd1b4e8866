// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote is the HTTP client for the backend: per-table row CRUD
// plus the batched procedures (bulk stock adjust, personal-stock add and
// remove, currency convert and revert, product search). Responses carry
// an explicit success flag that is honored independently of the HTTP
// status, and every failure classifies as transient or permanent for the
// reconciler.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

// Config configures a backend client.
type Config struct {
	// BaseURL is the server root, e.g. "https://sync.example.com".
	BaseURL string
	// Token is sent as a bearer token on every request. TokenProvider
	// overrides it when set, for tokens that rotate.
	Token         string
	TokenProvider func(ctx context.Context) (string, error)
	// HTTPClient optionally replaces the default client (30s timeout).
	HTTPClient *http.Client
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	tokenFn func(ctx context.Context) (string, error)
	http    *http.Client
	logger  *slog.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		tokenFn: cfg.TokenProvider,
		http:    hc,
		logger:  logger,
	}, nil
}

// ListRows fetches every row of a table.
func (c *Client) ListRows(ctx context.Context, table string) ([]domain.Record, error) {
	var resp rowsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/tables/"+url.PathEscape(table), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// GetRow fetches one row. A missing row is a CallError with status 404;
// use IsNotFound to test for it.
func (c *Client) GetRow(ctx context.Context, table, id string) (domain.Record, error) {
	var resp rowResponse
	path := "/api/v1/tables/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Row, nil
}

// UpsertRow inserts or updates one row and returns the stored version.
// Replaying the same row is safe, which is what the at-least-once queue
// drain relies on.
func (c *Client) UpsertRow(ctx context.Context, table string, rec domain.Record) (domain.Record, error) {
	id, ok := domain.RecordID(rec)
	if !ok {
		return nil, fmt.Errorf("remote: record for %s has no id", table)
	}
	var resp rowResponse
	path := "/api/v1/tables/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPut, path, rec, &resp); err != nil {
		return nil, err
	}
	return resp.Row, nil
}

// DeleteRow removes one row. Deleting an absent row succeeds.
func (c *Client) DeleteRow(ctx context.Context, table, id string) error {
	var resp countResponse
	path := "/api/v1/tables/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	return c.do(ctx, http.MethodDelete, path, nil, &resp)
}

// BulkUpsert inserts or updates many rows in one call.
func (c *Client) BulkUpsert(ctx context.Context, table string, recs []domain.Record) error {
	var resp countResponse
	path := "/api/v1/tables/" + url.PathEscape(table) + "/bulk"
	return c.do(ctx, http.MethodPost, path, bulkUpsertRequest{Rows: recs}, &resp)
}

// BulkAdjustStock applies net stock deltas in one backend transaction.
// The outcome reports per-product old and new quantities; callers must
// check Unapplied for partial success.
func (c *Client) BulkAdjustStock(ctx context.Context, adjustments []StockAdjustment) (*BulkAdjustOutcome, error) {
	var resp bulkAdjustResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/procedures/stock/adjust",
		bulkAdjustRequest{Adjustments: adjustments}, &resp)
	if err != nil {
		return nil, err
	}
	return &BulkAdjustOutcome{Processed: resp.Processed, Results: resp.Results}, nil
}

// BulkAddMyStock adds entries to the personal stock catalog.
func (c *Client) BulkAddMyStock(ctx context.Context, entries []domain.Record) error {
	var resp countResponse
	return c.do(ctx, http.MethodPost, "/api/v1/procedures/mystock/add",
		bulkUpsertRequest{Rows: entries}, &resp)
}

// BulkRemoveMyStock removes personal stock entries by product id.
func (c *Client) BulkRemoveMyStock(ctx context.Context, productIDs []string) error {
	var resp countResponse
	return c.do(ctx, http.MethodPost, "/api/v1/procedures/mystock/remove",
		myStockRemoveRequest{ProductIDs: productIDs}, &resp)
}

// ConvertCurrency applies an FX conversion to the target columns of one
// list's index entries, backend-side. Returns the updated row count.
func (c *Client) ConvertCurrency(ctx context.Context, req CurrencyRequest) (int, error) {
	var resp currencyResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/procedures/currency/convert", req, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// RevertCurrency undoes a conversion on the target columns.
func (c *Client) RevertCurrency(ctx context.Context, req CurrencyRequest) (int, error) {
	var resp currencyResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/procedures/currency/revert", req, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// SearchProducts runs the ranked full-text lookup.
func (c *Client) SearchProducts(ctx context.Context, req SearchRequest) (*SearchOutcome, error) {
	q := url.Values{}
	q.Set("term", req.Term)
	if req.ListID != "" {
		q.Set("list_id", req.ListID)
	}
	if req.Supplier != "" {
		q.Set("supplier", req.Supplier)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}
	var resp searchResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/procedures/search?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &SearchOutcome{Rows: resp.Rows, Total: resp.Total}, nil
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	if c.tokenFn != nil {
		return c.tokenFn(ctx)
	}
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out apiResponse) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("remote: failed to build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return fmt.Errorf("remote: failed to obtain token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &CallError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return &CallError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ce := &CallError{Op: op, StatusCode: resp.StatusCode}
		var env respEnvelope
		if jerr := json.Unmarshal(data, &env); jerr == nil && env.Error != nil {
			ce.Code = env.Error.Code
			ce.Message = env.Error.Message
		}
		c.logger.Debug("backend call failed", "op", op, "status", resp.StatusCode, "code", ce.Code)
		return ce
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &CallError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if ok, apiErr := out.apiStatus(); !ok {
		ce := &CallError{Op: op, StatusCode: resp.StatusCode, Code: "rejected", Message: "backend reported failure"}
		if apiErr != nil {
			ce.Code = apiErr.Code
			ce.Message = apiErr.Message
		}
		return ce
	}
	return nil
}
