// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/internal/auth"
)

// Handlers exposes the service over HTTP. Responses always carry the
// success envelope the client checks before looking at the payload.
type Handlers struct {
	service  *Service
	auth     *JWTAuth
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandlers(service *Service, jwtAuth *JWTAuth, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:  service,
		auth:     jwtAuth,
		validate: validator.New(),
		logger:   logger,
	}
}

// Router builds the full route tree. Everything under /api/v1 requires a
// bearer token.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.handleHealth)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(h.auth.Middleware)

		api.Route("/tables/{table}", func(t chi.Router) {
			t.Get("/", h.handleListRows)
			t.Post("/bulk", h.handleBulkUpsert)
			t.Get("/{id}", h.handleGetRow)
			t.Put("/{id}", h.handleUpsertRow)
			t.Delete("/{id}", h.handleDeleteRow)
		})

		api.Route("/procedures", func(p chi.Router) {
			p.Post("/stock/adjust", h.handleAdjustStock)
			p.Post("/mystock/add", h.handleMyStockAdd)
			p.Post("/mystock/remove", h.handleMyStockRemove)
			p.Post("/currency/convert", h.handleConvertCurrency)
			p.Post("/currency/revert", h.handleRevertCurrency)
			p.Get("/search", h.handleSearch)
		})
	})
	return r
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool     `json:"success"`
	Error   apiError `json:"error"`
}

type rowsEnvelope struct {
	Success bool            `json:"success"`
	Rows    []domain.Record `json:"rows"`
}

type rowEnvelope struct {
	Success bool          `json:"success"`
	Row     domain.Record `json:"row"`
}

type countEnvelope struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

type adjustEnvelope struct {
	Success   bool                `json:"success"`
	Processed int                 `json:"processed"`
	Results   []StockAdjustResult `json:"results"`
}

type currencyEnvelope struct {
	Success bool `json:"success"`
	Updated int  `json:"updated"`
}

type searchEnvelope struct {
	Success bool            `json:"success"`
	Rows    []domain.Record `json:"rows"`
	Total   int             `json:"total"`
}

type bulkRowsRequest struct {
	Rows []domain.Record `json:"rows"`
}

type adjustRequest struct {
	Adjustments []StockAdjustment `json:"adjustments" validate:"required,min=1,max=500"`
}

type myStockRemoveRequest struct {
	ProductIDs []string `json:"product_ids" validate:"required,min=1,dive,required"`
}

type currencyRequestDTO struct {
	ListID     string   `json:"list_id" validate:"required"`
	TargetKeys []string `json:"target_keys" validate:"required,min=1,dive,required"`
	Rate       float64  `json:"rate"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

// decodeBody parses a JSON request body and runs struct validation when
// the target carries validate tags.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// Non-struct targets (row maps) have nothing to validate.
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

// requestUser pulls the authenticated user out of the context. The
// middleware guarantees it on every /api/v1 route.
func (h *Handlers) requestUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated user")
	}
	return userID, ok
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "row not found")
	case errors.Is(err, ErrUnknownTable):
		writeError(w, http.StatusBadRequest, "unknown_table", "table is not part of the synced set")
	case errors.Is(err, ErrMissingID):
		writeError(w, http.StatusBadRequest, "invalid_request", "record has no id")
	default:
		h.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func (h *Handlers) handleListRows(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	rows, err := h.service.ListRows(r.Context(), userID, chi.URLParam(r, "table"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, rowsEnvelope{Success: true, Rows: rows})
}

func (h *Handlers) handleGetRow(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetRow(r.Context(), userID,
		chi.URLParam(r, "table"), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rowEnvelope{Success: true, Row: rec})
}

func (h *Handlers) handleUpsertRow(w http.ResponseWriter, r *http.Request) {
	var rec domain.Record
	if !h.decodeBody(w, r, &rec) {
		return
	}
	if len(rec) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "row payload is empty")
		return
	}
	id := chi.URLParam(r, "id")
	if recID, ok := domain.RecordID(rec); ok && recID != id {
		writeError(w, http.StatusBadRequest, "invalid_request", "row id does not match the url")
		return
	}
	rec["id"] = id
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	stored, err := h.service.UpsertRow(r.Context(), userID, chi.URLParam(r, "table"), rec)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rowEnvelope{Success: true, Row: stored})
}

func (h *Handlers) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	err := h.service.DeleteRow(r.Context(), userID,
		chi.URLParam(r, "table"), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countEnvelope{Success: true, Count: 1})
}

func (h *Handlers) handleBulkUpsert(w http.ResponseWriter, r *http.Request) {
	var req bulkRowsRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	count, err := h.service.BulkUpsert(r.Context(), userID, chi.URLParam(r, "table"), req.Rows)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countEnvelope{Success: true, Count: count})
}

func (h *Handlers) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	for _, adj := range req.Adjustments {
		if adj.ProductID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "adjustment is missing a product id")
			return
		}
	}
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	out, err := h.service.AdjustStock(r.Context(), userID, req.Adjustments)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adjustEnvelope{
		Success: true, Processed: out.Processed, Results: out.Results,
	})
}

func (h *Handlers) handleMyStockAdd(w http.ResponseWriter, r *http.Request) {
	var req bulkRowsRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	count, err := h.service.MyStockAdd(r.Context(), userID, req.Rows)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countEnvelope{Success: true, Count: count})
}

func (h *Handlers) handleMyStockRemove(w http.ResponseWriter, r *http.Request) {
	var req myStockRemoveRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	count, err := h.service.MyStockRemove(r.Context(), userID, req.ProductIDs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countEnvelope{Success: true, Count: count})
}

func (h *Handlers) handleConvertCurrency(w http.ResponseWriter, r *http.Request) {
	var req currencyRequestDTO
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Rate <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "conversion rate must be positive")
		return
	}
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	updated, err := h.service.ConvertCurrency(r.Context(), userID, CurrencyRequest{
		ListID: req.ListID, TargetKeys: req.TargetKeys, Rate: req.Rate,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, currencyEnvelope{Success: true, Updated: updated})
}

func (h *Handlers) handleRevertCurrency(w http.ResponseWriter, r *http.Request) {
	var req currencyRequestDTO
	if !h.decodeBody(w, r, &req) {
		return
	}
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	updated, err := h.service.RevertCurrency(r.Context(), userID, CurrencyRequest{
		ListID: req.ListID, TargetKeys: req.TargetKeys,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, currencyEnvelope{Success: true, Updated: updated})
}

func (h *Handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := SearchQuery{
		Term:     params.Get("term"),
		ListID:   params.Get("list_id"),
		Supplier: params.Get("supplier"),
	}
	var err error
	if raw := params.Get("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit is not a number")
			return
		}
	}
	if raw := params.Get("offset"); raw != "" {
		if q.Offset, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "offset is not a number")
			return
		}
	}
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}
	result, err := h.service.SearchProducts(r.Context(), userID, q)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchEnvelope{
		Success: true, Rows: result.Rows, Total: result.Total,
	})
}
