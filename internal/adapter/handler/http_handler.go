package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/core/service"
	"github.com/rl1809/allocation/internal/port"
)

type HTTPHandler struct {
	bus    *service.MessageBus
	views  port.AllocationViewRepository
	logger *zap.Logger
}

type AllocateHTTPRequest struct {
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
}

type AddBatchHTTPRequest struct {
	Ref      string `json:"ref"`
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
	ETA      string `json:"eta,omitempty"`
}

type ChangeBatchQuantityHTTPRequest struct {
	Quantity int `json:"qty"`
}

type HTTPResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	BatchRef string `json:"batchref,omitempty"`
}

func NewHTTPHandler(bus *service.MessageBus, views port.AllocationViewRepository, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{bus: bus, views: views, logger: logger}
}

// Routes registers every endpoint on a new mux.
func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /allocate", h.Allocate)
	mux.HandleFunc("POST /batches", h.AddBatch)
	mux.HandleFunc("POST /batches/{ref}/quantity", h.ChangeBatchQuantity)
	mux.HandleFunc("GET /allocations/{orderid}", h.Allocations)
	return mux
}

func (h *HTTPHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	results, err := h.bus.Handle(r.Context(), domain.Allocate{
		OrderID:  req.OrderID,
		SKU:      req.SKU,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, HTTPResponse{Success: true, BatchRef: first(results)})
}

func (h *HTTPHandler) AddBatch(w http.ResponseWriter, r *http.Request) {
	var req AddBatchHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	eta, err := parseETA(req.ETA)
	if err != nil {
		h.writeError(w, err)
		return
	}

	results, err := h.bus.Handle(r.Context(), domain.CreateBatch{
		Ref:      batchRefOrNew(req.Ref),
		SKU:      req.SKU,
		Quantity: req.Quantity,
		ETA:      eta,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, HTTPResponse{Success: true, BatchRef: first(results)})
}

func (h *HTTPHandler) ChangeBatchQuantity(w http.ResponseWriter, r *http.Request) {
	var req ChangeBatchQuantityHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	results, err := h.bus.Handle(r.Context(), domain.ChangeBatchQuantity{
		Ref:      r.PathValue("ref"),
		Quantity: req.Quantity,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, BatchRef: first(results)})
}

func (h *HTTPHandler) Allocations(w http.ResponseWriter, r *http.Request) {
	views, err := h.views.Allocations(r.Context(), r.PathValue("orderid"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(views) == 0 {
		writeJSON(w, http.StatusNotFound, HTTPResponse{Success: false, Message: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code, message := httpError(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", code), zap.Error(err))
	}
	if domain.IsConcurrencyConflictError(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, HTTPResponse{Success: false, Message: message})
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, HTTPResponse{
			Success: false,
			Message: "invalid request body",
		})
		return false
	}
	return true
}

func first(results []string) string {
	if len(results) == 0 {
		return ""
	}
	return results[0]
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
