package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/allocation/internal/adapter/storage"
	"github.com/rl1809/allocation/internal/core/service"
	"github.com/rl1809/allocation/internal/port"
)

func newTestServer(t *testing.T) *httptest.Server {
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	adapter := storage.NewMemoryAdapter()
	bus := service.NewDefaultMessageBus(store.NewUnitOfWork, service.NewHandlers(adapter, adapter, logger), logger)

	srv := httptest.NewServer(NewHTTPHandler(bus, adapter, logger).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body interface{}) (*http.Response, HTTPResponse) {
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out HTTPResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHTTPHandler_HealthCheck(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPHandler_AllocateFlow(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := post(t, srv, "/batches", AddBatchHTTPRequest{Ref: "b2", SKU: "CHAIR", Quantity: 20, ETA: "2025-01-01"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = post(t, srv, "/batches", AddBatchHTTPRequest{Ref: "b1", SKU: "CHAIR", Quantity: 20})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := post(t, srv, "/allocate", AllocateHTTPRequest{OrderID: "o1", SKU: "CHAIR", Quantity: 5})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, body.Success)
	assert.Equal(t, "b1", body.BatchRef)

	get, err := http.Get(srv.URL + "/allocations/o1")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)

	var views []port.AllocationView
	require.NoError(t, json.NewDecoder(get.Body).Decode(&views))
	assert.Equal(t, []port.AllocationView{{OrderID: "o1", SKU: "CHAIR", BatchRef: "b1"}}, views)
}

func TestHTTPHandler_AddBatchGeneratesRef(t *testing.T) {
	srv := newTestServer(t)

	resp, body := post(t, srv, "/batches", AddBatchHTTPRequest{SKU: "LAMP", Quantity: 1})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Regexp(t, `^batch-[0-9a-f-]{36}$`, body.BatchRef)
}

func TestHTTPHandler_Errors(t *testing.T) {
	srv := newTestServer(t)
	post(t, srv, "/batches", AddBatchHTTPRequest{Ref: "b1", SKU: "LAMP", Quantity: 3})

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"out of stock", "/allocate", AllocateHTTPRequest{OrderID: "o1", SKU: "LAMP", Quantity: 5}, http.StatusConflict},
		{"invalid sku", "/allocate", AllocateHTTPRequest{OrderID: "o1", SKU: "NOPE", Quantity: 1}, http.StatusBadRequest},
		{"invalid quantity", "/allocate", AllocateHTTPRequest{OrderID: "o1", SKU: "LAMP"}, http.StatusBadRequest},
		{"duplicate batch", "/batches", AddBatchHTTPRequest{Ref: "b1", SKU: "LAMP", Quantity: 1}, http.StatusConflict},
		{"bad eta", "/batches", AddBatchHTTPRequest{Ref: "b9", SKU: "LAMP", Quantity: 1, ETA: "soon"}, http.StatusBadRequest},
		{"unknown batch", "/batches/missing/quantity", ChangeBatchQuantityHTTPRequest{Quantity: 1}, http.StatusNotFound},
		{"bad body", "/allocate", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.False(t, body.Success)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestHTTPHandler_ChangeBatchQuantity(t *testing.T) {
	srv := newTestServer(t)
	post(t, srv, "/batches", AddBatchHTTPRequest{Ref: "b1", SKU: "LAMP", Quantity: 10})
	post(t, srv, "/batches", AddBatchHTTPRequest{Ref: "b2", SKU: "LAMP", Quantity: 10, ETA: "2025-01-01"})
	post(t, srv, "/allocate", AllocateHTTPRequest{OrderID: "o1", SKU: "LAMP", Quantity: 8})

	resp, body := post(t, srv, "/batches/b1/quantity", ChangeBatchQuantityHTTPRequest{Quantity: 5})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "b1", body.BatchRef)

	get, err := http.Get(srv.URL + "/allocations/o1")
	require.NoError(t, err)
	defer get.Body.Close()

	var views []port.AllocationView
	require.NoError(t, json.NewDecoder(get.Body).Decode(&views))
	assert.Equal(t, []port.AllocationView{{OrderID: "o1", SKU: "LAMP", BatchRef: "b2"}}, views)
}

func TestHTTPHandler_AllocationsNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/allocations/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
