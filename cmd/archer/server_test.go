package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-archer/internal/device"
	"github.com/23skdu/longbow-archer/internal/grid"
	"github.com/23skdu/longbow-archer/internal/kernel"
)

func newTestServer() *Server {
	return NewServer(device.Builtin(), 4)
}

func postResolve(t *testing.T, srv *Server, req ResolveRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := cbor.Marshal(req)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/resolve", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	http.HandlerFunc(srv.handleResolve).ServeHTTP(rr, r)
	return rr
}

func TestHandleResolveBlockAndOverall(t *testing.T) {
	srv := newTestServer()

	block := grid.BlockSize(256)
	overall := grid.OverallSize(1_000_000)
	rr := postResolve(t, srv, ResolveRequest{
		Device:  "a100",
		Block:   &block,
		Overall: &overall,
	})

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, grid.BlockSize(256), resp.Config.Block)
	assert.Equal(t, grid.GridSize(3907), resp.Config.Grid)
	assert.Equal(t, grid.OverallSize(3907*256), resp.Overall)
}

func TestHandleResolveSaturate(t *testing.T) {
	srv := newTestServer()

	block := grid.BlockSize(256)
	rr := postResolve(t, srv, ResolveRequest{
		Device:   "a100",
		Kernel:   &kernel.Descriptor{Name: "axpy"},
		Block:    &block,
		Saturate: true,
	})

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	// 2048 threads per SM / 256 per block = 8 blocks on each of 108 SMs.
	assert.Equal(t, grid.GridSize(8*108), resp.Config.Grid)
	assert.InDelta(t, 1.0, resp.Occupancy, 1e-9)
}

func TestHandleResolveCachesRepeatedRequests(t *testing.T) {
	srv := newTestServer()

	block := grid.BlockSize(256)
	overall := grid.OverallSize(4096)
	req := ResolveRequest{Device: "a100", Block: &block, Overall: &overall}

	first := postResolve(t, srv, req)
	second := postResolve(t, srv, req)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, srv.configs.Size())
}

func TestHandleResolveConflict(t *testing.T) {
	srv := newTestServer()

	block := grid.BlockSize(32)
	gridDims := grid.GridSize(4)
	overall := grid.OverallSize(129)
	rr := postResolve(t, srv, ResolveRequest{
		Device:  "tesla-t4",
		Block:   &block,
		Grid:    &gridDims,
		Overall: &overall,
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "conflict", resp.Reason)
}

func TestHandleResolveUnderSpecified(t *testing.T) {
	srv := newTestServer()

	block := grid.BlockSize(128)
	rr := postResolve(t, srv, ResolveRequest{
		Device: "tesla-v100",
		Block:  &block,
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "under_specified", resp.Reason)
}

func TestHandleResolveUnknownDevice(t *testing.T) {
	srv := newTestServer()

	block := grid.BlockSize(128)
	overall := grid.OverallSize(4096)
	rr := postResolve(t, srv, ResolveRequest{
		Device:  "not-a-gpu",
		Block:   &block,
		Overall: &overall,
	})

	assert.Equal(t, http.StatusNotFound, rr.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "unknown_device", resp.Reason)
}

func TestHandleResolveInvalidBody(t *testing.T) {
	srv := newTestServer()

	r := httptest.NewRequest(http.MethodPost, "/resolve", bytes.NewReader([]byte("not cbor at all")))
	rr := httptest.NewRecorder()
	http.HandlerFunc(srv.handleResolve).ServeHTTP(rr, r)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleResolveMethodNotAllowed(t *testing.T) {
	srv := newTestServer()

	r := httptest.NewRequest(http.MethodGet, "/resolve", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(srv.handleResolve).ServeHTTP(rr, r)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleDevices(t *testing.T) {
	srv := newTestServer()

	r := httptest.NewRequest(http.MethodGet, "/devices", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(srv.handleDevices).ServeHTTP(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)

	var catalog device.Catalog
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &catalog))
	assert.Len(t, catalog.Devices, len(device.Builtin().Devices))
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer()

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(srv.handleHealth).ServeHTTP(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}
