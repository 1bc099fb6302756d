package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-archer/internal/cache"
	"github.com/23skdu/longbow-archer/internal/device"
	"github.com/23skdu/longbow-archer/internal/grid"
	"github.com/23skdu/longbow-archer/internal/kernel"
	"github.com/23skdu/longbow-archer/internal/launch"
)

var (
	resolvesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archer_resolve_requests_total",
		Help: "The total number of resolve requests served",
	})

	resolveRequestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archer_resolve_request_errors_total",
		Help: "The total number of resolve requests that failed",
	})

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "archer_resolve_request_duration_seconds",
		Help:    "Time spent processing resolve requests",
		Buckets: prometheus.DefBuckets,
	})

	resolveCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archer_resolve_cache_hits_total",
		Help: "The total number of resolve requests answered from cache",
	})
)

var errUnknownDevice = errors.New("unknown device")

// ResolveRequest is the CBOR-encoded body of POST /resolve. Nil fields are
// left unset on the builder.
type ResolveRequest struct {
	Device string             `cbor:"device" json:"device"`
	Kernel *kernel.Descriptor `cbor:"kernel,omitempty" json:"kernel,omitempty"`

	Block   *grid.BlockDims   `cbor:"block,omitempty" json:"block,omitempty"`
	Grid    *grid.GridDims    `cbor:"grid,omitempty" json:"grid,omitempty"`
	Overall *grid.OverallDims `cbor:"overall,omitempty" json:"overall,omitempty"`

	MaxLinearBlock bool    `cbor:"max_linear_block,omitempty" json:"max_linear_block,omitempty"`
	Saturate       bool    `cbor:"saturate,omitempty" json:"saturate,omitempty"`
	MinOccupancy   bool    `cbor:"min_occupancy,omitempty" json:"min_occupancy,omitempty"`
	DynamicSMem    *uint64 `cbor:"dynamic_smem_bytes,omitempty" json:"dynamic_smem_bytes,omitempty"`
	Cooperative    bool    `cbor:"cooperative,omitempty" json:"cooperative,omitempty"`
	Unchecked      bool    `cbor:"unchecked,omitempty" json:"unchecked,omitempty"`
}

// ResolveResponse is the JSON body answered for a successful resolution.
type ResolveResponse struct {
	Device    string           `json:"device"`
	Config    launch.Config    `json:"config"`
	Overall   grid.OverallDims `json:"overall"`
	Occupancy float64          `json:"occupancy,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type Server struct {
	catalog *device.Catalog
	configs cache.ConfigCache
	sem     *semaphore.Weighted
}

func NewServer(catalog *device.Catalog, maxConcurrent int) *Server {
	return &Server{
		catalog: catalog,
		configs: cache.NewMapCache(),
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func startServer(addr string, catalog *device.Catalog, maxConcurrent int) {
	srv := NewServer(catalog, maxConcurrent)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/resolve", srv.handleResolve)
	http.HandleFunc("/devices", srv.handleDevices)
	http.HandleFunc("/health", srv.handleHealth)

	log.Info().Str("addr", addr).Int("devices", len(catalog.Devices)).Msg("Starting Archer Server")
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("archer-server")

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleResolve")
	defer span.End()

	start := time.Now()
	defer func() {
		resolveDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var req ResolveRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		span.RecordError(err)
		http.Error(w, "Bad Request (CBOR decode): "+err.Error(), http.StatusBadRequest)
		return
	}

	span.SetAttributes(
		attribute.String("device", req.Device),
		attribute.Bool("saturate", req.Saturate),
		attribute.Bool("min_occupancy", req.MinOccupancy),
	)

	// Admission control
	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(1)

	resolvesTotal.Inc()
	key := requestKey(body)
	cfg, hit := s.configs.Get(key)
	if hit {
		resolveCacheHits.Inc()
		span.SetAttributes(attribute.Bool("cache_hit", true))
	} else {
		cfg, err = s.resolve(req)
		if err != nil {
			resolveRequestErrors.Inc()
			span.RecordError(err, trace.WithAttributes(attribute.String("reason", reasonOf(err))))
			status := http.StatusBadRequest
			if errors.Is(err, errUnknownDevice) {
				status = http.StatusNotFound
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error(), Reason: reasonOf(err)})
			return
		}
		s.configs.Put(key, cfg)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.responseFor(req, cfg)); err != nil {
		log.Error().Err(err).Msg("Failed to encode resolve response")
	}
}

// requestKey digests the raw request body so identical requests share a
// cache entry.
func requestKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (s *Server) resolve(req ResolveRequest) (launch.Config, error) {
	props, ok := s.catalog.Lookup(req.Device)
	if !ok {
		return launch.Config{}, errUnknownDevice
	}

	var b *launch.Builder
	if req.Unchecked {
		b = launch.NewUncheckedBuilder()
	} else {
		b = launch.NewBuilder()
	}
	b.Device(props)

	if req.Kernel != nil {
		b.Kernel(kernel.Bind(*req.Kernel, props))
	}
	if req.Block != nil {
		b.BlockDims(*req.Block)
	}
	if req.MaxLinearBlock {
		b.UseMaximumLinearBlock()
	}
	if req.Grid != nil {
		b.GridDims(*req.Grid)
	}
	if req.Overall != nil {
		b.OverallDims(*req.Overall)
	}
	if req.DynamicSMem != nil {
		b.DynamicSharedMemSize(*req.DynamicSMem)
	}
	b.BlockCooperation(req.Cooperative)
	if req.Saturate {
		b.SaturateWithActiveBlocks()
	}
	if req.MinOccupancy {
		b.MinParamsForMaxOccupancy()
	}

	return b.Build()
}

func (s *Server) responseFor(req ResolveRequest, cfg launch.Config) ResolveResponse {
	resp := ResolveResponse{
		Device:  req.Device,
		Config:  cfg,
		Overall: cfg.OverallDims(),
	}
	props, ok := s.catalog.Lookup(req.Device)
	if !ok {
		return resp
	}
	resp.Device = props.Name
	if req.Kernel != nil {
		bound := kernel.Bind(*req.Kernel, props)
		if occ, err := bound.Occupancy(uint32(cfg.Block.Volume()), cfg.DynamicSharedMemBytes); err == nil {
			resp.Occupancy = occ
		}
	}
	return resp
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, errUnknownDevice):
		return "unknown_device"
	case errors.Is(err, launch.ErrUnderSpecified):
		return "under_specified"
	case errors.Is(err, launch.ErrConflict):
		return "conflict"
	case errors.Is(err, launch.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, launch.ErrInvalidMode):
		return "invalid_mode"
	default:
		return "error"
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.catalog); err != nil {
		log.Error().Err(err).Msg("Failed to encode device list")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
