package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-archer/internal/device"
	"github.com/23skdu/longbow-archer/internal/grid"
	"github.com/23skdu/longbow-archer/internal/kernel"
	"github.com/23skdu/longbow-archer/internal/launch"
)

var (
	deviceName  = flag.String("device", "a100", "Device to resolve against (catalog name)")
	catalogPath = flag.String("catalog", "", "Device catalog file (.yaml or .cbor); default is the built-in catalog")
	listDevices = flag.Bool("list-devices", false, "List catalog devices and exit")
	probeNVML   = flag.Bool("probe", false, "Probe local GPUs via NVML instead of the catalog")

	blockSpec      = flag.String("block", "", "Block dimensions, e.g. 256 or 16,16,1")
	gridSpec       = flag.String("grid", "", "Grid dimensions, e.g. 80 or 10,10,1")
	overallSpec    = flag.String("overall", "", "Overall dimensions, e.g. 1000000 or 4096,4096,1")
	maxLinearBlock = flag.Bool("max-linear-block", false, "Use the maximum-size one-dimensional block")
	saturate       = flag.Bool("saturate", false, "Saturate the device with active blocks")
	minOccupancy   = flag.Bool("min-occupancy", false, "Use minimum grid parameters for maximum occupancy")
	smemBytes      = flag.Uint64("smem", 0, "Dynamic shared memory per block, in bytes")
	cooperative    = flag.Bool("cooperative", false, "Blocks may cooperate")
	unchecked      = flag.Bool("unchecked", false, "Skip capability validation (results undefined on violation)")

	kernelName       = flag.String("kernel-name", "kernel", "Kernel name for reporting")
	kernelMaxThreads = flag.Uint("kernel-max-threads", 0, "Kernel max threads per block (0 = device limit)")
	kernelStaticSMem = flag.Uint64("kernel-static-smem", 0, "Kernel static shared memory, in bytes")
	kernelRegs       = flag.Uint("kernel-regs", 0, "Kernel registers per thread (0 = no register limit)")

	listenAddr    = flag.String("listen", "", "Address to serve the HTTP resolve API on (e.g. :8080)")
	maxConcurrent = flag.Int("max-concurrent", 256, "Maximum concurrent resolve requests in server mode")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
)

// parseTriple accepts "n" or "x,y,z".
func parseTriple(s string) ([3]uint64, error) {
	var out [3]uint64
	parts := strings.Split(s, ",")
	switch len(parts) {
	case 1:
		n, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return out, err
		}
		out = [3]uint64{n, 1, 1}
	case 3:
		for i, p := range parts {
			n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return out, err
			}
			out[i] = n
		}
	default:
		return out, fmt.Errorf("want 1 or 3 comma-separated values, got %d", len(parts))
	}
	return out, nil
}

func loadCatalog() *device.Catalog {
	if *probeNVML {
		devices, err := device.Probe()
		if err != nil {
			log.Fatal().Err(err).Msg("NVML probe failed")
		}
		return &device.Catalog{Devices: devices}
	}
	if *catalogPath != "" {
		c, err := device.Load(*catalogPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load device catalog")
		}
		return c
	}
	return device.Builtin()
}

func kernelRequested() bool {
	return *saturate || *minOccupancy ||
		*kernelMaxThreads > 0 || *kernelStaticSMem > 0 || *kernelRegs > 0
}

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	catalog := loadCatalog()

	if *listDevices {
		for _, p := range catalog.Devices {
			fmt.Printf("%-12s cc %s  %3d SMs  %4d threads/block  %6d B smem/block\n",
				p.Name, p.ComputeCapability(), p.SMs, p.MaxThreads, p.SharedMemPerBlockBytes)
		}
		return
	}

	if *listenAddr != "" {
		startServer(*listenAddr, catalog, *maxConcurrent)
		return
	}

	props, ok := catalog.Lookup(*deviceName)
	if !ok {
		log.Fatal().Str("device", *deviceName).Strs("known", catalog.Names()).Msg("Unknown device")
	}

	var b *launch.Builder
	if *unchecked {
		b = launch.NewUncheckedBuilder()
	} else {
		b = launch.NewBuilder()
	}
	b.Device(props)

	var bound *kernel.Bound
	if kernelRequested() {
		bound = kernel.Bind(kernel.Descriptor{
			Name:                 *kernelName,
			MaxThreadsPerBlock:   uint32(*kernelMaxThreads),
			StaticSharedMemBytes: *kernelStaticSMem,
			RegistersPerThread:   uint32(*kernelRegs),
		}, props)
		b.Kernel(bound)
	}

	if *blockSpec != "" {
		t, err := parseTriple(*blockSpec)
		if err != nil {
			log.Fatal().Err(err).Str("block", *blockSpec).Msg("Bad block dimensions")
		}
		b.Block(uint32(t[0]), uint32(t[1]), uint32(t[2]))
	}
	if *maxLinearBlock {
		b.UseMaximumLinearBlock()
	}
	if *gridSpec != "" {
		t, err := parseTriple(*gridSpec)
		if err != nil {
			log.Fatal().Err(err).Str("grid", *gridSpec).Msg("Bad grid dimensions")
		}
		b.Grid(uint32(t[0]), uint32(t[1]), uint32(t[2]))
	}
	if *overallSpec != "" {
		t, err := parseTriple(*overallSpec)
		if err != nil {
			log.Fatal().Err(err).Str("overall", *overallSpec).Msg("Bad overall dimensions")
		}
		b.Overall(t[0], t[1], t[2])
	}
	if *smemBytes > 0 {
		b.DynamicSharedMemSize(*smemBytes)
	}
	b.BlockCooperation(*cooperative)
	if *saturate {
		b.SaturateWithActiveBlocks()
	}
	if *minOccupancy {
		b.MinParamsForMaxOccupancy()
	}

	cfg, err := b.Build()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not resolve launch configuration")
	}

	out := struct {
		Device    string           `json:"device"`
		Config    launch.Config    `json:"config"`
		Overall   grid.OverallDims `json:"overall"`
		Occupancy float64          `json:"occupancy,omitempty"`
	}{
		Device:  props.Name,
		Config:  cfg,
		Overall: cfg.OverallDims(),
	}
	if bound != nil {
		if occ, err := bound.Occupancy(uint32(cfg.Block.Volume()), cfg.DynamicSharedMemBytes); err == nil {
			out.Occupancy = occ
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal().Err(err).Msg("Failed to encode result")
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("archer"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
