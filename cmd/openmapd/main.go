// Command openmapd streams an OSM-PBF file through the decode pipeline in
// internal/osm, optionally exporting decoded geometry to a shapefile and
// optionally repeating the run on a cron schedule. It exposes the same
// flag-based CLI, manual gRPC service (no protoc), and net/http status
// endpoint shape as the teacher's own cmd/server/main.go.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/simonwaldherr/openmapd/internal/config"
	"github.com/simonwaldherr/openmapd/internal/core"
	"github.com/simonwaldherr/openmapd/internal/export"
	"github.com/simonwaldherr/openmapd/internal/osm"
	"github.com/simonwaldherr/openmapd/internal/pbf"
	"github.com/simonwaldherr/openmapd/internal/schedule"
)

var (
	flagConfig = flag.String("config", "", "path to a YAML ingest config (see internal/config)")
	flagInput  = flag.String("input", "", "path to a .osm.pbf file (overrides config's input)")
	flagHTTP   = flag.String("http", ":8080", "HTTP listen address for the status endpoint (empty to disable)")
	flagGRPC   = flag.String("grpc", ":9091", "gRPC listen address for the control plane (empty to disable)")
	flagExport = flag.String("export", "", "path prefix for shapefile export, e.g. 'out' writes out_nodes.shp/out_ways.shp")
	flagVerbose = flag.Bool("v", false, "verbose diagnostic logging")
)

// statusRequest/statusResponse/stopRequest/stopResponse are the manual
// request/response structs carried over the JSON gRPC codec, the same
// technique the teacher uses for its own control plane.
type statusRequest struct{}

type statusResponse struct {
	RunID      string `json:"run_id,omitempty"`
	State      string `json:"state"`
	Created    int64  `json:"created"`
	Dispatched int64  `json:"dispatched"`
	Received   int64  `json:"received"`
	Finished   int64  `json:"finished"`
	Quiescent  bool   `json:"quiescent"`
}

type stopRequest struct{}

type stopResponse struct {
	State string `json:"state"`
}

// jsonCodec lets the gRPC server exchange plain structs instead of
// generated protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)       { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error  { return json.Unmarshal(data, v) }

// OpenMapControlServer is the manually-declared gRPC service interface,
// registered the same way the teacher registers TinySQLServer.
type OpenMapControlServer interface {
	Status(context.Context, *statusRequest) (*statusResponse, error)
	Stop(context.Context, *stopRequest) (*stopResponse, error)
}

func registerOpenMapControlServer(s *grpc.Server, srv OpenMapControlServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "openmapd.OpenMapControl",
		HandlerType: (*OpenMapControlServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Status", Handler: _OpenMapControl_Status_Handler},
			{MethodName: "Stop", Handler: _OpenMapControl_Stop_Handler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "openmapd",
	}, srv)
}

func _OpenMapControl_Status_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(statusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OpenMapControlServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/openmapd.OpenMapControl/Status"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OpenMapControlServer).Status(ctx, req.(*statusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OpenMapControl_Stop_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(stopRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OpenMapControlServer).Stop(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/openmapd.OpenMapControl/Stop"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OpenMapControlServer).Stop(ctx, req.(*stopRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ingestServer owns the current (or most recent) Reader run and answers the
// control plane's Status/Stop RPCs and the HTTP status endpoint.
type ingestServer struct {
	cfg config.Config

	mu     sync.Mutex
	reader *osm.Reader
	state  osm.ScanState
	runID  string
}

func newIngestServer(cfg config.Config) *ingestServer {
	return &ingestServer{cfg: cfg}
}

func (s *ingestServer) snapshot() osm.ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ingestServer) Status(ctx context.Context, req *statusRequest) (*statusResponse, error) {
	st := s.snapshot()
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()
	return &statusResponse{
		RunID:      runID,
		State:      st.State.String(),
		Created:    st.Created,
		Dispatched: st.Dispatched,
		Received:   st.Received,
		Finished:   st.Finished,
		Quiescent:  st.Created == st.Dispatched && st.Dispatched == st.Received && st.Received == st.Finished,
	}, nil
}

func (s *ingestServer) Stop(ctx context.Context, req *stopRequest) (*stopResponse, error) {
	s.mu.Lock()
	r := s.reader
	s.mu.Unlock()
	if r == nil {
		return &stopResponse{State: osm.StreamIdle.String()}, nil
	}
	state, err := r.Stop()
	if err != nil {
		return nil, err
	}
	return &stopResponse{State: state.String()}, nil
}

func (s *ingestServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, _ := s.Status(r.Context(), &statusRequest{})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// runOnce performs a single streaming pass over cfg.Input, reporting
// progress through s.state and optionally writing a shapefile pair.
func (s *ingestServer) runOnce(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.Input) == "" {
		return fmt.Errorf("openmapd: no input path configured")
	}

	runID := uuid.NewString()
	s.mu.Lock()
	s.runID = runID
	s.mu.Unlock()
	if *flagVerbose {
		log.Printf("openmapd: starting ingest run %s for %s", runID, s.cfg.Input)
	}

	sb := core.NewStreamBuffer(s.cfg.Input, s.cfg.CacheBucketConfig())
	if err := sb.Open(); err != nil {
		return fmt.Errorf("openmapd: open %s: %w", s.cfg.Input, err)
	}
	defer sb.Close()

	tok := pbf.NewTokenizer(sb)
	reader := osm.NewReader(sb, tok, s.cfg.ReaderOptions())

	var shpWriter *export.ShapefileWriter
	var shpMu sync.Mutex
	if strings.TrimSpace(s.cfg.Export) != "" {
		shpWriter = export.NewShapefileWriter()
	}

	reader.OnScanStarted(func(st osm.ScanState) {
		s.mu.Lock()
		s.state = st
		s.mu.Unlock()
		if *flagVerbose {
			log.Printf("openmapd: scan started")
		}
	})
	reader.OnScanFinished(func(st osm.ScanState) {
		s.mu.Lock()
		s.state = st
		s.mu.Unlock()
		if *flagVerbose {
			log.Printf("openmapd: scan finished: %+v", st)
		}
	})
	reader.OnOSMElement(func(e osm.Element) {
		if shpWriter == nil {
			return
		}
		shpMu.Lock()
		shpWriter.Add(e)
		shpMu.Unlock()
	})

	s.mu.Lock()
	s.reader = reader
	s.mu.Unlock()

	if _, err := reader.Start(ctx); err != nil {
		return fmt.Errorf("openmapd: start: %w", err)
	}
	reader.Join()

	if shpWriter != nil {
		if err := shpWriter.WritePoints(s.cfg.Export + "_nodes.shp"); err != nil {
			return fmt.Errorf("openmapd: write node shapefile: %w", err)
		}
		if err := shpWriter.WriteLines(s.cfg.Export + "_ways.shp"); err != nil {
			return fmt.Errorf("openmapd: write way shapefile: %w", err)
		}
	}
	return nil
}

func main() {
	flag.Parse()

	var cfg config.Config
	if strings.TrimSpace(*flagConfig) != "" {
		loaded, err := config.Load(*flagConfig)
		if err != nil {
			log.Fatalf("openmapd: %v", err)
		}
		cfg = loaded
	}
	if strings.TrimSpace(*flagInput) != "" {
		cfg.Input = *flagInput
	}
	if strings.TrimSpace(*flagExport) != "" {
		cfg.Export = *flagExport
	}
	cfg = cfg.Normalized()

	srv := newIngestServer(cfg)

	encoding.RegisterCodec(jsonCodec{})

	var grpcErr error
	if *flagGRPC != "" {
		go func() {
			lis, err := net.Listen("tcp", *flagGRPC)
			if err != nil {
				log.Printf("openmapd: gRPC listen error: %v", err)
				grpcErr = err
				return
			}
			gs := grpc.NewServer()
			registerOpenMapControlServer(gs, srv)
			log.Printf("openmapd: gRPC control plane listening on %s", *flagGRPC)
			if err := gs.Serve(lis); err != nil {
				log.Printf("openmapd: gRPC serve error: %v", err)
				grpcErr = err
			}
		}()
	}

	if *flagHTTP != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/status", srv.handleStatus)
		go func() {
			log.Printf("openmapd: HTTP status listening on %s", *flagHTTP)
			if err := http.ListenAndServe(*flagHTTP, mux); err != nil {
				log.Printf("openmapd: HTTP serve error: %v", err)
			}
		}()
	}
	_ = grpcErr

	runIngest := func(ctx context.Context) error { return srv.runOnce(ctx) }

	if strings.TrimSpace(cfg.Schedule) != "" {
		sched, err := schedule.New(cfg.Schedule, runIngest)
		if err != nil {
			log.Fatalf("openmapd: %v", err)
		}
		sched.Start()
		log.Printf("openmapd: repeating ingest on schedule %q", cfg.Schedule)
		select {}
	}

	start := time.Now()
	ctx := context.Background()
	if err := runIngest(ctx); err != nil {
		log.Fatalf("openmapd: %v", err)
	}

	final := srv.snapshot()
	log.Printf("openmapd: ingest complete: created=%d finished=%d in %s",
		final.Created, final.Finished, time.Since(start))
}
