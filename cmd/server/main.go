// Command oomemsim-server exposes the memory disambiguation pipeline over
// HTTP: instructions and tick requests from concurrent handlers are fanned
// into the single-threaded driver through a lock-free ring buffer, keeping
// the core free of locks while still serving many clients.
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Client    │────▶│  HTTP API   │────▶│  Sequencer  │
//	│ (cmd/client)│     │ (this cmd)  │     │ (Ring Buf)  │
//	└─────────────┘     └─────────────┘     └──────┬──────┘
//	                                               │
//	                                               ▼
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Prometheus │◀────│  Event      │◀────│  Pipeline   │
//	│  /metrics   │     │  Processor  │     │  Driver     │
//	└─────────────┘     └──────┬──────┘     └─────────────┘
//	                           │
//	                           ▼
//	                    ┌─────────────┐
//	                    │  Trace Log  │
//	                    └─────────────┘
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rishav/oomemsim/internal/disruptor"
	"github.com/rishav/oomemsim/internal/pipeline"
	"github.com/rishav/oomemsim/internal/telemetry"
	"github.com/rishav/oomemsim/internal/trace"
	"github.com/rishav/oomemsim/pkg/log"
)

// Server fans concurrent HTTP submissions into the single-threaded pipeline
// driver using the LMAX Disruptor pattern (see internal/disruptor).
type Server struct {
	pipe     *pipeline.Pipeline
	traceLog *trace.Log
	runID    trace.RunID
	metrics  *telemetry.Metrics

	ringBuffer     *disruptor.RingBuffer
	sequencer      *disruptor.Sequencer
	eventProcessor *disruptor.EventProcessor

	httpServer *http.Server
}

// Config configures a Server.
type Config struct {
	Port         int
	TraceLogPath string
	SyncMode     bool
	PipelineCfg  pipeline.Config
}

// DefaultConfig returns reasonable server defaults.
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		TraceLogPath: "trace.log",
		SyncMode:     false,
		PipelineCfg:  pipeline.DefaultConfig(),
	}
}

// NewServer creates a Server and wires its HTTP handlers.
func NewServer(cfg Config, reg *prometheus.Registry) (*Server, error) {
	traceLog, err := trace.Open(trace.Config{Path: cfg.TraceLogPath, SyncMode: cfg.SyncMode})
	if err != nil {
		return nil, fmt.Errorf("oomemsim: open trace log: %w", err)
	}

	pipe := pipeline.New(cfg.PipelineCfg)

	ringBuffer := disruptor.NewRingBuffer(disruptor.DefaultConfig())
	sequencer := disruptor.NewSequencer(ringBuffer)
	eventProcessor := disruptor.NewEventProcessor(ringBuffer, pipe, traceLog)

	s := &Server{
		pipe:           pipe,
		traceLog:       traceLog,
		runID:          trace.NewRunID(),
		metrics:        telemetry.NewMetrics(reg),
		ringBuffer:     ringBuffer,
		sequencer:      sequencer,
		eventProcessor: eventProcessor,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/issue", s.handleIssue)
	mux.HandleFunc("/tick", s.handleTick)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start begins processing ring buffer requests and serves HTTP until the
// server is shut down.
func (s *Server) Start() error {
	serverLog := log.WithComponent("server")
	serverLog.Info().Str("addr", s.httpServer.Addr).Str("run_id", string(s.runID)).Msg("starting oomemsim server")
	s.eventProcessor.Start()
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests, the ring buffer, and the trace log, in
// that order.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.eventProcessor.Shutdown()
	return s.traceLog.Close()
}

// IssueRequest is the wire form of a pipeline.Instruction.
type IssueRequest struct {
	PC                 uint64 `json:"pc"`
	Kind               string `json:"kind"`
	DstReg             int    `json:"dst_reg,omitempty"`
	DstRegValid        bool   `json:"dst_reg_valid,omitempty"`
	SrcRegs            []int  `json:"src_regs,omitempty"`
	Immediate          int64  `json:"immediate,omitempty"`
	FenceKind          string `json:"fence_kind,omitempty"`
	IsAtomic           bool   `json:"is_atomic,omitempty"`
	AtomicOp           string `json:"atomic_op,omitempty"`
	Expected           uint64 `json:"expected,omitempty"`
	ExpectedValid      bool   `json:"expected_valid,omitempty"`
	IsLoadLink         bool   `json:"is_load_link,omitempty"`
	IsStoreConditional bool   `json:"is_store_conditional,omitempty"`
}

// IssueResponse reports whether the instruction was admitted.
type IssueResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, IssueResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	instr, err := decodeInstruction(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, IssueResponse{Error: err.Error()})
		return
	}

	resp, err := s.submit(&disruptor.PipelineRequest{Type: disruptor.RequestTypeIssue, Instr: instr})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, IssueResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, IssueResponse{Accepted: resp.Accepted})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := s.submit(&disruptor.PipelineRequest{Type: disruptor.RequestTypeTick})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	stats := resp.Stats.(pipeline.Stats)
	s.metrics.Observe(stats)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp, err := s.submit(&disruptor.PipelineRequest{Type: disruptor.RequestTypeStats})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp.Stats.(pipeline.Stats))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "run_id": string(s.runID)})
}

// submit claims a ring buffer slot, publishes req, and waits for the event
// processor's response.
func (s *Server) submit(req *disruptor.PipelineRequest) (*disruptor.PipelineResponse, error) {
	responseCh := make(chan *disruptor.PipelineResponse, 1)

	seq, err := s.sequencer.Next()
	if err != nil {
		return nil, fmt.Errorf("server busy, please retry")
	}
	s.sequencer.Publish(seq, req, responseCh)

	select {
	case resp := <-responseCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("processing timeout")
	}
}

func decodeInstruction(req IssueRequest) (*pipeline.Instruction, error) {
	kind, err := parseKind(req.Kind)
	if err != nil {
		return nil, err
	}

	instr := &pipeline.Instruction{
		PC:                 req.PC,
		Kind:               kind,
		DstReg:             req.DstReg,
		DstRegValid:        req.DstRegValid,
		SrcRegs:            req.SrcRegs,
		Immediate:          req.Immediate,
		IsAtomic:           req.IsAtomic,
		Expected:           req.Expected,
		ExpectedValid:      req.ExpectedValid,
		IsLoadLink:         req.IsLoadLink,
		IsStoreConditional: req.IsStoreConditional,
	}

	if req.FenceKind != "" {
		fk, err := parseFenceKind(req.FenceKind)
		if err != nil {
			return nil, err
		}
		instr.FenceKind = fk
	}
	if req.AtomicOp != "" {
		ak, err := parseAtomicKind(req.AtomicOp)
		if err != nil {
			return nil, err
		}
		instr.AtomicOp = ak
	}

	return instr, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "oomemsim-server",
	Short: "Runs the memory disambiguation pipeline's HTTP-facing server",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server",
	RunE:  runServer,
}

func init() {
	runCmd.Flags().Int("port", 8080, "HTTP port")
	runCmd.Flags().String("trace-log", "trace.log", "Path to the trace log file")
	runCmd.Flags().Bool("sync", false, "fsync the trace log after every append")
	runCmd.Flags().Int("rob-capacity", pipeline.DefaultConfig().ROBCapacity, "Reorder buffer capacity")
	runCmd.Flags().Int("lsq-capacity", pipeline.DefaultConfig().LSQCapacity, "Load/store queue capacity")
	runCmd.Flags().Int("store-buffer-size", pipeline.DefaultConfig().StoreBufferSize, "Store buffer capacity")
}

func runServer(cmd *cobra.Command, _ []string) error {
	port, _ := cmd.Flags().GetInt("port")
	tracePath, _ := cmd.Flags().GetString("trace-log")
	sync, _ := cmd.Flags().GetBool("sync")
	robCap, _ := cmd.Flags().GetInt("rob-capacity")
	lsqCap, _ := cmd.Flags().GetInt("lsq-capacity")
	sbSize, _ := cmd.Flags().GetInt("store-buffer-size")

	cfg := DefaultConfig()
	cfg.Port = port
	cfg.TraceLogPath = tracePath
	cfg.SyncMode = sync
	cfg.PipelineCfg.ROBCapacity = robCap
	cfg.PipelineCfg.LSQCapacity = lsqCap
	cfg.PipelineCfg.StoreBufferSize = sbSize

	reg := prometheus.NewRegistry()
	server, err := NewServer(cfg, reg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	log.Logger.Info().Msg("server stopped")
	return nil
}
