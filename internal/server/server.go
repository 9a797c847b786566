// Package server exposes the daemon's health verdict, detailed status and
// Prometheus metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blackwell-systems/failsafe/internal/health"
	"github.com/blackwell-systems/failsafe/internal/orchestrator"
	"github.com/blackwell-systems/failsafe/internal/sysinfo"
)

// StatusSource provides the snapshot served by the endpoints.
type StatusSource interface {
	Status() orchestrator.Status
}

// VitalsFunc reads the host vitals served with the detailed status.
type VitalsFunc func(ctx context.Context) (*sysinfo.Vitals, error)

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	source StatusSource
	vitals VitalsFunc
	log    *slog.Logger
	server *http.Server
}

// New creates a server listening on addr.
func New(addr string, source StatusSource, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{source: source, log: log}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// SetVitals makes /health/detailed include host vitals read by fn.
func (s *Server) SetVitals(fn VitalsFunc) {
	s.vitals = fn
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("status server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("status server stopped")
	return nil
}

const verdictUnknown = "UNKNOWN"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.source.Status()

	verdict := verdictUnknown
	code := http.StatusServiceUnavailable
	if st.LastReport != nil {
		verdict = string(st.LastReport.Verdict)
		if st.LastReport.Verdict != health.Critical {
			code = http.StatusOK
		}
	}

	writeJSON(w, code, map[string]string{
		"status": verdict,
		"state":  string(st.State),
	})
}

type outcomeJSON struct {
	PlanID     string    `json:"plan_id"`
	Category   string    `json:"category"`
	Success    bool      `json:"success"`
	Skipped    bool      `json:"skipped,omitempty"`
	StepsRun   int       `json:"steps_run"`
	FailedStep string    `json:"failed_step,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type checkpointJSON struct {
	ID        string     `json:"id,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type usageJSON struct {
	TotalBytes uint64  `json:"total_bytes"`
	UsedBytes  uint64  `json:"used_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	Percent    float64 `json:"percent"`
}

type vitalsJSON struct {
	Timestamp  time.Time  `json:"timestamp"`
	CPUPercent float64    `json:"cpu_percent"`
	LoadAvg    [3]float64 `json:"load_average"`
	Memory     usageJSON  `json:"memory"`
	Disk       usageJSON  `json:"disk"`
	NetRxBytes uint64     `json:"network_rx_bytes"`
	NetTxBytes uint64     `json:"network_tx_bytes"`
	Processes  int        `json:"processes"`
	Error      string     `json:"error,omitempty"`
}

type detailedJSON struct {
	State            string         `json:"state"`
	IntervalSeconds  float64        `json:"interval_seconds"`
	Report           *health.Report `json:"report"`
	RecoveryOutcomes []outcomeJSON  `json:"recovery_outcomes"`
	LastCheckpoint   checkpointJSON `json:"last_checkpoint"`
	Vitals           *vitalsJSON    `json:"vitals,omitempty"`
}

func toUsageJSON(u sysinfo.Usage) usageJSON {
	return usageJSON{TotalBytes: u.Total, UsedBytes: u.Used, FreeBytes: u.Free, Percent: u.Percent()}
}

func toVitalsJSON(v *sysinfo.Vitals, err error) *vitalsJSON {
	out := &vitalsJSON{}
	if v != nil {
		out.Timestamp = v.Timestamp
		out.CPUPercent = v.CPUPercent
		out.LoadAvg = [3]float64{v.Load1, v.Load5, v.Load15}
		out.Memory = toUsageJSON(v.Memory)
		out.Disk = toUsageJSON(v.Disk)
		out.NetRxBytes = v.NetRxBytes
		out.NetTxBytes = v.NetTxBytes
		out.Processes = v.Processes
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	st := s.source.Status()

	resp := detailedJSON{
		State:            string(st.State),
		IntervalSeconds:  st.Interval.Seconds(),
		Report:           st.LastReport,
		RecoveryOutcomes: []outcomeJSON{},
		LastCheckpoint: checkpointJSON{
			ID:    st.LastCheckpointID,
			Error: st.LastCheckpointErr,
		},
	}
	if !st.LastCheckpointAt.IsZero() {
		at := st.LastCheckpointAt
		resp.LastCheckpoint.CreatedAt = &at
	}
	for _, o := range st.LastOutcomes {
		oj := outcomeJSON{
			PlanID:     o.PlanID,
			Category:   string(o.Category),
			Success:    o.Success,
			Skipped:    o.Skipped,
			StepsRun:   o.StepsRun,
			FailedStep: string(o.FailedStep),
			StartedAt:  o.StartedAt,
			FinishedAt: o.FinishedAt,
		}
		if o.Err != nil {
			oj.Error = o.Err.Error()
		}
		resp.RecoveryOutcomes = append(resp.RecoveryOutcomes, oj)
	}

	if s.vitals != nil {
		resp.Vitals = toVitalsJSON(s.vitals(r.Context()))
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
