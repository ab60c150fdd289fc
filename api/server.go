// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaynet/cnode/api/health"
)

// NodeStatus is the /status payload.
type NodeStatus struct {
	Version        string `json:"version"`
	State          string `json:"state"`
	Round          uint64 `json:"round"`
	LastWritten    uint64 `json:"lastWrittenSequence"`
	Syncing        bool   `json:"syncing"`
	Neighbours     int    `json:"neighbours"`
	MempoolPackets int    `json:"mempoolPackets"`
	ExecutorQueue  int    `json:"executorQueue"`
}

// StatusSource answers the /status endpoint; runtime.Node implements
// it.
type StatusSource interface {
	Status() NodeStatus
}

// Server is the admin HTTP endpoint: /health, /status, /metrics.
type Server struct {
	log    log.Logger
	server *http.Server
}

// NewServer builds a Server listening on addr.
func NewServer(addr string, status StatusSource, checks *health.Registry, gatherer prometheus.Gatherer, logger log.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := checks.Report(r.Context())
		code := http.StatusOK
		if !report.Healthy {
			code = http.StatusServiceUnavailable
		}
		_ = WriteJSON(w, code, Response{Success: report.Healthy, Result: report})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_ = WriteSuccess(w, status.Status())
	})

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		log: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	s.log.Info("api: admin endpoint listening", "addr", s.server.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
