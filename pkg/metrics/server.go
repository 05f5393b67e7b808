// Package metrics implements a standalone HTTP server for serving
// pprof profiles and Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/serval/serval/pkg/log"
)

// Server is a side listener for operational endpoints, kept off the
// tracker port so clients can never reach it.
type Server struct {
	srv *http.Server
}

// Stop shuts down the server.
func (s *Server) Stop() error {
	return s.srv.Shutdown(context.Background())
}

// NewServer registers the collectors and starts serving asynchronously.
func NewServer(addr string, collectors ...prometheus.Collector) *Server {
	for _, c := range collectors {
		prometheus.MustRegister(c)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: time.Second * 60,
		},
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal("metrics: serve failed", log.Err(err))
		}
	}()

	log.Info("metrics: listening", log.Fields{"addr": addr})
	return s
}
