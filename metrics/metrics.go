// Package metrics exposes a Prometheus-compatible metrics listener backed by
// the VictoriaMetrics metrics library.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// MetricsServer serves the /metrics endpoint on a dedicated listener.
type MetricsServer struct {
	namespace string
	srv       *http.Server
}

// New creates a metrics server. The namespace prefixes all counters registered
// through this package.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	if namespace == "" {
		return nil, fmt.Errorf("metrics namespace must not be empty")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		namespace: namespace,
		srv: &http.Server{
			Addr:        listenAddr,
			Handler:     mux,
			ReadTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Counter returns (creating if needed) a counter within the server's namespace.
func (s *MetricsServer) Counter(name string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf("%s_%s", s.namespace, name))
}
