package gcmetrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"
)

// MetricFunc returns a flattened name->value map, the same shape
// Collector.Export produces. A caller with several collectors (e.g. one
// Heap per logical process) registers one MetricFunc per name.
type MetricFunc func() map[string]float64

// StartMetricsServer starts a minimal text-exposition endpoint on addr
// (host:port, port 0 picks a free one) and returns the bound address and a
// shutdown function. Grounded on internal/runtime/metrics_exporter.go's
// StartMetricsServer: same sorted-name/sorted-key text format, trimmed of
// the TLS and bearer-token variants (no SPEC_FULL.md component needs an
// authenticated or encrypted metrics endpoint — a GC engine core has no
// network-facing surface of its own).
func StartMetricsServer(addr string, collectors map[string]MetricFunc) (string, func(ctx context.Context) error, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		names := make([]string, 0, len(collectors))
		for name := range collectors {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			fn := collectors[name]
			if fn == nil {
				continue
			}

			snapshot := fn()

			keys := make([]string, 0, len(snapshot))
			for k := range snapshot {
				keys = append(keys, k)
			}

			sort.Strings(keys)

			for _, k := range keys {
				fmt.Fprintf(w, "%s %g\n", sanitizeMetricToken(name+"_"+k), snapshot[k])
			}
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	bound := ln.Addr().String()

	go func() {
		_ = srv.Serve(ln)
	}()

	stop := func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}

	return bound, stop, nil
}

// sanitizeMetricToken replaces characters outside [a-zA-Z0-9_:] with '_',
// the same prometheus-like token shape the teacher's exporter produces.
func sanitizeMetricToken(s string) string {
	out := make([]byte, len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == ':':
			out[i] = c
		default:
			out[i] = '_'
		}
	}

	return string(out)
}
