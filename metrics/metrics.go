// Package metrics exposes the gateway's Prometheus instrumentation and the
// standalone metrics listener.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AccessDecisions counts verify-access outcomes by decision label
	// (granted, rate_limited, forbidden, unauthorized, error).
	AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_access_decisions_total",
		Help: "Access verification outcomes by decision",
	}, []string{"decision"})

	// KeysIssued counts keys minted, by env and type.
	KeysIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_keys_issued_total",
		Help: "API keys issued",
	}, []string{"env", "type"})

	// KeyReveals counts successful reveal operations.
	KeyReveals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_key_reveals_total",
		Help: "Successful API key reveals",
	})

	// SecureGateRejections counts secure-gate check failures by reason.
	SecureGateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_secure_gate_rejections_total",
		Help: "Secure gate rejections by reason",
	}, []string{"reason"})

	// SignIns counts successful wallet sign-ins by audience.
	SignIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_wallet_signins_total",
		Help: "Successful wallet sign-ins by audience",
	}, []string{"audience"})
)

// MetricsServer serves /metrics on its own listener, kept off the API port.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on the given address.
func New(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		srv: &http.Server{Addr: addr, Handler: mux},
	}
}

func (m *MetricsServer) ListenAndServe() error { return m.srv.ListenAndServe() }

func (m *MetricsServer) Shutdown(ctx context.Context) error { return m.srv.Shutdown(ctx) }
