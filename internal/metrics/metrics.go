// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "The current number of active WebSocket sessions.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "The total number of WebSocket sessions accepted.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_frames_received_total",
		Help: "The total number of frames received from clients.",
	})
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_dropped_total",
		Help: "The total number of inbound frames dropped before dispatch.",
	}, []string{"reason"})
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_delivered_total",
		Help: "The total number of messages written to recipients.",
	})
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_delivery_failures_total",
		Help: "The total number of per-recipient delivery failures during fan-out.",
	})

	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_auth_success_total",
		Help: "The total number of successful handshake authentications.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_auth_failures_total",
		Help: "The total number of rejected handshakes.",
	}, []string{"reason"})
)

// StartServer starts the HTTP server for Prometheus scrapes on its own port.
func StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("Starting metrics server on %s/metrics", addr)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()
}
