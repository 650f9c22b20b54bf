// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes frame, packet and programmer counters to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Thermoquad/twestage/pkg/sercmd"
	"github.com/Thermoquad/twestage/pkg/twefmt"
	"github.com/Thermoquad/twestage/pkg/tweprog"
)

const namespace = "twestage"

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics are the twestage counters.
type AppMetrics struct {
	BytesReceived prometheus.Counter
	FramesTotal   *prometheus.CounterVec // labels: format, result=ok|checksum|framing
	PacketsTotal  *prometheus.CounterVec // labels: kind
	ParseErrors   *prometheus.CounterVec // labels: reason=unknown|malformed
	Anomalies     *prometheus.CounterVec // labels: type
	LinkQuality   prometheus.Histogram
	NodesSeen     prometheus.Gauge
	ProgEvents    *prometheus.CounterVec // labels: state, result=ok|ng
	ProgSessions  *prometheus.CounterVec // labels: result=ok|error
	ProgProgress  prometheus.Gauge
}

// NewAppMetrics registers the counters on reg.
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Bytes read from the module link.",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Serial frames by framing format and outcome.",
		}, []string{"format", "result"}),
		PacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Decoded application packets by kind.",
		}, []string{"kind"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_parse_errors_total",
			Help:      "Complete frames that did not decode to a packet.",
		}, []string{"reason"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_anomalies_total",
			Help:      "Packet validation anomalies by type.",
		}, []string{"type"}),
		LinkQuality: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "link_quality",
			Help:      "LQI of decoded packets.",
			Buckets:   prometheus.LinearBuckets(0, 32, 8),
		}),
		NodesSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_seen",
			Help:      "Distinct source addresses seen since start.",
		}),
		ProgEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prog_events_total",
			Help:      "Bootloader responses by state and outcome.",
		}, []string{"state", "result"}),
		ProgSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prog_sessions_total",
			Help:      "Finished bootloader sessions by outcome.",
		}, []string{"result"}),
		ProgProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "prog_progress_ratio",
			Help:      "Progress of the current write or verify, 0 to 1.",
		}),
	}
	reg.MustRegister(
		m.BytesReceived, m.FramesTotal, m.PacketsTotal, m.ParseErrors, m.Anomalies,
		m.LinkQuality, m.NodesSeen, m.ProgEvents, m.ProgSessions, m.ProgProgress,
	)
	return m
}

// ObserveFrame counts the outcome of one frame. err comes from
// sercmd.FrameReader.
func (m *AppMetrics) ObserveFrame(format sercmd.Format, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, sercmd.ErrChecksum):
		result = "checksum"
	default:
		result = "framing"
	}
	m.FramesTotal.WithLabelValues(format.String(), result).Inc()
}

// ObservePacket counts a parse result and its anomalies.
func (m *AppMetrics) ObservePacket(p twefmt.Packet, err error, verrs []twefmt.ValidationError) {
	if err != nil {
		reason := "malformed"
		if errors.Is(err, twefmt.ErrUnknownPacket) {
			reason = "unknown"
		}
		m.ParseErrors.WithLabelValues(reason).Inc()
		return
	}
	m.PacketsTotal.WithLabelValues(p.Kind().String()).Inc()
	m.LinkQuality.Observe(float64(p.Info().LQI))
	for _, v := range verrs {
		m.Anomalies.WithLabelValues(v.Type.String()).Inc()
	}
}

// ObserveProgEvent counts programmer responses and tracks progress.
func (m *AppMetrics) ObserveProgEvent(ev tweprog.Event) {
	if ev.Kind != tweprog.EventRespond {
		if ev.State.Chunked() {
			m.ProgProgress.Set(0)
		}
		return
	}
	result := "ok"
	if !ev.OK {
		result = "ng"
	}
	m.ProgEvents.WithLabelValues(ev.State.String(), result).Inc()
	if ev.State.Chunked() && ev.OK {
		m.ProgProgress.Set(float64(ev.Progress) / 1024)
	}
}

// ObserveProgSession counts a finished session.
func (m *AppMetrics) ObserveProgSession(err error) {
	if err != nil {
		m.ProgSessions.WithLabelValues("error").Inc()
		return
	}
	m.ProgSessions.WithLabelValues("ok").Inc()
}

// Serve exposes reg on addr until ctx is cancelled.
func Serve(ctx context.Context, addr, path string, reg *prometheus.Registry, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint listening", zap.String("addr", addr), zap.String("path", path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
