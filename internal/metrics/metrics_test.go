// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Thermoquad/twestage/pkg/sercmd"
	"github.com/Thermoquad/twestage/pkg/twefmt"
	"github.com/Thermoquad/twestage/pkg/tweprog"
)

func newTestMetrics(t *testing.T) (*prometheus.Registry, *AppMetrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return reg, NewAppMetrics(reg)
}

type stubPacket struct {
	kind twefmt.Kind
	info twefmt.Common
}

func (s stubPacket) Kind() twefmt.Kind   { return s.kind }
func (s stubPacket) Info() twefmt.Common { return s.info }

func TestObserveFrame(t *testing.T) {
	_, m := newTestMetrics(t)

	m.ObserveFrame(sercmd.FormatASCII, nil)
	m.ObserveFrame(sercmd.FormatASCII, nil)
	m.ObserveFrame(sercmd.FormatASCII, fmt.Errorf("%w: expected 0x7B, got 0x7C", sercmd.ErrChecksum))
	m.ObserveFrame(sercmd.FormatBinary, sercmd.ErrFraming)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("ascii", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("ascii", "checksum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("binary", "framing")))
}

func TestObservePacket(t *testing.T) {
	_, m := newTestMetrics(t)

	p := stubPacket{kind: twefmt.KindPAL, info: twefmt.Common{LQI: 150}}
	m.ObservePacket(p, nil, []twefmt.ValidationError{
		{Type: twefmt.AnomalyLowVoltage},
		{Type: twefmt.AnomalyZeroLQI},
	})
	m.ObservePacket(nil, twefmt.ErrUnknownPacket, nil)
	m.ObservePacket(nil, twefmt.ErrMalformed, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsTotal.WithLabelValues("PAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("low_voltage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("zero_lqi")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors.WithLabelValues("malformed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LinkQuality))
}

func TestObserveProgEvent(t *testing.T) {
	_, m := newTestMetrics(t)

	m.ObserveProgEvent(tweprog.Event{State: tweprog.StateWriteFlash, Kind: tweprog.EventNewState, OK: true})
	m.ObserveProgEvent(tweprog.Event{State: tweprog.StateWriteFlash, Kind: tweprog.EventRespond, OK: true, Progress: 512})
	assert.Equal(t, 0.5, testutil.ToFloat64(m.ProgProgress))

	m.ObserveProgEvent(tweprog.Event{State: tweprog.StateIdentifyFlash, Kind: tweprog.EventRespond, OK: false})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProgEvents.WithLabelValues("WRITE_FLASH", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProgEvents.WithLabelValues("IDENTIFY_FLASH", "ng")))

	m.ObserveProgSession(nil)
	m.ObserveProgSession(errors.New("bootloader protocol error"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProgSessions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProgSessions.WithLabelValues("error")))
}

func TestHandler(t *testing.T) {
	reg, m := newTestMetrics(t)
	m.BytesReceived.Add(42)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "twestage_bytes_received_total 42")
}

func TestNewRegistry_GoCollector(t *testing.T) {
	mfs, err := NewRegistry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	reg, m := newTestMetrics(t)
	m.NodesSeen.Set(3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, "/metrics", reg, zap.NewNop()) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, "twestage_nodes_seen 3")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
