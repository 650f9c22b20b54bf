// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Thermoquad/twestage/internal/metrics"
	"github.com/Thermoquad/twestage/pkg/sercmd"
	"github.com/Thermoquad/twestage/pkg/twefmt"
	"github.com/Thermoquad/twestage/pkg/twelink"
)

// OpenConnection opens either a serial or WebSocket connection based on
// the effective settings.
func OpenConnection(ctx context.Context) (twelink.Conn, string, error) {
	conn, info, err := twelink.Open(ctx, twelink.Endpoint{
		Port:        cfg.Serial.Port,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
		URL:         cfg.WebSocket.URL,
		Username:    cfg.WebSocket.Username,
		NoSSLVerify: cfg.WebSocket.NoSSLVerify,
		TextWrites:  cfg.WebSocket.TextWrites,
	})
	if err != nil {
		return nil, "", err
	}
	logger.Info("connection opened", zap.String("endpoint", info))
	return conn, info, nil
}

// newParser builds the frame parser selected by framing.format.
func newParser() (sercmd.Parser, error) {
	format, err := sercmd.ParseFormat(cfg.Framing.Format)
	if err != nil {
		return nil, err
	}
	return sercmd.New(format,
		sercmd.WithTimeout(cfg.Framing.Timeout),
		sercmd.WithMaxLength(cfg.Framing.MaxLength))
}

// frame is one outcome of the frame reader: a payload, or a framing error.
type frame struct {
	payload []byte
	raw     []byte
	err     error
}

// decoded is a frame run through the packet decoder and validator.
type decoded struct {
	frame
	packet twefmt.Packet
	// parseErr is set when a complete frame did not decode.
	parseErr error
	issues   []twefmt.ValidationError
}

// Err returns the framing or parse error of the frame, if any.
func (d decoded) Err() error {
	if d.err != nil {
		return d.err
	}
	return d.parseErr
}

func decodeFrame(f frame) decoded {
	d := decoded{frame: f}
	if f.err != nil {
		return d
	}
	d.packet, d.parseErr = twefmt.Parse(f.payload)
	if d.parseErr == nil {
		d.issues = twefmt.ValidatePacket(d.packet)
	}
	return d
}

// pumpFrames reads conn until it fails or fn returns false, feeding the
// parser byte by byte. Reads that time out poll the frame timeout. A closed
// connection ends the pump without an error.
func pumpFrames(conn io.Reader, p sercmd.Parser, m *metrics.AppMetrics, fn func(frame) bool) error {
	reader := sercmd.NewFrameReader(p)
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, twelink.ErrConnectionClosed) || errors.Is(err, io.EOF) {
				logger.Info("connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
		if n == 0 {
			p.Poll()
			continue
		}
		m.BytesReceived.Add(float64(n))

		for i := 0; i < n; i++ {
			payload, decodeErr := reader.DecodeByte(buf[i])
			if payload == nil && decodeErr == nil {
				continue
			}
			m.ObserveFrame(p.Format(), decodeErr)

			raw := make([]byte, len(reader.RawBytes()))
			copy(raw, reader.RawBytes())
			if !fn(frame{payload: payload, raw: raw, err: decodeErr}) {
				return nil
			}
		}
	}
}

// newAppMetrics registers the counters on a fresh registry. The registry
// is only served when metrics.enable is set.
func newAppMetrics() (*prometheus.Registry, *metrics.AppMetrics) {
	reg := metrics.NewRegistry()
	return reg, metrics.NewAppMetrics(reg)
}

// serveMetrics starts the Prometheus endpoint in the background when
// enabled.
func serveMetrics(ctx context.Context, reg *prometheus.Registry) {
	if !cfg.Metrics.Enable {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, reg, logger); err != nil {
			logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()
}
