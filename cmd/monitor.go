// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/twestage/internal/metrics"
	"github.com/Thermoquad/twestage/pkg/sercmd"
	"github.com/Thermoquad/twestage/pkg/twefmt"
	"github.com/Thermoquad/twestage/pkg/twelink"
)

var (
	showAll       bool
	statsInterval int
	textMode      bool
	metricsAddr   string
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"error_detection"},
	Short:   "Detect and analyze rejected frames and packet anomalies",
	Long: `Track frame errors, undecodable packets and anomalous sensor values with statistics.

This command validates each packet and detects:
  - Checksum and framing errors
  - Frames that are not a known TWELITE packet, or are truncated
  - PAL payloads that do not match their sensor count
  - Anomalous values (zero LQI, low supply voltage, temperature and
    humidity out of range)

By default, only errors are displayed. Use --show-all to display valid packets too.

A terminal UI is used when stdout is a terminal; --text forces the plain
text log with periodic statistics summaries. With --metrics-addr (or
metrics.enable in the configuration) the counters are served for
Prometheus while the monitor runs.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, text mode)")
	monitorCmd.Flags().BoolVar(&textMode, "text", false, "Plain text output instead of the terminal UI")
	monitorCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if metricsAddr != "" {
		cfg.Metrics.Enable = true
		cfg.Metrics.Addr = metricsAddr
	}

	parser, err := newParser()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	reg, m := newAppMetrics()
	serveMetrics(ctx, reg)

	if !textMode && term.IsTerminal(int(os.Stdout.Fd())) {
		return runTUIMode(ctx, conn, connInfo, parser, m)
	}
	return runTextMode(ctx, conn, connInfo, parser, m)
}

// syncTracker ignores rejected frames until the first good one, since the
// stream is usually joined mid-frame.
type syncTracker struct {
	synchronized bool
	skipped      int
}

// accept reports whether f should be counted, and whether f is the frame
// that synchronized the stream.
func (s *syncTracker) accept(f frame) (count, first bool) {
	if s.synchronized {
		return true, false
	}
	if f.err != nil {
		s.skipped++
		return false, false
	}
	s.synchronized = true
	return true, true
}

// runTUIMode runs the monitor in the terminal UI
func runTUIMode(ctx context.Context, conn twelink.Conn, connInfo string, parser sercmd.Parser, m *metrics.AppMetrics) error {
	p := tea.NewProgram(initialModel(connInfo, showAll, m), tea.WithContext(ctx))

	go func() {
		var tracker syncTracker
		err := pumpFrames(conn, parser, m, func(f frame) bool {
			count, first := tracker.accept(f)
			if first {
				p.Send(syncMsg{skipped: tracker.skipped})
			}
			if !count {
				return true
			}
			d := decodeFrame(f)
			m.ObservePacket(d.packet, d.parseErr, d.issues)
			p.Send(frameMsg{d})
			return true
		})
		if err != nil {
			logger.Error("monitor read loop ended", zap.Error(err))
		}
		p.Send(connClosedMsg{err: err})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode runs the monitor as a plain log
func runTextMode(ctx context.Context, conn twelink.Conn, connInfo string, parser sercmd.Parser, m *metrics.AppMetrics) error {
	fmt.Printf("twestage - Monitor\n")
	fmt.Printf("Connection: %s (%s frames)\n", connInfo, parser.Format())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := twefmt.NewStatistics()
	nodes := newNodeTable()

	frames := make(chan frame, 64)
	readErr := make(chan error, 1)
	go func() {
		readErr <- pumpFrames(conn, parser, m, func(f frame) bool {
			select {
			case frames <- f:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	interval := time.Duration(statsInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	statsTicker := time.NewTicker(interval)
	defer statsTicker.Stop()

	var tracker syncTracker
	for {
		select {
		case f := <-frames:
			count, first := tracker.accept(f)
			if first {
				if tracker.skipped > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d rejected frames\n\n", tracker.skipped)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}
			if !count {
				continue
			}

			d := decodeFrame(f)
			stats.Update(d.packet, d.Err(), d.issues)
			m.ObservePacket(d.packet, d.parseErr, d.issues)

			if d.Err() != nil {
				printFrameError(d)
				continue
			}
			if nodes.observe(d.packet) {
				m.NodesSeen.Set(float64(nodes.len()))
				info := d.packet.Info()
				fmt.Printf("[NODE] %08X (%s) first seen\n\n", info.SrcAddr, d.packet.Kind())
			}
			if len(d.issues) > 0 {
				printValidationErrors(d.packet, d.issues)
			} else if showAll {
				fmt.Print(twefmt.FormatPacket(d.packet))
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Printf("Nodes seen:      %8d\n", nodes.len())
			fmt.Println()

		case err := <-readErr:
			fmt.Println()
			fmt.Print(stats.String())
			return err

		case <-ctx.Done():
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}

// printFrameError prints a framing or decode error in highlighted format
func printFrameError(d decoded) {
	timestamp := time.Now().Format("15:04:05.000")
	if d.err != nil {
		fmt.Printf("[%s] \033[1;31mFRAME ERROR:\033[0m %v\n", timestamp, d.err)
		fmt.Printf("  wire: % X\n", d.raw)
		fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
		return
	}
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, d.parseErr)
	fmt.Printf("  payload (%d bytes): % X\n", len(d.payload), d.payload)
	fmt.Printf("  >>> DECODE FAILED <<<\n\n")
}

// printValidationErrors prints validation errors for a packet
func printValidationErrors(p twefmt.Packet, issues []twefmt.ValidationError) {
	info := p.Info()
	timestamp := info.Tick.Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s from %08X\n", timestamp, twefmt.FormatKind(p.Kind()), info.SrcAddr)
	fmt.Printf("  Checksum: \033[1;32mOK\033[0m\n")

	for i, v := range issues {
		switch v.Type {
		case twefmt.AnomalyPALParseError:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, v.Message)
			if pal, ok := p.(*twefmt.PAL); ok {
				fmt.Printf("    sensors=%d, tlv=%d bytes\n", pal.Sensors, len(pal.TLV()))
			}

		case twefmt.AnomalyLowVoltage:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, v.Message)

		case twefmt.AnomalyZeroLQI:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, v.Message)
			fmt.Printf("    LQI=0 usually means the relay dropped the link quality byte\n")

		case twefmt.AnomalyInvalidTemp, twefmt.AnomalyInvalidHumidity:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, v.Message)
			if value, ok := v.Details["value"].(float64); ok {
				fmt.Printf("    value=%.2f\n", value)
			}

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, v.Message)
		}
	}

	fmt.Printf("  >>> PACKET FLAGGED <<<\n\n")
}
