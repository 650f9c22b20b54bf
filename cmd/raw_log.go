// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/twestage/pkg/twefmt"
)

var recordPath string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw packet log in human-readable format",
	Long: `Continuously decode and display TWELITE packets as they arrive.

Each complete frame is decoded (PAL, App_Twelite, App_IO, App_UART or
App_Tag) and printed with timestamp, source address, LQI and the decoded
sensor values. Frames that fail the checksum or do not decode are printed
as errors.

With --record, every decoded packet is also appended to a CBOR file
together with its wire bytes.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&recordPath, "record", "", "Append decoded packets to this CBOR file")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	parser, err := newParser()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var rec *twefmt.RecordWriter
	if recordPath != "" {
		f, err := os.OpenFile(recordPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open record file: %w", err)
		}
		defer f.Close()
		rec = twefmt.NewRecordWriter(f)
	}

	fmt.Printf("twestage - Raw Packet Log\n")
	fmt.Printf("Connection: %s (%s frames)\n", connInfo, parser.Format())
	if rec != nil {
		fmt.Printf("Recording: %s\n", recordPath)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	_, m := newAppMetrics()
	err = pumpFrames(conn, parser, m, func(f frame) bool {
		d := decodeFrame(f)
		m.ObservePacket(d.packet, d.parseErr, d.issues)

		if err := d.Err(); err != nil {
			fmt.Printf("[ERROR] %v\n", err)
			return true
		}
		fmt.Print(twefmt.FormatPacket(d.packet))

		if rec != nil {
			if err := rec.Write(d.packet, d.raw); err != nil {
				logger.Error("record write failed", zap.Error(err))
			}
		}
		return true
	})

	if rec != nil {
		fmt.Printf("\n%d packets recorded to %s\n", rec.Count(), recordPath)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}
