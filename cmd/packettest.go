// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/twestage/pkg/twefmt"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid TWELITE frame",
	Long: `Wait for a valid TWELITE frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any
complete frame that passes the checksum. Bytes before the first frame and
rejected frames are counted and skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking the baud rate and frame format of a module.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	parser, err := newParser()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("twestage - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid %s frame...\n\n", parser.Format())

	frameChan := make(chan decoded, 1)
	errChan := make(chan error, 1)

	go func() {
		rejected := 0
		_, m := newAppMetrics()
		err := pumpFrames(conn, parser, m, func(f frame) bool {
			if f.err != nil {
				rejected++
				return true
			}
			if rejected > 0 {
				fmt.Printf("(skipped %d rejected frames before the first valid one)\n", rejected)
			}
			frameChan <- decodeFrame(f)
			return false
		})
		if err == nil {
			err = fmt.Errorf("connection closed")
		}
		errChan <- err
	}()

	select {
	case d := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Length: %d bytes\n", len(d.payload))
		if d.parseErr != nil {
			fmt.Printf("  Packet: not decoded (%v)\n", d.parseErr)
		} else {
			info := d.packet.Info()
			fmt.Printf("  Type: %s\n", twefmt.FormatKind(d.packet.Kind()))
			fmt.Printf("  Address: 0x%08X\n", info.SrcAddr)
			fmt.Printf("  LQI: %d\n", info.LQI)
		}
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
