// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/twestage/pkg/sercmd"
)

var (
	sendRepeat int
	sendRate   float64
	sendShow   bool
)

var sendCmd = &cobra.Command{
	Use:   "send <hex payload>",
	Short: "Encode a payload as a frame and write it to the module",
	Long: `Encode a hex payload in the selected frame format and write it.

The payload is the frame body without header or checksum, for example the
App_Twelite digital output command 0x80:

  twestage send 7880010F0F0000000000000000000000

Spaces, colons and a leading 0x are ignored. With --repeat the frame is
written several times, paced by --rate frames per second.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVarP(&sendRepeat, "repeat", "n", 1, "Number of times to write the frame")
	sendCmd.Flags().Float64Var(&sendRate, "rate", 1, "Frames per second when repeating")
	sendCmd.Flags().BoolVar(&sendShow, "show", false, "Print the encoded frame before writing")
}

// parseHexPayload accepts "0x0102", "01 02", "01:02" and plain hex.
func parseHexPayload(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("empty payload")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return b, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	payload, err := parseHexPayload(args[0])
	if err != nil {
		return err
	}
	if sendRepeat < 1 {
		return fmt.Errorf("--repeat must be at least 1")
	}
	if sendRate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}

	parser, err := newParser()
	if err != nil {
		return err
	}
	wire, err := parser.Encode(payload)
	if err != nil {
		return err
	}
	if sendShow {
		if parser.Format() == sercmd.FormatASCII {
			fmt.Printf("Frame: %q\n", wire)
		} else {
			fmt.Printf("Frame: % X\n", wire)
		}
	}

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Connection: %s\n", connInfo)

	limiter := rate.NewLimiter(rate.Limit(sendRate), 1)
	for i := 0; i < sendRepeat; i++ {
		if err := limiter.Wait(ctx); err != nil {
			fmt.Printf("Stopped after %d of %d frames\n", i, sendRepeat)
			return nil
		}
		if err := parser.WriteFrame(conn, payload); err != nil {
			return fmt.Errorf("write failed after %d frames: %w", i, err)
		}
		logger.Debug("frame written",
			zap.Int("seq", i+1),
			zap.Int("payload_len", len(payload)),
			zap.Int("wire_len", len(wire)))
	}

	fmt.Printf("Sent %d frame(s), %d payload bytes each\n", sendRepeat, len(payload))
	return nil
}
