// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/twestage/internal/config"
	"github.com/Thermoquad/twestage/internal/logging"
)

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	frameFormat string

	// Loaded in PersistentPreRunE; flags set on the command line win.
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "twestage",
	Short: "TWELITE serial console and firmware programmer",
	Long: `twestage - A CLI tool for TWELITE wireless modules.

Decodes the ASCII and binary serial frames of the TWELITE applications
(PAL, App_Twelite, App_IO, App_UART, App_Tag), monitors link quality and
packet anomalies, and writes firmware through the module bootloader.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the TWESTAGE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings are read from twestage.yaml (current directory or
~/.config/twestage), TWESTAGE_* environment variables and flags, in
increasing priority.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVarP(&configPath, "config", "c", "", "Configuration file (default twestage.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	// Serial connection flags
	pf.StringVarP(&portName, "port", "p", "", "Serial port device")
	pf.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	pf.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	pf.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	pf.StringVarP(&frameFormat, "format", "f", "ascii", "Serial frame format: ascii or binary")
}

// loadSettings reads the configuration, applies the flags the user set and
// builds the logger.
func loadSettings(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Serial.Port = portName
	}
	if flags.Changed("baud") {
		c.Serial.Baud = baudRate
	}
	if flags.Changed("url") {
		c.WebSocket.URL = wsURL
	}
	if flags.Changed("username") {
		c.WebSocket.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.WebSocket.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("format") {
		c.Framing.Format = frameFormat
	}
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}
	if err := c.Validate(); err != nil {
		return err
	}

	l, err := logging.InitLogger(c.Logging)
	if err != nil {
		return err
	}

	cfg = c
	logger = l
	logger.Debug("configuration loaded",
		zap.String("file", c.File),
		zap.String("command", cmd.CommandPath()))
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
