// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/twestage/internal/logging"
	"github.com/Thermoquad/twestage/pkg/tweprog"
	"github.com/Thermoquad/twestage/pkg/twelink"
)

var (
	progSafeMode bool
	progDivisor  int
	progTimeout  time.Duration
	progResetPin string
	progPinLine  string
	progOutput   string
	progText     bool
	progHold     bool
)

var progCmd = &cobra.Command{
	Use:   "prog",
	Short: "Read module information and write firmware through the bootloader",
	Long: `Talk to the TWELITE ROM bootloader over a local serial port.

The module is put into program mode by pulsing RESET with PGM held low.
By default DTR drives RESET and RTS drives PGM, which matches the
MONOSTICK and TWELITE R writers. With --safe-mode the lines are never
touched and the module must already be in program mode.

After CONNECT the link switches to 1000000/divisor baud. Every session
ends with the module reset into its application at 115200 baud.

WebSocket bridges are not supported: the bootloader needs the modem
control lines and baud rate switching of a local port.`,
}

var progInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Read the chip id, MAC address and serial number",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyProgFlags(cmd)
		return runProgSession(cmd.Context(), tweprog.GetModuleInfo, "")
	},
}

var progWriteCmd = &cobra.Command{
	Use:   "write <firmware.bin>",
	Short: "Erase, write and verify a firmware image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		applyProgFlags(cmd)
		return runProgSession(cmd.Context(), tweprog.EraseAndWrite, args[0])
	},
}

var progResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the module into its application",
	Args:  cobra.NoArgs,
	RunE:  runProgReset,
}

var progPinCmd = &cobra.Command{
	Use:       "pin <on|off>",
	Short:     "Drive the program (PGM) line",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runProgPin,
}

func init() {
	pf := progCmd.PersistentFlags()
	pf.BoolVar(&progSafeMode, "safe-mode", false, "Do not drive RESET or PGM")
	pf.IntVar(&progDivisor, "divisor", 1, "Baud divisor after CONNECT (1000000/divisor baud, 1..255)")
	pf.DurationVar(&progTimeout, "response-timeout", time.Second, "Time to wait for each bootloader response")
	pf.StringVar(&progResetPin, "reset-pin", "dtr", "Line driving RESET: dtr, rts or none")
	pf.StringVar(&progPinLine, "prog-pin", "rts", "Line driving PGM: dtr, rts or none")

	for _, c := range []*cobra.Command{progInfoCmd, progWriteCmd} {
		c.Flags().StringVarP(&progOutput, "output", "o", "text", "Report format: text or yaml")
		c.Flags().BoolVar(&progText, "text", false, "Plain text progress instead of the terminal UI")
	}
	progResetCmd.Flags().BoolVar(&progHold, "hold", false, "Keep the module in reset")

	progCmd.AddCommand(progInfoCmd, progWriteCmd, progResetCmd, progPinCmd)
	rootCmd.AddCommand(progCmd)
}

// applyProgFlags lets explicit flags override the prog section.
func applyProgFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("safe-mode") {
		cfg.Prog.SafeMode = progSafeMode
	}
	if flags.Changed("divisor") {
		cfg.Prog.BaudDivisor = progDivisor
	}
	if flags.Changed("response-timeout") {
		cfg.Prog.ResponseTimeout = progTimeout
	}
	if flags.Changed("reset-pin") {
		cfg.Prog.ResetPin = progResetPin
	}
	if flags.Changed("prog-pin") {
		cfg.Prog.ProgPin = progPinLine
	}
}

// newModuleLink describes the serial port and its control lines. The port
// is opened by the programmer.
func newModuleLink() (*twelink.SerialPort, *twelink.PinControl, error) {
	if cfg.Serial.Port == "" {
		if cfg.WebSocket.URL != "" {
			return nil, nil, errors.New("prog needs a local serial port (--port); WebSocket bridges are not supported")
		}
		return nil, nil, twelink.ErrNoEndpoint
	}

	resetLine, err := twelink.ParseLine(cfg.Prog.ResetPin)
	if err != nil {
		return nil, nil, fmt.Errorf("prog.resetPin: %w", err)
	}
	progLine, err := twelink.ParseLine(cfg.Prog.ProgPin)
	if err != nil {
		return nil, nil, fmt.Errorf("prog.progPin: %w", err)
	}

	port := twelink.NewSerialPort(cfg.Serial.Port, tweprog.DefaultBaud,
		twelink.WithReadTimeout(cfg.Prog.ReadTimeout))
	pins := twelink.NewPinControl(port,
		twelink.WithLines(resetLine, progLine),
		twelink.WithSafeMode(cfg.Prog.SafeMode))
	return port, pins, nil
}

// moduleReport is printed after info and write sessions.
type moduleReport struct {
	Session      string          `yaml:"session"`
	Port         string          `yaml:"port"`
	Result       string          `yaml:"result"`
	Error        string          `yaml:"error,omitempty"`
	FailedState  string          `yaml:"failedState,omitempty"`
	Mismatch     string          `yaml:"mismatch,omitempty"`
	Elapsed      string          `yaml:"elapsed"`
	Type         string          `yaml:"type,omitempty"`
	ChipID       string          `yaml:"chipId,omitempty"`
	MAC          string          `yaml:"mac,omitempty"`
	SerialNumber string          `yaml:"serialNumber,omitempty"`
	Firmware     *firmwareReport `yaml:"firmware,omitempty"`
}

type firmwareReport struct {
	File   string `yaml:"file"`
	Type   string `yaml:"type"`
	Bytes  int64  `yaml:"bytes"`
	Chunks int    `yaml:"chunks"`
}

func newModuleReport(session, port string, info tweprog.ModuleInfo, started time.Time, err error) moduleReport {
	r := moduleReport{
		Session: session,
		Port:    port,
		Result:  "ok",
		Elapsed: time.Since(started).Round(time.Millisecond).String(),
	}
	if err != nil {
		r.Result = "error"
		r.Error = err.Error()
	}
	if info.ChipID != 0 {
		r.Type = info.Type.String()
		r.ChipID = fmt.Sprintf("0x%08X", info.ChipID)
	}
	if info.SerialNumber != 0 {
		r.MAC = fmt.Sprintf("% X", info.MAC[:])
		r.SerialNumber = fmt.Sprintf("%08X", info.SerialNumber)
	}
	return r
}

func (r moduleReport) print(output string) error {
	if output == "yaml" {
		out, err := yaml.Marshal(r)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}

	fmt.Printf("\n--- Session %s ---\n", r.Session)
	fmt.Printf("Result:   %s (%s)\n", r.Result, r.Elapsed)
	if r.Error != "" {
		fmt.Printf("Error:    %s\n", r.Error)
	}
	if r.FailedState != "" {
		fmt.Printf("Failed:   %s\n", r.FailedState)
	}
	if r.Mismatch != "" {
		fmt.Printf("Mismatch: %s\n", r.Mismatch)
	}
	if r.ChipID != "" {
		fmt.Printf("Module:   %s\n", r.Type)
		fmt.Printf("Chip ID:  %s\n", r.ChipID)
	}
	if r.SerialNumber != "" {
		fmt.Printf("MAC:      %s\n", r.MAC)
		fmt.Printf("Serial:   %s\n", r.SerialNumber)
	}
	if r.Firmware != nil {
		fmt.Printf("Firmware: %s (%s, %d bytes, %d chunks)\n", r.Firmware.File, r.Firmware.Type, r.Firmware.Bytes, r.Firmware.Chunks)
	}
	return nil
}

// runProgSession runs one bootloader table and prints the report.
func runProgSession(parent context.Context, table []tweprog.State, firmwarePath string) error {
	if progOutput != "text" && progOutput != "yaml" {
		return fmt.Errorf("unknown output format %q (use text or yaml)", progOutput)
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()

	port, pins, err := newModuleLink()
	if err != nil {
		return err
	}
	defer port.Close()

	session := uuid.NewString()
	log := logger.With(zap.String("session", session), zap.String("port", port.Name()))

	var fw *tweprog.FirmwareFile
	if firmwarePath != "" {
		fw, err = tweprog.OpenFirmwareFile(firmwarePath)
		if err != nil {
			return err
		}
		defer fw.Close()
	}

	reg, m := newAppMetrics()
	serveMetrics(ctx, reg)

	useTUI := !progText && progOutput == "text" && term.IsTerminal(int(os.Stdout.Fd()))

	var (
		prog *tweprog.Programmer
		ui   *tea.Program
	)
	callback := func(ev tweprog.Event) {
		m.ObserveProgEvent(ev)
		if ui != nil {
			cur, total := prog.Chunk()
			ui.Send(progEventMsg{ev: ev, chunk: cur, chunks: total})
			return
		}
		printProgEvent(prog, ev)
	}

	prog = tweprog.New(port, pins,
		tweprog.WithCallback(callback),
		tweprog.WithLogger(logging.NewSugarAdapter(log)),
		tweprog.WithResponseTimeout(cfg.Prog.ResponseTimeout),
		tweprog.WithBaudDivisor(cfg.Prog.BaudDivisor))

	var fwReport *firmwareReport
	if fw != nil {
		if err := prog.SetFirmware(fw); err != nil {
			return err
		}
		f := prog.Firmware()
		fwReport = &firmwareReport{
			File:   firmwarePath,
			Type:   f.ModuleType().String(),
			Bytes:  f.Length,
			Chunks: f.Chunks,
		}
	}

	log.Info("bootloader session starting",
		zap.Stringer("table", tableName(table)),
		zap.Bool("safe_mode", !pins.Enabled()),
		zap.Int("divisor", cfg.Prog.BaudDivisor))
	started := time.Now()

	if useTUI {
		title := "Reading module information"
		if fwReport != nil {
			title = fmt.Sprintf("Writing %s (%s, %d bytes)", fwReport.File, fwReport.Type, fwReport.Bytes)
		}
		ui = tea.NewProgram(newProgModel(title, port.Name(), cancel))
		go func() {
			ui.Send(progDoneMsg{err: prog.Run(ctx, table)})
		}()
		final, uiErr := ui.Run()
		if uiErr != nil {
			cancel()
			return fmt.Errorf("TUI error: %w", uiErr)
		}
		if pm, ok := final.(progModel); ok {
			err = pm.err
		}
	} else {
		if progOutput == "text" {
			fmt.Printf("twestage - Bootloader\n")
			fmt.Printf("Port: %s (session %s)\n", port.Name(), session)
			if fwReport != nil {
				fmt.Printf("Firmware: %s (%s, %d bytes, %d chunks)\n", fwReport.File, fwReport.Type, fwReport.Bytes, fwReport.Chunks)
			}
			fmt.Println()
		}
		err = prog.Run(ctx, table)
	}

	runErr := err
	if runErr == nil {
		runErr = prog.Err()
	}
	m.ObserveProgSession(runErr)
	if runErr != nil {
		log.Error("bootloader session failed", zap.Error(runErr), zap.Stringer("state", prog.State()))
	} else {
		log.Info("bootloader session finished", zap.Duration("elapsed", time.Since(started)))
	}

	r := newModuleReport(session, port.Name(), prog.Info(), started, runErr)
	r.Firmware = fwReport
	if prog.FailedAt() != tweprog.StateNone {
		r.FailedState = prog.FailedAt().String()
	}
	var verr *tweprog.VerifyError
	if errors.As(runErr, &verr) {
		r.Mismatch = fmt.Sprintf("0x%06X+%d", verr.Address, verr.Offset)
	}
	if err := r.print(progOutput); err != nil {
		return err
	}
	return runErr
}

// tableName names a state table for logs.
type tableName []tweprog.State

func (t tableName) String() string {
	if len(t) == len(tweprog.EraseAndWrite) && t[len(t)-1] == tweprog.StateVerifyFlash {
		return "erase_and_write"
	}
	return "get_module_info"
}

// printProgEvent prints session progress in text mode. Chunk responses
// are folded into a line every tenth of the image.
func printProgEvent(p *tweprog.Programmer, ev tweprog.Event) {
	if progOutput != "text" {
		return
	}
	switch {
	case ev.Kind == tweprog.EventNewState:
		fmt.Printf("→ %s\n", ev.State)
	case !ev.OK:
		reason := ev.Status.String()
		if ev.TimedOut {
			reason = "timeout"
		}
		fmt.Printf("✗ %s failed (%s)\n", ev.State, reason)
	case ev.State.Chunked():
		cur, total := p.Chunk()
		if cur == total || cur%max(1, total/10) == 0 {
			fmt.Printf("  %s %3d%% (%d/%d)\n", ev.State, ev.Progress*100/1024, cur, total)
		}
	default:
		fmt.Printf("✓ %s\n", ev.State)
	}
}

func runProgReset(cmd *cobra.Command, args []string) error {
	applyProgFlags(cmd)
	port, pins, err := newModuleLink()
	if err != nil {
		return err
	}
	if err := port.Open(); err != nil {
		return err
	}
	defer port.Close()

	prog := tweprog.New(port, pins, tweprog.WithLogger(logging.NewSugarAdapter(logger)))
	if progHold {
		err = prog.ResetHoldModule()
	} else {
		err = prog.ResetModule()
	}
	if err != nil {
		return err
	}

	switch {
	case !pins.Enabled():
		fmt.Println("Safe mode: RESET was not driven")
	case progHold:
		fmt.Printf("%s: module held in reset\n", port.Name())
	default:
		fmt.Printf("%s: module reset\n", port.Name())
	}
	return nil
}

func runProgPin(cmd *cobra.Command, args []string) error {
	applyProgFlags(cmd)

	var on bool
	switch args[0] {
	case "on", "1", "high":
		on = true
	case "off", "0", "low":
	default:
		return fmt.Errorf("pin state must be on or off, got %q", args[0])
	}

	port, pins, err := newModuleLink()
	if err != nil {
		return err
	}
	if err := port.Open(); err != nil {
		return err
	}
	defer port.Close()

	prog := tweprog.New(port, pins)
	if err := prog.SetPin(on); err != nil {
		return err
	}
	if !pins.Enabled() {
		fmt.Println("Safe mode: PGM was not driven")
		return nil
	}
	fmt.Printf("%s: PGM %s\n", port.Name(), args[0])
	return nil
}
