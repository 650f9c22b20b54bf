// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/twestage/pkg/twelink"
)

var portsOutput string

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports on this host.

USB adapters that look like a MONOSTICK or TWELITE R writer (FTDI
0403:6001 or 0403:6015) are marked with an asterisk.`,
	Args: cobra.NoArgs,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().StringVarP(&portsOutput, "output", "o", "text", "Output format: text or yaml")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := twelink.ListPorts()
	if err != nil {
		return err
	}

	switch portsOutput {
	case "yaml":
		out, err := yaml.Marshal(map[string]interface{}{"ports": ports})
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	case "text":
	default:
		return fmt.Errorf("unknown output format %q (use text or yaml)", portsOutput)
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		mark := " "
		if p.TweliteBridge() {
			mark = "*"
		}
		if p.USB {
			fmt.Printf("%s %-20s %s:%s %s %s\n", mark, p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
		} else {
			fmt.Printf("%s %s\n", mark, p.Name)
		}
	}
	return nil
}
