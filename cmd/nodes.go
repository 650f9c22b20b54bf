// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/twestage/pkg/twefmt"
)

var (
	nodesDuration int
	nodesOutput   string
)

var nodesCmd = &cobra.Command{
	Use:     "nodes",
	Aliases: []string{"discovery"},
	Short:   "Listen for a while and list the nodes that were heard",
	Long: `Listen to a parent or relay module and tabulate every source address heard.

TWELITE end devices transmit on their own schedule, so discovery is
passive: every decoded packet updates the node's kind, packet count, last
LQI and supply voltage.

Examples:
  # Listen for 30 seconds on a MONOSTICK
  twestage nodes --port /dev/ttyUSB0 --duration 30

  # Machine-readable list from a WebSocket bridge
  twestage nodes --url ws://bridge.local/uart --output yaml

Exit codes:
  0 - At least one node heard
  1 - No nodes heard before the duration elapsed
  2 - Connection error`,
	RunE: runNodes,
}

func init() {
	rootCmd.AddCommand(nodesCmd)
	nodesCmd.Flags().IntVar(&nodesDuration, "duration", 10, "Listening time in seconds")
	nodesCmd.Flags().StringVarP(&nodesOutput, "output", "o", "text", "Output format: text or yaml")
}

// nodeInfo summarizes one source address.
type nodeInfo struct {
	Address  string    `yaml:"address"`
	Kind     string    `yaml:"kind"`
	LID      uint8     `yaml:"lid"`
	Packets  int       `yaml:"packets"`
	LQI      uint8     `yaml:"lqi"`
	VoltMV   uint16    `yaml:"voltMv,omitempty"`
	LastSeen time.Time `yaml:"lastSeen"`

	addr uint32
}

// nodeTable tracks nodes by source address. Not safe for concurrent use.
type nodeTable struct {
	nodes map[uint32]*nodeInfo
}

func newNodeTable() *nodeTable {
	return &nodeTable{nodes: make(map[uint32]*nodeInfo)}
}

// observe records p and reports whether its source is new.
func (t *nodeTable) observe(p twefmt.Packet) bool {
	info := p.Info()
	n, ok := t.nodes[info.SrcAddr]
	if !ok {
		n = &nodeInfo{
			Address: fmt.Sprintf("%08X", info.SrcAddr),
			addr:    info.SrcAddr,
		}
		t.nodes[info.SrcAddr] = n
	}

	n.Kind = p.Kind().String()
	n.LID = info.SrcLID
	n.Packets++
	n.LQI = info.LQI
	if info.Volt != 0 && info.Volt != twefmt.NoVolt {
		n.VoltMV = info.Volt
	}
	n.LastSeen = info.Tick
	return !ok
}

func (t *nodeTable) len() int { return len(t.nodes) }

// sorted returns the nodes ordered by address.
func (t *nodeTable) sorted() []nodeInfo {
	out := make([]nodeInfo, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].addr < out[j].addr })
	return out
}

// renderNodeTable draws the nodes as a static table.
func renderNodeTable(nodes []nodeInfo) string {
	columns := []table.Column{
		{Title: "Address", Width: 10},
		{Title: "Kind", Width: 12},
		{Title: "LID", Width: 4},
		{Title: "Packets", Width: 8},
		{Title: "LQI", Width: 4},
		{Title: "Volt", Width: 7},
		{Title: "Last seen", Width: 12},
	}

	rows := make([]table.Row, 0, len(nodes))
	for _, n := range nodes {
		volt := "-"
		if n.VoltMV != 0 {
			volt = fmt.Sprintf("%dmV", n.VoltMV)
		}
		rows = append(rows, table.Row{
			n.Address,
			n.Kind,
			fmt.Sprintf("0x%02X", n.LID),
			fmt.Sprintf("%d", n.Packets),
			fmt.Sprintf("%d", n.LQI),
			volt,
			n.LastSeen.Format("15:04:05.000"),
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+2),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	// Nothing is selectable in a printed table.
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)

	return t.View()
}

func runNodes(cmd *cobra.Command, args []string) error {
	if nodesOutput != "text" && nodesOutput != "yaml" {
		return fmt.Errorf("unknown output format %q (use text or yaml)", nodesOutput)
	}

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

	text := nodesOutput == "text"
	if text {
		fmt.Printf("twestage - Node Discovery\n")
		fmt.Printf("Connection: %s\n", connInfo)
		fmt.Printf("Listening: %d seconds\n\n", nodesDuration)
	}

	packets := make(chan twefmt.Packet, 64)
	errChan := make(chan error, 1)

	go func() {
		_, m := newAppMetrics()
		errChan <- pumpFrames(conn, parser, m, func(f frame) bool {
			d := decodeFrame(f)
			if d.Err() == nil {
				packets <- d.packet
			}
			return true
		})
	}()

	nodes := newNodeTable()
	deadline := time.After(time.Duration(nodesDuration) * time.Second)

listen:
	for {
		select {
		case p := <-packets:
			if nodes.observe(p) && text {
				info := p.Info()
				fmt.Printf("Node found: %08X (%s, lqi=%d)\n", info.SrcAddr, p.Kind(), info.LQI)
			}
		case err := <-errChan:
			if err != nil {
				fmt.Fprintf(os.Stderr, "READ FAILED: %v\n", err)
				os.Exit(2)
			}
			break listen
		case <-deadline:
			break listen
		}
	}

	list := nodes.sorted()
	if text {
		fmt.Printf("\n--- Discovery summary ---\n")
		fmt.Printf("Nodes heard: %d\n\n", len(list))
		if len(list) > 0 {
			fmt.Println(renderNodeTable(list))
		}
	} else {
		out, err := yaml.Marshal(map[string]interface{}{"nodes": list})
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	}

	if len(list) == 0 {
		if text {
			fmt.Printf("No nodes heard. Check the frame format, baud rate and application ID.\n")
		}
		os.Exit(1)
	}
	return nil
}
