// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/coldlocker/pkg/hostlink"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
	statsGap      time.Duration
)

var linkStatsCmd = &cobra.Command{
	Use:   "linkstats",
	Short: "Detect and count rejected host link frames",
	Long: `Listen in on a host link and track frame errors with statistics.

Each frame is validated as the controller would validate it:
  - CRC, station address, opcode and payload length
  - short and oversized frames
  - requests left without a response

By default, only errors are displayed. Use --show-all to display valid frames too.
The last door, lock, temperature, set point and weight values seen in responses
are kept as the latest readings.`,
	RunE: runLinkStats,
}

func init() {
	linkStatsCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	linkStatsCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	linkStatsCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	linkStatsCmd.Flags().DurationVar(&statsGap, "gap", 5*time.Millisecond, "Idle time that ends a frame")
	rootCmd.AddCommand(linkStatsCmd)
}

// readings are the controller values last seen in responses
type readings struct {
	at          time.Time
	door        string
	lock        string
	temperature string
	setpoint    string
	weights     []int16
}

// linkMonitor accumulates what a sniffed link shows
type linkMonitor struct {
	stats      *hostlink.Statistics
	pending    *hostlink.Frame // request still waiting for its response
	unanswered uint64
	latest     readings
}

func newLinkMonitor() *linkMonitor {
	return &linkMonitor{stats: hostlink.NewStatistics()}
}

// observe accounts one sniffed frame and returns its description and
// whether it is an error
func (m *linkMonitor) observe(s sniffed) (string, bool) {
	if s.final {
		return describeBody(s), true
	}
	m.stats.Update(s.err)
	if s.err != nil {
		return describeBody(s), true
	}

	f := s.frame
	if !f.IsResponse() && m.pending != nil && m.pending.Code() == f.Code() {
		// same-length request and response; the second one is the answer
		if rsp, err := hostlink.ParseResponse(s.adu, f.Address(), f.Code()); err == nil {
			f = rsp
			s.frame = rsp
		}
	}
	if !f.IsResponse() {
		var missed *hostlink.Frame
		if m.pending != nil {
			missed = m.pending
			m.unanswered++
		}
		m.pending = f
		if missed != nil {
			return fmt.Sprintf("%s (previous %s unanswered)", describeBody(s), hostlink.FormatOpcode(missed.Code())), true
		}
		return describeBody(s), false
	}

	m.pending = nil
	m.record(f, s.at)
	return describeBody(s), false
}

func (m *linkMonitor) record(f *hostlink.Frame, at time.Time) {
	m.latest.at = at
	switch f.Code() {
	case hostlink.OpQueryDoorStatus:
		if open, err := hostlink.ParseDoorStatus(f); err == nil {
			m.latest.door = doorText(open)
		}
	case hostlink.OpQueryLockStatus:
		if locked, err := hostlink.ParseLockStatus(f); err == nil {
			m.latest.lock = lockText(locked)
		}
	case hostlink.OpQueryTemperature:
		if t, ok, err := hostlink.ParseTemperature(f); err == nil {
			m.latest.temperature = formatTemperature(t, ok)
		}
	case hostlink.OpQuerySetpoint:
		if v, err := hostlink.ParseByte(f); err == nil {
			m.latest.setpoint = fmt.Sprintf("%d C", int8(v))
		}
	case hostlink.OpQueryNetWeight:
		if w, err := hostlink.ParseNetWeights(f); err == nil {
			m.latest.weights = w
		}
	}
}

func runLinkStats(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	frames := sniff(ctx, conn, statsGap)

	if useTUI {
		return runStatsTUI(ctx, connInfo, frames)
	}
	return runStatsText(ctx, connInfo, frames)
}

// runStatsTUI feeds sniffed frames to the terminal UI
func runStatsTUI(ctx context.Context, connInfo string, frames <-chan sniffed) error {
	p := tea.NewProgram(newStatsModel(connInfo, showAll), tea.WithContext(ctx))

	go func() {
		for s := range frames {
			p.Send(frameMsg(s))
		}
		p.Send(linkClosedMsg{})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runStatsText prints errors as they happen and statistics periodically
func runStatsText(ctx context.Context, connInfo string, frames <-chan sniffed) error {
	fmt.Printf("Coldlocker - Link Statistics\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	monitor := newLinkMonitor()
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case s, ok := <-frames:
			if !ok {
				fmt.Println()
				fmt.Print(monitor.stats.String())
				return nil
			}
			line, isErr := monitor.observe(s)
			timestamp := s.at.Format("15:04:05.000")
			switch {
			case isErr:
				fmt.Printf("[%s] \033[1;31m%s\033[0m\n", timestamp, line)
			case showAll:
				fmt.Printf("[%s] %s\n", timestamp, line)
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(monitor.stats.String())
			if monitor.unanswered > 0 {
				fmt.Printf("Unanswered requests: %d\n", monitor.unanswered)
			}
			fmt.Println()

		case <-ctx.Done():
			return nil
		}
	}
}
