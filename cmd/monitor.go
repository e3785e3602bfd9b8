// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/coldlocker/internal/config"
	"github.com/Thermoquad/coldlocker/pkg/hostlink"
)

var (
	monitorPoll   time.Duration
	monitorScales string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and operating a locker",
	Long: `Watch and operate a locker controller from an interactive terminal UI.

The controller is polled for door, lock, temperature, set point and scale
weights. From the UI the set point can be changed, the door locked or
unlocked, and a scale's tare removed.

Scale addresses are not reported by the controller, so --scales lists them
in slot order as configured on the controller.

Tab cycles focus between the scale list, the set point input and the lock
button. The connection is reopened automatically when it drops.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorPoll, "poll", time.Second, "Polling interval")
	monitorCmd.Flags().StringVar(&monitorScales, "scales", defaultScaleList(), "Scale addresses in slot order")
	rootCmd.AddCommand(monitorCmd)
}

func defaultScaleList() string {
	parts := make([]string, len(config.DefaultScaleAddresses))
	for i, a := range config.DefaultScaleAddresses {
		parts[i] = strconv.Itoa(int(a))
	}
	return strings.Join(parts, ",")
}

func parseScaleList(s string) ([]byte, error) {
	var addrs []byte
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		a, err := parseScaleArg(part)
		if err != nil {
			return nil, err
		}
		if a == hostlink.AllScales {
			return nil, fmt.Errorf("scale address 0 is reserved")
		}
		addrs = append(addrs, a)
	}
	if len(addrs) > hostlink.NetWeightSlots {
		return nil, fmt.Errorf("at most %d scales", hostlink.NetWeightSlots)
	}
	return addrs, nil
}

// hostSession owns the controller connection and reopens it when it drops
type hostSession struct {
	mu       sync.Mutex
	client   *hostlink.Client
	conn     Connection
	connInfo string
	open     func() (*hostlink.Client, Connection, string, error)
}

func (hs *hostSession) current() *hostlink.Client {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.client
}

func (hs *hostSession) close() {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.conn != nil {
		hs.conn.Close()
		hs.conn = nil
	}
}

// reconnect closes the old connection and retries with exponential backoff
// until a new one opens or ctx is done
func (hs *hostSession) reconnect(ctx context.Context) (string, error) {
	hs.close()

	backoff := time.Second
	maxBackoff := 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}

		client, conn, info, err := hs.open()
		if err == nil {
			hs.mu.Lock()
			hs.client, hs.conn, hs.connInfo = client, conn, info
			hs.mu.Unlock()
			return info, nil
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// connectionLost reports whether err means the link itself is gone rather
// than one exchange failing
func connectionLost(err error) bool {
	if err == nil {
		return false
	}
	protocol := []error{
		hostlink.ErrNoResponse,
		hostlink.ErrCRCMismatch,
		hostlink.ErrAddressMismatch,
		hostlink.ErrCodeMismatch,
		hostlink.ErrLengthMismatch,
		hostlink.ErrUnknownOpcode,
		hostlink.ErrShortFrame,
		hostlink.ErrFrameOverflow,
		context.Canceled,
		context.DeadlineExceeded,
	}
	for _, p := range protocol {
		if errors.Is(err, p) {
			return false
		}
	}
	return true
}

// snapshot is one polling round
type snapshot struct {
	at          time.Time
	doorOpen    bool
	locked      bool
	temperature int8
	valid       bool
	setpoint    int8
	weights     []int16
}

func pollController(ctx context.Context, c *hostlink.Client) (snapshot, error) {
	s := snapshot{at: time.Now()}
	var err error
	if s.doorOpen, err = c.DoorOpen(ctx); err != nil {
		return s, fmt.Errorf("door: %w", err)
	}
	if s.locked, err = c.Locked(ctx); err != nil {
		return s, fmt.Errorf("lock: %w", err)
	}
	if s.temperature, s.valid, err = c.Temperature(ctx); err != nil {
		return s, fmt.Errorf("temperature: %w", err)
	}
	if s.setpoint, err = c.Setpoint(ctx); err != nil {
		return s, fmt.Errorf("setpoint: %w", err)
	}
	if s.weights, err = c.NetWeights(ctx, hostlink.AllScales); err != nil {
		return s, fmt.Errorf("weights: %w", err)
	}
	return s, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	scales, err := parseScaleList(monitorScales)
	if err != nil {
		return err
	}

	client, conn, connInfo, err := OpenClient()
	if err != nil {
		return err
	}
	session := &hostSession{client: client, conn: conn, connInfo: connInfo, open: OpenClient}
	defer session.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := newMonitorModel(ctx, session, scales, monitorPoll)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
