// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/coldlocker/internal/capture"
	"github.com/Thermoquad/coldlocker/pkg/hostlink"
)

var (
	rawLogGap     time.Duration
	rawLogReplay  string
	rawLogCapture string
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display host link frames in human-readable format",
	Long: `Listen in on a host link and decode each frame as it passes.

Frames are cut from the byte stream by idle gaps, so requests and responses
from either side are shown. Rejected frames are printed with their bytes.

With --replay, a CBOR capture file written by "run --capture" or by this
command's --capture flag is printed instead of a live connection.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rawLogCmd.Flags().DurationVar(&rawLogGap, "gap", 5*time.Millisecond, "Idle time that ends a frame")
	rawLogCmd.Flags().StringVar(&rawLogReplay, "replay", "", "Print a capture file instead of listening")
	rawLogCmd.Flags().StringVar(&rawLogCapture, "capture", "", "Also record sniffed frames to this CBOR file")
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	if rawLogReplay != "" {
		return replayCapture(rawLogReplay)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var recorder *capture.Writer
	if rawLogCapture != "" {
		if recorder, err = capture.Create(rawLogCapture); err != nil {
			return err
		}
		defer recorder.Close()
	}

	fmt.Printf("Coldlocker - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// a response shares the id of the request before it
	var exchange string
	for s := range sniff(ctx, conn, rawLogGap) {
		fmt.Println(describe(s))
		if recorder == nil || len(s.adu) == 0 {
			continue
		}
		dir, note := "rx", ""
		switch {
		case s.err != nil:
			exchange, note = uuid.NewString(), s.err.Error()
		case s.frame.IsResponse():
			dir = "tx"
		default:
			exchange = uuid.NewString()
		}
		if err := recorder.Record(dir, exchange, s.adu, note); err != nil {
			return err
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	fmt.Println("Connection closed")
	return nil
}

// replayCapture prints every record of a capture file
func replayCapture(path string) error {
	r, err := capture.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	count := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", count+1, err)
		}
		count++
		fmt.Println(describeRecord(rec))
	}
	fmt.Printf("\n%d records\n", count)
	return nil
}

func describeRecord(rec capture.Record) string {
	ts := rec.Time.Local().Format("15:04:05.000")
	id := rec.ID
	if len(id) > 8 {
		id = id[:8]
	}
	prefix := fmt.Sprintf("%s %s", rec.Dir, id)

	if len(rec.Frame) == 0 {
		return fmt.Sprintf("[%s] %s note: %s", ts, prefix, rec.Note)
	}
	f, err := hostlink.ParseFrame(rec.Frame, station)
	if err != nil {
		return fmt.Sprintf("[%s] %s [ERROR] %v: %s", ts, prefix, err, hostlink.FormatBytes(rec.Frame))
	}
	return fmt.Sprintf("[%s] %s %s", ts, prefix, describeFrame(f))
}
