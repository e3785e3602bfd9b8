// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestStopped(t *testing.T) {
	failure := errors.New("host port closed")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"clean", nil, nil},
		{"signal", fmt.Errorf("comm: %w", context.Canceled), nil},
		{"failure", failure, failure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stopped(tt.err); !errors.Is(got, tt.want) || (tt.want == nil && got != nil) {
				t.Errorf("stopped(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
