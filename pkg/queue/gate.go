// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package queue

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

const gatePollInterval = 50 * time.Millisecond

// Gate throttles producers with hysteresis: once the depth reaches high, every producer waits
// until it has drained to low.
type Gate struct {
	name   string
	high   int
	low    int
	depth  func() int
	poll   time.Duration
	paused atomic.Bool
}

// NewGate creates a gate over a depth function. high <= 0 disables it.
func NewGate(name string, high, low int, depth func() int) *Gate {
	if low > high {
		low = high
	}
	return &Gate{name: name, high: high, low: low, depth: depth, poll: gatePollInterval}
}

// Paused reports whether producers are currently held.
func (g *Gate) Paused() bool {
	return g.paused.Load()
}

// Wait returns immediately while the gate is open, and otherwise blocks until the depth has
// drained to the low watermark or ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	if g.high <= 0 {
		return nil
	}
	if !g.paused.Load() {
		d := g.depth()
		if d < g.high {
			return nil
		}
		if g.paused.CompareAndSwap(false, true) {
			g.log(fmt.Sprintf("%s queue depth %d reached high watermark %d, pausing producers", strings.ToUpper(g.name), d, g.high))
		}
	}

	for {
		if !g.paused.Load() {
			return nil
		}
		if d := g.depth(); d <= g.low {
			if g.paused.CompareAndSwap(true, false) {
				g.log(fmt.Sprintf("%s queue depth %d drained to low watermark %d, resuming producers", strings.ToUpper(g.name), d, g.low))
			}
			return nil
		}
		if err := usergrid.Sleep(ctx, g.poll); err != nil {
			return err
		}
	}
}

func (g *Gate) log(message string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log("info", message, "queue", g.name, g.name)
	}
}
