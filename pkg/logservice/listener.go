// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package logservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ClearScreen is the message a sender uses to ask listeners to clear their console.
const ClearScreen = "<<CLEAR_SCREEN>>"

// LogPacket represents the basic structure of a received log message.
type LogPacket struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Entity    string    `json:"entity,omitempty"`
	EntityID  string    `json:"entity_id,omitempty"`
	Queue     string    `json:"queue,omitempty"`
}

// FormatPacket renders a packet the way the listener prints it.
func FormatPacket(pkt LogPacket) string {
	line := fmt.Sprintf("%s [%s] %s", pkt.Timestamp.Format("2006-01-02 15:04:05"), pkt.Level, pkt.Message)
	if pkt.Entity != "" {
		line += fmt.Sprintf(" (%s %s)", pkt.Entity, pkt.EntityID)
	}
	if pkt.Queue != "" {
		line += fmt.Sprintf(" [%s]", pkt.Queue)
	}
	return line
}

// RunListener receives log packets on addr and prints them to out until ctx is cancelled.
// Packets at or above minLevel are printed.
func RunListener(ctx context.Context, addr, minLevel string, out io.Writer) error {
	minIx := getLevelIndex(minLevel)
	if minIx == -1 {
		return fmt.Errorf("invalid threshold level: %s", minLevel)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to start UDP listener: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			fmt.Fprintf(out, "[LogService] Read error: %v\n", err)
			continue
		}

		var pkt LogPacket
		if err := json.Unmarshal(buf[:n], &pkt); err != nil {
			fmt.Fprintf(out, "[LogService] Invalid packet: %v\n", err)
			continue
		}

		if pkt.Message == ClearScreen {
			fmt.Fprint(out, "\033[H\033[2J")
			continue
		}
		if getLevelIndex(pkt.Level) < minIx {
			continue
		}
		fmt.Fprintln(out, FormatPacket(pkt))
	}
}
