// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package logservice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/db"
	"github.com/rs/zerolog"
)

// LS is the global log service sender instance.
// It must be initialized via InitGlobalLogger before use.
var LS *Sender

// InitGlobalLogger initializes the global LS instance.
// This should be called once during application startup.
func InitGlobalLogger(dbInstance *db.DB, cfg configs.LoggingConfig, runID string) error {
	sender, err := NewSender(dbInstance, Options{
		Addr:    cfg.Address,
		Level:   cfg.Level,
		File:    cfg.File,
		Persist: cfg.Persist,
		RunID:   runID,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize global logger: %w", err)
	}
	LS = sender

	if sender.conn != nil {
		if err := LS.ClearConsole(); err != nil {
			return fmt.Errorf("failed to send clear console log: %w", err)
		}
	}
	return nil
}

// CloseGlobalLogger flushes and closes LS, if set.
func CloseGlobalLogger() {
	if LS != nil {
		_ = LS.Close()
		LS = nil
	}
}

// Options configures a Sender.
type Options struct {
	Addr    string    // UDP listener, e.g. "127.0.0.1:1997"; empty disables UDP
	Level   string    // threshold for console/file and UDP output
	File    string    // JSON log file; empty writes to Console
	Persist bool      // buffer every record into the database
	RunID   string    // correlation id stamped on every record
	Console io.Writer // defaults to os.Stderr
}

// Sender writes logs to zerolog, transmits them over UDP and persists them to the database.
type Sender struct {
	DB         *db.DB        // BoltDB handle for persistence
	logBuffer  *db.LogBuffer // buffered log writer, nil when not persisting
	Addr       string
	Level      string
	RunID      string
	logger     zerolog.Logger
	file       *os.File
	conn       net.Conn
	minLevelIx int
	mu         sync.Mutex // guards buffer/encoder
	buf        *bytes.Buffer
	enc        *json.Encoder
	tmp        LogPacket // reusable scratch struct
}

// getLevelIndex assigns numeric priority to levels.
func getLevelIndex(level string) int {
	switch level {
	case "trace":
		return 0
	case "debug":
		return 1
	case "info":
		return 2
	case "warning":
		return 3
	case "error":
		return 4
	case "critical":
		return 5
	default:
		return -1
	}
}

func zerologLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warning":
		return zerolog.WarnLevel
	case "error", "critical":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewSender builds a sender. dbInstance may be nil, in which case nothing is persisted.
func NewSender(dbInstance *db.DB, opts Options) (*Sender, error) {
	level := opts.Level
	if level == "" {
		level = "info"
	}
	minIx := getLevelIndex(level)
	if minIx == -1 {
		return nil, fmt.Errorf("invalid threshold level: %s", level)
	}

	s := &Sender{
		DB:         dbInstance,
		Addr:       opts.Addr,
		Level:      level,
		RunID:      opts.RunID,
		minLevelIx: minIx,
		buf:        new(bytes.Buffer),
	}
	s.enc = json.NewEncoder(s.buf)

	var out io.Writer
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
		}
		s.file = f
		out = f
	} else {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		out = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}
	s.logger = zerolog.New(out).Level(zerologLevel(level)).With().Timestamp().Str("run_id", opts.RunID).Logger()

	if opts.Addr != "" {
		conn, err := net.Dial("udp", opts.Addr)
		if err != nil {
			s.closeFile()
			return nil, err
		}
		s.conn = conn
	}

	if opts.Persist && dbInstance != nil {
		s.logBuffer = db.NewLogBuffer(dbInstance, db.LogBufferOptions{RunID: opts.RunID})
	}

	return s, nil
}

// Log writes the record to zerolog and UDP (if level >= threshold)
// and, when persisting, unconditionally to the LOGS bucket via the buffer.
// Safe for concurrent use.
func (s *Sender) Log(level, message, entity, entityID string, queues ...string) error {
	levelIx := getLevelIndex(level)
	if levelIx == -1 {
		return fmt.Errorf("invalid level: %s", level)
	}

	timestamp := time.Now()
	queue := ""
	if len(queues) > 0 {
		queue = queues[0]
	}

	if s.logBuffer != nil {
		s.logBuffer.Add(db.LogEntry{
			Timestamp: timestamp.Format(time.RFC3339Nano),
			Level:     level,
			Entity:    entity,
			EntityID:  entityID,
			Message:   message,
			Queue:     queue,
		})
	}

	if levelIx < s.minLevelIx {
		return nil
	}

	ev := s.logger.WithLevel(zerologLevel(level))
	if level == "critical" {
		ev = ev.Bool("critical", true)
	}
	if entity != "" {
		ev = ev.Str("entity", entity)
	}
	if entityID != "" {
		ev = ev.Str("entity_id", entityID)
	}
	if queue != "" {
		ev = ev.Str("queue", queue)
	}
	ev.Msg(message)

	if s.conn == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tmp = LogPacket{
		Timestamp: timestamp,
		RunID:     s.RunID,
		Level:     level,
		Message:   message,
		Entity:    entity,
		EntityID:  entityID,
		Queue:     queue,
	}

	s.buf.Reset()
	if err := s.enc.Encode(&s.tmp); err != nil {
		return err
	}

	_, err := s.conn.Write(s.buf.Bytes())
	return err
}

// Logf is Log with a format string and no entity.
func (s *Sender) Logf(level, format string, args ...any) {
	_ = s.Log(level, fmt.Sprintf(format, args...), "", "")
}

// ClearConsole sends a log with the message "<<CLEAR_SCREEN>>" to instruct the listener to clear its console.
// Only sent over UDP; never persisted.
func (s *Sender) ClearConsole() error {
	if s.conn == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tmp = LogPacket{Timestamp: time.Now(), RunID: s.RunID, Level: "info", Message: ClearScreen}

	s.buf.Reset()
	if err := s.enc.Encode(&s.tmp); err != nil {
		return err
	}

	_, err := s.conn.Write(s.buf.Bytes())
	return err
}

// Close stops the log buffer, then closes the UDP connection and log file.
func (s *Sender) Close() error {
	if s.logBuffer != nil {
		if st := s.logBuffer.Stop(); st.Dropped > 0 {
			s.logger.Warn().Int64("written", st.Written).Int64("dropped", st.Dropped).Msg("log entries lost while persisting")
		}
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.closeFile()
	return nil
}

func (s *Sender) closeFile() {
	if s.file != nil {
		_ = s.file.Sync()
		_ = s.file.Close()
		s.file = nil
	}
}
