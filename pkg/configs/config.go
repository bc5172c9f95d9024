// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package configs holds the run configuration of a migration.
//
// A Config is built once at startup (defaults, then YAML, then CLI overrides), resolved with
// Resolve, and from then on treated as read-only: every component receives the same *Config
// explicitly and none of them writes to it.
package configs

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mode selects the operation entity workers apply to each entity.
type Mode string

const (
	ModeData        Mode = "data"
	ModeGraph       Mode = "graph"
	ModeCredentials Mode = "credentials"
	ModeReput       Mode = "reput"
	ModeNone        Mode = "none"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeData, ModeGraph, ModeCredentials, ModeReput, ModeNone:
		return true
	}
	return false
}

// Cache backends understood by the ledger.
const (
	CacheMemory = "memory"
	CacheBolt   = "bolt"
	CacheBadger = "badger"
	CacheNone   = "none"
)

var (
	ErrMissingOrg        = errors.New("org is required")
	ErrInvalidMode       = errors.New("invalid migrate mode")
	ErrInvalidWatermarks = errors.New("queue watermarks must satisfy 0 <= low <= high <= capacity")
	ErrMissingSuperuser  = errors.New("credentials mode requires superuser username and password")
	ErrInvalidCache      = errors.New("invalid cache backend")
)

// DefaultIgnoreCollections are collections that are never enumerated.
var DefaultIgnoreCollections = []string{"activities", "queues", "events", "notifications"}

// GraphConfig bounds the graph traversal.
type GraphConfig struct {
	MaxDepth     int      `yaml:"max_depth"`
	IncludeEdges []string `yaml:"include_edges,omitempty"`
	ExcludeEdges []string `yaml:"exclude_edges,omitempty"`
}

// WorkersConfig sizes the worker pools.
type WorkersConfig struct {
	Entity     int `yaml:"entity"`
	Collection int `yaml:"collection"`
}

// QueueConfig sizes the bounded queues and the producer hysteresis.
type QueueConfig struct {
	Capacity      int `yaml:"capacity"`
	HighWatermark int `yaml:"high_watermark"` // producers pause at or above this depth
	LowWatermark  int `yaml:"low_watermark"`  // and resume at or below this one
}

// TimingConfig holds sleeps, idle timeouts and idle limits.
type TimingConfig struct {
	RetrySleep      time.Duration `yaml:"retry_sleep"`
	PageSleep       time.Duration `yaml:"page_sleep"`
	EntitySleep     time.Duration `yaml:"entity_sleep"`
	ErrorRetrySleep time.Duration `yaml:"error_retry_sleep"`

	CollectionIdleTimeout time.Duration `yaml:"collection_idle_timeout"`
	CollectionIdleLimit   int           `yaml:"collection_idle_limit"`
	EntityIdleTimeout     time.Duration `yaml:"entity_idle_timeout"`
	EntityIdleLimit       int           `yaml:"entity_idle_limit"`
	StatusIdleTimeout     time.Duration `yaml:"status_idle_timeout"`
	StatusIdleLimit       int           `yaml:"status_idle_limit"`
	ErrorIdleTimeout      time.Duration `yaml:"error_idle_timeout"`
	ErrorIdleLimit        int           `yaml:"error_idle_limit"`
}

// CacheConfig configures the visited ledger and entity-modified cache.
type CacheConfig struct {
	Backend    string        `yaml:"backend"` // bolt (default, on the run database), memory, badger or none
	Path       string        `yaml:"path,omitempty"`
	VisitTTL   time.Duration `yaml:"visit_ttl"`
	SkipRead   bool          `yaml:"skip_read"`
	SkipWrite  bool          `yaml:"skip_write"`
	KeyVersion string        `yaml:"key_version"`
}

// MappingConfig holds the raw "from:to" mapping strings plus the single target app override.
type MappingConfig struct {
	Orgs        []string `yaml:"map_org,omitempty"`
	Apps        []string `yaml:"map_app,omitempty"`
	Collections []string `yaml:"map_collection,omitempty"`
	TargetApp   string   `yaml:"target_app,omitempty"`
}

// SuperuserConfig is used by the credentials endpoint, which requires basic auth.
type SuperuserConfig struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// EngineConfig tunes type-specific transforms.
type EngineConfig struct {
	// ConsentApps restricts which pn-consent-{app} attributes spawn devices. Empty means all.
	ConsentApps []string `yaml:"consent_apps,omitempty"`
}

// HTTPConfig tunes the REST clients.
type HTTPConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables limiting
	MaxAttempts       int           `yaml:"max_attempts"`        // per page, in the paged query source
}

// LoggingConfig configures the log service.
type LoggingConfig struct {
	Address string `yaml:"address,omitempty"` // UDP listener; empty disables UDP
	Level   string `yaml:"level"`
	File    string `yaml:"file,omitempty"` // JSON log file; empty logs to the console
	Persist bool   `yaml:"persist"`        // buffer logs into the database
}

// DatabaseConfig locates the bbolt database used for logs, status and queue stats.
type DatabaseConfig struct {
	Path           string `yaml:"path"`
	RemoveExisting bool   `yaml:"remove_existing"`
}

// ErrorsConfig locates the failure log.
type ErrorsConfig struct {
	Dir string `yaml:"dir"`
}

// MetricsConfig exposes Prometheus metrics when Address is set.
type MetricsConfig struct {
	Address string `yaml:"address,omitempty"`
}

// Config is the complete, immutable run configuration.
type Config struct {
	Org          string `yaml:"org"`
	RunID        string `yaml:"run_id,omitempty"`
	Mode         Mode   `yaml:"mode"`
	SourceConfig string `yaml:"source_config"` // endpoint JSON file
	TargetConfig string `yaml:"target_config"`

	Apps                 []string `yaml:"apps,omitempty"`
	Collections          []string `yaml:"collections,omitempty"`
	ExcludeCollections   []string `yaml:"exclude_collections,omitempty"`
	IgnoreCollections    []string `yaml:"ignore_collections,omitempty"`
	UseNameForCollection []string `yaml:"use_name_for_collection,omitempty"`

	GraphRoot   bool   `yaml:"graph_root"` // page collections with the graph URL instead of ql
	QL          string `yaml:"ql"`
	Limit       int    `yaml:"limit"`
	MinModified int64  `yaml:"min_modified"`
	MaxModified int64  `yaml:"max_modified"`
	CreateApps  bool   `yaml:"create_apps"`

	Graph     GraphConfig     `yaml:"graph"`
	Workers   WorkersConfig   `yaml:"workers"`
	Queue     QueueConfig     `yaml:"queue"`
	Timing    TimingConfig    `yaml:"timing"`
	Cache     CacheConfig     `yaml:"cache"`
	Mapping   MappingConfig   `yaml:"mapping"`
	Superuser SuperuserConfig `yaml:"superuser"`
	Engine    EngineConfig    `yaml:"engine"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Errors    ErrorsConfig    `yaml:"errors"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Resolved by Resolve; never read from YAML.
	Source            Endpoint `yaml:"-"`
	Target            Endpoint `yaml:"-"`
	orgMapping        map[string]string
	appMapping        map[string]string
	collectionMapping map[string]string
}

// Default returns a Config populated with the stock defaults.
func Default() *Config {
	return &Config{
		Mode:              ModeData,
		SourceConfig:      "source.json",
		TargetConfig:      "destination.json",
		IgnoreCollections: slices.Clone(DefaultIgnoreCollections),
		QL:                "select * order by created asc",
		Limit:             100,
		MinModified:       0,
		MaxModified:       3793805526000,
		Graph:             GraphConfig{MaxDepth: 100000},
		Workers:           WorkersConfig{Entity: 16, Collection: 2},
		Queue:             QueueConfig{Capacity: 100000, HighWatermark: 25000, LowWatermark: 5000},
		Timing: TimingConfig{
			RetrySleep:            10 * time.Second,
			PageSleep:             500 * time.Millisecond,
			EntitySleep:           100 * time.Millisecond,
			ErrorRetrySleep:       30 * time.Second,
			CollectionIdleTimeout: 30 * time.Second,
			CollectionIdleLimit:   2,
			EntityIdleTimeout:     120 * time.Second,
			EntityIdleLimit:       2,
			StatusIdleTimeout:     60 * time.Second,
			StatusIdleLimit:       120,
			ErrorIdleTimeout:      time.Hour,
			ErrorIdleLimit:        24,
		},
		Cache: CacheConfig{
			Backend:    CacheBolt,
			VisitTTL:   2 * time.Hour,
			KeyVersion: "v4",
		},
		HTTP:     HTTPConfig{Timeout: 60 * time.Second, MaxAttempts: 5},
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{Path: "migrator.db"},
		Errors:   ErrorsConfig{Dir: "."},
	}
}

// Resolve parses the mapping strings, loads endpoint credentials and assigns a run ID.
// It returns the mapping strings that could not be parsed so the caller can log them.
func (c *Config) Resolve() (skipped []string, err error) {
	var bad []string
	c.orgMapping, bad = ParseMappings(c.Mapping.Orgs)
	skipped = append(skipped, bad...)
	c.appMapping, bad = ParseMappings(c.Mapping.Apps)
	skipped = append(skipped, bad...)
	c.collectionMapping, bad = ParseMappings(c.Mapping.Collections)
	skipped = append(skipped, bad...)

	if c.RunID == "" {
		c.RunID = uuid.New().String()
	}

	if c.Source.APIURL == "" && c.SourceConfig != "" {
		src, err := LoadEndpointFile(c.SourceConfig)
		if err != nil {
			return skipped, err
		}
		if c.Source, err = src.For(c.Org); err != nil {
			return skipped, fmt.Errorf("source endpoint: %w", err)
		}
	}
	if c.Target.APIURL == "" && c.TargetConfig != "" {
		dst, err := LoadEndpointFile(c.TargetConfig)
		if err != nil {
			return skipped, err
		}
		if c.Target, err = dst.For(c.TargetOrg()); err != nil {
			return skipped, fmt.Errorf("target endpoint: %w", err)
		}
	}
	return skipped, nil
}

// Validate checks the invariants the pipeline relies on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Org) == "" {
		return ErrMissingOrg
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	q := c.Queue
	if q.Capacity <= 0 || q.LowWatermark < 0 || q.LowWatermark > q.HighWatermark || q.HighWatermark > q.Capacity {
		return ErrInvalidWatermarks
	}
	if c.Mode == ModeCredentials && (c.Superuser.Username == "" || c.Superuser.Password == "") {
		return ErrMissingSuperuser
	}
	switch c.Cache.Backend {
	case CacheMemory, CacheBolt, CacheBadger, CacheNone:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCache, c.Cache.Backend)
	}
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", c.Limit)
	}
	if c.Workers.Entity <= 0 || c.Workers.Collection <= 0 {
		return fmt.Errorf("worker counts must be positive (entity=%d, collection=%d)", c.Workers.Entity, c.Workers.Collection)
	}
	return nil
}

// TargetOrg maps the source org to the target org.
func (c *Config) TargetOrg() string {
	if to, ok := c.orgMapping[c.Org]; ok {
		return to
	}
	return c.Org
}

// TargetApp maps a source app to its target app, honoring the single target app override.
func (c *Config) TargetApp(app string) string {
	if c.Mapping.TargetApp != "" {
		return c.Mapping.TargetApp
	}
	if to, ok := c.appMapping[app]; ok {
		return to
	}
	return app
}

// TargetCollection maps a source collection name to the target collection name.
func (c *Config) TargetCollection(collection string) string {
	if to, ok := c.collectionMapping[collection]; ok {
		return to
	}
	return collection
}

// UseName reports whether entities of the given collection type are addressed by name.
func (c *Config) UseName(collectionType string) bool {
	return slices.Contains(c.UseNameForCollection, collectionType)
}

// CollectionExcluded reports whether a collection is on the explicit exclude list.
func (c *Config) CollectionExcluded(collection string) bool {
	return slices.Contains(c.ExcludeCollections, collection)
}

// ParseMappings turns "from:to" strings into a map. Malformed entries are returned separately.
func ParseMappings(pairs []string) (map[string]string, []string) {
	out := make(map[string]string, len(pairs))
	var skipped []string
	for _, pair := range pairs {
		parts := strings.Split(pair, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			skipped = append(skipped, pair)
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out, skipped
}
