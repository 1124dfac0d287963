// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads fleetcheck configuration.
//
// Configuration comes from a single YAML file named by the --config
// flag or the FLEETCHECK_CONFIG environment variable. There is no
// discovery and no environment-variable override of individual values.
// The file may carry development, staging and production sections that
// override base values when the environment matches. Path values may
// reference ${VAR} or ${VAR:-default}.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// EnvVariable names the environment variable Load reads.
const EnvVariable = "FLEETCHECK_CONFIG"

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the complete fleetcheck configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths   PathsConfig   `yaml:"paths"`
	Queue   QueueConfig   `yaml:"queue"`
	Stages  StagesConfig  `yaml:"stages"`
	Runs    RunsConfig    `yaml:"runs"`
	Logging LoggingConfig `yaml:"logging"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the sections an environment block may replace.
type Overrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Queue   *QueueConfig   `yaml:"queue,omitempty"`
	Stages  *StagesConfig  `yaml:"stages,omitempty"`
	Runs    *RunsConfig    `yaml:"runs,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// PathsConfig locates fleetcheck's files.
type PathsConfig struct {
	// Root is the base directory; other paths usually derive from it
	// through ${FLEETCHECK_ROOT}.
	Root string `yaml:"root"`

	// Database is the SQLite file holding inventory, reports and results.
	Database string `yaml:"database"`

	// Queue is the SQLite file holding the task queue.
	Queue string `yaml:"queue"`

	// DataSources is the directory under which data source working
	// copies live when an inventory entry gives a relative path.
	DataSources string `yaml:"data_sources"`

	// Events is the JSON Lines file receiving report-created events.
	// Empty disables the sink.
	Events string `yaml:"events"`
}

// QueueConfig tunes the task queue workers.
type QueueConfig struct {
	// Concurrency is the number of jobs a worker process runs at once.
	Concurrency int `yaml:"concurrency"`

	// PollInterval is how often an idle worker looks for ready jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Lease is added to a job's timeout to give the lease of a claimed
	// job. A job not completed within its lease may be claimed again.
	Lease time.Duration `yaml:"lease"`
}

// StagesConfig sets the per-stage job timeouts.
type StagesConfig struct {
	SplitTimeout   time.Duration `yaml:"split_timeout"`
	ApplyTimeout   time.Duration `yaml:"apply_timeout"`
	CombineTimeout time.Duration `yaml:"combine_timeout"`
}

// RunsConfig holds defaults and limits for test runs.
type RunsConfig struct {
	// ResultBatchSize is the number of results written per insert batch.
	ResultBatchSize int `yaml:"result_batch_size"`

	// StoreReports is the number of newest reports retention keeps.
	StoreReports int `yaml:"store_reports"`

	// SyncConcurrency caps parallel data source syncs.
	SyncConcurrency int `yaml:"sync_concurrency"`

	// ExplanationVerbosity is the default verbosity for new runs.
	ExplanationVerbosity int `yaml:"explanation_verbosity"`

	// ReportURL is a template for the report link in the success
	// message; "{id}" is replaced by the report id.
	ReportURL string `yaml:"report_url"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text, json or auto. Auto writes text to a terminal and
	// JSON otherwise.
	Format string `yaml:"format"`
}

// Default returns the base configuration the file is merged onto.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:        "${HOME}/.local/share/fleetcheck",
			Database:    "${FLEETCHECK_ROOT}/fleetcheck.db",
			Queue:       "${FLEETCHECK_ROOT}/queue.db",
			DataSources: "${FLEETCHECK_ROOT}/datasources",
			Events:      "${FLEETCHECK_ROOT}/events.jsonl",
		},
		Queue: QueueConfig{
			Concurrency:  4,
			PollInterval: time.Second,
			Lease:        time.Minute,
		},
		Stages: StagesConfig{
			SplitTimeout:   15 * time.Minute,
			ApplyTimeout:   time.Hour,
			CombineTimeout: 15 * time.Minute,
		},
		Runs: RunsConfig{
			ResultBatchSize:      500,
			StoreReports:         5,
			SyncConcurrency:      10,
			ExplanationVerbosity: 2,
			ReportURL:            "fleetcheck://reports/{id}",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by FLEETCHECK_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your fleetcheck.yaml or use --config", EnvVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, applies the matching
// environment overrides, expands path variables and validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyOverrides()
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if o := overrides.Paths; o != nil {
		setString(&c.Paths.Root, o.Root)
		setString(&c.Paths.Database, o.Database)
		setString(&c.Paths.Queue, o.Queue)
		setString(&c.Paths.DataSources, o.DataSources)
		setString(&c.Paths.Events, o.Events)
	}
	if o := overrides.Queue; o != nil {
		setInt(&c.Queue.Concurrency, o.Concurrency)
		setDuration(&c.Queue.PollInterval, o.PollInterval)
		setDuration(&c.Queue.Lease, o.Lease)
	}
	if o := overrides.Stages; o != nil {
		setDuration(&c.Stages.SplitTimeout, o.SplitTimeout)
		setDuration(&c.Stages.ApplyTimeout, o.ApplyTimeout)
		setDuration(&c.Stages.CombineTimeout, o.CombineTimeout)
	}
	if o := overrides.Runs; o != nil {
		setInt(&c.Runs.ResultBatchSize, o.ResultBatchSize)
		setInt(&c.Runs.StoreReports, o.StoreReports)
		setInt(&c.Runs.SyncConcurrency, o.SyncConcurrency)
		setInt(&c.Runs.ExplanationVerbosity, o.ExplanationVerbosity)
		setString(&c.Runs.ReportURL, o.ReportURL)
	}
	if o := overrides.Logging; o != nil {
		setString(&c.Logging.Level, o.Level)
		setString(&c.Logging.Format, o.Format)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

func setDuration(target *time.Duration, value time.Duration) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandPaths() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["FLEETCHECK_ROOT"] = c.Paths.Root

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Queue = expandVars(c.Paths.Queue, vars)
	c.Paths.DataSources = expandVars(c.Paths.DataSources, vars)
	c.Paths.Events = expandVars(c.Paths.Events, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${NAME} and ${NAME:-default}, consulting vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value := vars[name]; value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment %q", c.Environment))
	}
	if c.Paths.Database == "" {
		errs = append(errs, errors.New("paths.database is required"))
	}
	if c.Paths.Queue == "" {
		errs = append(errs, errors.New("paths.queue is required"))
	}
	if c.Queue.Concurrency <= 0 {
		errs = append(errs, errors.New("queue.concurrency must be positive"))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("queue.poll_interval must be positive"))
	}
	if c.Queue.Lease <= 0 {
		errs = append(errs, errors.New("queue.lease must be positive"))
	}
	for name, timeout := range map[string]time.Duration{
		"stages.split_timeout":   c.Stages.SplitTimeout,
		"stages.apply_timeout":   c.Stages.ApplyTimeout,
		"stages.combine_timeout": c.Stages.CombineTimeout,
	} {
		if timeout <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Runs.ResultBatchSize <= 0 {
		errs = append(errs, errors.New("runs.result_batch_size must be positive"))
	}
	if c.Runs.StoreReports < 0 {
		errs = append(errs, errors.New("runs.store_reports must not be negative"))
	}
	if c.Runs.SyncConcurrency <= 0 {
		errs = append(errs, errors.New("runs.sync_concurrency must be positive"))
	}
	if c.Runs.ExplanationVerbosity < 0 || c.Runs.ExplanationVerbosity > 2 {
		errs = append(errs, errors.New("runs.explanation_verbosity must be 0, 1 or 2"))
	}
	if _, err := c.Logging.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json", "auto":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text, json or auto, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func (l LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger described by the logging section.
func (c *Config) NewLogger(output *os.File) *slog.Logger {
	level, err := c.Logging.level()
	if err != nil {
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	format := c.Logging.Format
	if format == "auto" {
		format = "json"
		if term.IsTerminal(int(output.Fd())) {
			format = "text"
		}
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(output, options))
	}
	return slog.New(slog.NewTextHandler(output, options))
}
