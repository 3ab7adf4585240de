// Package daemon wires configuration, storage and the reconciliation engine
// into a runnable process, and schedules periodic runs.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/propledger/propledger/internal/app/executor"
	"github.com/propledger/propledger/internal/app/reconcile"
	"github.com/propledger/propledger/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// HomeEnv relocates the data directory.
const HomeEnv = "PROPLEDGER_HOME"

// Config is the on-disk config.toml.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	API      APIConfig      `toml:"api"`
	Policy   PolicyConfig   `toml:"policy"`
	Executor ExecutorConfig `toml:"executor"`
	Schedule ScheduleConfig `toml:"schedule"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// DatabaseConfig locates the SQLite file. Empty Path means <home>/propledger.db.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// APIConfig is the listen address of `propledger serve`.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// WeightsConfig splits the confidence points.
type WeightsConfig struct {
	Amount int `toml:"amount"`
	Date   int `toml:"date"`
	Name   int `toml:"name"`
}

// PolicyConfig is the matching policy. Money and percentages are strings so
// they are parsed as decimals, never as floats.
type PolicyConfig struct {
	AutoApproveThreshold int           `toml:"auto_approve_threshold"`
	DaysBack             int           `toml:"days_back"`
	Weights              WeightsConfig `toml:"weights"`
	AmountTolerancePct   string        `toml:"amount_tolerance_pct"`
	AmountToleranceAbs   string        `toml:"amount_tolerance_abs"`
	GraceBeforeDays      int           `toml:"grace_before_days"`
	GraceAfterDays       int           `toml:"grace_after_days"`
	DecayDays            int           `toml:"decay_days"`
	NameFullSimilarity   float64       `toml:"name_full_similarity"`
	NameZeroSimilarity   float64       `toml:"name_zero_similarity"`
}

// ExecutorConfig bounds commit concurrency and per-call deadlines.
type ExecutorConfig struct {
	MaxConcurrent int    `toml:"max_concurrent"`
	CommitTimeout string `toml:"commit_timeout"`
	ReadTimeout   string `toml:"read_timeout"`
	ManualTimeout string `toml:"manual_timeout"`
}

// ScheduleConfig drives `propledger schedule`.
type ScheduleConfig struct {
	Interval             string `toml:"interval"`
	MaxParallelCompanies int    `toml:"max_parallel_companies"`
}

// MetricsConfig toggles /metrics.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	p := reconcile.DefaultPolicy()
	e := executor.DefaultConfig()
	r := reconcile.DefaultConfig()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8085,
		},
		Policy: PolicyConfig{
			AutoApproveThreshold: p.AutoApproveThreshold,
			DaysBack:             p.DaysBack,
			Weights:              WeightsConfig{Amount: p.Weights.Amount, Date: p.Weights.Date, Name: p.Weights.Name},
			AmountTolerancePct:   p.AmountTolerancePct.String(),
			AmountToleranceAbs:   p.AmountToleranceAbs.String(),
			GraceBeforeDays:      p.GraceBeforeDays,
			GraceAfterDays:       p.GraceAfterDays,
			DecayDays:            p.DecayDays,
			NameFullSimilarity:   p.NameFullSimilarity,
			NameZeroSimilarity:   p.NameZeroSimilarity,
		},
		Executor: ExecutorConfig{
			MaxConcurrent: e.MaxConcurrent,
			CommitTimeout: e.CommitTimeout.String(),
			ReadTimeout:   r.ReadTimeout.String(),
			ManualTimeout: r.ManualTimeout.String(),
		},
		Schedule: ScheduleConfig{
			Interval:             "6h",
			MaxParallelCompanies: 4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// HomeDir returns $PROPLEDGER_HOME, or ~/.propledger.
func HomeDir() string {
	if env := os.Getenv(HomeEnv); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".propledger")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(HomeDir(), "config.toml")
}

// Load reads path over DefaultConfig. A missing file yields the defaults;
// keys absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}
	md, err := toml.DecodeFile(path, &cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}
	if _, err := cfg.EngineConfig(); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// DatabasePath resolves the SQLite file location.
func (c Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(HomeDir(), "propledger.db")
}

// Addr is the API listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}

// ReconcilePolicy converts and validates the [policy] table.
func (c Config) ReconcilePolicy() (reconcile.Policy, error) {
	pc := c.Policy
	pct, err := decimal.NewFromString(pc.AmountTolerancePct)
	if err != nil {
		return reconcile.Policy{}, fmt.Errorf("policy.amount_tolerance_pct %q: %w", pc.AmountTolerancePct, domain.ErrInvalidOptions)
	}
	abs, err := domain.ParseMoney(pc.AmountToleranceAbs)
	if err != nil {
		return reconcile.Policy{}, fmt.Errorf("policy.amount_tolerance_abs %q: %w", pc.AmountToleranceAbs, domain.ErrInvalidOptions)
	}
	p := reconcile.Policy{
		Weights:              reconcile.Weights{Amount: pc.Weights.Amount, Date: pc.Weights.Date, Name: pc.Weights.Name},
		AmountTolerancePct:   pct,
		AmountToleranceAbs:   abs,
		GraceBeforeDays:      pc.GraceBeforeDays,
		GraceAfterDays:       pc.GraceAfterDays,
		DecayDays:            pc.DecayDays,
		NameFullSimilarity:   pc.NameFullSimilarity,
		NameZeroSimilarity:   pc.NameZeroSimilarity,
		AutoApproveThreshold: pc.AutoApproveThreshold,
		DaysBack:             pc.DaysBack,
	}
	if err := p.Validate(); err != nil {
		return reconcile.Policy{}, err
	}
	return p, nil
}

// EngineConfig builds the reconcile engine configuration.
func (c Config) EngineConfig() (reconcile.Config, error) {
	p, err := c.ReconcilePolicy()
	if err != nil {
		return reconcile.Config{}, err
	}
	def := reconcile.DefaultConfig()
	read, err := parseDuration("executor.read_timeout", c.Executor.ReadTimeout, def.ReadTimeout)
	if err != nil {
		return reconcile.Config{}, err
	}
	manual, err := parseDuration("executor.manual_timeout", c.Executor.ManualTimeout, def.ManualTimeout)
	if err != nil {
		return reconcile.Config{}, err
	}
	return reconcile.Config{Policy: p, ReadTimeout: read, ManualTimeout: manual}, nil
}

// ExecutorSettings builds the commit executor configuration.
func (c Config) ExecutorSettings() (executor.Config, error) {
	def := executor.DefaultConfig()
	timeout, err := parseDuration("executor.commit_timeout", c.Executor.CommitTimeout, def.CommitTimeout)
	if err != nil {
		return executor.Config{}, err
	}
	n := c.Executor.MaxConcurrent
	if n <= 0 {
		n = def.MaxConcurrent
	}
	return executor.Config{MaxConcurrent: n, CommitTimeout: timeout}, nil
}

// ScheduleInterval parses [schedule].interval.
func (c Config) ScheduleInterval() (time.Duration, error) {
	return parseDuration("schedule.interval", c.Schedule.Interval, 6*time.Hour)
}

// parseDuration parses a config duration. Empty means def.
func parseDuration(key, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s %q must be a positive duration: %w", key, s, domain.ErrInvalidOptions)
	}
	return d, nil
}
