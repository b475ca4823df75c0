package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all vivarium configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Loop      LoopConfig      `yaml:"loop"`
	Memory    MemoryConfig    `yaml:"memory"`
	Vitals    VitalsConfig    `yaml:"vitals"`
	Weakness  WeaknessConfig  `yaml:"weakness"`
	Policy    PolicyConfig    `yaml:"policy"`
	Causal    CausalConfig    `yaml:"causal"`
	Params    ParamsConfig    `yaml:"params"`
	Cache     CacheConfig     `yaml:"cache"`
	Producers ProducersConfig `yaml:"producers"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DataConfig struct {
	Dir           string `yaml:"dir"`            // resolved at runtime via DefaultDataDir()
	KeepSnapshots int    `yaml:"keep_snapshots"` // 0 keeps every snapshot
}

type LoopConfig struct {
	TickInterval          time.Duration `yaml:"tick_interval"`
	SignificanceThreshold float64       `yaml:"significance_threshold"` // strict >
	LearnEvery            uint64        `yaml:"learn_every"`
	MaintainEvery         uint64        `yaml:"maintain_every"`
	CollaboratorPenalty   float64       `yaml:"collaborator_penalty"`
	QueueCapacity         int           `yaml:"queue_capacity"`
	RecentWindow          int           `yaml:"recent_window"`
}

type MemoryConfig struct {
	Cap              int           `yaml:"cap"`
	DecayFactor      float64       `yaml:"decay_factor"` // per DecayUnit of elapsed time
	DecayUnit        time.Duration `yaml:"decay_unit"`
	MinWeight        float64       `yaml:"min_weight"`
	ArchiveMinWeight float64       `yaml:"archive_min_weight"`
	MaxAge           time.Duration `yaml:"max_age"`
	ReinforceStep    float64       `yaml:"reinforce_step"`
	ActivateLimit    int           `yaml:"activate_limit"`
}

type VitalsConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type WeaknessConfig struct {
	Band                float64 `yaml:"band"`
	EnergyRate          float64 `yaml:"energy_rate"` // per second
	StabilityRate       float64 `yaml:"stability_rate"`
	IntegrityRate       float64 `yaml:"integrity_rate"`
	StabilityMultiplier float64 `yaml:"stability_multiplier"`
	IntegrityMultiplier float64 `yaml:"integrity_multiplier"`
}

type PolicyConfig struct {
	SnapshotEvery       uint64 `yaml:"snapshot_every"`
	FlushEvery          uint64 `yaml:"flush_every"`
	FlushBeforeSnapshot bool   `yaml:"flush_before_snapshot"`
	FlushAfterSnapshot  bool   `yaml:"flush_after_snapshot"`
	FlushOnError        bool   `yaml:"flush_on_error"`
}

type CausalConfig struct {
	MinDelay   uint64 `yaml:"min_delay"`
	MaxDelay   uint64 `yaml:"max_delay"`
	Timeout    uint64 `yaml:"timeout"`
	MaxPending int    `yaml:"max_pending"`
}

type ParamsConfig struct {
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	MaxStep float64 `yaml:"max_step"`
}

type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

type ProducersConfig struct {
	Generator GeneratorConfig `yaml:"generator"`
	Host      HostConfig      `yaml:"host"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

type GeneratorConfig struct {
	Enabled    bool               `yaml:"enabled"`
	Interval   time.Duration      `yaml:"interval"`
	Categories map[string]float64 `yaml:"categories"` // category -> relative weight
	Seed       uint64             `yaml:"seed"`       // 0 picks a time-based seed
}

type HostConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Baseline float64       `yaml:"baseline"` // load percentage treated as neutral
}

type InboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // defaults to <data dir>/inbox
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a Config with sensible defaults.
// The numeric constants are tuning defaults, not load-bearing behavior.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Data: DataConfig{
			Dir:           "",
			KeepSnapshots: 10,
		},
		Loop: LoopConfig{
			TickInterval:          time.Second,
			SignificanceThreshold: 0,
			LearnEvery:            50,
			MaintainEvery:         10,
			CollaboratorPenalty:   0.01,
			QueueCapacity:         100,
			RecentWindow:          20,
		},
		Memory: MemoryConfig{
			Cap:              1000,
			DecayFactor:      0.98,
			DecayUnit:        time.Minute,
			MinWeight:        0.01,
			ArchiveMinWeight: 0.05,
			MaxAge:           7 * 24 * time.Hour,
			ReinforceStep:    0.1,
			ActivateLimit:    5,
		},
		Vitals: VitalsConfig{
			Min: 0,
			Max: 1,
		},
		Weakness: WeaknessConfig{
			Band:                0.1,
			EnergyRate:          0.001,
			StabilityRate:       0.0005,
			IntegrityRate:       0.0005,
			StabilityMultiplier: 1.0,
			IntegrityMultiplier: 1.0,
		},
		Policy: PolicyConfig{
			SnapshotEvery:       300,
			FlushEvery:          10,
			FlushBeforeSnapshot: true,
			FlushAfterSnapshot:  false,
			FlushOnError:        true,
		},
		Causal: CausalConfig{
			MinDelay:   3,
			MaxDelay:   10,
			Timeout:    30,
			MaxPending: 256,
		},
		Params: ParamsConfig{
			Min:     0.1,
			Max:     3.0,
			MaxStep: 0.05,
		},
		Cache: CacheConfig{
			Capacity: 1000,
		},
		Producers: ProducersConfig{
			Generator: GeneratorConfig{
				Enabled:  true,
				Interval: 3 * time.Second,
				Categories: map[string]float64{
					"light":   3,
					"sound":   3,
					"touch":   2,
					"nourish": 1,
					"rest":    1,
					"threat":  1,
				},
			},
			Host: HostConfig{
				Enabled:  false,
				Interval: 10 * time.Second,
				Baseline: 50,
			},
			Inbox: InboxConfig{
				Enabled: false,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultDataDir returns the default data directory: ~/.vivarium
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("VIVARIUM_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".vivarium"), nil
}

// DefaultPath returns the config file path, honoring VIVARIUM_CONFIG.
func DefaultPath() (string, error) {
	if p := os.Getenv("VIVARIUM_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads a YAML config file on top of the defaults.
// A missing file is not an error: the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("VIVARIUM_HOME"); dir != "" {
		c.Data.Dir = dir
	}
	if lvl := os.Getenv("VIVARIUM_LOG_LEVEL"); lvl != "" {
		c.Log.Level = lvl
	}
}

// Validate rejects values the loop cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Loop.TickInterval <= 0:
		return fmt.Errorf("loop.tick_interval must be positive")
	case c.Loop.QueueCapacity <= 0:
		return fmt.Errorf("loop.queue_capacity must be positive")
	case c.Memory.Cap <= 0:
		return fmt.Errorf("memory.cap must be positive")
	case c.Memory.DecayFactor <= 0 || c.Memory.DecayFactor > 1:
		return fmt.Errorf("memory.decay_factor must be in (0, 1]")
	case c.Memory.DecayUnit <= 0:
		return fmt.Errorf("memory.decay_unit must be positive")
	case c.Memory.MinWeight <= 0:
		return fmt.Errorf("memory.min_weight must be positive")
	case c.Vitals.Max <= c.Vitals.Min:
		return fmt.Errorf("vitals.max must exceed vitals.min")
	case c.Causal.MinDelay == 0 || c.Causal.MaxDelay < c.Causal.MinDelay:
		return fmt.Errorf("causal delays must satisfy 0 < min_delay <= max_delay")
	case c.Causal.Timeout > 0 && c.Causal.Timeout < c.Causal.MaxDelay:
		return fmt.Errorf("causal.timeout must be 0 (disabled) or at least max_delay")
	case c.Params.Max <= c.Params.Min:
		return fmt.Errorf("params.max must exceed params.min")
	case c.Cache.Capacity <= 0:
		return fmt.Errorf("cache.capacity must be positive")
	}
	return nil
}

// Save writes the config as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// ResolveDataDir fills Data.Dir from DefaultDataDir when unset.
func (c *Config) ResolveDataDir() (string, error) {
	if c.Data.Dir != "" {
		return c.Data.Dir, nil
	}
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	c.Data.Dir = dir
	return dir, nil
}
