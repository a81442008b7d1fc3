package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cellpulse/cellpulse/internal/health"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort = 8080
	DefaultCacheTTL = 5 * time.Minute
)

// Config is the root of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
}

// ServerConfig holds the service-level settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen
	// on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// DatabaseURL is the Postgres DSN for persisted metrics. Empty selects
	// the in-memory store.
	DatabaseURL string `yaml:"database_url"`

	// RedisAddr enables the latest-metric cache when non-empty.
	RedisAddr string `yaml:"redis_addr"`

	// CacheTTL is how long a cached latest-metric entry stays valid
	// (default 5m).
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// EngineConfig is the YAML shape of the health engine configuration.
type EngineConfig struct {
	OCVTable       []OCVPoint           `yaml:"ocv_table"`
	Thresholds     []Threshold          `yaml:"thresholds"`
	Weights        Weights              `yaml:"soh_weights"`
	Cells          map[string]CellEntry `yaml:"cells"`
	NoiseFloorA    float64              `yaml:"noise_floor_a"`
	MinFitSamples  int                  `yaml:"min_fit_samples"`
	RatedCycleLife int                  `yaml:"rated_cycle_life"`
	Concurrency    int                  `yaml:"concurrency"`
	CellTimeout    time.Duration        `yaml:"cell_timeout"`
}

// OCVPoint is one voltage→SoC calibration entry.
type OCVPoint struct {
	VoltageV   float64 `yaml:"voltage_v"`
	SoCPercent float64 `yaml:"soc_percent"`
}

// Threshold is one severity band. Min and Max are pointers so an absent
// bound stays distinguishable from zero.
type Threshold struct {
	Metric   string   `yaml:"metric"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Severity string   `yaml:"severity"`
}

// Weights are the SoH factor weights; all zero selects equal thirds.
type Weights struct {
	Capacity   float64 `yaml:"capacity"`
	Resistance float64 `yaml:"resistance"`
	Cycle      float64 `yaml:"cycle"`
}

// CellEntry holds one cell's baseline/nominal reference values.
type CellEntry struct {
	NominalCapacityAh          float64 `yaml:"nominal_capacity_ah"`
	MeasuredCapacityAh         float64 `yaml:"measured_capacity_ah"`
	BaselineResistanceMilliohm float64 `yaml:"baseline_resistance_mohm"`
	CycleCount                 int     `yaml:"cycle_count"`
}

// ToEngine converts the YAML section into the engine's configuration type.
func (e EngineConfig) ToEngine() health.Config {
	cfg := health.Config{
		NoiseFloorA:    e.NoiseFloorA,
		MinFitSamples:  e.MinFitSamples,
		RatedCycleLife: e.RatedCycleLife,
		Concurrency:    e.Concurrency,
		CellTimeout:    e.CellTimeout,
		Weights: health.SoHWeights{
			Capacity:   e.Weights.Capacity,
			Resistance: e.Weights.Resistance,
			Cycle:      e.Weights.Cycle,
		},
	}
	for _, p := range e.OCVTable {
		cfg.OCV = append(cfg.OCV, health.OCVPoint{VoltageV: p.VoltageV, SoCPercent: p.SoCPercent})
	}
	for _, t := range e.Thresholds {
		cfg.Thresholds = append(cfg.Thresholds, health.Threshold{
			Metric:   health.MetricType(t.Metric),
			Min:      t.Min,
			Max:      t.Max,
			Severity: health.Severity(t.Severity),
		})
	}
	if len(e.Cells) > 0 {
		cfg.Cells = make(map[string]health.CellParams, len(e.Cells))
		for id, c := range e.Cells {
			cfg.Cells[id] = health.CellParams{
				NominalCapacityAh:          c.NominalCapacityAh,
				MeasuredCapacityAh:         c.MeasuredCapacityAh,
				BaselineResistanceMilliohm: c.BaselineResistanceMilliohm,
				CycleCount:                 c.CycleCount,
			}
		}
	}
	return cfg
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			CacheTTL: DefaultCacheTTL,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
// The engine section is checked with the same rules ProcessBatch applies,
// so a loadable config cannot fail a batch for configuration reasons.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.CacheTTL < 0 {
		return fmt.Errorf("server.cache_ttl must not be negative")
	}
	if err := cfg.Engine.ToEngine().WithDefaults().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}
