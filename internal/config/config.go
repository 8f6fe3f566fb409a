package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither a flag nor TRENDLINE_CONFIG names a file.
const DefaultPath = "config/trendline.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for trendline.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Backtest BacktestConfig `yaml:"backtest"`
	Strategy Strategy       `yaml:"strategy"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds the listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	GRPCPort int    `yaml:"grpc_port"`
	HTTPPort int    `yaml:"http_port"` // 0 disables the run browser
}

// Addr returns host:port for the gRPC listener.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// HTTPAddr returns host:port for the HTTP run browser.
func (s Server) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// Alpaca holds credentials and the market data endpoint.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls historical bar downloads.
type GatherConfig struct {
	StartDate       string `yaml:"start_date"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxAttempts     int    `yaml:"max_attempts"`
	Feed            string `yaml:"feed"`
}

// BacktestConfig selects the data and account for a run.
type BacktestConfig struct {
	Symbol      string     `yaml:"symbol"`
	Market      string     `yaml:"market"`
	Start       string     `yaml:"start"`
	End         string     `yaml:"end"`
	Cash        float64    `yaml:"cash"`
	Timeframe   string     `yaml:"timeframe"`
	Compression int        `yaml:"compression"`
	Commission  Commission `yaml:"commission"`
}

// Commission selects the simulator's commission scheme.
type Commission struct {
	Kind  string  `yaml:"kind"` // none, percent, fixed
	Value float64 `yaml:"value"`
}

// DateRange parses Start and End. Empty values yield zero times.
func (b BacktestConfig) DateRange() (start, end time.Time, err error) {
	if start, err = parseDate(b.Start); err != nil {
		return start, end, fmt.Errorf("backtest.start: %w", err)
	}
	if end, err = parseDate(b.End); err != nil {
		return start, end, fmt.Errorf("backtest.end: %w", err)
	}
	return start, end, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a configuration usable without a file.
func Default() *Config {
	s, _ := Preset(DefaultPreset)
	return &Config{
		Storage: Storage{DataDir: "data", SQLitePath: "data/trendline.db"},
		Server:  Server{Host: "0.0.0.0", GRPCPort: 9090, HTTPPort: 8080},
		Logging: Logging{Level: "info", Format: "json"},
		Gather: GatherConfig{
			StartDate:       "2015-01-01",
			RateLimitPerMin: 200,
			MaxAttempts:     3,
			Feed:            "iex",
		},
		Backtest: BacktestConfig{
			Market:      "us",
			Cash:        10000,
			Timeframe:   "daily",
			Compression: 1,
			Commission:  Commission{Kind: "none"},
		},
		Strategy: s,
	}
}

// ResolvePath returns flagPath, else $TRENDLINE_CONFIG, else DefaultPath.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if v := os.Getenv("TRENDLINE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the defaults,
// applies environment variable overrides and validates the result. When
// strategy.preset is set, the remaining strategy keys overlay that preset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadResolved loads the file named by ResolvePath(flagPath). When no path
// was given anywhere and the default file does not exist, it returns the
// defaults with environment overrides applied.
func LoadResolved(flagPath string) (*Config, error) {
	path := ResolvePath(flagPath)
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
		return Parse(nil)
	}
	return cfg, err
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var peek struct {
		Strategy struct {
			Preset string `yaml:"preset"`
		} `yaml:"strategy"`
	}
	if err := yaml.Unmarshal(data, &peek); err != nil {
		return nil, err
	}

	cfg := Default()
	if name := peek.Strategy.Preset; name != "" {
		s, ok := Preset(name)
		if !ok {
			return nil, fmt.Errorf("unknown strategy preset %q", name)
		}
		cfg.Strategy = s
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GRPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.GRPCPort = port
		}
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}

	// Standard Alpaca env vars take precedence: they are the names the SDK reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// Validate checks the non-strategy sections and the strategy's shape. The
// engine performs the deeper parameter checks when it is built.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Backtest.Market) {
	case "us", "au":
	default:
		return fmt.Errorf("backtest.market: unsupported market %q", c.Backtest.Market)
	}
	if c.Backtest.Cash <= 0 {
		return fmt.Errorf("backtest.cash: must be positive, got %v", c.Backtest.Cash)
	}
	if c.Backtest.Compression < 1 {
		return fmt.Errorf("backtest.compression: must be at least 1, got %d", c.Backtest.Compression)
	}
	start, end, err := c.Backtest.DateRange()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("backtest: end %s before start %s", c.Backtest.End, c.Backtest.Start)
	}
	if _, err := parseDate(c.Gather.StartDate); err != nil {
		return fmt.Errorf("gather.start_date: %w", err)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port: out of range: %d", c.Server.GRPCPort)
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port: out of range: %d", c.Server.HTTPPort)
	}
	return c.Strategy.Validate()
}
