package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trendline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "ALPACA_API_KEY", "ALPACA_API_SECRET", "ALPACA_DATA_URL",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "LOG_LEVEL", "GRPC_PORT", "HTTP_PORT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/trendline/data"
  sqlite_path: "/tmp/trendline/trendline.db"
server:
  host: "127.0.0.1"
  grpc_port: 9191
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
logging:
  level: "debug"
  format: "text"
gather:
  start_date: "2020-01-01"
  rate_limit_per_min: 100
backtest:
  symbol: "CBA"
  market: "au"
  start: "2021-01-01"
  end: "2023-12-31"
  cash: 25000
  timeframe: weekly
  compression: 2
  commission:
    kind: fixed
    value: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/trendline/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/trendline/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/trendline/trendline.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/trendline/trendline.db")
	}

	// -- Server --
	if got := cfg.Server.Addr(); got != "127.0.0.1:9191" {
		t.Errorf("Server.Addr() = %q, want %q", got, "127.0.0.1:9191")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	// -- Gather: unset keys keep their defaults --
	if cfg.Gather.RateLimitPerMin != 100 {
		t.Errorf("Gather.RateLimitPerMin = %d, want 100", cfg.Gather.RateLimitPerMin)
	}
	if cfg.Gather.MaxAttempts != 3 {
		t.Errorf("Gather.MaxAttempts = %d, want default 3", cfg.Gather.MaxAttempts)
	}

	// -- Backtest --
	bt := cfg.Backtest
	if bt.Symbol != "CBA" || bt.Market != "au" || bt.Cash != 25000 || bt.Compression != 2 {
		t.Errorf("Backtest = %+v", bt)
	}
	if bt.Commission.Kind != "fixed" || bt.Commission.Value != 5 {
		t.Errorf("Backtest.Commission = %+v", bt.Commission)
	}
	start, end, err := bt.DateRange()
	if err != nil {
		t.Fatalf("DateRange: %v", err)
	}
	if start.Year() != 2021 || end.Year() != 2023 {
		t.Errorf("DateRange = %v .. %v", start, end)
	}

	// -- Strategy defaults to the default preset --
	if cfg.Strategy.Preset != DefaultPreset {
		t.Errorf("Strategy.Preset = %q, want %q", cfg.Strategy.Preset, DefaultPreset)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("GRPC_PORT", "7000")
	t.Setenv("HTTP_PORT", "0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Server.GRPCPort != 7000 {
		t.Errorf("Server.GRPCPort = %d, want 7000", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort != 0 {
		t.Errorf("Server.HTTPPort = %d, want 0 (env override)", cfg.Server.HTTPPort)
	}

	t.Setenv("APCA_API_KEY_ID", "sdk-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "sdk-key" {
		t.Errorf("Alpaca.APIKey = %q, want APCA_API_KEY_ID to win", cfg.Alpaca.APIKey)
	}
}

func TestPresetOverlay(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
strategy:
  preset: scalping
  risk_multiple: 3
  confirm:
    window: 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	s := cfg.Strategy
	if s.Preset != "scalping" {
		t.Errorf("Preset = %q", s.Preset)
	}
	if s.RiskMultiple != 3 {
		t.Errorf("RiskMultiple = %v, want override 3", s.RiskMultiple)
	}
	if s.Confirm.Window != 20 || s.Confirm.MomentumSteps != 3 || s.Confirm.Fast != "ema25" {
		t.Errorf("Confirm = %+v, want preset with window 20", s.Confirm)
	}
	if s.Stop.Kind != "indicator" || s.Stop.Indicator != "ema50" {
		t.Errorf("Stop = %+v, want preset stop", s.Stop)
	}
	if len(s.Indicators) != 3 {
		t.Errorf("len(Indicators) = %d, want 3", len(s.Indicators))
	}
}

func TestLoadRejects(t *testing.T) {
	clearEnv(t)
	tests := map[string]string{
		"unknown preset":  "strategy:\n  preset: nope\n",
		"bad market":      "backtest:\n  market: mars\n",
		"zero cash":       "backtest:\n  cash: 0\n",
		"bad date":        "backtest:\n  start: 2020/01/01\n",
		"reversed range":  "backtest:\n  start: 2022-01-01\n  end: 2021-01-01\n",
		"bad confirm":     "strategy:\n  confirm:\n    kind: psychic\n",
		"dup indicator":   "strategy:\n  indicators:\n    - {id: a, kind: ema, period: 5}\n    - {id: a, kind: sma, period: 5}\n",
		"unknown ind":     "strategy:\n  indicators:\n    - {id: a, kind: rsi, period: 5}\n",
		"malformed yaml":  "backtest: [\n",
		"bad compression": "backtest:\n  compression: 0\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Errorf("Load() accepted %q", content)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() of a missing file returned nil error")
	}
}

func TestPresetsValid(t *testing.T) {
	names := PresetNames()
	if len(names) != 3 {
		t.Fatalf("PresetNames() = %v", names)
	}
	for _, n := range names {
		s, ok := Preset(n)
		if !ok {
			t.Fatalf("Preset(%q) missing", n)
		}
		if err := s.Validate(); err != nil {
			t.Errorf("preset %q: %v", n, err)
		}
		if s.Preset != n {
			t.Errorf("preset %q reports name %q", n, s.Preset)
		}
	}
}

func TestStochasticMACDPresetSizing(t *testing.T) {
	s, _ := Preset("stochastic-macd")
	if s.Stop.Lookback != 14 || s.Stop.Field != "close" {
		t.Errorf("stop = %+v, want 14 closes", s.Stop)
	}
	if s.Budget.Kind != "fraction" || s.Budget.Fraction != 1 || !s.Budget.MarkToMarket || s.Budget.AddStarting {
		t.Errorf("budget = %+v, want all cash marked to market", s.Budget)
	}
}

func TestPresetCopiesAreIndependent(t *testing.T) {
	a, _ := Preset("triple-ema")
	a.Indicators[0].Period = 999
	b, _ := Preset("triple-ema")
	if b.Indicators[0].Period == 999 {
		t.Error("Preset returned shared indicator slice")
	}
}

func TestOverlay(t *testing.T) {
	s, err := Overlay(Strategy{}, "stochastic-macd", map[string]any{
		"allow_short":  false,
		"max_duration": 10,
		"trigger":      map[string]any{"lower": 25},
	})
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if s.AllowShort || s.MaxDuration != 10 || s.Trigger.Lower != 25 || s.Trigger.Upper != 80 {
		t.Errorf("Overlay result = %+v", s)
	}
	if _, err := Overlay(Strategy{}, "nope", nil); err == nil {
		t.Error("Overlay accepted an unknown preset")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("TRENDLINE_CONFIG", "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Errorf("ResolvePath(\"\") = %q, want %q", got, DefaultPath)
	}
	t.Setenv("TRENDLINE_CONFIG", "/etc/trendline.yaml")
	if got := ResolvePath(""); got != "/etc/trendline.yaml" {
		t.Errorf("ResolvePath with env = %q", got)
	}
	if got := ResolvePath("x.yaml"); got != "x.yaml" {
		t.Errorf("ResolvePath(flag) = %q", got)
	}
}

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides([]string{"max_duration=10", "allow_short=true", "stop.lookback=20", "stop.field=low"})
	if err != nil {
		t.Fatalf("ParseOverrides: %v", err)
	}
	if got["max_duration"] != 10 || got["allow_short"] != true {
		t.Errorf("scalars = %v", got)
	}
	stop, ok := got["stop"].(map[string]any)
	if !ok || stop["lookback"] != 20 || stop["field"] != "low" {
		t.Errorf("stop = %v", got["stop"])
	}

	s, err := Overlay(Strategy{}, "triple-ema", got)
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if s.Stop.Lookback != 20 || s.Stop.Kind != "extreme" || !s.AllowShort {
		t.Errorf("overlaid stop = %+v allow_short=%v", s.Stop, s.AllowShort)
	}

	if _, err := ParseOverrides([]string{"max_duration"}); err == nil {
		t.Error("expected error for missing '='")
	}
}

func TestLoadResolvedFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRENDLINE_CONFIG", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadResolved("")
	if err != nil {
		t.Fatalf("LoadResolved: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Strategy.Preset != DefaultPreset {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := LoadResolved(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for an explicit missing file")
	}
}
