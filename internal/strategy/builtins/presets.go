// Package builtins registers the strategies that ship with trendline.
package builtins

import (
	"trendline/internal/config"
	"trendline/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = Preset{}

var descriptions = map[string]string{
	"triple-ema":      "10/20/50 EMA stack, pullback-reclaim entry, swing-low stop, 2R target, 30 bar timeout",
	"scalping":        "25/50/100 EMA stack with 3x5 bar momentum, pullback-reclaim entry, 50 EMA stop, 1.5R target",
	"stochastic-macd": "200 EMA filter, stochastic rebound gated by MACD, long and short, 2R target, 30 bar timeout",
}

// Preset exposes a built-in configuration from the config package as a
// Strategy.
type Preset struct {
	name string
}

// Name returns the preset name.
func (p Preset) Name() string { return p.name }

// Description returns a one-line summary.
func (p Preset) Description() string { return descriptions[p.name] }

// Config returns a fresh copy of the preset.
func (p Preset) Config() config.Strategy {
	s, _ := config.Preset(p.name)
	return s
}

// Register adds every built-in preset to r.
func Register(r *strategy.Registry) {
	for _, name := range config.PresetNames() {
		r.Register(Preset{name: name})
	}
}

// NewRegistry returns a registry holding the built-in presets.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
