// Package config loads finmodel's run-level configuration: default
// tolerance and statement calculation order (spec §6), plus store
// connection settings (cmd/finmodel uses StorePath; PostgresDSN is loaded
// but cmd/finmodel does not use it). It follows
// agentic_valuation's cmd/api pattern of a YAML file read into a struct,
// then overridden from the environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"finmodel"
)

// DefaultTolerance is applied to any validation rule that declares none
// (spec §4.G).
const DefaultTolerance = 0.01

// DefaultStatementOrder is the default RunConfig.StatementOrder (spec §6):
// profit & loss, then balance sheet, then cash flow, then any auxiliary
// statement. The order is loaded and carried in RunConfig only; no part of
// finmodel reads it, and a template's line items are computed in its
// topological order whatever this setting says.
var DefaultStatementOrder = []string{"pl", "bs", "cf", "auxiliary"}

// RunConfig is the resolved configuration for one orchestrator run.
type RunConfig struct {
	Tolerance      float64  `yaml:"tolerance"`
	StatementOrder []string `yaml:"statement_order"`
	StorePath      string   `yaml:"store_path"`
	PostgresDSN    string   `yaml:"postgres_dsn"`
}

// Load reads a RunConfig from a YAML file at path, filling in the spec's
// documented defaults for any field left zero, then applies environment
// overrides (FINMODEL_STORE_PATH, FINMODEL_POSTGRES_DSN,
// FINMODEL_TOLERANCE). A missing file is not an error — it simply yields
// the defaults, since every field has a sensible one (spec §6).
func Load(path string) (RunConfig, error) {
	cfg := RunConfig{Tolerance: DefaultTolerance, StatementOrder: DefaultStatementOrder}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return RunConfig{}, fmt.Errorf("finmodel/config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return RunConfig{}, fmt.Errorf("finmodel/config: parsing %s: %w", path, err)
		}
	}

	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if len(cfg.StatementOrder) == 0 {
		cfg.StatementOrder = DefaultStatementOrder
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadTemplate reads a finmodel.RawTemplate from a YAML file and loads it,
// surfacing the same *finmodel.TemplateError Load would for malformed
// content (spec §3, §6).
func LoadTemplate(path string) (*finmodel.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("finmodel/config: reading template %s: %w", path, err)
	}
	var raw finmodel.RawTemplate
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("finmodel/config: parsing template %s: %w", path, err)
	}
	return finmodel.Load(raw)
}

func applyEnvOverrides(cfg *RunConfig) {
	if v := os.Getenv("FINMODEL_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("FINMODEL_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("FINMODEL_TOLERANCE"); v != "" {
		var t float64
		if _, err := fmt.Sscanf(v, "%f", &t); err == nil && t > 0 {
			cfg.Tolerance = t
		}
	}
}
