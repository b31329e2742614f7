package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// VesselField is one tracked field of a vessel profile: how to find it in
// draft content and how to search for it when it is missing.
type VesselField struct {
	Name        string   `yaml:"name"`
	Importance  string   `yaml:"importance"` // critical | high | medium | low
	Variants    []string `yaml:"variants"`   // lowercase name variants looked up in content
	SearchTerms []string `yaml:"search_terms"`
	TargetSites []string `yaml:"target_sites"`
	Strict      bool     `yaml:"strict"` // require explicit attribution, not a bare mention
}

// VesselFieldsConfig is the vessel_fields.yaml configuration.
type VesselFieldsConfig struct {
	Fields       []VesselField       `yaml:"fields"`
	Placeholders []string            `yaml:"placeholders"`
	ExtraDomains map[string][]string `yaml:"extra_domains"` // source category -> additional domains
}

var (
	vesselFieldsConfig     *VesselFieldsConfig
	vesselFieldsConfigOnce sync.Once
	vesselFieldsConfigErr  error
)

// LoadVesselFields loads vessel_fields.yaml once per process. When no config
// file is present the compiled-in profile is returned.
func LoadVesselFields() (*VesselFieldsConfig, error) {
	vesselFieldsConfigOnce.Do(func() {
		vesselFieldsConfig, vesselFieldsConfigErr = loadVesselFieldsFromFile()
	})
	return vesselFieldsConfig, vesselFieldsConfigErr
}

// ReloadVesselFields forces a reload, for hot-reload and tests.
func ReloadVesselFields() (*VesselFieldsConfig, error) {
	vesselFieldsConfigOnce = sync.Once{}
	return LoadVesselFields()
}

// ResetVesselFieldsForTest clears the cached config so tests can point the
// loader at a fixture file.
func ResetVesselFieldsForTest() {
	vesselFieldsConfigOnce = sync.Once{}
	vesselFieldsConfig = nil
	vesselFieldsConfigErr = nil
}

func loadVesselFieldsFromFile() (*VesselFieldsConfig, error) {
	cfgPath := os.Getenv("VESSEL_FIELDS_CONFIG_PATH")
	if cfgPath == "" {
		candidates := []string{
			"/app/config/vessel_fields.yaml",
			"config/vessel_fields.yaml",
			"../../config/vessel_fields.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				cfgPath = c
				break
			}
		}
	}

	if cfgPath == "" {
		return DefaultVesselFieldsConfig(), nil
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read vessel_fields.yaml: %w", err)
	}

	var cfg VesselFieldsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse vessel_fields.yaml: %w", err)
	}

	applyVesselFieldDefaults(&cfg)

	return &cfg, nil
}

// DefaultVesselFieldsConfig returns the compiled-in vessel profile: the nine
// tracked fields with their importance, lookup variants, and search targets.
func DefaultVesselFieldsConfig() *VesselFieldsConfig {
	return &VesselFieldsConfig{
		Placeholders: []string{"not found", "n/a", "not available"},
		Fields: []VesselField{
			{
				Name:        "IMO number",
				Importance:  "critical",
				Variants:    []string{"imo number", "imo"},
				SearchTerms: []string{"IMO number"},
				TargetSites: []string{"equasis.org", "gisis.imo.org", "marinetraffic.com"},
			},
			{
				Name:        "Registered owner",
				Importance:  "critical",
				Strict:      true,
				Variants:    []string{"registered owner", "owner"},
				SearchTerms: []string{"registered owner"},
				TargetSites: []string{"equasis.org", "lrfairplay.com"},
			},
			{
				Name:        "Operator/manager",
				Importance:  "high",
				Strict:      true,
				Variants:    []string{"operator", "manager", "management"},
				SearchTerms: []string{"operator", "ship manager"},
				TargetSites: []string{"equasis.org"},
			},
			{
				Name:        "Gross tonnage",
				Importance:  "high",
				Variants:    []string{"gross tonnage", "tonnage"},
				SearchTerms: []string{"gross tonnage"},
				TargetSites: []string{"marinetraffic.com", "vesselfinder.com"},
			},
			{
				Name:        "Length overall",
				Importance:  "medium",
				Variants:    []string{"length overall", "length"},
				SearchTerms: []string{"length overall"},
				TargetSites: []string{"marinetraffic.com", "vesselfinder.com"},
			},
			{
				Name:        "Call sign",
				Importance:  "medium",
				Variants:    []string{"call sign", "callsign"},
				SearchTerms: []string{"call sign"},
				TargetSites: []string{"marinetraffic.com"},
			},
			{
				Name:        "Year built",
				Importance:  "medium",
				Variants:    []string{"year built", "built in", "year of build", "build year"},
				SearchTerms: []string{"year built"},
				TargetSites: []string{"vesselfinder.com", "balticshipping.com"},
			},
			{
				Name:        "Shipyard",
				Importance:  "low",
				Variants:    []string{"shipyard", "built at", "builder"},
				SearchTerms: []string{"shipyard", "built"},
				TargetSites: []string{"shipspotting.com", "balticshipping.com"},
			},
			{
				Name:        "Classification society",
				Importance:  "low",
				Variants:    []string{"classification society", "class society", "classed by", "classification"},
				SearchTerms: []string{"classification society"},
				TargetSites: []string{"dnv.com", "eagle.org", "lr.org"},
			},
		},
	}
}

// applyVesselFieldDefaults fills holes in a user-provided file from the
// compiled-in profile so a partial file still behaves.
func applyVesselFieldDefaults(cfg *VesselFieldsConfig) {
	if len(cfg.Placeholders) == 0 {
		cfg.Placeholders = DefaultVesselFieldsConfig().Placeholders
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultVesselFieldsConfig().Fields
	}
	for i, f := range cfg.Fields {
		if f.Importance == "" {
			f.Importance = "medium"
		}
		if len(f.Variants) == 0 {
			f.Variants = []string{strings.ToLower(f.Name)}
		}
		cfg.Fields[i] = f
	}
}

// GetVesselFieldsConfigPath reports the resolved config path for debugging.
func GetVesselFieldsConfigPath() string {
	if p := os.Getenv("VESSEL_FIELDS_CONFIG_PATH"); p != "" {
		return p
	}
	candidates := []string{
		"/app/config/vessel_fields.yaml",
		"config/vessel_fields.yaml",
		"../../config/vessel_fields.yaml",
	}
	for _, c := range candidates {
		absPath, _ := filepath.Abs(c)
		if _, err := os.Stat(absPath); err == nil {
			return absPath
		}
	}
	return "(using defaults)"
}
