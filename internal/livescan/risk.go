package livescan

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed risk.yaml
var riskTableYAML []byte

// RiskTable maps crime types to risk levels. Lookups are case-insensitive
// and unknown or empty crime types fall back to the default level.
type RiskTable struct {
	defaultLevel string
	levels       map[string]string
}

type riskTableFile struct {
	Default string            `yaml:"default"`
	Levels  map[string]string `yaml:"levels"`
}

// DefaultRiskTable loads the built-in crime type to risk level mapping.
func DefaultRiskTable() *RiskTable {
	table, err := ParseRiskTable(riskTableYAML)
	if err != nil {
		// The embedded table is validated at build time by tests, a
		// parse failure here means a broken binary.
		panic(fmt.Sprintf("embedded risk table invalid: %v", err))
	}
	return table
}

// ParseRiskTable parses a YAML risk table document.
func ParseRiskTable(data []byte) (*RiskTable, error) {
	var file riskTableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse risk table: %w", err)
	}
	if file.Default == "" {
		return nil, fmt.Errorf("risk table has no default level")
	}

	levels := make(map[string]string, len(file.Levels))
	for crime, level := range file.Levels {
		levels[strings.ToLower(strings.TrimSpace(crime))] = level
	}
	return &RiskTable{defaultLevel: file.Default, levels: levels}, nil
}

// Level returns the risk level for a crime type.
func (t *RiskTable) Level(crimeType string) string {
	if level, ok := t.levels[strings.ToLower(strings.TrimSpace(crimeType))]; ok {
		return level
	}
	return t.defaultLevel
}
