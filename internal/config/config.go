// Package config carries the explicit, run-scoped configuration the
// assignment engine and run controller operate against: organism prefix,
// threshold vector, core loci order, version label, and QC ratio. It
// replaces the original assignment script's process-wide globals.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultThresholdsYAML []byte

// Version is the nomenclature format version stamped into emitted codes.
const Version = "2.1"

// DefaultMinPresent is the minimum fraction of core loci that must be called
// for a profile to pass QC.
const DefaultMinPresent = 0.95

// Prefix identifies which organism's tree/thresholds a run targets.
type Prefix string

const (
	CAMP Prefix = "CAMP"
	EC   Prefix = "EC"
	LMO  Prefix = "LMO"
	SALM Prefix = "SALM"
)

// ParsePrefix validates a user-supplied organism prefix string.
func ParsePrefix(s string) (Prefix, error) {
	switch Prefix(s) {
	case CAMP, EC, LMO, SALM:
		return Prefix(s), nil
	default:
		return "", fmt.Errorf("config: unrecognized organism prefix %q (want one of CAMP, EC, LMO, SALM)", s)
	}
}

// OrganismProfile is one organism's entry in a thresholds document.
type OrganismProfile struct {
	CoreLociCount int       `yaml:"core_loci_count"`
	Thresholds    []float64 `yaml:"thresholds"`
}

// Thresholds is the parsed shape of default.yaml or a user-supplied
// --thresholds override file sharing the same schema.
type Thresholds struct {
	Organisms map[string]OrganismProfile `yaml:"organisms"`
}

// LoadThresholds parses a thresholds YAML document.
func LoadThresholds(data []byte) (*Thresholds, error) {
	var t Thresholds
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("config: parsing thresholds: %w", err)
	}
	return &t, nil
}

// DefaultThresholds parses the embedded default threshold table.
func DefaultThresholds() (*Thresholds, error) {
	return LoadThresholds(DefaultThresholdsYAML)
}

// For looks up one organism's threshold vector, erroring if it's absent.
func (t *Thresholds) For(prefix Prefix) ([]float64, error) {
	org, ok := t.Organisms[string(prefix)]
	if !ok {
		return nil, fmt.Errorf("config: no threshold entry for organism %q", prefix)
	}
	if len(org.Thresholds) == 0 {
		return nil, fmt.Errorf("config: organism %q has an empty threshold vector", prefix)
	}
	return org.Thresholds, nil
}

// RunConfig is the fully-resolved configuration for a single assign run.
type RunConfig struct {
	Prefix     Prefix
	Version    string
	CoreLoci   []string
	Thresholds []float64
	MinPresent float64
	DataDir    string
	NoSave     bool
	Verbose    bool
}

// Depth returns the number of clustering levels, i.e. the threshold vector's
// length.
func (c RunConfig) Depth() int { return len(c.Thresholds) }

// DataDir returns the XDG data directory for allelecodes.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "allelecodes")
}

// ConfigDir returns the XDG config directory for allelecodes.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "allelecodes")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
