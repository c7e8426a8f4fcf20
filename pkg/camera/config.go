// Package camera holds the per-camera configuration loaded from
// cameras.yaml and the reconciliation of that file against the metadata
// store's camera table — a typed struct rather than a string-keyed map,
// since a camera's attributes (uuid, short_name, retain_bytes, RTSP
// fields) are fixed and known up front rather than an open-ended settings
// bag.
package camera

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrInvalidShortName is returned when a short name is empty or contains
// characters other than [A-Za-z0-9_].
var ErrInvalidShortName = errors.New("camera: short name must be non-empty word characters only")

var shortNamePattern = regexp.MustCompile(`^\w+$`)

// Config is one camera's configuration as loaded from cameras.yaml.
type Config struct {
	UUID        uuid.UUID `yaml:"uuid"`
	ShortName   string    `yaml:"shortName"`
	Description string    `yaml:"description"`

	Host         string `yaml:"host"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MainRTSPPath string `yaml:"mainRtspPath"`
	// SubRTSPPath is parsed from cameras.yaml only: the metadata store's
	// camera table has no column for it, and nothing in this core consumes
	// it.
	SubRTSPPath string `yaml:"subRtspPath,omitempty"`

	RetainBytes int64 `yaml:"retainBytes"`
}

// Validate checks the fields this core relies on for correctness (short
// name shape, positive retention quota).
func (c Config) Validate() error {
	if !shortNamePattern.MatchString(c.ShortName) {
		return fmt.Errorf("camera %v: %w", c.UUID, ErrInvalidShortName)
	}
	if c.RetainBytes <= 0 {
		return fmt.Errorf("camera %v: retainBytes must be positive", c.UUID)
	}
	return nil
}

// LoadConfigs parses cameras.yaml and validates every entry, plus the
// fleet-wide short-name uniqueness constraint.
func LoadConfigs(data []byte) ([]Config, error) {
	var cfgs []Config
	if err := yaml.Unmarshal(data, &cfgs); err != nil {
		return nil, fmt.Errorf("camera: unmarshal cameras.yaml: %w", err)
	}

	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if seen[c.ShortName] {
			return nil, fmt.Errorf("camera: duplicate short name %q", c.ShortName)
		}
		seen[c.ShortName] = true
	}
	return cfgs, nil
}
