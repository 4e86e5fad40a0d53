// Package config implements the TileSet config document (spec §6.1): a
// YAML-backed, JSON-compatible key-value document describing a tile set's
// identity, reference frame, LOD range, camera-facing position hints,
// credits, bound layers, and opaque per-driver options.
package config

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/opentiles/tilestore/tileerror"
	"github.com/opentiles/tilestore/tileid"
)

// HeightMode selects how Position.VerticalExtent is interpreted.
type HeightMode string

const (
	HeightFixed    HeightMode = "fixed"
	HeightFloating HeightMode = "floating"
)

// PositionType selects whether Position is an absolute or relative anchor.
type PositionType string

const (
	PositionObjective  PositionType = "objective"
	PositionSubjective PositionType = "subjective"
)

// Position anchors a tile set's camera-facing placement hints.
type Position struct {
	Type           PositionType `yaml:"type"`
	HeightMode     HeightMode   `yaml:"heightMode"`
	Position       [3]float64   `yaml:"position"`
	Orientation    [3]float64   `yaml:"orientation"`
	VerticalExtent float64      `yaml:"verticalExtent"`
	VerticalFov    float64      `yaml:"verticalFov"`
}

// Config is the full contents of a tile set's config document.
type Config struct {
	ID             string         `yaml:"id"`
	ReferenceFrame string         `yaml:"referenceFrame"`
	LodRange       LodRangeConfig `yaml:"lodRange"`
	Position       Position       `yaml:"position"`
	Credits        []string       `yaml:"credits,omitempty"`
	BoundLayers    []string       `yaml:"boundLayers,omitempty"`
	// DriverOptions is opaque per-driver configuration, preserved
	// verbatim by Load/Save but never interpreted by this package.
	DriverOptions map[string]any `yaml:"driverOptions,omitempty"`
}

// LodRangeConfig is the wire representation of a tileid.LodRange.
type LodRangeConfig struct {
	Min uint8 `yaml:"min"`
	Max uint8 `yaml:"max"`
}

// LodRangeValue converts the config's LOD range to a tileid.LodRange.
func (c Config) LodRangeValue() tileid.LodRange {
	return tileid.LodRange{Min: c.LodRange.Min, Max: c.LodRange.Max}
}

// Load parses a config document from r.
func Load(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, tileerror.Wrap(tileerror.FormatError, err, "config: decoding document")
	}
	return cfg, nil
}

// Save writes cfg to w.
func Save(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(cfg); err != nil {
		return tileerror.Wrap(tileerror.FormatError, err, "config: encoding document")
	}
	return nil
}

// StripDriverOptions returns a copy of cfg with DriverOptions removed, for
// the delivery façade's read-only config view (spec §4.8: "the tile-set
// config with driver-specific options stripped").
func StripDriverOptions(cfg Config) Config {
	out := cfg
	out.DriverOptions = nil
	return out
}
