package config

import (
	"bytes"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Config{
		ID:             "alps-25cm",
		ReferenceFrame: "wgs84-utm32",
		LodRange:       LodRangeConfig{Min: 0, Max: 21},
		Position: Position{
			Type:           PositionObjective,
			HeightMode:     HeightFixed,
			Position:       [3]float64{1, 2, 3},
			Orientation:    [3]float64{0, 0, 0},
			VerticalExtent: 8000,
			VerticalFov:    45,
		},
		Credits:       []string{"Survey Corp"},
		BoundLayers:   []string{"roads", "hydro"},
		DriverOptions: map[string]any{"binaryOrder": 4},
	}

	var buf bytes.Buffer
	if err := Save(&buf, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != cfg.ID || got.ReferenceFrame != cfg.ReferenceFrame {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.LodRangeValue().Min != 0 || got.LodRangeValue().Max != 21 {
		t.Fatalf("LodRangeValue = %+v", got.LodRangeValue())
	}
	if len(got.Credits) != 1 || got.Credits[0] != "Survey Corp" {
		t.Fatalf("Credits = %v", got.Credits)
	}
}

func TestStripDriverOptions(t *testing.T) {
	cfg := Config{ID: "x", DriverOptions: map[string]any{"secret": "token"}}
	stripped := StripDriverOptions(cfg)
	if stripped.DriverOptions != nil {
		t.Fatalf("DriverOptions not stripped: %v", stripped.DriverOptions)
	}
	if cfg.DriverOptions == nil {
		t.Fatalf("StripDriverOptions mutated the original")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(bytes.NewBufferString("id: [unterminated"))
	if err == nil {
		t.Fatalf("Load should fail on malformed YAML")
	}
}
