// Package config defines the pipeline configuration shared by all stages.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
)

// Config holds every tunable parameter of the analysis pipeline. It is
// loaded once per batch and shared read-only across all workers.
type Config struct {
	// RAW image handling (ignored for JPEG/PNG/TIFF input).
	RawAutoStretch bool `json:"raw_auto_stretch"`
	RawAutoWB      bool `json:"raw_auto_wb"`

	// Orientation correction of the strip inside the box.
	TryCorrectOrientation bool `json:"strip_try_correct_orientation"`
	// OrientationRects describes the two candidate search rectangles left
	// and right of the strip center: [0] relative rectangle height with
	// respect to the strip height, [1] relative distance of the inner edge
	// from the center, [2] relative distance of the outer edge from the
	// border.
	OrientationRects [3]float64 `json:"strip_try_correct_orientation_rects"`
	// TextToSearch enables the OCR orientation fallback when non-empty.
	TextToSearch string `json:"strip_text_to_search"`
	// TextOnRight states on which side TextToSearch is expected after
	// correct orientation.
	TextOnRight bool `json:"strip_text_on_right"`

	// White border around each QR code, in pixels, used when cropping the
	// strip box.
	QRCodeBorder int `json:"qr_code_border"`

	// Sensor geometry, all in strip-image pixels and (height, width) /
	// (y, x) order.
	SensorSize          [2]int `json:"sensor_size"`
	SensorCenter        [2]int `json:"sensor_center"`
	SensorSearchArea    [2]int `json:"sensor_search_area"`
	PerformSensorSearch bool   `json:"perform_sensor_search"`
	// MinSensorScore is the minimum registration score for a searched
	// sensor region to be accepted.
	MinSensorScore float64 `json:"min_sensor_score"`
	// SensorBorder is the (lateral, vertical) border ignored during band
	// analysis to avoid border effects.
	SensorBorder [2]int `json:"sensor_border"`

	// Band quantification.
	PeakExpectedRelative []float64 `json:"peak_expected_relative_location"`
	ControlBandIndex     int       `json:"control_band_index"`
	BandNames            []string  `json:"sensor_band_names"`
	SubtractBackground   bool      `json:"subtract_background"`
	// ThreshFactor is the number of robust standard deviations above the
	// median band background a peak must reach to be considered valid.
	ThreshFactor float64 `json:"sensor_thresh_factor"`
	// BackgroundOffset is subtracted from the fitted background before
	// removal so that real signal is not clipped at zero.
	BackgroundOffset float64 `json:"background_offset"`
	// EdgeFraction is the relative intensity (with respect to the peak
	// height over background) at which the outward walk declares a band
	// edge.
	EdgeFraction float64 `json:"edge_fraction"`

	// ForceFIDSearch enables OCR fallbacks for the sample identifier when
	// the QR payload could not be decoded.
	ForceFIDSearch bool `json:"force_fid_search"`

	// Execution.
	Workers int  `json:"max_workers"`
	QC      bool `json:"qc"`
	Verbose bool `json:"verbose"`
}

// Default returns the default configuration for the standard strip
// template.
func Default() Config {
	return Config{
		RawAutoStretch:        false,
		RawAutoWB:             false,
		TryCorrectOrientation: false,
		OrientationRects:      [3]float64{0.52, 0.15, 0.09},
		TextToSearch:          "COVID",
		TextOnRight:           true,
		QRCodeBorder:          40,
		SensorSize:            [2]int{61, 249},
		SensorCenter:          [2]int{178, 667},
		SensorSearchArea:      [2]int{71, 259},
		PerformSensorSearch:   true,
		MinSensorScore:        0.85,
		SensorBorder:          [2]int{7, 7},
		PeakExpectedRelative:  []float64{0.25, 0.53, 0.79},
		ControlBandIndex:      -1,
		BandNames:             []string{"igm", "igg", "ctl"},
		SubtractBackground:    true,
		ThreshFactor:          2,
		BackgroundOffset:      20,
		EdgeFraction:          0.25,
		ForceFIDSearch:        false,
		Workers:               2,
		QC:                    true,
		Verbose:               true,
	}
}

// Load reads a configuration file, applying defaults for absent fields.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read settings file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse settings file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a file as indented JSON.
func Save(cfg Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

// Normalize coerces inconsistent values instead of failing: the search
// area must contain the sensor, the control band index may be given as -1
// for "last", and the worker count is capped at the CPU count.
func (c *Config) Normalize() {
	if c.SensorSearchArea[0] < c.SensorSize[0] {
		c.SensorSearchArea[0] = c.SensorSize[0]
	}
	if c.SensorSearchArea[1] < c.SensorSize[1] {
		c.SensorSearchArea[1] = c.SensorSize[1]
	}
	if c.ControlBandIndex < 0 {
		c.ControlBandIndex = len(c.PeakExpectedRelative) + c.ControlBandIndex
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Workers > runtime.NumCPU() {
		c.Workers = runtime.NumCPU()
	}
}

// Validate reports configuration errors that cannot be coerced.
func (c *Config) Validate() error {
	if len(c.BandNames) == 0 {
		return fmt.Errorf("at least one band name is required")
	}
	if len(c.BandNames) != len(c.PeakExpectedRelative) {
		return fmt.Errorf("band names (%d) and expected peak locations (%d) must match",
			len(c.BandNames), len(c.PeakExpectedRelative))
	}
	if c.ControlBandIndex < 0 || c.ControlBandIndex >= len(c.PeakExpectedRelative) {
		return fmt.Errorf("control band index %d out of range", c.ControlBandIndex)
	}
	for _, loc := range c.PeakExpectedRelative {
		if loc < 0 || loc > 1 {
			return fmt.Errorf("expected peak location %.3f outside [0, 1]", loc)
		}
	}
	if c.SensorSize[0] <= 0 || c.SensorSize[1] <= 0 {
		return fmt.Errorf("sensor size must be positive")
	}
	if c.MinSensorScore < 0 || c.MinSensorScore > 1 {
		return fmt.Errorf("min sensor score %.3f outside [0, 1]", c.MinSensorScore)
	}
	if c.EdgeFraction <= 0 || c.EdgeFraction >= 1 {
		return fmt.Errorf("edge fraction %.3f outside (0, 1)", c.EdgeFraction)
	}
	return nil
}

// ControlBandName returns the name of the control band. Normalize must
// have been called first.
func (c *Config) ControlBandName() string {
	return c.BandNames[c.ControlBandIndex]
}
