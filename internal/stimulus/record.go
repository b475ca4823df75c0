// Package stimulus defines inbound stimulus records, the bounded queue that
// carries them to the tick loop, and the producers that feed it.
package stimulus

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// MinIntensity and MaxIntensity bound a stimulus' signed intensity.
	MinIntensity = -1.0
	MaxIntensity = 1.0

	maxCategoryLen = 128
)

var (
	ErrMissingCategory = errors.New("category required")
	ErrIntensityRange  = errors.New("intensity out of range")
)

// Record is a single external stimulus. Treat it as immutable once built.
type Record struct {
	Category  string            `json:"category"`
	Intensity float64           `json:"intensity"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Source    string            `json:"source,omitempty"`
}

// Input is the boundary form of a stimulus: optional fields are pointers or
// zero values and get defaults applied by New.
type Input struct {
	Category  string            `json:"category"`
	Intensity *float64          `json:"intensity,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// New validates in and returns a Record. Intensity defaults to 0 and the
// timestamp defaults to now. Metadata is copied so later mutation of the
// caller's map cannot reach the record.
func New(in Input, source string, now time.Time) (Record, error) {
	cat := strings.TrimSpace(in.Category)
	if cat == "" {
		return Record{}, ErrMissingCategory
	}
	if len(cat) > maxCategoryLen {
		return Record{}, fmt.Errorf("category longer than %d bytes", maxCategoryLen)
	}

	intensity := 0.0
	if in.Intensity != nil {
		intensity = *in.Intensity
	}
	if math.IsNaN(intensity) || intensity < MinIntensity || intensity > MaxIntensity {
		return Record{}, fmt.Errorf("%w: %v not in [%v, %v]", ErrIntensityRange, intensity, MinIntensity, MaxIntensity)
	}

	ts := now
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		ts = *in.Timestamp
	}

	var meta map[string]string
	if len(in.Metadata) > 0 {
		meta = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			meta[k] = v
		}
	}

	return Record{
		Category:  cat,
		Intensity: intensity,
		Timestamp: ts,
		Metadata:  meta,
		Source:    source,
	}, nil
}

// Magnitude returns |Intensity|.
func (r Record) Magnitude() float64 {
	return math.Abs(r.Intensity)
}
