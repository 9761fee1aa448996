package motion

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultSpeedThresholdKph is the speed below which playback is paused.
const DefaultSpeedThresholdKph = 8

// mpsToKph converts metres per second to kilometres per hour.
const mpsToKph = 3.6

// Config is the per-session configuration. It is captured when a session
// starts and never changes while that session runs.
type Config struct {
	SpeedThresholdKph       int         `json:"speedThresholdKph"`
	UsesLocation            bool        `json:"usesLocation"`
	UsesActivityRecognition bool        `json:"usesActivityRecognition"`
	SelectedActivities      ActivitySet `json:"selectedActivities"`
}

// DefaultConfig returns the configuration used when no preferences exist.
func DefaultConfig() Config {
	return Config{
		SpeedThresholdKph:       DefaultSpeedThresholdKph,
		UsesLocation:            true,
		UsesActivityRecognition: true,
		SelectedActivities:      NewActivitySet(InVehicle, OnBicycle, Running, Walking),
	}
}

// Validate checks the configuration for values no session can run with.
func (c Config) Validate() error {
	if c.SpeedThresholdKph < 0 {
		return fmt.Errorf("speed threshold must not be negative: %d", c.SpeedThresholdKph)
	}
	for a := range c.SelectedActivities {
		if !a.Valid() {
			return fmt.Errorf("invalid selected activity: %d", int(a))
		}
	}
	return nil
}

// Clone returns a copy that shares no state with c.
func (c Config) Clone() Config {
	out := c
	out.SelectedActivities = c.SelectedActivities.Clone()
	return out
}

// EventKind distinguishes the variants of Event.
type EventKind string

const (
	EventTransition  EventKind = "transition"
	EventSpeedSample EventKind = "speed"
)

// Event is a motion event delivered by the platform: either an activity
// transition or a speed sample. It is consumed once and never retained.
type Event struct {
	Kind       EventKind
	Transition Transition
	Speed      SpeedSample
}

// Transition reports a change into or out of an activity.
type Transition struct {
	Activity ActivityType `json:"activity"`
	Entering bool         `json:"entering"`
}

// SpeedSample is a ground speed measurement in km/h.
type SpeedSample struct {
	Kph float64 `json:"kph"`
}

// TransitionEvent wraps a transition as an Event.
func TransitionEvent(a ActivityType, entering bool) Event {
	return Event{Kind: EventTransition, Transition: Transition{Activity: a, Entering: entering}}
}

// SpeedEvent wraps a speed sample as an Event.
func SpeedEvent(kph float64) Event {
	return Event{Kind: EventSpeedSample, Speed: SpeedSample{Kph: kph}}
}

var errInvalidSpeed = errors.New("speed must be a finite, non-negative number")

// ValidateSpeed rejects NaN, infinite and negative speeds.
func ValidateSpeed(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %v", errInvalidSpeed, v)
	}
	return nil
}

// Location is a raw location fix. Fixes without a speed are ignored.
type Location struct {
	SpeedMps float64   `json:"speedMps"`
	HasSpeed bool      `json:"hasSpeed"`
	Time     time.Time `json:"time,omitempty"`
}

// SpeedSampleFrom converts a location fix into a speed sample. ok is false
// when the fix carries no speed.
func SpeedSampleFrom(loc Location) (SpeedSample, bool) {
	if !loc.HasSpeed {
		return SpeedSample{}, false
	}
	return SpeedSample{Kph: loc.SpeedMps * mpsToKph}, true
}
