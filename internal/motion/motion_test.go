package motion

import (
	"encoding/json"
	"math"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseActivity(t *testing.T) {
	cases := map[string]ActivityType{
		"STILL":      Still,
		"in_vehicle": InVehicle,
		"on-bicycle": OnBicycle,
		" Running ":  Running,
		"walking":    Walking,
	}
	for in, want := range cases {
		got, err := ParseActivity(in)
		if err != nil {
			t.Fatalf("ParseActivity(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseActivity(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseActivity_Unknown(t *testing.T) {
	if _, err := ParseActivity("flying"); err == nil {
		t.Fatal("expected error for unknown activity")
	}
}

func TestActivityType_JSON(t *testing.T) {
	data, err := json.Marshal(InVehicle)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"IN_VEHICLE"` {
		t.Errorf("expected \"IN_VEHICLE\", got %s", data)
	}

	var a ActivityType
	if err := json.Unmarshal([]byte(`"on_bicycle"`), &a); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if a != OnBicycle {
		t.Errorf("expected ON_BICYCLE, got %s", a)
	}

	if err := json.Unmarshal([]byte(`3`), &a); err == nil {
		t.Error("expected error for numeric activity")
	}
}

func TestActivityType_YAML(t *testing.T) {
	var doc struct {
		Activity ActivityType `yaml:"activity"`
	}
	if err := yaml.Unmarshal([]byte("activity: walking\n"), &doc); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if doc.Activity != Walking {
		t.Errorf("expected WALKING, got %s", doc.Activity)
	}
}

func TestActivitySet_SliceIsOrdered(t *testing.T) {
	set := NewActivitySet(Walking, Still, OnBicycle)
	got := set.Slice()
	want := []ActivityType{Still, OnBicycle, Walking}
	if len(got) != len(want) {
		t.Fatalf("expected %d members, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("member %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestActivitySet_JSONRoundTrip(t *testing.T) {
	set := NewActivitySet(InVehicle, Walking)
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `["IN_VEHICLE","WALKING"]` {
		t.Errorf("unexpected encoding: %s", data)
	}

	var decoded ActivitySet
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !decoded.Contains(InVehicle) || !decoded.Contains(Walking) || decoded.Contains(Still) {
		t.Errorf("unexpected members: %v", decoded.Slice())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SpeedThresholdKph != 8 {
		t.Errorf("expected threshold 8, got %d", cfg.SpeedThresholdKph)
	}
	if !cfg.UsesLocation || !cfg.UsesActivityRecognition {
		t.Error("expected location and activity recognition enabled by default")
	}
	for _, a := range []ActivityType{InVehicle, OnBicycle, Running, Walking} {
		if !cfg.SelectedActivities.Contains(a) {
			t.Errorf("expected %s selected by default", a)
		}
	}
	if cfg.SelectedActivities.Contains(Still) {
		t.Error("STILL must not be selected by default")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	cfg.SpeedThresholdKph = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative threshold")
	}
}

func TestConfig_CloneIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.SelectedActivities[Still] = true

	if cfg.SelectedActivities.Contains(Still) {
		t.Error("mutating the clone changed the source config")
	}
}

func TestSpeedSampleFrom(t *testing.T) {
	s, ok := SpeedSampleFrom(Location{SpeedMps: 5, HasSpeed: true})
	if !ok {
		t.Fatal("expected a sample")
	}
	if math.Abs(s.Kph-18) > 1e-9 {
		t.Errorf("expected 18 km/h, got %v", s.Kph)
	}

	if _, ok := SpeedSampleFrom(Location{SpeedMps: 5}); ok {
		t.Error("fix without speed must not produce a sample")
	}
}

func TestValidateSpeed(t *testing.T) {
	if err := ValidateSpeed(0); err != nil {
		t.Errorf("zero speed should be valid: %v", err)
	}
	for _, v := range []float64{-1, math.NaN(), math.Inf(1)} {
		if err := ValidateSpeed(v); err == nil {
			t.Errorf("expected error for %v", v)
		}
	}
}
