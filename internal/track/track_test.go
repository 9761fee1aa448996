package track

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"brake-to-pause/internal/motion"
)

// metresPerDegreeLat is close enough along a meridian for these tests.
const metresPerDegreeLat = 111195.0

type leg struct {
	seconds int
	kph     float64
	kind    string
}

// buildGPX lays out a northbound ride with one point per second-step.
func buildGPX(start time.Time, legs []leg) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
<trk><name>test ride</name><trkseg>
`)
	lat, at := 52.0, start
	writePoint := func(kind string) {
		fmt.Fprintf(&b, `<trkpt lat="%.7f" lon="4.0000000"><time>%s</time>`, lat, at.Format(time.RFC3339))
		if kind != "" {
			fmt.Fprintf(&b, `<type>%s</type>`, kind)
		}
		b.WriteString("</trkpt>\n")
	}
	writePoint("")
	for _, l := range legs {
		step := time.Duration(l.seconds) * time.Second
		lat += l.kph / 3.6 * float64(l.seconds) / metresPerDegreeLat
		at = at.Add(step)
		writePoint(l.kind)
	}
	b.WriteString("</trkseg></trk></gpx>\n")
	return b.String()
}

func TestParse(t *testing.T) {
	start := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	tr, err := Parse(strings.NewReader(buildGPX(start, []leg{{60, 20, "IN_VEHICLE"}, {60, 20, ""}})))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if tr.Name != "test ride" {
		t.Errorf("expected name 'test ride', got %s", tr.Name)
	}
	if len(tr.Points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(tr.Points))
	}
	if !tr.Start().Equal(start) {
		t.Errorf("expected start %s, got %s", start, tr.Start())
	}
	if !tr.Points[1].HasActivity || tr.Points[1].Activity != motion.InVehicle {
		t.Errorf("expected IN_VEHICLE on second point, got %+v", tr.Points[1])
	}
}

func TestParse_SkipsUntimedPoints(t *testing.T) {
	doc := `<gpx><trk><trkseg>
<trkpt lat="52" lon="4"><time>2026-05-01T07:00:00Z</time></trkpt>
<trkpt lat="52.001" lon="4"></trkpt>
<trkpt lat="52.002" lon="4"><time>2026-05-01T07:01:00Z</time></trkpt>
</trkseg></trk></gpx>`
	tr, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(tr.Points) != 2 {
		t.Errorf("expected 2 points, got %d", len(tr.Points))
	}
}

func TestParse_TooShort(t *testing.T) {
	doc := `<gpx><trk><trkseg><trkpt lat="52" lon="4"><time>2026-05-01T07:00:00Z</time></trkpt></trkseg></trk></gpx>`
	if _, err := Parse(strings.NewReader(doc)); err == nil {
		t.Error("expected error for single-point track")
	}
}

func TestParse_BadXML(t *testing.T) {
	if _, err := Parse(strings.NewReader("<gpx><trk>")); err == nil {
		t.Error("expected error for truncated document")
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ride.gpx")
	os.WriteFile(path, []byte(buildGPX(time.Now().UTC(), []leg{{10, 10, ""}})), 0644)
	if _, err := ParseFile(path); err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.gpx")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSamples_Speed(t *testing.T) {
	start := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	tr, _ := Parse(strings.NewReader(buildGPX(start, []leg{{60, 36, ""}, {30, 5, ""}})))

	samples := tr.Samples()
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if got := samples[0].SpeedMps * 3.6; math.Abs(got-36) > 0.5 {
		t.Errorf("expected ~36 kph, got %.2f", got)
	}
	if got := samples[1].SpeedMps * 3.6; math.Abs(got-5) > 0.5 {
		t.Errorf("expected ~5 kph, got %.2f", got)
	}
	if !samples[1].At.Equal(start.Add(90 * time.Second)) {
		t.Errorf("unexpected sample time %s", samples[1].At)
	}
}

func TestSamples_ActivityOnlyOnChange(t *testing.T) {
	start := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	tr, _ := Parse(strings.NewReader(buildGPX(start, []leg{
		{10, 20, "IN_VEHICLE"},
		{10, 20, "IN_VEHICLE"},
		{10, 20, "WALKING"},
	})))

	samples := tr.Samples()
	if !samples[0].HasActivity || samples[1].HasActivity || !samples[2].HasActivity {
		t.Errorf("unexpected activity flags: %+v", samples)
	}
	if samples[2].Activity != motion.Walking {
		t.Errorf("expected WALKING, got %s", samples[2].Activity)
	}
}

func TestReplay_PauseAndResume(t *testing.T) {
	start := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	tr, _ := Parse(strings.NewReader(buildGPX(start, []leg{
		{60, 30, ""},
		{60, 2, ""},
		{120, 1, ""},
		{60, 25, ""},
	})))

	report, err := Replay(context.Background(), tr, motion.DefaultConfig())
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if report.Samples != 4 {
		t.Errorf("expected 4 samples, got %d", report.Samples)
	}
	if report.Pauses != 1 || report.Resumes != 1 {
		t.Errorf("expected 1 pause and 1 resume, got %d/%d", report.Pauses, report.Resumes)
	}
	if report.PausedFor != 3*time.Minute {
		t.Errorf("expected 3m paused, got %s", report.PausedFor)
	}
	if report.FocusRequests != 1 {
		t.Errorf("expected 1 focus request, got %d", report.FocusRequests)
	}
	if report.AutoStopped {
		t.Error("unexpected auto stop")
	}
	if report.Duration != 5*time.Minute {
		t.Errorf("expected 5m duration, got %s", report.Duration)
	}
	if math.Abs(report.MaxKph-30) > 0.5 {
		t.Errorf("expected max ~30 kph, got %.2f", report.MaxKph)
	}
}

func TestReplay_AutoStop(t *testing.T) {
	start := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	tr, _ := Parse(strings.NewReader(buildGPX(start, []leg{
		{60, 30, ""},
		{600, 1, ""},
		{600, 1, ""},
		{600, 1, ""},
		{600, 1, ""},
		{60, 30, ""},
	})))

	report, err := Replay(context.Background(), tr, motion.DefaultConfig())
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !report.AutoStopped {
		t.Fatal("expected auto stop")
	}
	// Resumed at 1m, paused again at 11m, so the timer was armed at 11m.
	want := start.Add(41 * time.Minute)
	if !report.AutoStoppedAt.Equal(want) {
		t.Errorf("expected auto stop at %s, got %s", want, report.AutoStoppedAt)
	}
	if report.Pauses != 1 {
		t.Errorf("expected 1 pause, got %d", report.Pauses)
	}
	if report.PausedFor != 30*time.Minute {
		t.Errorf("expected 30m paused, got %s", report.PausedFor)
	}
	if report.Samples != 4 {
		t.Errorf("expected 4 samples before stop, got %d", report.Samples)
	}
}

func TestReplay_NonSelectedActivityPauses(t *testing.T) {
	start := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	cfg := motion.DefaultConfig()
	cfg.SelectedActivities = motion.NewActivitySet(motion.InVehicle)

	tr, _ := Parse(strings.NewReader(buildGPX(start, []leg{
		{60, 30, "IN_VEHICLE"},
		{60, 30, "STILL"},
		{60, 30, ""},
	})))

	report, err := Replay(context.Background(), tr, cfg)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	// Location sampling is off after STILL, so the fast last leg is ignored.
	if report.Pauses != 1 || report.Resumes != 0 {
		t.Errorf("expected 1 pause and no resume, got %d/%d", report.Pauses, report.Resumes)
	}
}

func TestReplay_Cancelled(t *testing.T) {
	start := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	tr, _ := Parse(strings.NewReader(buildGPX(start, []leg{{60, 30, ""}})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Replay(ctx, tr, motion.DefaultConfig()); err == nil {
		t.Error("expected error for cancelled context")
	}
}
