package track

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"brake-to-pause/internal/motion"
)

// gpxFile holds the parts of a GPX 1.1 document a replay needs.
type gpxFile struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name     string       `xml:"name,omitempty"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

// gpxPoint is a track point. The optional type element may carry an
// activity name such as IN_VEHICLE.
type gpxPoint struct {
	Lat  float64   `xml:"lat,attr"`
	Lon  float64   `xml:"lon,attr"`
	Time time.Time `xml:"time,omitempty"`
	Type string    `xml:"type,omitempty"`
}

// Point is a timestamped position on a track.
type Point struct {
	Location    orb.Point
	Time        time.Time
	Activity    motion.ActivityType
	HasActivity bool
}

// Track is a recorded ride flattened across all segments.
type Track struct {
	Name   string
	Points []Point
}

// Sample is what the platform would have delivered at one point of the
// ride: a location fix with the speed since the previous point, and the
// activity if it changed there.
type Sample struct {
	At          time.Time
	SpeedMps    float64
	Activity    motion.ActivityType
	HasActivity bool
}

// ParseFile reads a GPX track from path.
func ParseFile(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open track: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a GPX track. Points without a timestamp carry no speed and
// are skipped.
func Parse(r io.Reader) (*Track, error) {
	var doc gpxFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode gpx: %w", err)
	}

	tr := &Track{}
	for _, t := range doc.Tracks {
		if tr.Name == "" {
			tr.Name = t.Name
		}
		for _, seg := range t.Segments {
			for _, p := range seg.Points {
				if p.Time.IsZero() {
					continue
				}
				pt := Point{Location: orb.Point{p.Lon, p.Lat}, Time: p.Time}
				if p.Type != "" {
					if a, err := motion.ParseActivity(p.Type); err == nil {
						pt.Activity = a
						pt.HasActivity = true
					}
				}
				tr.Points = append(tr.Points, pt)
			}
		}
	}

	if len(tr.Points) < 2 {
		return nil, fmt.Errorf("track needs at least 2 timestamped points, got %d", len(tr.Points))
	}
	return tr, nil
}

// Samples derives one sample per point after the first from the
// great-circle distance to the previous point. Points that do not move
// forward in time are dropped. An activity is reported only where it
// changes.
func (t *Track) Samples() []Sample {
	var samples []Sample
	prev := t.Points[0]
	lastActivity, haveActivity := prev.Activity, prev.HasActivity

	for _, p := range t.Points[1:] {
		dt := p.Time.Sub(prev.Time)
		if dt <= 0 {
			continue
		}

		s := Sample{
			At:       p.Time,
			SpeedMps: geo.Distance(prev.Location, p.Location) / dt.Seconds(),
		}
		if p.HasActivity && (!haveActivity || p.Activity != lastActivity) {
			s.Activity = p.Activity
			s.HasActivity = true
			lastActivity, haveActivity = p.Activity, true
		}
		samples = append(samples, s)
		prev = p
	}
	return samples
}

// Start returns the time of the first point.
func (t *Track) Start() time.Time {
	return t.Points[0].Time
}
