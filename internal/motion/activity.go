package motion

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ActivityType is a motion category reported by activity recognition.
type ActivityType int

const (
	Still ActivityType = iota
	InVehicle
	OnBicycle
	Running
	Walking
)

// TrackedActivities are the activity types whose ENTER transitions are
// requested from the platform for every session.
var TrackedActivities = []ActivityType{Still, InVehicle, OnBicycle, Running, Walking}

var activityNames = map[ActivityType]string{
	Still:     "STILL",
	InVehicle: "IN_VEHICLE",
	OnBicycle: "ON_BICYCLE",
	Running:   "RUNNING",
	Walking:   "WALKING",
}

func (a ActivityType) String() string {
	if name, ok := activityNames[a]; ok {
		return name
	}
	return fmt.Sprintf("ActivityType(%d)", int(a))
}

// Valid reports whether a is one of the known activity types.
func (a ActivityType) Valid() bool {
	_, ok := activityNames[a]
	return ok
}

// ParseActivity parses an activity name. Matching ignores case and accepts
// '-' in place of '_'.
func ParseActivity(s string) (ActivityType, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for a, n := range activityNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown activity type: %q", s)
}

func (a ActivityType) MarshalJSON() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("marshal activity: invalid value %d", int(a))
	}
	return json.Marshal(a.String())
}

func (a *ActivityType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("activity must be a string: %w", err)
	}
	parsed, err := ParseActivity(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a ActivityType) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

func (a *ActivityType) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseActivity(node.Value)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ActivitySet is a set of activity types.
type ActivitySet map[ActivityType]bool

// NewActivitySet builds a set from the given activity types.
func NewActivitySet(types ...ActivityType) ActivitySet {
	set := make(ActivitySet, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

func (s ActivitySet) Contains(a ActivityType) bool {
	return s[a]
}

// Slice returns the members in enum order.
func (s ActivitySet) Slice() []ActivityType {
	out := make([]ActivityType, 0, len(s))
	for a, ok := range s {
		if ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy of the set.
func (s ActivitySet) Clone() ActivitySet {
	return NewActivitySet(s.Slice()...)
}

func (s ActivitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *ActivitySet) UnmarshalJSON(data []byte) error {
	var types []ActivityType
	if err := json.Unmarshal(data, &types); err != nil {
		return err
	}
	*s = NewActivitySet(types...)
	return nil
}
