package protocol

import (
	"encoding/json"
	"fmt"

	"brake-to-pause/internal/motion"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeSessionStart:     true,
	TypeSessionStop:      true,
	TypeMotionTransition: true,
	TypeMotionLocation:   true,
	TypeMotionSpeed:      true,
	TypeAudioFocusLost:   true,
	TypeHostPermissions:  true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	switch msg.Type {
	case TypeSessionStart:
		var p SessionStartPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Config != nil {
			if err := ValidateConfig(*p.Config); err != nil {
				return nil, fmt.Errorf("invalid config in %s payload: %w", msg.Type, err)
			}
		}

	case TypeMotionTransition:
		var p TransitionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Activity == "" {
			return nil, fmt.Errorf("missing required field 'activity' in %s payload", msg.Type)
		}
		if _, err := motion.ParseActivity(p.Activity); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}

	case TypeMotionLocation:
		var p LocationPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.HasSpeed {
			if err := motion.ValidateSpeed(p.SpeedMps); err != nil {
				return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
			}
		}

	case TypeMotionSpeed:
		var p SpeedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if err := motion.ValidateSpeed(p.Kph); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}

	case TypeHostPermissions:
		var p PermissionsPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}

	case TypeSessionStop, TypeAudioFocusLost:
		var p map[string]interface{}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
	}

	return &msg, nil
}

// ValidateConfig checks per-session overrides.
func ValidateConfig(p ConfigPayload) error {
	if p.SpeedThresholdKph != nil && *p.SpeedThresholdKph < 0 {
		return fmt.Errorf("speedThresholdKph must not be negative")
	}
	for _, name := range p.Activities {
		if _, err := motion.ParseActivity(name); err != nil {
			return err
		}
	}
	return nil
}

// ApplyConfig returns base with the overrides in p applied. p must have
// passed ValidateConfig.
func ApplyConfig(base motion.Config, p *ConfigPayload) (motion.Config, error) {
	cfg := base.Clone()
	if p == nil {
		return cfg, nil
	}
	if err := ValidateConfig(*p); err != nil {
		return cfg, err
	}
	if p.SpeedThresholdKph != nil {
		cfg.SpeedThresholdKph = *p.SpeedThresholdKph
	}
	if p.UsesLocation != nil {
		cfg.UsesLocation = *p.UsesLocation
	}
	if p.UsesActivityRecognition != nil {
		cfg.UsesActivityRecognition = *p.UsesActivityRecognition
	}
	if p.Activities != nil {
		set := motion.NewActivitySet()
		for _, name := range p.Activities {
			a, _ := motion.ParseActivity(name)
			set[a] = true
		}
		cfg.SelectedActivities = set
	}
	return cfg, nil
}

// ConfigToPayload renders a session config for clients.
func ConfigToPayload(cfg motion.Config) *ConfigPayload {
	threshold := cfg.SpeedThresholdKph
	location := cfg.UsesLocation
	activity := cfg.UsesActivityRecognition
	names := make([]string, 0, len(cfg.SelectedActivities))
	for _, a := range cfg.SelectedActivities.Slice() {
		names = append(names, a.String())
	}
	return &ConfigPayload{
		SpeedThresholdKph:       &threshold,
		UsesLocation:            &location,
		UsesActivityRecognition: &activity,
		Activities:              names,
	}
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
