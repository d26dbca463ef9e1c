package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// DecodeState parses a CompanionState from a loose JSON payload as produced
// by upstream state services. Structural mistakes (non-array goals or
// interests, non-object emotion) are rejected with a descriptive error
// rather than silently coerced.
func DecodeState(data []byte) (*CompanionState, error) {
	var raw struct {
		Directive          string          `json:"directive"`
		CompanionGoals     json.RawMessage `json:"companion_goals"`
		UserGoals          json.RawMessage `json:"user_goals"`
		FocusAreas         json.RawMessage `json:"focus_areas"`
		Emotion            json.RawMessage `json:"emotion"`
		LastInteraction    time.Time       `json:"last_interaction"`
		UserInterests      json.RawMessage `json:"user_interests"`
		CompanionInterests json.RawMessage `json:"companion_interests"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode companion state: %w", err)
	}

	st := &CompanionState{
		Directive:       raw.Directive,
		LastInteraction: raw.LastInteraction,
	}

	if err := decodeArray(raw.CompanionGoals, "companion_goals", &st.CompanionGoals); err != nil {
		return nil, err
	}
	if err := decodeArray(raw.UserGoals, "user_goals", &st.UserGoals); err != nil {
		return nil, err
	}
	if err := decodeArray(raw.FocusAreas, "focus_areas", &st.FocusAreas); err != nil {
		return nil, err
	}
	if err := decodeArray(raw.UserInterests, "user_interests", &st.UserInterests); err != nil {
		return nil, err
	}
	if err := decodeArray(raw.CompanionInterests, "companion_interests", &st.CompanionInterests); err != nil {
		return nil, err
	}

	if len(raw.Emotion) > 0 && string(raw.Emotion) != "null" {
		var em EmotionalState
		if err := json.Unmarshal(raw.Emotion, &em); err != nil {
			return nil, fmt.Errorf("companion state field %q: expected object, got %s", "emotion", snippet(raw.Emotion))
		}
		st.Emotion = &em
	}

	return st, nil
}

// decodeArray unmarshals a JSON array field, producing a descriptive error
// when the upstream payload carries the wrong shape.
func decodeArray[T any](raw json.RawMessage, field string, dst *[]T) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] != '[' {
		return fmt.Errorf("companion state field %q: expected array, got %s", field, snippet(raw))
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("companion state field %q: %w", field, err)
	}
	return nil
}

func snippet(raw json.RawMessage) string {
	const max = 40
	s := string(raw)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
