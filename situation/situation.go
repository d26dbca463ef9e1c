// Package situation provides the registry of ephemeral situational facts
// ("context items") about a user: time, weather, emotion, social state,
// the active task, and free-form custom signals.
//
// Items carry a semantic type and an independent duration tier; the two
// are orthogonal, so a producer chooses how long any kind of fact stays
// live. Expiry never hard-deletes: the sweep flips items inactive and
// leaves them for audit. Removal is a separate, explicit operation.
package situation

import (
	"context"
	"time"
)

// Type is the semantic kind of a context item.
type Type string

const (
	TypeTime         Type = "time"
	TypeWeather      Type = "weather"
	TypeLocation     Type = "location"
	TypeEmotion      Type = "emotion"
	TypeSocial       Type = "social"
	TypeProductivity Type = "productivity"
	TypeActivity     Type = "activity"
	TypeAIThinking   Type = "ai_thinking"
	TypeCustom       Type = "custom"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeTime, TypeWeather, TypeLocation, TypeEmotion, TypeSocial,
		TypeProductivity, TypeActivity, TypeAIThinking, TypeCustom:
		return true
	default:
		return false
	}
}

// DurationTier is the expiration class of a context item, chosen by the
// producer independently of the item's type.
type DurationTier string

const (
	DurationImmediate DurationTier = "immediate" // 5 minutes
	DurationShort     DurationTier = "short"     // 1 hour
	DurationMedium    DurationTier = "medium"    // 1 day
	DurationLong      DurationTier = "long"      // 7 days
	DurationPermanent DurationTier = "permanent" // never expires
)

// Horizon returns the tier's lifetime. ok is false for DurationPermanent.
func (d DurationTier) Horizon() (dur time.Duration, ok bool) {
	switch d {
	case DurationImmediate:
		return 5 * time.Minute, true
	case DurationShort:
		return time.Hour, true
	case DurationMedium:
		return 24 * time.Hour, true
	case DurationLong:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Valid reports whether d is a known duration tier.
func (d DurationTier) Valid() bool {
	switch d {
	case DurationImmediate, DurationShort, DurationMedium, DurationLong, DurationPermanent:
		return true
	default:
		return false
	}
}

// Known custom sub-kinds with specialized prompt rendering.
const (
	CustomKindDesire      = "stated_desire"
	CustomKindThoughtLoop = "thought_loop"
)

// MaxExtraFields bounds the open extension map on a payload.
const MaxExtraFields = 16

// Data is the typed payload of a context item: a tagged union of the
// known sub-kinds plus a bounded open map for free-form extension fields.
// At most one of the typed members is set.
type Data struct {
	Time     *TimeData     `json:"time,omitempty"`
	Weather  *WeatherData  `json:"weather,omitempty"`
	Location *LocationData `json:"location,omitempty"`
	Emotion  *EmotionData  `json:"emotion,omitempty"`
	Social   *SocialData   `json:"social,omitempty"`
	Activity *ActivityData `json:"activity,omitempty"`
	Custom   *CustomData   `json:"custom,omitempty"`

	// Extra holds free-form extension fields, capped at MaxExtraFields.
	Extra map[string]string `json:"extra,omitempty"`
}

// TimeData describes the user's current local time.
type TimeData struct {
	Local     time.Time `json:"local"`
	Timezone  string    `json:"timezone,omitempty"`
	PartOfDay string    `json:"part_of_day,omitempty"` // morning, afternoon, ...
}

// WeatherData describes current weather at the user's location.
type WeatherData struct {
	Location    string  `json:"location"`
	Condition   string  `json:"condition"`
	Temperature float64 `json:"temperature_c"`
}

// LocationData describes where the user is.
type LocationData struct {
	Place string `json:"place"`
}

// EmotionData describes a detected emotional state. Subject distinguishes
// the user's emotion from the companion's own.
type EmotionData struct {
	Subject   string  `json:"subject"` // "user" or "companion"
	Mood      string  `json:"mood"`
	Intensity float64 `json:"intensity,omitempty"` // [0.0-1.0]
}

// SocialData describes the user's social graph snapshot.
type SocialData struct {
	ConnectionCount int      `json:"connection_count"`
	TopMatches      []string `json:"top_matches,omitempty"`
}

// ActivityData describes an action or activity event.
type ActivityData struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// CustomData is a producer-defined payload with a sub-kind tag.
type CustomData struct {
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Item is one ephemeral situational fact.
type Item struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      Type              `json:"type"`
	Duration  DurationTier      `json:"duration"`
	Data      Data              `json:"data"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"` // nil iff DurationPermanent
}

// Clone returns a deep copy for copy-on-read semantics.
func (it *Item) Clone() *Item {
	out := *it
	if it.ExpiresAt != nil {
		t := *it.ExpiresAt
		out.ExpiresAt = &t
	}
	if it.Metadata != nil {
		out.Metadata = make(map[string]string, len(it.Metadata))
		for k, v := range it.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Data = *it.Data.clone()
	return &out
}

func (d *Data) clone() *Data {
	out := *d
	if d.Time != nil {
		v := *d.Time
		out.Time = &v
	}
	if d.Weather != nil {
		v := *d.Weather
		out.Weather = &v
	}
	if d.Location != nil {
		v := *d.Location
		out.Location = &v
	}
	if d.Emotion != nil {
		v := *d.Emotion
		out.Emotion = &v
	}
	if d.Social != nil {
		v := *d.Social
		v.TopMatches = append([]string(nil), d.Social.TopMatches...)
		out.Social = &v
	}
	if d.Activity != nil {
		v := *d.Activity
		out.Activity = &v
	}
	if d.Custom != nil {
		v := *d.Custom
		if d.Custom.Fields != nil {
			v.Fields = make(map[string]string, len(d.Custom.Fields))
			for k, val := range d.Custom.Fields {
				v.Fields[k] = val
			}
		}
		out.Custom = &v
	}
	if d.Extra != nil {
		out.Extra = make(map[string]string, len(d.Extra))
		for k, v := range d.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// Expired reports whether the item is past its horizon.
func (it *Item) Expired(now time.Time) bool {
	return it.ExpiresAt != nil && !it.ExpiresAt.After(now)
}

// Live reports whether the item should appear in an active-only read:
// still flagged active and not past its horizon. The sweep may lag, so
// active-only reads check the horizon themselves.
func (it *Item) Live(now time.Time) bool {
	return it.Active && !it.Expired(now)
}

// Filter narrows a List read.
type Filter struct {
	// Type restricts to one semantic type when non-empty.
	Type Type
	// IncludeInactive opts into inactive and horizon-expired items.
	IncludeInactive bool
}

// Store is the persistence backend for context items.
type Store interface {
	Insert(ctx context.Context, it *Item) error
	// Get returns (nil, nil) when absent.
	Get(ctx context.Context, id string) (*Item, error)
	// Update overwrites the stored record. Returns false when absent.
	Update(ctx context.Context, it *Item) (bool, error)
	// Delete removes the record permanently. Returns false when absent.
	Delete(ctx context.Context, id string) (bool, error)
	// ListByUser returns the user's items, unordered. Horizon filtering
	// for active-only reads happens in the registry.
	ListByUser(ctx context.Context, userID string, f Filter) ([]*Item, error)
	// ListExpiredActive returns up to limit items still flagged active
	// but past their horizon, across all users.
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*Item, error)
	Ping(ctx context.Context) error
	Close() error
}
