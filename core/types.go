package core

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Goal is a prioritized objective, either the companion's own or one the
// user has stated. Higher priority sorts first.
type Goal struct {
	Text     string `json:"text"`
	Priority int    `json:"priority"`
}

// EmotionalState is the companion's current emotional snapshot.
type EmotionalState struct {
	Mood      string  `json:"mood"`
	Intensity float64 `json:"intensity"` // [0.0-1.0]
}

// Action is an externally registered capability the companion can invoke.
// Only name and category are surfaced in prompts.
type Action struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// CompanionState is the snapshot read from the companion-state service.
// Every field is optional; missing data degrades the corresponding prompt
// section rather than blocking assembly.
type CompanionState struct {
	// Directive is a single free-text standing override set by the user.
	Directive string `json:"directive,omitempty"`

	CompanionGoals []Goal `json:"companion_goals,omitempty"`
	UserGoals      []Goal `json:"user_goals,omitempty"`
	FocusAreas     []string `json:"focus_areas,omitempty"`

	Emotion *EmotionalState `json:"emotion,omitempty"`

	// LastInteraction is zero when unknown.
	LastInteraction time.Time `json:"last_interaction,omitempty"`

	UserInterests      []string `json:"user_interests,omitempty"`
	CompanionInterests []string `json:"companion_interests,omitempty"`
}

// Task kinds with structured renderers.
const (
	TaskRoleplay = "roleplay"
	TaskGame     = "game"
)

// TaskState is the structured state of an ongoing user task.
// Exactly one of the kind-specific payloads is set for known kinds;
// unknown kinds render generically from Name alone.
type TaskState struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name"`

	Roleplay *RoleplayState `json:"roleplay,omitempty"`
	Game     *GameState     `json:"game,omitempty"`
}

// RoleplayState carries an ongoing roleplay scenario.
type RoleplayState struct {
	Scenario   string   `json:"scenario"`
	Characters []string `json:"characters,omitempty"`
	Mood       string   `json:"mood,omitempty"`
	// Events is the full ordered event log, oldest first.
	Events []string `json:"events,omitempty"`
}

// GameState carries a compact projection of an ongoing game.
type GameState struct {
	Game   string         `json:"game"`
	Board  string         `json:"board,omitempty"`
	Scores map[string]int `json:"scores,omitempty"`
	Turn   string         `json:"turn,omitempty"`
}
